package app

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"docchat/pkg/domain"
	"docchat/pkg/index"
	"docchat/pkg/store"
)

func seedSearchableDocument(t *testing.T, mem *store.MemoryStore, docID, filename string, embeddings map[string][]float32) domain.Document {
	t.Helper()
	indexID := "index-" + docID
	doc := domain.Document{ID: docID, Filename: filename, Status: domain.StatusCompleted, IndexID: indexID}
	if err := mem.SaveDocument(doc); err != nil {
		t.Fatalf("save document: %v", err)
	}
	var chunks []domain.Chunk
	i := 0
	for content := range embeddings {
		chunks = append(chunks, domain.Chunk{
			ID:         fmt.Sprintf("%s-chunk-%d", docID, i),
			DocumentID: docID,
			IndexID:    indexID,
			Content:    content,
			PageNumber: i + 1,
			Position:   i,
		})
		i++
	}
	if err := mem.ReplaceChunks(docID, chunks); err != nil {
		t.Fatalf("replace chunks: %v", err)
	}
	for _, chunk := range chunks {
		if err := mem.SetChunkEmbedding(chunk.ID, embeddings[chunk.Content]); err != nil {
			t.Fatalf("set embedding: %v", err)
		}
	}
	return doc
}

func TestRetrieveMergesAndRanksAcrossDocuments(t *testing.T) {
	mem := store.NewMemoryStore()
	retriever := NewRetriever(index.NewStore(mem, &queryEmbedder{vec: []float32{1, 0, 0}}))

	docA := seedSearchableDocument(t, mem, "doc-a", "a.pdf", map[string][]float32{
		"close match": {1, 0, 0},
	})
	docB := seedSearchableDocument(t, mem, "doc-b", "b.pdf", map[string][]float32{
		"weak match": {0.5, 0.5, 0},
	})

	results := retriever.Retrieve(context.Background(), []domain.Document{docB, docA}, "query", 5)
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Excerpt != "close match" || results[0].DocumentID != "doc-a" {
		t.Fatalf("top result = %+v, want the higher-scored passage first", results[0])
	}
	if results[0].Score <= results[1].Score {
		t.Fatalf("scores not descending: %v then %v", results[0].Score, results[1].Score)
	}
	if results[0].DocumentName != "a.pdf" {
		t.Fatalf("documentName = %q, want carried from document", results[0].DocumentName)
	}
}

func TestRetrieveSkipsDocumentsWithoutUsableIndex(t *testing.T) {
	mem := store.NewMemoryStore()
	retriever := NewRetriever(index.NewStore(mem, &queryEmbedder{vec: []float32{1, 0, 0}}))

	good := seedSearchableDocument(t, mem, "doc-good", "good.pdf", map[string][]float32{
		"useful passage": {1, 0, 0},
	})
	// Completed but never indexed: no handle at all.
	noHandle := domain.Document{ID: "doc-none", Filename: "none.pdf", Status: domain.StatusCompleted}
	if err := mem.SaveDocument(noHandle); err != nil {
		t.Fatalf("save document: %v", err)
	}
	// Handle set but zero embedded chunks behind it.
	empty := domain.Document{ID: "doc-empty", Filename: "empty.pdf", Status: domain.StatusCompleted, IndexID: "index-empty"}
	if err := mem.SaveDocument(empty); err != nil {
		t.Fatalf("save document: %v", err)
	}

	results := retriever.Retrieve(context.Background(), []domain.Document{noHandle, good, empty}, "query", 5)
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1 from the only usable index", len(results))
	}
	if results[0].DocumentID != "doc-good" {
		t.Fatalf("result document = %q, want doc-good", results[0].DocumentID)
	}

	contextText, citations := assembleContext(results, 5, 200)
	if contextText != "useful passage" {
		t.Fatalf("context = %q, want the single excerpt verbatim", contextText)
	}
	if len(citations) != 1 {
		t.Fatalf("citations = %d, want 1", len(citations))
	}

	// All indexes unusable: empty result, never an error.
	if results := retriever.Retrieve(context.Background(), []domain.Document{noHandle, empty}, "query", 5); len(results) != 0 {
		t.Fatalf("results = %+v, want none when no index is usable", results)
	}
}

func TestRetrieveDeterministicForIdenticalInput(t *testing.T) {
	mem := store.NewMemoryStore()
	retriever := NewRetriever(index.NewStore(mem, &queryEmbedder{vec: []float32{1, 0, 0}}))

	// Two documents whose passages tie on score; document order must break
	// the tie the same way every run.
	docA := seedSearchableDocument(t, mem, "doc-a", "a.pdf", map[string][]float32{
		"tied passage a": {1, 0, 0},
	})
	docB := seedSearchableDocument(t, mem, "doc-b", "b.pdf", map[string][]float32{
		"tied passage b": {1, 0, 0},
	})
	docs := []domain.Document{docA, docB}

	first := retriever.Retrieve(context.Background(), docs, "query", 5)
	for i := 0; i < 10; i++ {
		again := retriever.Retrieve(context.Background(), docs, "query", 5)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("retrieval not deterministic:\n%+v\n%+v", first, again)
		}
	}
	if first[0].DocumentID != "doc-a" {
		t.Fatalf("tie broken against input order: %+v", first)
	}
}

func TestRetrieveEmptyInputs(t *testing.T) {
	mem := store.NewMemoryStore()
	retriever := NewRetriever(index.NewStore(mem, &queryEmbedder{vec: []float32{1, 0, 0}}))

	if results := retriever.Retrieve(context.Background(), nil, "query", 5); results != nil {
		t.Fatalf("results = %+v, want nil for no documents", results)
	}
	doc := seedSearchableDocument(t, mem, "doc-a", "a.pdf", map[string][]float32{"p": {1, 0, 0}})
	if results := retriever.Retrieve(context.Background(), []domain.Document{doc}, "query", 0); results != nil {
		t.Fatalf("results = %+v, want nil for topK 0", results)
	}
}
