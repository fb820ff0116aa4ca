// Package index exposes per-document retrieval indexes. An index is addressed
// by the opaque handle recorded on a document when the indexing pipeline
// finishes; loading resolves the handle against stored chunk embeddings.
package index

import (
	"context"
	"fmt"
	"strings"

	"docchat/pkg/ai"
	"docchat/pkg/domain"
	"docchat/pkg/store"
)

// Searcher is the subset of store.Store an index needs.
type Searcher interface {
	SearchChunks(indexID string, embedding []float32, limit int) ([]store.ScoredChunk, error)
	CountEmbeddedChunks(indexID string) (int, error)
}

// Store loads per-document indexes by handle.
type Store struct {
	searcher Searcher
	embedder ai.Embedder
}

// NewStore builds an index store over chunk storage and a query embedder.
func NewStore(searcher Searcher, embedder ai.Embedder) *Store {
	return &Store{searcher: searcher, embedder: embedder}
}

// Load resolves a document's index handle. ok is false when the document has
// no handle or the handle resolves to zero embedded chunks; both are normal
// "index unavailable" outcomes, not errors.
func (s *Store) Load(doc domain.Document) (*Index, bool, error) {
	handle := strings.TrimSpace(doc.IndexID)
	if handle == "" {
		return nil, false, nil
	}
	count, err := s.searcher.CountEmbeddedChunks(handle)
	if err != nil {
		return nil, false, fmt.Errorf("resolve index %s: %w", handle, err)
	}
	if count == 0 {
		return nil, false, nil
	}
	return &Index{
		searcher:     s.searcher,
		embedder:     s.embedder,
		indexID:      handle,
		documentID:   doc.ID,
		documentName: doc.Filename,
	}, true, nil
}

// Index is a queryable, read-only view over one document's embedded chunks.
type Index struct {
	searcher     Searcher
	embedder     ai.Embedder
	indexID      string
	documentID   string
	documentName string
}

// Query embeds the text and returns up to topK results ranked best first.
func (i *Index) Query(ctx context.Context, text string, topK int) ([]domain.RetrievalResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	embedding, err := i.embedder.EmbedText(ctx, text, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	scored, err := i.searcher.SearchChunks(i.indexID, embedding, topK)
	if err != nil {
		return nil, fmt.Errorf("search index %s: %w", i.indexID, err)
	}
	results := make([]domain.RetrievalResult, 0, len(scored))
	for _, sc := range scored {
		results = append(results, domain.RetrievalResult{
			Excerpt:      sc.Chunk.Content,
			Score:        sc.Score,
			DocumentID:   i.documentID,
			DocumentName: i.documentName,
			PageNumber:   sc.Chunk.PageNumber,
		})
	}
	return results, nil
}
