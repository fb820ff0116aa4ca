package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"docchat/pkg/ai"
	"docchat/pkg/domain"
	"docchat/pkg/index"
	"docchat/pkg/storage"
	"docchat/pkg/store"
)

type fakeGenerator struct {
	answer     string
	err        error
	calls      int
	lastSystem string
	lastParts  []ai.Part
}

func (g *fakeGenerator) GenerateParts(_ context.Context, systemPrompt string, parts []ai.Part) (string, error) {
	g.calls++
	g.lastSystem = systemPrompt
	g.lastParts = parts
	return g.answer, g.err
}

type fakeStreamGenerator struct {
	deltas []string
	err    error
	calls  int
}

func (g *fakeStreamGenerator) GeneratePartsStream(_ context.Context, _ string, _ []ai.Part, onDelta func(string) error) error {
	g.calls++
	for _, delta := range g.deltas {
		if err := onDelta(delta); err != nil {
			return err
		}
	}
	return g.err
}

type queryEmbedder struct {
	vec   []float32
	calls int
}

func (e *queryEmbedder) EmbedText(_ context.Context, _ string, _ string) ([]float32, error) {
	e.calls++
	return e.vec, nil
}

type turnFixture struct {
	app      *App
	store    *store.MemoryStore
	gen      *fakeGenerator
	stream   *fakeStreamGenerator
	embedder *queryEmbedder
}

func newTurnFixture(t *testing.T) *turnFixture {
	t.Helper()
	mem := store.NewMemoryStore()
	gen := &fakeGenerator{answer: "generated answer"}
	stream := &fakeStreamGenerator{deltas: []string{"generated answer"}}
	embedder := &queryEmbedder{vec: []float32{1, 0, 0}}
	a, err := New(Config{
		Store:   mem,
		Objects: storage.NewMemoryStore(),
		Indexes: index.NewStore(mem, embedder),
		NewGenerator: func(domain.Settings) (ai.TextGenerator, error) {
			return gen, nil
		},
		NewStreamGenerator: func(domain.Settings) (ai.StreamTextGenerator, error) {
			return stream, nil
		},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return &turnFixture{app: a, store: mem, gen: gen, stream: stream, embedder: embedder}
}

func (f *turnFixture) seedConversation(t *testing.T) string {
	t.Helper()
	conv := domain.Conversation{ID: "conv-1", Title: "New conversation", CreatedAt: time.Now().UTC()}
	if err := f.store.CreateConversation(conv); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return conv.ID
}

func (f *turnFixture) enableAPIKey(t *testing.T) {
	t.Helper()
	settings := domain.DefaultSettings()
	settings.GeminiAPIKey = "test-key"
	if err := f.store.SaveSettings(settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}
}

// seedIndexedDocument attaches a completed document whose chunks are embedded
// and searchable.
func (f *turnFixture) seedIndexedDocument(t *testing.T, convID, docID, filename string, contents []string) {
	t.Helper()
	indexID := "index-" + docID
	doc := domain.Document{
		ID:       docID,
		Filename: filename,
		Status:   domain.StatusCompleted,
		IndexID:  indexID,
	}
	if err := f.store.SaveDocument(doc); err != nil {
		t.Fatalf("save document: %v", err)
	}
	chunks := make([]domain.Chunk, 0, len(contents))
	for i, content := range contents {
		chunks = append(chunks, domain.Chunk{
			ID:         fmt.Sprintf("%s-chunk-%d", docID, i),
			DocumentID: docID,
			IndexID:    indexID,
			Content:    content,
			PageNumber: i + 1,
			Position:   i,
		})
	}
	if err := f.store.ReplaceChunks(docID, chunks); err != nil {
		t.Fatalf("replace chunks: %v", err)
	}
	for _, chunk := range chunks {
		if err := f.store.SetChunkEmbedding(chunk.ID, []float32{1, 0, 0}); err != nil {
			t.Fatalf("set embedding: %v", err)
		}
	}
	if err := f.store.AttachDocument(convID, docID); err != nil {
		t.Fatalf("attach document: %v", err)
	}
}

func (f *turnFixture) messages(t *testing.T, convID string) []domain.Message {
	t.Helper()
	msgs, err := f.store.ListMessages(convID, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return msgs
}

func boolPtr(b bool) *bool { return &b }

func TestAskRejectsEmptyTurnBeforeAnyWrite(t *testing.T) {
	f := newTurnFixture(t)
	convID := f.seedConversation(t)

	_, err := f.app.Ask(context.Background(), convID, TurnRequest{Query: "   "})
	if !errors.Is(err, ErrEmptyTurn) {
		t.Fatalf("Ask() error = %v, want ErrEmptyTurn", err)
	}
	if msgs := f.messages(t, convID); len(msgs) != 0 {
		t.Fatalf("messages persisted = %d, want 0", len(msgs))
	}
}

func TestAskUnknownConversation(t *testing.T) {
	f := newTurnFixture(t)
	_, err := f.app.Ask(context.Background(), "missing", TurnRequest{Query: "hello"})
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("Ask() error = %v, want ErrConversationNotFound", err)
	}
}

func TestAskForcedContextWithoutEligibleDocuments(t *testing.T) {
	f := newTurnFixture(t)
	convID := f.seedConversation(t)
	f.enableAPIKey(t)

	_, err := f.app.Ask(context.Background(), convID, TurnRequest{Query: "hello", ContextMode: boolPtr(true)})
	if !errors.Is(err, ErrNoEligibleDocuments) {
		t.Fatalf("Ask() error = %v, want ErrNoEligibleDocuments", err)
	}
	msgs := f.messages(t, convID)
	if len(msgs) != 1 || msgs[0].Role != domain.RoleUser {
		t.Fatalf("messages = %+v, want only the user message", msgs)
	}
	if f.gen.calls != 0 {
		t.Fatalf("generator calls = %d, want 0", f.gen.calls)
	}
}

func TestAskForcedContextIgnoresPendingDocuments(t *testing.T) {
	f := newTurnFixture(t)
	convID := f.seedConversation(t)
	f.enableAPIKey(t)
	doc := domain.Document{ID: "doc-pending", Filename: "draft.pdf", Status: domain.StatusProcessing}
	if err := f.store.SaveDocument(doc); err != nil {
		t.Fatalf("save document: %v", err)
	}
	if err := f.store.AttachDocument(convID, doc.ID); err != nil {
		t.Fatalf("attach document: %v", err)
	}

	_, err := f.app.Ask(context.Background(), convID, TurnRequest{Query: "hello", ContextMode: boolPtr(true)})
	if !errors.Is(err, ErrNoEligibleDocuments) {
		t.Fatalf("Ask() error = %v, want ErrNoEligibleDocuments", err)
	}
}

func TestAskMissingAPIKeyReturnsFixedAnswer(t *testing.T) {
	f := newTurnFixture(t)
	convID := f.seedConversation(t)

	result, err := f.app.Ask(context.Background(), convID, TurnRequest{Query: "hello"})
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if result.AssistantMessage.Content != answerMissingAPIKey {
		t.Fatalf("answer = %q, want missing-key text", result.AssistantMessage.Content)
	}
	if f.gen.calls != 0 {
		t.Fatalf("generator calls = %d, want 0", f.gen.calls)
	}
	if msgs := f.messages(t, convID); len(msgs) != 2 {
		t.Fatalf("messages persisted = %d, want 2", len(msgs))
	}
}

func TestAskGenerationFailurePersistsFixedAnswer(t *testing.T) {
	f := newTurnFixture(t)
	convID := f.seedConversation(t)
	f.enableAPIKey(t)
	f.seedIndexedDocument(t, convID, "doc-1", "manual.pdf", []string{"a passage"})
	f.gen.err = errors.New("backend down")

	result, err := f.app.Ask(context.Background(), convID, TurnRequest{Query: "hello", ContextMode: boolPtr(true)})
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if result.AssistantMessage.Content != answerGenerationFailed {
		t.Fatalf("answer = %q, want generation-failed text", result.AssistantMessage.Content)
	}
	msgs := f.messages(t, convID)
	if len(msgs) != 2 || msgs[1].Content != answerGenerationFailed {
		t.Fatalf("persisted messages = %+v, want fallback answer persisted", msgs)
	}
}

func TestAskEmptyRetrievalSkipsGeneration(t *testing.T) {
	f := newTurnFixture(t)
	convID := f.seedConversation(t)
	f.enableAPIKey(t)
	// Completed document whose chunks never got embeddings: its index is
	// unusable and retrieval yields nothing.
	doc := domain.Document{ID: "doc-1", Filename: "notes.pdf", Status: domain.StatusCompleted, IndexID: "index-doc-1"}
	if err := f.store.SaveDocument(doc); err != nil {
		t.Fatalf("save document: %v", err)
	}
	if err := f.store.AttachDocument(convID, doc.ID); err != nil {
		t.Fatalf("attach document: %v", err)
	}

	result, err := f.app.Ask(context.Background(), convID, TurnRequest{Query: "hello"})
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if result.AssistantMessage.Content != answerNoRelevantContent {
		t.Fatalf("answer = %q, want no-relevant-content text", result.AssistantMessage.Content)
	}
	if f.gen.calls != 0 {
		t.Fatalf("generator calls = %d, want 0", f.gen.calls)
	}
	if len(result.Citations) != 0 {
		t.Fatalf("citations = %+v, want none", result.Citations)
	}
}

func TestAskRetrievalBuildsContextAndCitations(t *testing.T) {
	f := newTurnFixture(t)
	convID := f.seedConversation(t)
	f.enableAPIKey(t)
	f.seedIndexedDocument(t, convID, "doc-1", "manual.pdf", []string{"the gearbox holds two liters of oil"})

	result, err := f.app.Ask(context.Background(), convID, TurnRequest{Query: "how much oil?"})
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if result.AssistantMessage.Content != "generated answer" {
		t.Fatalf("answer = %q, want generator output", result.AssistantMessage.Content)
	}
	if len(result.Citations) != 1 {
		t.Fatalf("citations = %d, want 1", len(result.Citations))
	}
	cite := result.Citations[0]
	if cite.DocumentID != "doc-1" || cite.DocumentName != "manual.pdf" || cite.PageNumber != 1 {
		t.Fatalf("citation = %+v, want document identity and page", cite)
	}
	if len(result.AssistantMessage.Citations) != 1 {
		t.Fatalf("assistant message citations = %d, want 1", len(result.AssistantMessage.Citations))
	}
	if f.gen.calls != 1 {
		t.Fatalf("generator calls = %d, want 1", f.gen.calls)
	}
	prompt := f.gen.lastParts[0].Text
	if !strings.Contains(prompt, "the gearbox holds two liters of oil") {
		t.Fatalf("prompt missing retrieved passage: %q", prompt)
	}
	if !strings.Contains(prompt, "how much oil?") {
		t.Fatalf("prompt missing question: %q", prompt)
	}
}

func TestAskFullDocumentModeWhenRetrievalDisabled(t *testing.T) {
	f := newTurnFixture(t)
	convID := f.seedConversation(t)
	settings := domain.DefaultSettings()
	settings.GeminiAPIKey = "test-key"
	settings.RAGEnabled = false
	if err := f.store.SaveSettings(settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	f.seedIndexedDocument(t, convID, "doc-1", "manual.pdf", []string{"chapter one"})
	if err := f.store.SetDocumentIndex("doc-1", "index-doc-1", 3, "full text of the manual"); err != nil {
		t.Fatalf("set document index: %v", err)
	}

	result, err := f.app.Ask(context.Background(), convID, TurnRequest{Query: "summarize"})
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if f.gen.calls != 1 {
		t.Fatalf("generator calls = %d, want 1", f.gen.calls)
	}
	prompt := f.gen.lastParts[0].Text
	if !strings.Contains(prompt, "[manual.pdf]") || !strings.Contains(prompt, "full text of the manual") {
		t.Fatalf("prompt missing full-document context: %q", prompt)
	}
	if len(result.Citations) != 1 {
		t.Fatalf("citations = %d, want 1", len(result.Citations))
	}
	if result.Citations[0].PageNumber != 0 {
		t.Fatalf("full-document citation page = %d, want 0", result.Citations[0].PageNumber)
	}
}

func TestAskImageOnlyTurnSkipsRetrieval(t *testing.T) {
	f := newTurnFixture(t)
	convID := f.seedConversation(t)
	f.enableAPIKey(t)
	f.seedIndexedDocument(t, convID, "doc-1", "manual.pdf", []string{"chapter one"})
	if err := f.store.SetDocumentIndex("doc-1", "index-doc-1", 3, "full text of the manual"); err != nil {
		t.Fatalf("set document index: %v", err)
	}

	result, err := f.app.Ask(context.Background(), convID, TurnRequest{ImageIDs: []string{"img-1"}})
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if f.embedder.calls != 0 {
		t.Fatalf("embedder calls = %d, want 0 for a turn without user text", f.embedder.calls)
	}
	if !strings.Contains(f.gen.lastParts[0].Text, "full text of the manual") {
		t.Fatalf("prompt missing full-document context: %q", f.gen.lastParts[0].Text)
	}
	if len(result.Citations) != 1 || result.Citations[0].PageNumber != 0 {
		t.Fatalf("citations = %+v, want one full-document citation", result.Citations)
	}
}

func TestAskDisabledContextIgnoresDocuments(t *testing.T) {
	f := newTurnFixture(t)
	convID := f.seedConversation(t)
	f.enableAPIKey(t)
	f.seedIndexedDocument(t, convID, "doc-1", "manual.pdf", []string{"secret passage"})

	result, err := f.app.Ask(context.Background(), convID, TurnRequest{Query: "hello", ContextMode: boolPtr(false)})
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if len(result.Citations) != 0 {
		t.Fatalf("citations = %+v, want none in disabled mode", result.Citations)
	}
	if strings.Contains(f.gen.lastParts[0].Text, "secret passage") {
		t.Fatalf("prompt leaked document content in disabled mode")
	}
}

func TestAskFirstTurnDerivesTitle(t *testing.T) {
	f := newTurnFixture(t)
	convID := f.seedConversation(t)
	f.enableAPIKey(t)

	if _, err := f.app.Ask(context.Background(), convID, TurnRequest{Query: "What is the warranty period?"}); err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	conv, _, err := f.store.GetConversation(convID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if conv.Title != "What is the warranty period?" {
		t.Fatalf("title = %q, want derived from first question", conv.Title)
	}
	if conv.LastMessageAt == nil {
		t.Fatalf("lastMessageAt not set after turn")
	}

	if _, err := f.app.Ask(context.Background(), convID, TurnRequest{Query: "And the price?"}); err != nil {
		t.Fatalf("Ask() second turn error: %v", err)
	}
	conv, _, _ = f.store.GetConversation(convID)
	if conv.Title != "What is the warranty period?" {
		t.Fatalf("title changed on second turn: %q", conv.Title)
	}
}

func TestAskConversationSystemPromptWins(t *testing.T) {
	f := newTurnFixture(t)
	f.enableAPIKey(t)
	conv := domain.Conversation{ID: "conv-sp", Title: "t", SystemPrompt: "answer in French", CreatedAt: time.Now().UTC()}
	if err := f.store.CreateConversation(conv); err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	if _, err := f.app.Ask(context.Background(), conv.ID, TurnRequest{Query: "hello"}); err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if f.gen.lastSystem != "answer in French" {
		t.Fatalf("system prompt = %q, want conversation override", f.gen.lastSystem)
	}
}
