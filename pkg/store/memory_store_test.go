package store

import (
	"testing"
	"time"

	"docchat/pkg/domain"
)

func TestMemoryStoreSettingsDefaultUntilSaved(t *testing.T) {
	m := NewMemoryStore()

	settings, err := m.GetSettings()
	if err != nil {
		t.Fatalf("GetSettings() error: %v", err)
	}
	defaults := domain.DefaultSettings()
	if settings.TopK != defaults.TopK || !settings.RAGEnabled {
		t.Fatalf("settings = %+v, want defaults", settings)
	}

	settings.TopK = 9
	if err := m.SaveSettings(settings); err != nil {
		t.Fatalf("SaveSettings() error: %v", err)
	}
	settings, _ = m.GetSettings()
	if settings.TopK != 9 {
		t.Fatalf("topK = %d, want 9 after save", settings.TopK)
	}
	if settings.UpdatedAt.IsZero() {
		t.Fatalf("updatedAt not stamped on save")
	}
}

func TestDeleteConversationReturnsOnlyOrphans(t *testing.T) {
	m := NewMemoryStore()
	for _, id := range []string{"conv-1", "conv-2"} {
		if err := m.CreateConversation(domain.Conversation{ID: id, Title: "t", CreatedAt: time.Now().UTC()}); err != nil {
			t.Fatalf("create conversation: %v", err)
		}
	}
	for _, id := range []string{"doc-shared", "doc-orphan"} {
		if err := m.SaveDocument(domain.Document{ID: id, Filename: id + ".pdf", StorageKey: "documents/" + id, Status: domain.StatusCompleted}); err != nil {
			t.Fatalf("save document: %v", err)
		}
	}
	if err := m.AttachDocument("conv-1", "doc-shared"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := m.AttachDocument("conv-2", "doc-shared"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := m.AttachDocument("conv-1", "doc-orphan"); err != nil {
		t.Fatalf("attach: %v", err)
	}

	orphans, err := m.DeleteConversation("conv-1")
	if err != nil {
		t.Fatalf("DeleteConversation() error: %v", err)
	}
	if len(orphans) != 1 || orphans[0].ID != "doc-orphan" {
		t.Fatalf("orphans = %+v, want only doc-orphan", orphans)
	}
	if orphans[0].StorageKey == "" {
		t.Fatalf("orphan storage key missing; caller cannot clean up the file")
	}
	if _, ok, _ := m.GetDocument("doc-orphan"); ok {
		t.Fatalf("orphan still present in store")
	}
	if _, ok, _ := m.GetDocument("doc-shared"); !ok {
		t.Fatalf("shared document deleted while still referenced")
	}
}

func TestDeleteConversationDropsOrphanChunks(t *testing.T) {
	m := NewMemoryStore()
	if err := m.CreateConversation(domain.Conversation{ID: "conv-1", Title: "t", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if err := m.SaveDocument(domain.Document{ID: "doc-1", Filename: "a.pdf", Status: domain.StatusCompleted, IndexID: "index-1"}); err != nil {
		t.Fatalf("save document: %v", err)
	}
	chunks := []domain.Chunk{{ID: "c-1", DocumentID: "doc-1", IndexID: "index-1", Content: "text"}}
	if err := m.ReplaceChunks("doc-1", chunks); err != nil {
		t.Fatalf("replace chunks: %v", err)
	}
	if err := m.SetChunkEmbedding("c-1", []float32{1, 0, 0}); err != nil {
		t.Fatalf("set embedding: %v", err)
	}
	if err := m.AttachDocument("conv-1", "doc-1"); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if _, err := m.DeleteConversation("conv-1"); err != nil {
		t.Fatalf("DeleteConversation() error: %v", err)
	}
	count, err := m.CountEmbeddedChunks("index-1")
	if err != nil {
		t.Fatalf("CountEmbeddedChunks() error: %v", err)
	}
	if count != 0 {
		t.Fatalf("embedded chunks after delete = %d, want 0", count)
	}
}

func TestUpdateConversationPartialFields(t *testing.T) {
	m := NewMemoryStore()
	if err := m.CreateConversation(domain.Conversation{ID: "conv-1", Title: "original", SystemPrompt: "keep me", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	// Empty title and zero time mean no change.
	if err := m.UpdateConversation("conv-1", "", nil, time.Time{}); err != nil {
		t.Fatalf("UpdateConversation() error: %v", err)
	}
	conv, _, _ := m.GetConversation("conv-1")
	if conv.Title != "original" || conv.SystemPrompt != "keep me" || conv.LastMessageAt != nil {
		t.Fatalf("conversation changed by no-op update: %+v", conv)
	}

	at := time.Now().UTC()
	if err := m.UpdateConversation("conv-1", "renamed", nil, at); err != nil {
		t.Fatalf("UpdateConversation() error: %v", err)
	}
	conv, _, _ = m.GetConversation("conv-1")
	if conv.Title != "renamed" {
		t.Fatalf("title = %q, want renamed", conv.Title)
	}
	if conv.LastMessageAt == nil || !conv.LastMessageAt.Equal(at) {
		t.Fatalf("lastMessageAt = %v, want %v", conv.LastMessageAt, at)
	}
}
