package store

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"docchat/pkg/domain"
)

// MemoryStore keeps all state in-process. It mirrors GormStore semantics and
// backs tests and local development without Postgres.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]domain.Conversation
	convOrder     []string
	folders       map[string]domain.Folder
	folderOrder   []string
	documents     map[string]domain.Document
	docOrder      []string
	fullTexts     map[string]string
	attachments   map[string][]string // conversation ID -> document IDs in attach order
	messages      map[string][]domain.Message
	chunks        map[string][]domain.Chunk // document ID -> chunks
	embeddings    map[string][]float32      // chunk ID -> embedding
	images        map[string]domain.ImageAttachment
	settings      *domain.Settings
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]domain.Conversation),
		folders:       make(map[string]domain.Folder),
		documents:     make(map[string]domain.Document),
		fullTexts:     make(map[string]string),
		attachments:   make(map[string][]string),
		messages:      make(map[string][]domain.Message),
		chunks:        make(map[string][]domain.Chunk),
		embeddings:    make(map[string][]float32),
		images:        make(map[string]domain.ImageAttachment),
	}
}

func (m *MemoryStore) CreateConversation(c domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.conversations[c.ID]; exists {
		return fmt.Errorf("conversation %s already exists", c.ID)
	}
	m.conversations[c.ID] = c
	m.convOrder = append(m.convOrder, c.ID)
	return nil
}

func (m *MemoryStore) GetConversation(id string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	return c, ok, nil
}

func (m *MemoryStore) ListConversations() ([]domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Conversation, 0, len(m.convOrder))
	for _, id := range m.convOrder {
		if c, ok := m.conversations[id]; ok {
			res = append(res, c)
		}
	}
	return res, nil
}

func (m *MemoryStore) ListConversationsByFolder(folderID string) ([]domain.Conversation, error) {
	all, _ := m.ListConversations()
	res := make([]domain.Conversation, 0, len(all))
	for _, c := range all {
		if c.FolderID == folderID {
			res = append(res, c)
		}
	}
	return res, nil
}

func (m *MemoryStore) UpdateConversation(id string, title string, systemPrompt *string, lastMessageAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %s not found", id)
	}
	if strings.TrimSpace(title) != "" {
		c.Title = strings.TrimSpace(title)
	}
	if systemPrompt != nil {
		c.SystemPrompt = *systemPrompt
	}
	if !lastMessageAt.IsZero() {
		at := lastMessageAt.UTC()
		c.LastMessageAt = &at
	}
	c.UpdatedAt = time.Now().UTC()
	m.conversations[id] = c
	return nil
}

func (m *MemoryStore) MoveConversationToFolder(id string, folderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %s not found", id)
	}
	c.FolderID = strings.TrimSpace(folderID)
	c.UpdatedAt = time.Now().UTC()
	m.conversations[id] = c
	return nil
}

func (m *MemoryStore) DeleteConversation(id string) ([]domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	attached := m.attachments[id]
	delete(m.conversations, id)
	delete(m.messages, id)
	delete(m.attachments, id)
	var orphaned []domain.Document
	for _, docID := range attached {
		if m.documentReferencedLocked(docID) {
			continue
		}
		doc, ok := m.documents[docID]
		if !ok {
			continue
		}
		m.deleteDocumentLocked(docID)
		orphaned = append(orphaned, doc)
	}
	return orphaned, nil
}

func (m *MemoryStore) documentReferencedLocked(documentID string) bool {
	for _, docIDs := range m.attachments {
		for _, id := range docIDs {
			if id == documentID {
				return true
			}
		}
	}
	return false
}

func (m *MemoryStore) deleteDocumentLocked(id string) {
	delete(m.documents, id)
	delete(m.fullTexts, id)
	for _, chunk := range m.chunks[id] {
		delete(m.embeddings, chunk.ID)
	}
	delete(m.chunks, id)
	for i, docID := range m.docOrder {
		if docID == id {
			m.docOrder = append(m.docOrder[:i], m.docOrder[i+1:]...)
			break
		}
	}
}

func (m *MemoryStore) CreateFolder(f domain.Folder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.folders[f.ID]; exists {
		return fmt.Errorf("folder %s already exists", f.ID)
	}
	m.folders[f.ID] = f
	m.folderOrder = append(m.folderOrder, f.ID)
	return nil
}

func (m *MemoryStore) GetFolder(id string) (domain.Folder, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.folders[id]
	return f, ok, nil
}

func (m *MemoryStore) ListFolders() ([]domain.Folder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Folder, 0, len(m.folderOrder))
	for _, id := range m.folderOrder {
		if f, ok := m.folders[id]; ok {
			res = append(res, f)
		}
	}
	return res, nil
}

func (m *MemoryStore) RenameFolder(id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[id]
	if !ok {
		return fmt.Errorf("folder %s not found", id)
	}
	f.Name = name
	f.UpdatedAt = time.Now().UTC()
	m.folders[id] = f
	return nil
}

func (m *MemoryStore) DeleteFolder(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for convID, c := range m.conversations {
		if c.FolderID == id {
			c.FolderID = ""
			m.conversations[convID] = c
		}
	}
	delete(m.folders, id)
	for i, folderID := range m.folderOrder {
		if folderID == id {
			m.folderOrder = append(m.folderOrder[:i], m.folderOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) SaveDocument(d domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.documents[d.ID]; !exists {
		m.docOrder = append(m.docOrder, d.ID)
	}
	m.documents[d.ID] = d
	return nil
}

func (m *MemoryStore) GetDocument(id string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	return d, ok, nil
}

func (m *MemoryStore) ListDocuments() ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Document, 0, len(m.docOrder))
	for i := len(m.docOrder) - 1; i >= 0; i-- {
		if d, ok := m.documents[m.docOrder[i]]; ok {
			res = append(res, d)
		}
	}
	return res, nil
}

func (m *MemoryStore) SetDocumentStatus(id string, status domain.DocumentStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return fmt.Errorf("document %s not found", id)
	}
	d.Status = status
	d.ErrorMessage = errMsg
	d.UpdatedAt = time.Now().UTC()
	m.documents[id] = d
	return nil
}

func (m *MemoryStore) SetDocumentIndex(id string, indexID string, pageCount int, fullText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return fmt.Errorf("document %s not found", id)
	}
	d.IndexID = indexID
	d.PageCount = pageCount
	d.UpdatedAt = time.Now().UTC()
	m.documents[id] = d
	m.fullTexts[id] = fullText
	return nil
}

func (m *MemoryStore) GetDocumentFullText(id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fullTexts[id], nil
}

func (m *MemoryStore) DeleteDocument(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for convID, docIDs := range m.attachments {
		filtered := docIDs[:0]
		for _, docID := range docIDs {
			if docID != id {
				filtered = append(filtered, docID)
			}
		}
		m.attachments[convID] = filtered
	}
	m.deleteDocumentLocked(id)
	return nil
}

func (m *MemoryStore) AttachDocument(conversationID, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.attachments[conversationID] {
		if id == documentID {
			return nil
		}
	}
	m.attachments[conversationID] = append(m.attachments[conversationID], documentID)
	return nil
}

func (m *MemoryStore) DetachDocument(conversationID, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	docIDs := m.attachments[conversationID]
	for i, id := range docIDs {
		if id == documentID {
			m.attachments[conversationID] = append(docIDs[:i], docIDs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) ListConversationDocuments(conversationID string) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docIDs := m.attachments[conversationID]
	res := make([]domain.Document, 0, len(docIDs))
	for _, id := range docIDs {
		if d, ok := m.documents[id]; ok {
			res = append(res, d)
		}
	}
	return res, nil
}

func (m *MemoryStore) AppendMessage(conversationID string, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[conversationID]; !ok {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	msg.ConversationID = conversationID
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	return nil
}

func (m *MemoryStore) ListMessages(conversationID string, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	res := make([]domain.Message, len(msgs))
	copy(res, msgs)
	return res, nil
}

func (m *MemoryStore) ReplaceChunks(documentID string, chunks []domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, chunk := range m.chunks[documentID] {
		delete(m.embeddings, chunk.ID)
	}
	copied := make([]domain.Chunk, len(chunks))
	copy(copied, chunks)
	m.chunks[documentID] = copied
	return nil
}

func (m *MemoryStore) ListChunksByDocument(documentID string) ([]domain.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chunks := m.chunks[documentID]
	res := make([]domain.Chunk, len(chunks))
	copy(res, chunks)
	return res, nil
}

func (m *MemoryStore) SetChunkEmbedding(id string, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make([]float32, len(embedding))
	copy(copied, embedding)
	m.embeddings[id] = copied
	return nil
}

func (m *MemoryStore) SearchChunks(indexID string, embedding []float32, limit int) ([]ScoredChunk, error) {
	if limit <= 0 {
		return []ScoredChunk{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var scored []ScoredChunk
	for _, chunks := range m.chunks {
		for _, chunk := range chunks {
			if chunk.IndexID != indexID {
				continue
			}
			vec, ok := m.embeddings[chunk.ID]
			if !ok {
				continue
			}
			scored = append(scored, ScoredChunk{Chunk: chunk, Score: cosineSimilarity(embedding, vec)})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (m *MemoryStore) CountEmbeddedChunks(indexID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, chunks := range m.chunks {
		for _, chunk := range chunks {
			if chunk.IndexID != indexID {
				continue
			}
			if _, ok := m.embeddings[chunk.ID]; ok {
				count++
			}
		}
	}
	return count, nil
}

func (m *MemoryStore) SaveImage(img domain.ImageAttachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[img.ID] = img
	return nil
}

func (m *MemoryStore) GetImage(id string) (domain.ImageAttachment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	img, ok := m.images[id]
	return img, ok, nil
}

func (m *MemoryStore) GetSettings() (domain.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return domain.DefaultSettings(), nil
	}
	return *m.settings, nil
}

func (m *MemoryStore) SaveSettings(settings domain.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	settings.UpdatedAt = time.Now().UTC()
	m.settings = &settings
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
