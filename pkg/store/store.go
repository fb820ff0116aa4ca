package store

import (
	"time"

	"docchat/pkg/domain"
)

// Store defines persistence operations for conversations, folders, documents,
// messages, chunks, and settings.
type Store interface {
	// conversations
	CreateConversation(domain.Conversation) error
	GetConversation(id string) (domain.Conversation, bool, error)
	ListConversations() ([]domain.Conversation, error)
	ListConversationsByFolder(folderID string) ([]domain.Conversation, error)
	UpdateConversation(id string, title string, systemPrompt *string, lastMessageAt time.Time) error
	MoveConversationToFolder(id string, folderID string) error
	// DeleteConversation removes the conversation with its messages and
	// returns the IDs of documents that became orphaned (referenced by no
	// remaining conversation) and were deleted along with their chunks.
	DeleteConversation(id string) ([]domain.Document, error)

	// folders
	CreateFolder(domain.Folder) error
	GetFolder(id string) (domain.Folder, bool, error)
	ListFolders() ([]domain.Folder, error)
	RenameFolder(id, name string) error
	DeleteFolder(id string) error

	// documents
	SaveDocument(domain.Document) error
	GetDocument(id string) (domain.Document, bool, error)
	ListDocuments() ([]domain.Document, error)
	SetDocumentStatus(id string, status domain.DocumentStatus, errMsg string) error
	SetDocumentIndex(id string, indexID string, pageCount int, fullText string) error
	GetDocumentFullText(id string) (string, error)
	DeleteDocument(id string) error

	// conversation <-> document attachments (many-to-many)
	AttachDocument(conversationID, documentID string) error
	DetachDocument(conversationID, documentID string) error
	ListConversationDocuments(conversationID string) ([]domain.Document, error)

	// messages (append-only)
	AppendMessage(conversationID string, msg domain.Message) error
	ListMessages(conversationID string, limit int) ([]domain.Message, error)

	// chunks
	ReplaceChunks(documentID string, chunks []domain.Chunk) error
	ListChunksByDocument(documentID string) ([]domain.Chunk, error)
	SetChunkEmbedding(id string, embedding []float32) error
	// SearchChunks finds the closest embedded chunks of one index, best first.
	SearchChunks(indexID string, embedding []float32, limit int) ([]ScoredChunk, error)
	// CountEmbeddedChunks reports how many chunks of an index carry embeddings.
	CountEmbeddedChunks(indexID string) (int, error)

	// images
	SaveImage(domain.ImageAttachment) error
	GetImage(id string) (domain.ImageAttachment, bool, error)

	// settings singleton
	GetSettings() (domain.Settings, error)
	SaveSettings(domain.Settings) error
}

// ScoredChunk pairs a chunk with its relevance score (higher = more relevant).
type ScoredChunk struct {
	Chunk domain.Chunk
	Score float64
}
