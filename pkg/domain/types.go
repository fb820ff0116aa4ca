package domain

import "time"

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Document is an uploaded file with its indexing lifecycle. IndexID is the
// handle of the per-document retrieval index; it stays empty until indexing
// completes. Only completed documents are eligible for retrieval.
type Document struct {
	ID           string         `json:"id"`
	Filename     string         `json:"filename"`
	StorageKey   string         `json:"-"`
	SizeBytes    int64          `json:"sizeBytes"`
	PageCount    int            `json:"pageCount,omitempty"`
	Status       DocumentStatus `json:"status"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	IndexID      string         `json:"-"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Conversation owns its messages and references a shared set of documents.
type Conversation struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	SystemPrompt  string     `json:"systemPrompt,omitempty"`
	FolderID      string     `json:"folderId,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	Role           string     `json:"role"`
	Content        string     `json:"content"`
	Citations      []Citation `json:"citations,omitempty"`
	ImageIDs       []string   `json:"imageIds,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Citation rides along with an assistant message; it is not a normalized
// entity of its own.
type Citation struct {
	DocumentID   string  `json:"documentId"`
	DocumentName string  `json:"documentName"`
	PageNumber   int     `json:"pageNumber"`
	Excerpt      string  `json:"excerpt"`
	Score        float64 `json:"score"`
}

// RetrievalResult is a transient per-turn record produced by index queries.
// Higher score means more relevant.
type RetrievalResult struct {
	Excerpt      string  `json:"excerpt"`
	Score        float64 `json:"score"`
	DocumentID   string  `json:"documentId"`
	DocumentName string  `json:"documentName"`
	PageNumber   int     `json:"pageNumber"`
}

type ImageAttachment struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	StorageKey string    `json:"-"`
	SizeBytes  int64     `json:"sizeBytes"`
	MimeType   string    `json:"mimeType"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Chunk is one indexable unit of a document. PageNumber is 0 for sources
// without page structure.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	IndexID    string    `json:"indexId"`
	Content    string    `json:"content"`
	PageNumber int       `json:"pageNumber"`
	Position   int       `json:"position"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Settings is the runtime-tunable configuration singleton. A snapshot is
// captured once per chat turn so a concurrent settings update never changes
// behavior mid-stream.
type Settings struct {
	SystemPrompt    string    `json:"systemPrompt"`
	GeminiAPIKey    string    `json:"geminiApiKey"`
	GenerationModel string    `json:"generationModel"`
	RAGEnabled      bool      `json:"ragEnabled"`
	TopK            int       `json:"topK"`
	ChunkSize       int       `json:"chunkSize"`
	ChunkOverlap    int       `json:"chunkOverlap"`
	MaxFileSize     int64     `json:"maxFileSize"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// DefaultSettings returns the configuration used before anything is saved.
func DefaultSettings() Settings {
	return Settings{
		SystemPrompt:    "You are a professional academic assistant helping users understand and analyze document content. Answer questions accurately based on the provided material and cite your sources.",
		GenerationModel: "gemini-1.5-flash",
		RAGEnabled:      true,
		TopK:            5,
		ChunkSize:       1024,
		ChunkOverlap:    200,
		MaxFileSize:     100 << 20,
	}
}
