package store

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ConversationModel struct {
	ID            string  `gorm:"primaryKey"`
	Title         string  `gorm:"not null"`
	SystemPrompt  string  `gorm:"type:text"`
	FolderID      *string `gorm:"index"`
	LastMessageAt *time.Time
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

type FolderModel struct {
	ID        string    `gorm:"primaryKey"`
	Name      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

type DocumentModel struct {
	ID           string `gorm:"primaryKey"`
	Filename     string `gorm:"not null"`
	StorageKey   string
	SizeBytes    int64  `gorm:"not null"`
	PageCount    int
	Status       string `gorm:"not null;index"`
	ErrorMessage string
	IndexID      string `gorm:"index"`
	FullText     string `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// ConversationDocumentModel is the join table for the many-to-many
// conversation/document relation.
type ConversationDocumentModel struct {
	ConversationID string    `gorm:"primaryKey"`
	DocumentID     string    `gorm:"primaryKey;index"`
	CreatedAt      time.Time `gorm:"not null"`
}

type MessageModel struct {
	ID             string         `gorm:"primaryKey"`
	ConversationID string         `gorm:"not null;index"`
	Role           string         `gorm:"not null"`
	Content        string         `gorm:"type:text;not null"`
	Citations      datatypes.JSON `gorm:"type:jsonb"`
	ImageIDs       datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time      `gorm:"not null;index"`
}

type ChunkModel struct {
	ID         string           `gorm:"primaryKey"`
	DocumentID string           `gorm:"not null;index"`
	IndexID    string           `gorm:"index"`
	Content    string           `gorm:"type:text;not null"`
	PageNumber int
	Position   int
	Embedding  *pgvector.Vector `gorm:"type:vector(768)"`
	CreatedAt  time.Time        `gorm:"not null;index"`
}

type ImageAttachmentModel struct {
	ID         string `gorm:"primaryKey"`
	Filename   string `gorm:"not null"`
	StorageKey string `gorm:"not null"`
	SizeBytes  int64  `gorm:"not null"`
	MimeType   string `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

// SettingsModel is a singleton row keyed by a fixed ID.
type SettingsModel struct {
	ID              string `gorm:"primaryKey"`
	SystemPrompt    string `gorm:"type:text"`
	GeminiAPIKey    string
	GenerationModel string
	RAGEnabled      bool
	TopK            int
	ChunkSize       int
	ChunkOverlap    int
	MaxFileSize     int64
	UpdatedAt       time.Time
}
