package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"docchat/pkg/domain"
)

const migrateLockID int64 = 48215521

const (
	settingsRowID            = "default"
	defaultEmbeddingDim      = 768
	canonicalEmbeddingDimEnv = "DOCCHAT_EMBEDDING_DIM"
)

type GormStoreOptions struct {
	EmbeddingDim int
}

type GormStoreOption func(*GormStoreOptions)

// WithEmbeddingDim sets the canonical embedding dimension used by storage.
func WithEmbeddingDim(dim int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.EmbeddingDim = dim
	}
}

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db           *gorm.DB
	embeddingDim int
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	embeddingDim, err := resolveEmbeddingDim(opts.EmbeddingDim)
	if err != nil {
		return nil, err
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("create pgvector extension: %w", err)
		}
		if err := tx.AutoMigrate(
			&FolderModel{},
			&ConversationModel{},
			&DocumentModel{},
			&ConversationDocumentModel{},
			&MessageModel{},
			&ChunkModel{},
			&ImageAttachmentModel{},
			&SettingsModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(fmt.Sprintf(`
			DO $$
			BEGIN
			IF EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_name = 'chunk_models' AND column_name = 'embedding'
			) THEN
				ALTER TABLE chunk_models ALTER COLUMN embedding TYPE vector(%d);
			END IF;
			END $$;
		`, embeddingDim)).Error; err != nil {
			return fmt.Errorf("alter chunk embedding type: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM chunk_models c
				WHERE NOT EXISTS (SELECT 1 FROM document_models d WHERE d.id = c.document_id);
				DELETE FROM message_models m
				WHERE NOT EXISTS (SELECT 1 FROM conversation_models v WHERE v.id = m.conversation_id);
				DELETE FROM conversation_document_models cd
				WHERE NOT EXISTS (SELECT 1 FROM conversation_models v WHERE v.id = cd.conversation_id)
				   OR NOT EXISTS (SELECT 1 FROM document_models d WHERE d.id = cd.document_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'chunk_models'
					AND constraint_name = 'chunk_models_document_id_fkey'
				) THEN
					ALTER TABLE chunk_models
					ADD CONSTRAINT chunk_models_document_id_fkey
					FOREIGN KEY (document_id) REFERENCES document_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'message_models'
					AND constraint_name = 'message_models_conversation_id_fkey'
				) THEN
					ALTER TABLE message_models
					ADD CONSTRAINT message_models_conversation_id_fkey
					FOREIGN KEY (conversation_id) REFERENCES conversation_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'conversation_document_models'
					AND constraint_name = 'conversation_document_models_conversation_id_fkey'
				) THEN
					ALTER TABLE conversation_document_models
					ADD CONSTRAINT conversation_document_models_conversation_id_fkey
					FOREIGN KEY (conversation_id) REFERENCES conversation_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, embeddingDim: embeddingDim}, nil
}

func resolveEmbeddingDim(configValue int) (int, error) {
	if configValue > 0 {
		return configValue, nil
	}
	raw := strings.TrimSpace(os.Getenv(canonicalEmbeddingDimEnv))
	if raw == "" {
		return defaultEmbeddingDim, nil
	}
	dim, err := strconv.Atoi(raw)
	if err != nil || dim <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", canonicalEmbeddingDimEnv, raw)
	}
	return dim, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateConversation creates a new conversation record.
func (s *GormStore) CreateConversation(conversation domain.Conversation) error {
	model := conversationToModel(conversation)
	return s.db.Create(&model).Error
}

// GetConversation returns one conversation by ID.
func (s *GormStore) GetConversation(id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// ListConversations returns all conversations, most recently active first.
func (s *GormStore) ListConversations() ([]domain.Conversation, error) {
	return s.listConversations(nil)
}

// ListConversationsByFolder returns conversations filed under a folder.
func (s *GormStore) ListConversationsByFolder(folderID string) ([]domain.Conversation, error) {
	return s.listConversations([]any{"folder_id = ?", folderID})
}

func (s *GormStore) listConversations(conds []any) ([]domain.Conversation, error) {
	var models []ConversationModel
	tx := s.db.Order("last_message_at DESC NULLS LAST").Order("updated_at DESC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Conversation, 0, len(models))
	for _, model := range models {
		items = append(items, conversationFromModel(model))
	}
	return items, nil
}

// UpdateConversation refreshes title, optional system prompt, and last-message
// timestamp. Empty title and nil systemPrompt leave the current values alone.
func (s *GormStore) UpdateConversation(id string, title string, systemPrompt *string, lastMessageAt time.Time) error {
	updates := map[string]any{
		"updated_at": time.Now().UTC(),
	}
	if strings.TrimSpace(title) != "" {
		updates["title"] = strings.TrimSpace(title)
	}
	if systemPrompt != nil {
		updates["system_prompt"] = *systemPrompt
	}
	if !lastMessageAt.IsZero() {
		updates["last_message_at"] = lastMessageAt.UTC()
	}
	return s.db.Model(&ConversationModel{}).Where("id = ?", id).Updates(updates).Error
}

// MoveConversationToFolder files a conversation under a folder. Empty folderID
// unfiles it.
func (s *GormStore) MoveConversationToFolder(id string, folderID string) error {
	var value *string
	if strings.TrimSpace(folderID) != "" {
		trimmed := strings.TrimSpace(folderID)
		value = &trimmed
	}
	return s.db.Model(&ConversationModel{}).Where("id = ?", id).
		Updates(map[string]any{"folder_id": value, "updated_at": time.Now().UTC()}).Error
}

// DeleteConversation removes a conversation with its messages and attachments.
// Documents no longer referenced by any conversation are deleted too (chunks
// follow by FK cascade) and returned so callers can clean up stored files.
func (s *GormStore) DeleteConversation(id string) ([]domain.Document, error) {
	var orphaned []domain.Document
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var attachments []ConversationDocumentModel
		if err := tx.Where("conversation_id = ?", id).Find(&attachments).Error; err != nil {
			return err
		}
		if err := tx.Delete(&MessageModel{}, "conversation_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ConversationDocumentModel{}, "conversation_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ConversationModel{}, "id = ?", id).Error; err != nil {
			return err
		}
		for _, attachment := range attachments {
			var count int64
			if err := tx.Model(&ConversationDocumentModel{}).
				Where("document_id = ?", attachment.DocumentID).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			var model DocumentModel
			if err := tx.First(&model, "id = ?", attachment.DocumentID).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					continue
				}
				return err
			}
			if err := tx.Delete(&DocumentModel{}, "id = ?", attachment.DocumentID).Error; err != nil {
				return err
			}
			orphaned = append(orphaned, documentFromModel(model))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orphaned, nil
}

// CreateFolder creates a folder.
func (s *GormStore) CreateFolder(folder domain.Folder) error {
	model := folderToModel(folder)
	return s.db.Create(&model).Error
}

// GetFolder returns one folder by ID.
func (s *GormStore) GetFolder(id string) (domain.Folder, bool, error) {
	var model FolderModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Folder{}, false, nil
		}
		return domain.Folder{}, false, err
	}
	return folderFromModel(model), true, nil
}

// ListFolders returns all folders ordered by creation time.
func (s *GormStore) ListFolders() ([]domain.Folder, error) {
	var models []FolderModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Folder, 0, len(models))
	for _, model := range models {
		items = append(items, folderFromModel(model))
	}
	return items, nil
}

// RenameFolder updates a folder's name.
func (s *GormStore) RenameFolder(id, name string) error {
	return s.db.Model(&FolderModel{}).Where("id = ?", id).
		Updates(map[string]any{"name": name, "updated_at": time.Now().UTC()}).Error
}

// DeleteFolder removes a folder; filed conversations are unfiled, not deleted.
func (s *GormStore) DeleteFolder(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&ConversationModel{}).Where("folder_id = ?", id).
			Update("folder_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&FolderModel{}, "id = ?", id).Error
	})
}

// SaveDocument stores or updates a document.
func (s *GormStore) SaveDocument(d domain.Document) error {
	model := documentToModel(d)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"filename", "storage_key", "size_bytes", "page_count", "status", "error_message", "index_id", "updated_at"}),
	}).Create(&model).Error
}

// GetDocument retrieves a document.
func (s *GormStore) GetDocument(id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocuments returns all documents, newest upload first.
func (s *GormStore) ListDocuments() ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Document, 0, len(models))
	for _, model := range models {
		items = append(items, documentFromModel(model))
	}
	return items, nil
}

// SetDocumentStatus updates document status/error.
func (s *GormStore) SetDocumentStatus(id string, status domain.DocumentStatus, errMsg string) error {
	return s.db.Model(&DocumentModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(status),
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// SetDocumentIndex records the index handle, page count, and cached full text
// produced by a completed indexing run.
func (s *GormStore) SetDocumentIndex(id string, indexID string, pageCount int, fullText string) error {
	return s.db.Model(&DocumentModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"index_id":   indexID,
			"page_count": pageCount,
			"full_text":  fullText,
			"updated_at": time.Now().UTC(),
		}).Error
}

// GetDocumentFullText returns the cached extracted text of a document.
func (s *GormStore) GetDocumentFullText(id string) (string, error) {
	var model DocumentModel
	if err := s.db.Select("full_text").First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil
		}
		return "", err
	}
	return model.FullText, nil
}

// DeleteDocument removes a document, its chunks, and its attachments.
func (s *GormStore) DeleteDocument(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ConversationDocumentModel{}, "document_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&DocumentModel{}, "id = ?", id).Error
	})
}

// AttachDocument links a document to a conversation (idempotent).
func (s *GormStore) AttachDocument(conversationID, documentID string) error {
	model := ConversationDocumentModel{
		ConversationID: conversationID,
		DocumentID:     documentID,
		CreatedAt:      time.Now().UTC(),
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error
}

// DetachDocument unlinks a document from a conversation.
func (s *GormStore) DetachDocument(conversationID, documentID string) error {
	return s.db.Delete(&ConversationDocumentModel{},
		"conversation_id = ? AND document_id = ?", conversationID, documentID).Error
}

// ListConversationDocuments returns a conversation's documents in attach order.
func (s *GormStore) ListConversationDocuments(conversationID string) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.Model(&DocumentModel{}).
		Joins("JOIN conversation_document_models cd ON cd.document_id = document_models.id").
		Where("cd.conversation_id = ?", conversationID).
		Order("cd.created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Document, 0, len(models))
	for _, model := range models {
		items = append(items, documentFromModel(model))
	}
	return items, nil
}

// AppendMessage records a message.
func (s *GormStore) AppendMessage(conversationID string, msg domain.Message) error {
	model := messageToModel(msg)
	model.ConversationID = conversationID
	return s.db.Create(&model).Error
}

// ListMessages returns messages for a conversation in chronological order.
func (s *GormStore) ListMessages(conversationID string, limit int) ([]domain.Message, error) {
	query := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []MessageModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, model := range models {
		msgs = append(msgs, messageFromModel(model))
	}
	return msgs, nil
}

// ReplaceChunks replaces all chunks for a document.
func (s *GormStore) ReplaceChunks(documentID string, chunks []domain.Chunk) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ChunkModel{}, "document_id = ?", documentID).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		models := make([]ChunkModel, 0, len(chunks))
		for _, chunk := range chunks {
			model := chunkToModel(chunk)
			model.DocumentID = documentID
			models = append(models, model)
		}
		return tx.CreateInBatches(&models, 200).Error
	})
}

// ListChunksByDocument returns chunks for a document in position order.
func (s *GormStore) ListChunksByDocument(documentID string) ([]domain.Chunk, error) {
	var models []ChunkModel
	if err := s.db.Where("document_id = ?", documentID).
		Order("position ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	chunks := make([]domain.Chunk, 0, len(models))
	for _, model := range models {
		chunks = append(chunks, chunkFromModel(model))
	}
	return chunks, nil
}

// SetChunkEmbedding updates the embedding vector for a chunk.
func (s *GormStore) SetChunkEmbedding(id string, embedding []float32) error {
	if err := s.validateEmbeddingDim(embedding); err != nil {
		return err
	}
	return s.db.Model(&ChunkModel{}).Where("id = ?", id).
		Update("embedding", pgvector.NewVector(embedding)).Error
}

// SearchChunks finds similar chunks of one index by cosine distance. The score
// is 1 - distance, so higher means more relevant.
func (s *GormStore) SearchChunks(indexID string, embedding []float32, limit int) ([]ScoredChunk, error) {
	if limit <= 0 {
		return []ScoredChunk{}, nil
	}
	if err := s.validateEmbeddingDim(embedding); err != nil {
		return nil, err
	}
	vec := pgvector.NewVector(embedding)
	var rows []struct {
		ChunkModel
		Distance float64
	}
	if err := s.db.Model(&ChunkModel{}).
		Select("*, embedding <=> ? AS distance", vec).
		Where("index_id = ? AND embedding IS NOT NULL", indexID).
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []any{vec}}).
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	results := make([]ScoredChunk, 0, len(rows))
	for _, row := range rows {
		results = append(results, ScoredChunk{
			Chunk: chunkFromModel(row.ChunkModel),
			Score: 1 - row.Distance,
		})
	}
	return results, nil
}

// CountEmbeddedChunks reports how many chunks of an index carry embeddings.
func (s *GormStore) CountEmbeddedChunks(indexID string) (int, error) {
	var count int64
	if err := s.db.Model(&ChunkModel{}).
		Where("index_id = ? AND embedding IS NOT NULL", indexID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// SaveImage stores an image attachment record.
func (s *GormStore) SaveImage(img domain.ImageAttachment) error {
	model := imageToModel(img)
	return s.db.Create(&model).Error
}

// GetImage returns an image attachment by ID.
func (s *GormStore) GetImage(id string) (domain.ImageAttachment, bool, error) {
	var model ImageAttachmentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ImageAttachment{}, false, nil
		}
		return domain.ImageAttachment{}, false, err
	}
	return imageFromModel(model), true, nil
}

// GetSettings loads the settings singleton, falling back to defaults when the
// row does not exist yet.
func (s *GormStore) GetSettings() (domain.Settings, error) {
	var model SettingsModel
	if err := s.db.First(&model, "id = ?", settingsRowID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.DefaultSettings(), nil
		}
		return domain.Settings{}, err
	}
	return settingsFromModel(model), nil
}

// SaveSettings upserts the settings singleton.
func (s *GormStore) SaveSettings(settings domain.Settings) error {
	model := settingsToModel(settings)
	model.ID = settingsRowID
	model.UpdatedAt = time.Now().UTC()
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"system_prompt", "gemini_api_key", "generation_model", "rag_enabled", "top_k", "chunk_size", "chunk_overlap", "max_file_size", "updated_at"}),
	}).Create(&model).Error
}

func (s *GormStore) validateEmbeddingDim(embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	if s.embeddingDim > 0 && len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), s.embeddingDim)
	}
	return nil
}

func conversationToModel(c domain.Conversation) ConversationModel {
	var folderID *string
	if strings.TrimSpace(c.FolderID) != "" {
		value := strings.TrimSpace(c.FolderID)
		folderID = &value
	}
	return ConversationModel{
		ID:            c.ID,
		Title:         c.Title,
		SystemPrompt:  c.SystemPrompt,
		FolderID:      folderID,
		LastMessageAt: c.LastMessageAt,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	folderID := ""
	if m.FolderID != nil {
		folderID = strings.TrimSpace(*m.FolderID)
	}
	return domain.Conversation{
		ID:            m.ID,
		Title:         m.Title,
		SystemPrompt:  m.SystemPrompt,
		FolderID:      folderID,
		LastMessageAt: m.LastMessageAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func folderToModel(f domain.Folder) FolderModel {
	return FolderModel{
		ID:        f.ID,
		Name:      f.Name,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

func folderFromModel(m FolderModel) domain.Folder {
	return domain.Folder{
		ID:        m.ID,
		Name:      m.Name,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:           d.ID,
		Filename:     d.Filename,
		StorageKey:   d.StorageKey,
		SizeBytes:    d.SizeBytes,
		PageCount:    d.PageCount,
		Status:       string(d.Status),
		ErrorMessage: d.ErrorMessage,
		IndexID:      d.IndexID,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:           m.ID,
		Filename:     m.Filename,
		StorageKey:   m.StorageKey,
		SizeBytes:    m.SizeBytes,
		PageCount:    m.PageCount,
		Status:       domain.DocumentStatus(m.Status),
		ErrorMessage: m.ErrorMessage,
		IndexID:      m.IndexID,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	var citations []byte
	if len(msg.Citations) > 0 {
		citations, _ = json.Marshal(msg.Citations)
	}
	var imageIDs []byte
	if len(msg.ImageIDs) > 0 {
		imageIDs, _ = json.Marshal(msg.ImageIDs)
	}
	return MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Role:           msg.Role,
		Content:        msg.Content,
		Citations:      citations,
		ImageIDs:       imageIDs,
		CreatedAt:      msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	var citations []domain.Citation
	if len(m.Citations) > 0 {
		_ = json.Unmarshal(m.Citations, &citations)
	}
	var imageIDs []string
	if len(m.ImageIDs) > 0 {
		_ = json.Unmarshal(m.ImageIDs, &imageIDs)
	}
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           m.Role,
		Content:        m.Content,
		Citations:      citations,
		ImageIDs:       imageIDs,
		CreatedAt:      m.CreatedAt,
	}
}

func chunkToModel(chunk domain.Chunk) ChunkModel {
	return ChunkModel{
		ID:         chunk.ID,
		DocumentID: chunk.DocumentID,
		IndexID:    chunk.IndexID,
		Content:    chunk.Content,
		PageNumber: chunk.PageNumber,
		Position:   chunk.Position,
		CreatedAt:  chunk.CreatedAt,
	}
}

func chunkFromModel(model ChunkModel) domain.Chunk {
	return domain.Chunk{
		ID:         model.ID,
		DocumentID: model.DocumentID,
		IndexID:    model.IndexID,
		Content:    model.Content,
		PageNumber: model.PageNumber,
		Position:   model.Position,
		CreatedAt:  model.CreatedAt,
	}
}

func imageToModel(img domain.ImageAttachment) ImageAttachmentModel {
	return ImageAttachmentModel{
		ID:         img.ID,
		Filename:   img.Filename,
		StorageKey: img.StorageKey,
		SizeBytes:  img.SizeBytes,
		MimeType:   img.MimeType,
		CreatedAt:  img.CreatedAt,
	}
}

func imageFromModel(m ImageAttachmentModel) domain.ImageAttachment {
	return domain.ImageAttachment{
		ID:         m.ID,
		Filename:   m.Filename,
		StorageKey: m.StorageKey,
		SizeBytes:  m.SizeBytes,
		MimeType:   m.MimeType,
		CreatedAt:  m.CreatedAt,
	}
}

func settingsToModel(s domain.Settings) SettingsModel {
	return SettingsModel{
		SystemPrompt:    s.SystemPrompt,
		GeminiAPIKey:    s.GeminiAPIKey,
		GenerationModel: s.GenerationModel,
		RAGEnabled:      s.RAGEnabled,
		TopK:            s.TopK,
		ChunkSize:       s.ChunkSize,
		ChunkOverlap:    s.ChunkOverlap,
		MaxFileSize:     s.MaxFileSize,
		UpdatedAt:       s.UpdatedAt,
	}
}

func settingsFromModel(m SettingsModel) domain.Settings {
	return domain.Settings{
		SystemPrompt:    m.SystemPrompt,
		GeminiAPIKey:    m.GeminiAPIKey,
		GenerationModel: m.GenerationModel,
		RAGEnabled:      m.RAGEnabled,
		TopK:            m.TopK,
		ChunkSize:       m.ChunkSize,
		ChunkOverlap:    m.ChunkOverlap,
		MaxFileSize:     m.MaxFileSize,
		UpdatedAt:       m.UpdatedAt,
	}
}
