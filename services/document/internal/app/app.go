package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"docchat/internal/util"
	"docchat/pkg/ai"
	"docchat/pkg/domain"
	"docchat/pkg/queue"
	"docchat/pkg/storage"
	"docchat/pkg/store"
)

var supportedExtensions = map[string]bool{
	".pdf":  true,
	".epub": true,
	".txt":  true,
	".md":   true,
}

// Config holds runtime configuration.
type Config struct {
	DatabaseURL            string
	Store                  store.Store
	Objects                storage.ObjectStore
	Queue                  JobQueue
	MinioEndpoint          string
	MinioAccessKey         string
	MinioSecretKey         string
	MinioBucket            string
	MinioUseSSL            bool
	RedisAddr              string
	RedisPassword          string
	QueueName              string
	QueueGroup             string
	QueueConcurrency       int
	QueueMaxRetries        int
	QueueRetryDelaySeconds int
	GeminiAPIKey           string
	EmbeddingProvider      string
	EmbeddingBaseURL       string
	EmbeddingModel         string
	EmbeddingDim           int
	EmbeddingBatchSize     int
	EmbeddingConcurrency   int
}

// JobQueue is the queue surface the app depends on.
type JobQueue interface {
	Enqueue(ctx context.Context, documentID string) (queue.JobStatus, error)
	GetJob(ctx context.Context, jobID string) (queue.JobStatus, bool, error)
	Start(ctx context.Context, concurrency int, handler func(context.Context, queue.JobStatus) error)
}

// App owns document upload and the processing pipeline that turns an uploaded
// file into searchable chunks.
type App struct {
	store            store.Store
	objects          storage.ObjectStore
	queue            JobQueue
	embedder         ai.Embedder
	embedDim         int
	embedBatchSize   int
	embedConcurrency int
	presignExpiry    time.Duration
}

// New constructs the document service.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	objects := cfg.Objects
	if objects == nil {
		var err error
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, err
		}
	}
	embedder, dim, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	jobQueue := cfg.Queue
	if jobQueue == nil {
		q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			Stream:     defaultQueueName(cfg.QueueName),
			Group:      defaultQueueGroup(cfg.QueueGroup),
			Consumer:   util.NewID(),
			MaxRetries: cfg.QueueMaxRetries,
			RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		jobQueue = q
	}
	app := &App{
		store:            dataStore,
		objects:          objects,
		queue:            jobQueue,
		embedder:         embedder,
		embedDim:         dim,
		embedBatchSize:   cfg.EmbeddingBatchSize,
		embedConcurrency: cfg.EmbeddingConcurrency,
		presignExpiry:    15 * time.Minute,
	}
	app.queue.Start(context.Background(), cfg.QueueConcurrency, app.process)
	return app, nil
}

func buildEmbedder(cfg Config) (ai.Embedder, int, error) {
	if cfg.EmbeddingModel == "" {
		return nil, 0, fmt.Errorf("embedding model required")
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.EmbeddingProvider))
	if provider == "" {
		provider = "gemini"
	}
	dim := cfg.EmbeddingDim
	switch provider {
	case "ollama":
		if dim <= 0 {
			return nil, 0, fmt.Errorf("embedding dim required for ollama")
		}
		ollama := ai.NewOllamaClient(cfg.EmbeddingBaseURL)
		return ai.NewOllamaEmbedder(ollama, cfg.EmbeddingModel, dim), dim, nil
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, 0, fmt.Errorf("gemini api key required")
		}
		gemini, err := ai.NewGeminiClient(cfg.GeminiAPIKey, cfg.EmbeddingModel)
		if err != nil {
			return nil, 0, err
		}
		if dim <= 0 {
			dim = 768
		}
		return ai.NewGeminiEmbedder(gemini, cfg.EmbeddingModel), dim, nil
	default:
		return nil, 0, fmt.Errorf("unknown embedding provider: %s", provider)
	}
}

// Upload stores a new document file and queues processing. A non-empty
// conversationID attaches the document to that conversation in the same
// request.
func (a *App) Upload(ctx context.Context, filename string, r io.Reader, size int64, conversationID string) (domain.Document, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." {
		return domain.Document{}, errors.New("filename required")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !supportedExtensions[ext] {
		return domain.Document{}, fmt.Errorf("unsupported file type: %s", ext)
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID != "" {
		_, ok, err := a.store.GetConversation(conversationID)
		if err != nil {
			return domain.Document{}, fmt.Errorf("load conversation: %w", err)
		}
		if !ok {
			return domain.Document{}, errors.New("conversation not found")
		}
	}
	settings, err := a.store.GetSettings()
	if err != nil {
		return domain.Document{}, fmt.Errorf("load settings: %w", err)
	}
	if settings.MaxFileSize > 0 && size > settings.MaxFileSize {
		return domain.Document{}, errors.New("file too large")
	}

	id := util.NewID()
	storageKey := buildStorageKey(id, filename)
	now := time.Now().UTC()
	doc := domain.Document{
		ID:         id,
		Filename:   filename,
		StorageKey: storageKey,
		SizeBytes:  size,
		Status:     domain.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := a.objects.Put(ctx, storageKey, r, size, contentType); err != nil {
		return domain.Document{}, fmt.Errorf("save file: %w", err)
	}
	if err := a.store.SaveDocument(doc); err != nil {
		_ = a.objects.Delete(ctx, storageKey)
		return domain.Document{}, fmt.Errorf("save document: %w", err)
	}
	if conversationID != "" {
		if err := a.store.AttachDocument(conversationID, id); err != nil {
			_ = a.store.DeleteDocument(id)
			_ = a.objects.Delete(ctx, storageKey)
			return domain.Document{}, fmt.Errorf("attach document: %w", err)
		}
	}
	if _, err := a.queue.Enqueue(ctx, id); err != nil {
		_ = a.store.SetDocumentStatus(id, domain.StatusFailed, err.Error())
		return domain.Document{}, fmt.Errorf("enqueue processing: %w", err)
	}
	return doc, nil
}

// DocumentStatus is the polling payload for an in-flight document.
type DocumentStatus struct {
	ID           string                `json:"id"`
	Status       domain.DocumentStatus `json:"status"`
	PageCount    int                   `json:"pageCount,omitempty"`
	ErrorMessage string                `json:"errorMessage,omitempty"`
}

// GetStatus returns the processing state of one document.
func (a *App) GetStatus(id string) (DocumentStatus, bool, error) {
	doc, ok, err := a.store.GetDocument(id)
	if err != nil || !ok {
		return DocumentStatus{}, ok, err
	}
	return DocumentStatus{
		ID:           doc.ID,
		Status:       doc.Status,
		PageCount:    doc.PageCount,
		ErrorMessage: doc.ErrorMessage,
	}, true, nil
}

// ListDocuments returns all documents.
func (a *App) ListDocuments() ([]domain.Document, error) {
	return a.store.ListDocuments()
}

// GetDocument retrieves a document by ID.
func (a *App) GetDocument(id string) (domain.Document, bool, error) {
	return a.store.GetDocument(id)
}

// GetDownloadURL returns a pre-signed URL and the original filename.
func (a *App) GetDownloadURL(ctx context.Context, id string) (string, string, error) {
	doc, ok, err := a.store.GetDocument(id)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", fmt.Errorf("document not found")
	}
	if strings.TrimSpace(doc.StorageKey) == "" {
		return "", "", fmt.Errorf("storage key missing")
	}
	url, err := a.objects.PresignGet(ctx, doc.StorageKey, a.presignExpiry)
	if err != nil {
		return "", "", err
	}
	return url, doc.Filename, nil
}

// DeleteDocument removes document metadata, chunks, and the stored file.
func (a *App) DeleteDocument(ctx context.Context, id string) error {
	doc, ok, err := a.store.GetDocument(id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := a.store.DeleteDocument(id); err != nil {
		return err
	}
	if doc.StorageKey != "" {
		if err := a.objects.Delete(ctx, doc.StorageKey); err != nil {
			return err
		}
	}
	return nil
}

// GetJob returns a processing job status by ID.
func (a *App) GetJob(ctx context.Context, id string) (queue.JobStatus, bool, error) {
	return a.queue.GetJob(ctx, id)
}

// process runs the full pipeline for one document: fetch, parse, chunk, embed,
// and finally publish the index handle. The handle is written only after every
// chunk embedding is stored, so a document is either fully searchable or not
// at all.
func (a *App) process(ctx context.Context, job queue.JobStatus) error {
	doc, ok, err := a.store.GetDocument(job.DocumentID)
	if err != nil {
		return err
	}
	if !ok {
		slog.Warn("document missing for job", "document_id", job.DocumentID, "job_id", job.ID)
		return nil
	}
	if err := a.store.SetDocumentStatus(doc.ID, domain.StatusProcessing, ""); err != nil {
		return err
	}
	if err := a.processDocument(ctx, doc); err != nil {
		_ = a.store.SetDocumentStatus(doc.ID, domain.StatusFailed, err.Error())
		return err
	}
	if err := a.store.SetDocumentStatus(doc.ID, domain.StatusCompleted, ""); err != nil {
		return err
	}
	return nil
}

func (a *App) processDocument(ctx context.Context, doc domain.Document) error {
	settings, err := a.store.GetSettings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	tempPath, err := a.fetchFile(ctx, doc)
	if err != nil {
		return err
	}
	defer os.Remove(tempPath)

	result, err := parseAndChunk(doc.Filename, tempPath, settings.ChunkSize, settings.ChunkOverlap)
	if err != nil {
		return err
	}
	if len(result.Chunks) == 0 {
		return fmt.Errorf("no content extracted")
	}

	indexID := util.NewID()
	now := time.Now().UTC()
	chunks := make([]domain.Chunk, 0, len(result.Chunks))
	for _, c := range result.Chunks {
		chunks = append(chunks, domain.Chunk{
			ID:         util.NewID(),
			DocumentID: doc.ID,
			IndexID:    indexID,
			Content:    c.Content,
			PageNumber: c.Page,
			Position:   c.Position,
			CreatedAt:  now,
		})
	}
	if err := a.store.ReplaceChunks(doc.ID, chunks); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}
	if err := a.embedAndStore(ctx, chunks); err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if err := a.store.SetDocumentIndex(doc.ID, indexID, result.PageCount, result.FullText); err != nil {
		return fmt.Errorf("publish index: %w", err)
	}
	return nil
}

func (a *App) fetchFile(ctx context.Context, doc domain.Document) (string, error) {
	rc, err := a.objects.Get(ctx, doc.StorageKey)
	if err != nil {
		return "", fmt.Errorf("fetch file: %w", err)
	}
	defer rc.Close()
	ext := filepath.Ext(doc.Filename)
	tmpFile, err := os.CreateTemp("", "docchat-*"+ext)
	if err != nil {
		return "", err
	}
	defer tmpFile.Close()
	if _, err := io.Copy(tmpFile, rc); err != nil {
		os.Remove(tmpFile.Name())
		return "", err
	}
	return tmpFile.Name(), nil
}

func (a *App) embedAndStore(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batchSize := a.embedBatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	concurrency := a.embedConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	batches := make([][]domain.Chunk, 0, (len(chunks)/batchSize)+1)
	for i := 0; i < len(chunks); i += batchSize {
		end := i + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[i:end])
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, batch := range batches {
		b := batch
		g.Go(func() error {
			return a.embedBatch(gctx, b)
		})
	}
	return g.Wait()
}

func (a *App) embedBatch(ctx context.Context, batch []domain.Chunk) error {
	if len(batch) == 0 {
		return nil
	}
	texts := make([]string, 0, len(batch))
	for _, chunk := range batch {
		texts = append(texts, chunk.Content)
	}
	var embeddings [][]float32
	if embedder, ok := a.embedder.(ai.BatchEmbedder); ok && len(texts) > 1 {
		out, err := embedder.EmbedTexts(ctx, texts, "RETRIEVAL_DOCUMENT")
		if err != nil {
			return err
		}
		embeddings = out
	} else {
		out := make([][]float32, 0, len(texts))
		for _, text := range texts {
			embedding, err := a.embedder.EmbedText(ctx, text, "RETRIEVAL_DOCUMENT")
			if err != nil {
				return err
			}
			out = append(out, embedding)
		}
		embeddings = out
	}
	if len(embeddings) != len(batch) {
		return fmt.Errorf("embedding count mismatch: got %d, want %d", len(embeddings), len(batch))
	}
	for i, embedding := range embeddings {
		if a.embedDim > 0 && len(embedding) != a.embedDim {
			return fmt.Errorf("embedding dimension mismatch: got %d", len(embedding))
		}
		if err := a.store.SetChunkEmbedding(batch[i].ID, embedding); err != nil {
			return err
		}
	}
	return nil
}

func buildStorageKey(documentID, filename string) string {
	name := sanitizeFilename(filepath.Base(filename))
	if name == "" {
		name = "document"
	}
	return path.Join("documents", documentID, name)
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}

func defaultQueueName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "docchat:documents"
	}
	return name
}

func defaultQueueGroup(name string) string {
	if strings.TrimSpace(name) == "" {
		return "document-workers"
	}
	return name
}
