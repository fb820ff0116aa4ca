package app

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"docchat/internal/util"
	"docchat/pkg/ai"
	"docchat/pkg/domain"
	"docchat/pkg/index"
	"docchat/pkg/storage"
	"docchat/pkg/store"
)

const maxImageBytes = 10 << 20

var supportedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
}

// Config holds runtime configuration.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Objects     storage.ObjectStore

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	GeminiAPIKey      string
	EmbeddingProvider string
	EmbeddingBaseURL  string
	EmbeddingModel    string
	EmbeddingDim      int

	NewGenerator       func(domain.Settings) (ai.TextGenerator, error)
	NewStreamGenerator func(domain.Settings) (ai.StreamTextGenerator, error)
	Indexes            *index.Store
}

// App is the chat orchestrator plus the conversation, folder, settings, and
// image bookkeeping around it.
type App struct {
	store              store.Store
	objects            storage.ObjectStore
	retriever          *Retriever
	newGenerator       func(domain.Settings) (ai.TextGenerator, error)
	newStreamGenerator func(domain.Settings) (ai.StreamTextGenerator, error)
}

// New constructs the chat service.
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
	indexes := cfg.Indexes
	if indexes == nil {
		embedder, err := buildQueryEmbedder(cfg)
		if err != nil {
			return nil, err
		}
		indexes = index.NewStore(dataStore, embedder)
	}
	newGenerator := cfg.NewGenerator
	if newGenerator == nil {
		newGenerator = func(settings domain.Settings) (ai.TextGenerator, error) {
			return ai.NewGeminiClient(settings.GeminiAPIKey, settings.GenerationModel)
		}
	}
	newStreamGenerator := cfg.NewStreamGenerator
	if newStreamGenerator == nil {
		newStreamGenerator = func(settings domain.Settings) (ai.StreamTextGenerator, error) {
			return ai.NewGeminiClient(settings.GeminiAPIKey, settings.GenerationModel)
		}
	}
	return &App{
		store:              dataStore,
		objects:            objects,
		retriever:          NewRetriever(indexes),
		newGenerator:       newGenerator,
		newStreamGenerator: newStreamGenerator,
	}, nil
}

// buildQueryEmbedder mirrors the document service's embedder wiring; queries
// must embed with the same model the chunks were embedded with.
func buildQueryEmbedder(cfg Config) (ai.Embedder, error) {
	if cfg.EmbeddingModel == "" {
		return nil, fmt.Errorf("embedding model required")
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.EmbeddingProvider))
	if provider == "" {
		provider = "gemini"
	}
	switch provider {
	case "ollama":
		if cfg.EmbeddingDim <= 0 {
			return nil, fmt.Errorf("embedding dim required for ollama")
		}
		ollama := ai.NewOllamaClient(cfg.EmbeddingBaseURL)
		return ai.NewOllamaEmbedder(ollama, cfg.EmbeddingModel, cfg.EmbeddingDim), nil
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini api key required")
		}
		gemini, err := ai.NewGeminiClient(cfg.GeminiAPIKey, cfg.EmbeddingModel)
		if err != nil {
			return nil, err
		}
		return ai.NewGeminiEmbedder(gemini, cfg.EmbeddingModel), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", provider)
	}
}

// SettingsView is the settings payload returned to clients. The API key is
// masked; only its presence and tail are revealed.
type SettingsView struct {
	SystemPrompt     string    `json:"systemPrompt"`
	GeminiAPIKeySet  bool      `json:"geminiApiKeySet"`
	GeminiAPIKeyTail string    `json:"geminiApiKeyTail,omitempty"`
	GenerationModel  string    `json:"generationModel"`
	RAGEnabled       bool      `json:"ragEnabled"`
	TopK             int       `json:"topK"`
	ChunkSize        int       `json:"chunkSize"`
	ChunkOverlap     int       `json:"chunkOverlap"`
	MaxFileSize      int64     `json:"maxFileSize"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// SettingsUpdate carries a partial settings change; nil fields keep their
// current value.
type SettingsUpdate struct {
	SystemPrompt    *string `json:"systemPrompt"`
	GeminiAPIKey    *string `json:"geminiApiKey"`
	GenerationModel *string `json:"generationModel"`
	RAGEnabled      *bool   `json:"ragEnabled"`
	TopK            *int    `json:"topK"`
	ChunkSize       *int    `json:"chunkSize"`
	ChunkOverlap    *int    `json:"chunkOverlap"`
	MaxFileSize     *int64  `json:"maxFileSize"`
}

// GetSettings returns the current settings with the API key masked.
func (a *App) GetSettings() (SettingsView, error) {
	settings, err := a.store.GetSettings()
	if err != nil {
		return SettingsView{}, err
	}
	return settingsView(settings), nil
}

// UpdateSettings applies a partial update and returns the masked result.
func (a *App) UpdateSettings(update SettingsUpdate) (SettingsView, error) {
	settings, err := a.store.GetSettings()
	if err != nil {
		return SettingsView{}, err
	}
	if update.SystemPrompt != nil {
		settings.SystemPrompt = strings.TrimSpace(*update.SystemPrompt)
	}
	if update.GeminiAPIKey != nil {
		settings.GeminiAPIKey = strings.TrimSpace(*update.GeminiAPIKey)
	}
	if update.GenerationModel != nil {
		model := strings.TrimSpace(*update.GenerationModel)
		if model == "" {
			return SettingsView{}, fmt.Errorf("generation model required")
		}
		settings.GenerationModel = model
	}
	if update.RAGEnabled != nil {
		settings.RAGEnabled = *update.RAGEnabled
	}
	if update.TopK != nil {
		if *update.TopK <= 0 || *update.TopK > 50 {
			return SettingsView{}, fmt.Errorf("topK must be between 1 and 50")
		}
		settings.TopK = *update.TopK
	}
	if update.ChunkSize != nil {
		if *update.ChunkSize <= 0 {
			return SettingsView{}, fmt.Errorf("chunkSize must be > 0")
		}
		settings.ChunkSize = *update.ChunkSize
	}
	if update.ChunkOverlap != nil {
		if *update.ChunkOverlap < 0 {
			return SettingsView{}, fmt.Errorf("chunkOverlap must be >= 0")
		}
		settings.ChunkOverlap = *update.ChunkOverlap
	}
	if settings.ChunkOverlap >= settings.ChunkSize {
		return SettingsView{}, fmt.Errorf("chunkOverlap must be smaller than chunkSize")
	}
	if update.MaxFileSize != nil {
		if *update.MaxFileSize <= 0 {
			return SettingsView{}, fmt.Errorf("maxFileSize must be > 0")
		}
		settings.MaxFileSize = *update.MaxFileSize
	}
	if err := a.store.SaveSettings(settings); err != nil {
		return SettingsView{}, err
	}
	return settingsView(settings), nil
}

func settingsView(settings domain.Settings) SettingsView {
	view := SettingsView{
		SystemPrompt:    settings.SystemPrompt,
		GeminiAPIKeySet: settings.GeminiAPIKey != "",
		GenerationModel: settings.GenerationModel,
		RAGEnabled:      settings.RAGEnabled,
		TopK:            settings.TopK,
		ChunkSize:       settings.ChunkSize,
		ChunkOverlap:    settings.ChunkOverlap,
		MaxFileSize:     settings.MaxFileSize,
		UpdatedAt:       settings.UpdatedAt,
	}
	if n := len(settings.GeminiAPIKey); n > 4 {
		view.GeminiAPIKeyTail = settings.GeminiAPIKey[n-4:]
	}
	return view
}

// UploadImage stores an image attachment for later turns.
func (a *App) UploadImage(ctx context.Context, filename string, r io.Reader, size int64) (domain.ImageAttachment, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." {
		return domain.ImageAttachment{}, fmt.Errorf("filename required")
	}
	if size > maxImageBytes {
		return domain.ImageAttachment{}, ErrImageTooLarge
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if !supportedImageTypes[mimeType] {
		return domain.ImageAttachment{}, ErrUnsupportedImageType
	}
	id := util.NewID()
	storageKey := path.Join("images", id, filename)
	img := domain.ImageAttachment{
		ID:         id,
		Filename:   filename,
		StorageKey: storageKey,
		SizeBytes:  size,
		MimeType:   mimeType,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.objects.Put(ctx, storageKey, r, size, mimeType); err != nil {
		return domain.ImageAttachment{}, fmt.Errorf("save image: %w", err)
	}
	if err := a.store.SaveImage(img); err != nil {
		_ = a.objects.Delete(ctx, storageKey)
		return domain.ImageAttachment{}, fmt.Errorf("save image record: %w", err)
	}
	return img, nil
}

// GetImageContent opens an image attachment for streaming back to a client.
// The caller closes the reader.
func (a *App) GetImageContent(ctx context.Context, id string) (domain.ImageAttachment, io.ReadCloser, error) {
	img, ok, err := a.store.GetImage(id)
	if err != nil {
		return domain.ImageAttachment{}, nil, err
	}
	if !ok {
		return domain.ImageAttachment{}, nil, ErrImageNotFound
	}
	rc, err := a.objects.Get(ctx, img.StorageKey)
	if err != nil {
		return domain.ImageAttachment{}, nil, fmt.Errorf("fetch image: %w", err)
	}
	return img, rc, nil
}
