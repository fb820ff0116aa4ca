package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"docchat/pkg/ai"
	"docchat/pkg/domain"
	"docchat/pkg/index"
	"docchat/pkg/storage"
	"docchat/pkg/store"
	"docchat/services/chat/internal/app"
)

type staticGenerator struct {
	answer string
}

func (g *staticGenerator) GenerateParts(context.Context, string, []ai.Part) (string, error) {
	return g.answer, nil
}

func (g *staticGenerator) GeneratePartsStream(_ context.Context, _ string, _ []ai.Part, onDelta func(string) error) error {
	for _, delta := range strings.SplitAfter(g.answer, " ") {
		if err := onDelta(delta); err != nil {
			return err
		}
	}
	return nil
}

func newTestServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	gen := &staticGenerator{answer: "the answer"}
	appCore, err := app.New(app.Config{
		Store:   mem,
		Objects: storage.NewMemoryStore(),
		Indexes: index.NewStore(mem, staticEmbedder{}),
		NewGenerator: func(domain.Settings) (ai.TextGenerator, error) {
			return gen, nil
		},
		NewStreamGenerator: func(domain.Settings) (ai.StreamTextGenerator, error) {
			return gen, nil
		},
	})
	if err != nil {
		t.Fatalf("app.New() error: %v", err)
	}
	return New(Config{App: appCore}), mem
}

type staticEmbedder struct{}

func (staticEmbedder) EmbedText(context.Context, string, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestConversationLifecycleHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/conversations", map[string]string{"title": "warranty questions"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	conv := decodeBody[domain.Conversation](t, rec)
	if conv.Title != "warranty questions" {
		t.Fatalf("title = %q", conv.Title)
	}

	rec = doJSON(t, router, http.MethodGet, "/conversations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	list := decodeBody[struct {
		Count int `json:"count"`
	}](t, rec)
	if list.Count != 1 {
		t.Fatalf("count = %d, want 1", list.Count)
	}

	rec = doJSON(t, router, http.MethodPatch, "/conversations/"+conv.ID, map[string]string{"title": "renamed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d, body %s", rec.Code, rec.Body)
	}
	updated := decodeBody[domain.Conversation](t, rec)
	if updated.Title != "renamed" {
		t.Fatalf("title after patch = %q", updated.Title)
	}

	rec = doJSON(t, router, http.MethodDelete, "/conversations/"+conv.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/conversations/"+conv.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestAskReturnsBufferedTurn(t *testing.T) {
	srv, mem := newTestServer(t)
	router := srv.Router()
	settings := domain.DefaultSettings()
	settings.GeminiAPIKey = "test-key"
	if err := mem.SaveSettings(settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/conversations", map[string]string{})
	conv := decodeBody[domain.Conversation](t, rec)

	rec = doJSON(t, router, http.MethodPost, "/conversations/"+conv.ID+"/messages", map[string]string{"question": "hello"})
	if rec.Code != http.StatusOK {
		t.Fatalf("ask status = %d, body %s", rec.Code, rec.Body)
	}
	result := decodeBody[app.TurnResult](t, rec)
	if result.AssistantMessage.Content != "the answer" {
		t.Fatalf("answer = %q", result.AssistantMessage.Content)
	}
	if result.UserMessage.Content != "hello" {
		t.Fatalf("user message = %q", result.UserMessage.Content)
	}
}

func TestAskErrorCodes(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/conversations/missing/messages", map[string]string{"question": "hello"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	errResp := decodeBody[errorResponse](t, rec)
	if errResp.Code != "CHAT_CONVERSATION_NOT_FOUND" {
		t.Fatalf("code = %q", errResp.Code)
	}

	created := doJSON(t, router, http.MethodPost, "/conversations", map[string]string{})
	conv := decodeBody[domain.Conversation](t, created)

	rec = doJSON(t, router, http.MethodPost, "/conversations/"+conv.ID+"/messages", map[string]string{"question": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	errResp = decodeBody[errorResponse](t, rec)
	if errResp.Code != "CHAT_EMPTY_TURN" {
		t.Fatalf("code = %q", errResp.Code)
	}

	forced := true
	rec = doJSON(t, router, http.MethodPost, "/conversations/"+conv.ID+"/messages", app.TurnRequest{Query: "hello", ContextMode: &forced})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	errResp = decodeBody[errorResponse](t, rec)
	if errResp.Code != "CHAT_NO_ELIGIBLE_DOCUMENTS" {
		t.Fatalf("code = %q", errResp.Code)
	}
}

func TestAskStreamEmitsSSE(t *testing.T) {
	srv, mem := newTestServer(t)
	router := srv.Router()
	settings := domain.DefaultSettings()
	settings.GeminiAPIKey = "test-key"
	if err := mem.SaveSettings(settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	created := doJSON(t, router, http.MethodPost, "/conversations", map[string]string{})
	conv := decodeBody[domain.Conversation](t, created)

	rec := doJSON(t, router, http.MethodPost, "/conversations/"+conv.ID+"/messages/stream", map[string]string{"question": "hello"})
	if rec.Code != http.StatusOK {
		t.Fatalf("stream status = %d, body %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q, want text/event-stream", ct)
	}

	body := rec.Body.String()
	userIdx := strings.Index(body, "event: user_message")
	contentIdx := strings.Index(body, "event: content")
	completeIdx := strings.Index(body, "event: complete")
	if userIdx < 0 || contentIdx < 0 || completeIdx < 0 {
		t.Fatalf("missing events in stream:\n%s", body)
	}
	if !(userIdx < contentIdx && contentIdx < completeIdx) {
		t.Fatalf("events out of order:\n%s", body)
	}
	if strings.Contains(body, "event: error") {
		t.Fatalf("unexpected error event:\n%s", body)
	}
}

func TestAskStreamUnknownConversationAnswersJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodPost, "/conversations/missing/messages/stream", map[string]string{"question": "hello"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}
	errResp := decodeBody[errorResponse](t, rec)
	if errResp.Code != "CHAT_CONVERSATION_NOT_FOUND" {
		t.Fatalf("code = %q", errResp.Code)
	}
}

func TestSettingsRoundTripHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPut, "/settings", map[string]any{"geminiApiKey": "secret-key-9876", "topK": 7})
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, body %s", rec.Code, rec.Body)
	}
	view := decodeBody[app.SettingsView](t, rec)
	if !view.GeminiAPIKeySet || view.GeminiAPIKeyTail != "9876" || view.TopK != 7 {
		t.Fatalf("view = %+v", view)
	}

	rec = doJSON(t, router, http.MethodGet, "/settings", nil)
	view = decodeBody[app.SettingsView](t, rec)
	if !view.GeminiAPIKeySet || view.TopK != 7 {
		t.Fatalf("view after get = %+v", view)
	}

	rec = doJSON(t, router, http.MethodPut, "/settings", map[string]any{"topK": 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid put status = %d, want 400", rec.Code)
	}
}

func TestFolderRoutes(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/folders", map[string]string{"name": "research"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create folder status = %d", rec.Code)
	}
	folder := decodeBody[domain.Folder](t, rec)

	rec = doJSON(t, router, http.MethodPatch, "/folders/"+folder.ID, map[string]string{"name": "archive"})
	if rec.Code != http.StatusOK {
		t.Fatalf("rename status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodDelete, "/folders/"+folder.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodDelete, "/folders/"+folder.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodPut, "/conversations", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	errResp := decodeBody[errorResponse](t, rec)
	if errResp.Code != "SYSTEM_METHOD_NOT_ALLOWED" {
		t.Fatalf("code = %q", errResp.Code)
	}
}
