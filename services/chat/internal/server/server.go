package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"docchat/internal/ratelimit"
	"docchat/internal/util"
	"docchat/services/chat/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	MaxUploadBytes int64
	Limiter        *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
}

// Server exposes HTTP endpoints for the chat service.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	maxUploadBytes int64
	limiter        *ratelimit.FixedWindowLimiter
	trustedProxies *util.TrustedProxies
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
		limiter:        cfg.Limiter,
		trustedProxies: cfg.TrustedProxies,
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	if s.limiter != nil {
		h = s.withRateLimit(h)
	}
	return util.WithRequestID(util.WithRequestLog("chat", util.WithSecurityHeaders(util.WithCORS(h))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/conversations", s.handleConversations)
	s.mux.HandleFunc("/conversations/", s.handleConversationByID)
	s.mux.HandleFunc("/folders", s.handleFolders)
	s.mux.HandleFunc("/folders/", s.handleFolderByID)
	s.mux.HandleFunc("/settings", s.handleSettings)
	s.mux.HandleFunc("/images", s.handleImages)
	s.mux.HandleFunc("/images/", s.handleImageByID)
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := util.ClientIP(r, s.trustedProxies)
		if !s.limiter.Allow(key) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Title        string `json:"title"`
			SystemPrompt string `json:"systemPrompt"`
			FolderID     string `json:"folderId"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		conv, err := s.app.CreateConversation(req.Title, req.SystemPrompt, req.FolderID)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, conv)
	case http.MethodGet:
		convs, err := s.app.ListConversations(r.URL.Query().Get("folderId"))
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": convs,
			"count": len(convs),
		})
	default:
		methodNotAllowed(w)
	}
}

// /conversations/{id}[/messages[/stream]|/documents[/{docID}]|/folder]
func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/conversations/")
	parts := strings.SplitN(path, "/", 3)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 1 {
		s.handleConversation(w, r, id)
		return
	}
	switch parts[1] {
	case "messages":
		if len(parts) == 3 && parts[2] == "stream" {
			s.handleAskStream(w, r, id)
			return
		}
		if len(parts) == 3 {
			notFound(w, "not found")
			return
		}
		s.handleMessages(w, r, id)
	case "documents":
		if len(parts) == 3 {
			s.handleConversationDocument(w, r, id, parts[2])
			return
		}
		s.handleConversationDocuments(w, r, id)
	case "folder":
		if len(parts) == 3 {
			notFound(w, "not found")
			return
		}
		s.handleConversationFolder(w, r, id)
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		conv, err := s.app.GetConversation(id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	case http.MethodPatch:
		var req struct {
			Title        string  `json:"title"`
			SystemPrompt *string `json:"systemPrompt"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		conv, err := s.app.UpdateConversation(id, req.Title, req.SystemPrompt)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	case http.MethodDelete:
		if err := s.app.DeleteConversation(r.Context(), id); err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		msgs, err := s.app.ListMessages(id, limit)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": msgs,
			"count": len(msgs),
		})
	case http.MethodPost:
		var req app.TurnRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		result, err := s.app.Ask(r.Context(), id, req)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req app.TurnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	emitter := &sseEmitter{rw: w}
	err := s.app.AskStream(r.Context(), id, req, emitter)
	if err == nil || app.IsStreamAborted(err) {
		return
	}
	if !emitter.started() {
		// Nothing streamed yet; a plain JSON error is still possible.
		s.writeAppError(w, err)
		return
	}
	status, msg := appErrorStatus(err)
	_ = emitter.writer.writeError(errorCode(status, msg), msg)
}

func (s *Server) handleConversationDocuments(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		docs, err := s.app.ListConversationDocuments(id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": docs,
			"count": len(docs),
		})
	case http.MethodPost:
		var req struct {
			DocumentID string `json:"documentId"`
		}
		if err := decodeJSON(r, &req); err != nil || req.DocumentID == "" {
			writeError(w, http.StatusBadRequest, "documentId is required")
			return
		}
		if err := s.app.AttachDocument(id, req.DocumentID); err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "attached"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleConversationDocument(w http.ResponseWriter, r *http.Request, id, docID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DetachDocument(id, docID); err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "detached"})
}

func (s *Server) handleConversationFolder(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req struct {
		FolderID string `json:"folderId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	conv, err := s.app.MoveConversation(id, req.FolderID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		folder, err := s.app.CreateFolder(req.Name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, folder)
	case http.MethodGet:
		folders, err := s.app.ListFolders()
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": folders,
			"count": len(folders),
		})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleFolderByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/folders/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	switch r.Method {
	case http.MethodPatch:
		var req struct {
			Name string `json:"name"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		folder, err := s.app.RenameFolder(id, req.Name)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, folder)
	case http.MethodDelete:
		if err := s.app.DeleteFolder(id); err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		view, err := s.app.GetSettings()
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodPut:
		var update app.SettingsUpdate
		if err := decodeJSON(r, &update); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		view, err := s.app.UpdateSettings(update)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, view)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	img, err := s.app.UploadImage(r.Context(), header.Filename, file, header.Size)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, img)
}

func (s *Server) handleImageByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/images/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	img, body, err := s.app.GetImageContent(r.Context(), id)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	defer body.Close()
	w.Header().Set("Content-Type", img.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(img.SizeBytes, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

// writeAppError maps application sentinels to HTTP status and error code.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	status, msg := appErrorStatus(err)
	writeError(w, status, msg)
}

func appErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrConversationNotFound),
		errors.Is(err, app.ErrFolderNotFound),
		errors.Is(err, app.ErrDocumentNotFound),
		errors.Is(err, app.ErrImageNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, app.ErrEmptyTurn),
		errors.Is(err, app.ErrNoEligibleDocuments),
		errors.Is(err, app.ErrImageTooLarge),
		errors.Is(err, app.ErrUnsupportedImageType):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCode(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCode(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "conversation not found":
		return "CHAT_CONVERSATION_NOT_FOUND"
	case message == "folder not found":
		return "CHAT_FOLDER_NOT_FOUND"
	case message == "document not found":
		return "CHAT_DOCUMENT_NOT_FOUND"
	case message == "image not found":
		return "CHAT_IMAGE_NOT_FOUND"
	case message == "question or images required":
		return "CHAT_EMPTY_TURN"
	case message == "no indexed documents available for context":
		return "CHAT_NO_ELIGIBLE_DOCUMENTS"
	case message == "image too large":
		return "CHAT_IMAGE_TOO_LARGE"
	case message == "unsupported image type":
		return "CHAT_UNSUPPORTED_IMAGE_TYPE"
	case message == "invalid request body", message == "invalid form data":
		return "CHAT_INVALID_REQUEST"
	case strings.Contains(message, "file is required"), strings.Contains(message, "required"):
		return "CHAT_INVALID_REQUEST"
	case message == "rate limit exceeded":
		return "SYSTEM_RATE_LIMITED"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "CHAT_INVALID_REQUEST"
	case http.StatusNotFound:
		return "CHAT_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "SYSTEM_RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
