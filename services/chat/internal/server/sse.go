package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"docchat/pkg/domain"
)

// sseWriter streams JSON-encoded events over Server-Sent Events.
type sseWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flusher interface")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	return &sseWriter{w: w, flusher: flusher}, nil
}

// writeEvent sends one named event. Multi-line payloads get a "data: "
// prefix per line as the SSE format requires.
func (s *sseWriter) writeEvent(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
		return fmt.Errorf("write event name: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if _, err := fmt.Fprintf(s.w, "data: %s\n", line); err != nil {
			return fmt.Errorf("write data line: %w", err)
		}
	}
	if _, err := s.w.Write([]byte("\n")); err != nil {
		return fmt.Errorf("write terminator: %w", err)
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) writeError(code, message string) error {
	return s.writeEvent("error", map[string]string{"code": code, "message": message})
}

// sseEmitter adapts sseWriter to the turn event sequence. Headers are sent
// on the first event, so turns failing before any event can still answer
// with a plain JSON error.
type sseEmitter struct {
	rw     http.ResponseWriter
	writer *sseWriter
}

func (e *sseEmitter) started() bool {
	return e.writer != nil
}

func (e *sseEmitter) ensure() error {
	if e.writer != nil {
		return nil
	}
	writer, err := newSSEWriter(e.rw)
	if err != nil {
		return err
	}
	e.writer = writer
	return nil
}

func (e *sseEmitter) emit(event string, payload any) error {
	if err := e.ensure(); err != nil {
		return err
	}
	return e.writer.writeEvent(event, payload)
}

func (e *sseEmitter) UserMessage(msg domain.Message) error {
	return e.emit("user_message", msg)
}

func (e *sseEmitter) Citations(citations []domain.Citation) error {
	return e.emit("citations", map[string]any{"citations": citations})
}

func (e *sseEmitter) Content(delta string) error {
	return e.emit("content", map[string]string{"delta": delta})
}

func (e *sseEmitter) Complete(msg domain.Message) error {
	return e.emit("complete", msg)
}
