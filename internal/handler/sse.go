package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coachdesk/coachd/internal/service"
)

// setSSEHeaders configures the response for event streaming and
// disables intermediary buffering.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// sseSink writes turn events in SSE framing, flushing after each one.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSESink(w http.ResponseWriter) (*sseSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	return &sseSink{w: w, flusher: flusher}, nil
}

func (s *sseSink) event(kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", kind, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", kind, data); err != nil {
		return fmt.Errorf("write %s event: %w", kind, err)
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) Meta(chatID *int64) error {
	return s.event("meta", map[string]any{"chat_id": chatID})
}

func (s *sseSink) Delta(text string) error {
	return s.event("delta", map[string]string{"delta": text})
}

func (s *sseSink) Done(ev service.DoneEvent) error {
	return s.event("done", map[string]any{
		"chat_id":    ev.ChatID,
		"title":      ev.Title,
		"updated_at": ev.UpdatedAt.Format(time.RFC3339Nano),
	})
}

func (s *sseSink) Error(message string) error {
	return s.event("error", map[string]string{"message": message})
}

var _ service.EventSink = (*sseSink)(nil)
