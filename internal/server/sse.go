package server

import (
	"fmt"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var sseJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// eventSink is the surface the relay writes to. The production
// implementation frames server-sent events onto an HTTP response; tests
// substitute a recorder.
type eventSink interface {
	// SendText emits one event whose data is plain text; multi-line text
	// becomes one data line per source line.
	SendText(event, text string) error
	// SendJSON emits one event whose data is a single JSON object.
	SendJSON(event string, payload any) error
	// Comment emits a comment frame, used as a keepalive.
	Comment(text string) error
}

// sseWriter frames server-sent events onto an HTTP response, flushing after
// every frame so events reach the client immediately.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

// newSSEWriter prepares w for streaming and writes the SSE response headers.
// It fails when the transport cannot flush incrementally.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseWriter{w: w, f: f}, nil
}

func (s *sseWriter) SendText(event, text string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "event: %s\n", event)
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteByte('\n')
	return s.write(b.String())
}

func (s *sseWriter) SendJSON(event string, payload any) error {
	data, err := sseJSON.MarshalToString(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	return s.write(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data))
}

func (s *sseWriter) Comment(text string) error {
	return s.write(fmt.Sprintf(": %s\n\n", text))
}

func (s *sseWriter) write(frame string) error {
	if _, err := fmt.Fprint(s.w, frame); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}
