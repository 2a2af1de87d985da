package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	v1 "taskchat/shared/contracts/chatstream/v1"
)

var (
	framePrefix = []byte("data: ")
	frameSuffix = []byte("\n\n")
)

// EncodeFrame renders ev as one server-sent event frame.
func EncodeFrame(ev any) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return frame(b), nil
}

// DoneFrame is the terminal frame.
func DoneFrame() []byte { return frame([]byte(v1.Done)) }

func frame(payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(framePrefix) + len(payload) + len(frameSuffix))
	buf.Write(framePrefix)
	buf.Write(payload)
	buf.Write(frameSuffix)
	return buf.Bytes()
}

// SSE writes frames to an HTTP response and flushes after each one.
type SSE struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewSSE writes the event-stream headers and lifts the server write deadline,
// since a stream outlives any fixed response timeout.
func NewSSE(w http.ResponseWriter) *SSE {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{}) // http.ErrNotSupported on test recorders

	w.WriteHeader(http.StatusOK)
	s := &SSE{w: w, rc: rc}
	_ = s.flush()
	return s
}

func (s *SSE) WriteEvent(ctx context.Context, ev any) error {
	b, err := EncodeFrame(ev)
	if err != nil {
		return err
	}
	return s.write(ctx, b)
}

func (s *SSE) WriteDone(ctx context.Context) error {
	return s.write(ctx, DoneFrame())
}

func (s *SSE) write(ctx context.Context, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	return s.flush()
}

func (s *SSE) flush() error {
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
