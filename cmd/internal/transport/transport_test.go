package transport

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	v1 "taskchat/shared/contracts/chatstream/v1"
)

func TestEncodeFrame(t *testing.T) {
	t.Parallel()

	b, err := EncodeFrame(v1.TextMessageContent{Type: v1.TypeTextMessageContent, Delta: "hi\nthere"})
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	want := `data: {"type":"TEXT_MESSAGE_CONTENT","delta":"hi\nthere"}` + "\n\n"
	if string(b) != want {
		t.Fatalf("frame=%q want %q", b, want)
	}
	if got := string(DoneFrame()); got != "data: [DONE]\n\n" {
		t.Fatalf("done=%q", got)
	}
}

func TestPump_SSE(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	w := NewSSE(rec)

	err := Pump(context.Background(), w, 1, func(ctx context.Context, emit func(context.Context, any) error) {
		_ = emit(ctx, v1.TextMessageStart{Type: v1.TypeTextMessageStart, MessageID: "m1", CreatedAt: time.Unix(0, 0).UTC()})
		_ = emit(ctx, v1.TextMessageContent{Type: v1.TypeTextMessageContent, Delta: "a"})
		_ = emit(ctx, v1.TextMessageEnd{Type: v1.TypeTextMessageEnd})
		_ = emit(ctx, v1.ThreadState{Type: v1.TypeThreadState, SerializedState: "tok"})
	})
	if err != nil {
		t.Fatalf("Pump: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Fatalf("cache-control=%q", cc)
	}

	frames := strings.Split(strings.TrimSuffix(rec.Body.String(), "\n\n"), "\n\n")
	if len(frames) != 5 {
		t.Fatalf("frames=%d: %q", len(frames), rec.Body.String())
	}
	for i, want := range []string{v1.TypeTextMessageStart, v1.TypeTextMessageContent, v1.TypeTextMessageEnd, v1.TypeThreadState} {
		if !strings.HasPrefix(frames[i], "data: ") || !strings.Contains(frames[i], `"type":"`+want+`"`) {
			t.Fatalf("frame %d=%q want %s", i, frames[i], want)
		}
	}
	if frames[4] != "data: [DONE]" {
		t.Fatalf("last frame=%q", frames[4])
	}
}

type failingWriter struct {
	writes atomic.Int32
	done   atomic.Bool
}

func (f *failingWriter) WriteEvent(context.Context, any) error {
	if f.writes.Add(1) >= 2 {
		return errors.New("broken pipe")
	}
	return nil
}

func (f *failingWriter) WriteDone(context.Context) error {
	f.done.Store(true)
	return nil
}

func TestPump_WriteFailureCancelsProducer(t *testing.T) {
	t.Parallel()

	w := &failingWriter{}
	var producerErr error

	err := Pump(context.Background(), w, 1, func(ctx context.Context, emit func(context.Context, any) error) {
		for i := 0; i < 1000; i++ {
			if err := emit(ctx, i); err != nil {
				producerErr = err
				return
			}
		}
	})
	if err == nil {
		t.Fatalf("expected write error")
	}
	if !errors.Is(producerErr, context.Canceled) {
		t.Fatalf("producer error=%v want context.Canceled", producerErr)
	}
	if w.done.Load() {
		t.Fatalf("terminal marker written after failure")
	}
}

func TestPump_ParentCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	w := &failingWriter{}

	err := Pump(ctx, w, 1, func(ctx context.Context, emit func(context.Context, any) error) {
		cancel()
		<-ctx.Done()
	})
	if !IsDisconnect(err) {
		t.Fatalf("err=%v want canceled", err)
	}
	if w.done.Load() {
		t.Fatalf("terminal marker written after cancel")
	}
}

func TestWS_WritesEventsAndDone(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(rw, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

		_ = Pump(r.Context(), NewWS(conn, time.Second), 0, func(ctx context.Context, emit func(context.Context, any) error) {
			_ = emit(ctx, v1.ThreadState{Type: v1.TypeThreadState, SerializedState: "tok"})
		})
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = conn.CloseNow() }()

	var got []string
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		got = append(got, string(data))
	}
	if len(got) != 2 {
		t.Fatalf("messages=%q", got)
	}
	if !strings.Contains(got[0], `"serializedState":"tok"`) || got[1] != v1.Done {
		t.Fatalf("messages=%q", got)
	}
}

// Frames must survive a line-oriented reader such as a browser EventSource.
func TestEncodeFrame_SingleDataLine(t *testing.T) {
	t.Parallel()

	b, _ := EncodeFrame(v1.RunError{Type: v1.TypeRunError, Message: "line1\nline2"})
	sc := bufio.NewScanner(strings.NewReader(string(b)))
	lines := 0
	for sc.Scan() {
		if sc.Text() != "" {
			lines++
		}
	}
	if lines != 1 {
		t.Fatalf("frame spans %d lines: %q", lines, b)
	}
}
