package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/troppes/strixlog/logstreamer/internal/hub"
	"github.com/troppes/strixlog/logstreamer/internal/model"
)

type readResult struct {
	typ  websocket.MessageType
	data []byte
	err  error
}

type fakeTransport struct {
	reads    chan readResult
	writeErr error

	mu        sync.Mutex
	written   [][]byte
	closeCode websocket.StatusCode
	closed    bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{reads: make(chan readResult, 4)}
}

func (f *fakeTransport) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case r := <-f.reads:
		return r.typ, r.data, r.err
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (f *fakeTransport) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, p)
	return nil
}

func (f *fakeTransport) Close(code websocket.StatusCode, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCode = code
	f.closed = true
	return nil
}

func (f *fakeTransport) writtenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runSession(t *testing.T, h *hub.Hub, tr *fakeTransport) <-chan error {
	t.Helper()
	sess := NewSession("test", tr, h.Subscribe(), CodecFor(""), discardLogger())
	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

func TestSessionWriteFailureStopsBothFlows(t *testing.T) {
	h := hub.New(8)
	tr := newFakeTransport()
	tr.writeErr = errors.New("broken pipe")

	done := runSession(t, h, tr)
	h.Publish(model.LogRecord{Message: "hello", Level: model.LevelInfo})

	err := waitDone(t, done)
	if !errors.Is(err, tr.writeErr) {
		t.Errorf("Run error = %v, want %v", err, tr.writeErr)
	}
	if !tr.closed {
		t.Error("transport was not closed")
	}
	if n := h.Subscribers(); n != 0 {
		t.Errorf("Subscribers = %d after session end, want 0", n)
	}
}

func TestSessionClientCloseStopsOutbound(t *testing.T) {
	h := hub.New(8)
	tr := newFakeTransport()
	done := runSession(t, h, tr)

	tr.reads <- readResult{err: websocket.CloseError{Code: websocket.StatusNormalClosure}}

	if err := waitDone(t, done); err != nil {
		t.Errorf("Run error = %v, want nil", err)
	}
	if tr.closeCode != websocket.StatusNormalClosure {
		t.Errorf("close code = %v, want %v", tr.closeCode, websocket.StatusNormalClosure)
	}
}

func TestSessionReadErrorEndsSession(t *testing.T) {
	h := hub.New(8)
	tr := newFakeTransport()
	done := runSession(t, h, tr)

	boom := errors.New("connection reset")
	tr.reads <- readResult{err: boom}

	if err := waitDone(t, done); !errors.Is(err, boom) {
		t.Errorf("Run error = %v, want %v", err, boom)
	}
}

func TestSessionCommandsAreInert(t *testing.T) {
	h := hub.New(8)
	tr := newFakeTransport()
	done := runSession(t, h, tr)

	tr.reads <- readResult{typ: websocket.MessageText, data: []byte(`{"level":"ERROR"}`)}
	tr.reads <- readResult{typ: websocket.MessageBinary, data: []byte{0x01}}

	h.Publish(model.LogRecord{Message: "INFO still flowing", Level: model.LevelInfo, Source: "tcp_stream"})

	deadline := time.Now().Add(time.Second)
	for tr.writtenCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if tr.writtenCount() != 1 {
		t.Fatalf("written %d messages, want 1", tr.writtenCount())
	}

	var got model.WireRecord
	tr.mu.Lock()
	err := json.Unmarshal(tr.written[0], &got)
	tr.mu.Unlock()
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Level != "INFO" || got.Message != "INFO still flowing" {
		t.Errorf("delivered %+v, want the unfiltered INFO record", got)
	}

	tr.reads <- readResult{err: websocket.CloseError{Code: websocket.StatusGoingAway}}
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run error = %v, want nil", err)
	}
}

func TestSessionHubCloseGoesAway(t *testing.T) {
	h := hub.New(8)
	tr := newFakeTransport()
	done := runSession(t, h, tr)

	h.Close()

	if err := waitDone(t, done); err != nil {
		t.Errorf("Run error = %v, want nil", err)
	}
	if tr.closeCode != websocket.StatusGoingAway {
		t.Errorf("close code = %v, want %v", tr.closeCode, websocket.StatusGoingAway)
	}
}

func TestSessionLogsLag(t *testing.T) {
	h := hub.New(2)
	tr := newFakeTransport()
	cur := h.Subscribe()
	for _, m := range []string{"a", "b", "c", "d", "e"} {
		h.Publish(model.LogRecord{Message: m, Level: model.LevelDebug})
	}

	var logs bytes.Buffer
	sess := NewSession("lagged", tr, cur, CodecFor(""), slog.New(slog.NewTextHandler(&logs, nil)))
	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for tr.writtenCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := tr.writtenCount(); n != 2 {
		t.Fatalf("written %d messages, want the 2 retained records", n)
	}

	tr.reads <- readResult{err: websocket.CloseError{Code: websocket.StatusNormalClosure}}
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run error = %v, want nil", err)
	}

	// After skipping to "d", one retained record ("e") is still unread.
	if out := logs.String(); !strings.Contains(out, "missed=3") || !strings.Contains(out, "behind=1") {
		t.Errorf("lag warning missing counts:\n%s", out)
	}
}
