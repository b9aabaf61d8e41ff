package client

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"termwrap/internal/protocol"
	"termwrap/internal/realtime"
	"termwrap/internal/session"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	cfg := session.DefaultConfig()
	cfg.GracePeriod = time.Second
	cfg.ReapInterval = 0
	cfg.Logger = slog.New(slog.DiscardHandler)
	mgr := session.NewManager(cfg)

	srv := realtime.New(mgr, realtime.Options{Version: "test", Logger: cfg.Logger})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
		ts.Close()
	})

	c, err := New(ts.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNew_RejectsBadURL(t *testing.T) {
	for _, raw := range []string{"ftp://host", "://nope"} {
		if _, err := New(raw); err == nil {
			t.Errorf("%q: expected error", raw)
		}
	}
}

func TestClient_RoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := testContext(t)

	if h, err := c.Health(ctx); err != nil || h.Status != protocol.StatusHealthy {
		t.Fatalf("Health: %+v %v", h, err)
	}

	id, err := c.Create(ctx, protocol.CreateSessionRequest{Command: []string{"cat"}, Rows: 30, Cols: 90})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ids, err := c.List(ctx)
	if err != nil || len(ids) != 1 || ids[0] != id {
		t.Fatalf("List: %v %v", ids, err)
	}

	info, err := c.Info(ctx, id)
	if err != nil || !info.Alive || info.Rows != 30 || info.Cols != 90 {
		t.Fatalf("Info: %+v %v", info, err)
	}

	if err := c.Send(ctx, id, "hi there\n"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := c.WaitForText(ctx, id, "hi there", 10*time.Millisecond); err != nil {
		t.Fatalf("WaitForText: %v", err)
	}

	out, err := c.Output(ctx, id, true)
	if err != nil || !strings.Contains(string(out), "hi there") {
		t.Fatalf("Output: %q %v", out, err)
	}
	if out, _ := c.Output(ctx, id, true); len(out) != 0 {
		t.Errorf("expected nothing after clear, got %q", out)
	}

	if err := c.Resize(ctx, id, 40, 100); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	scr, err := c.Screen(ctx, id)
	if err != nil || scr.Rows != 40 || scr.Cols != 100 {
		t.Fatalf("Screen: %dx%d %v", scr.Rows, scr.Cols, err)
	}
	if text, err := c.Text(ctx, id, protocol.SourceScreen); err != nil || text != "hi there" {
		t.Errorf("screen text: %q %v", text, err)
	}

	if err := c.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Info(ctx, id); !IsNotFound(err) {
		t.Errorf("expected not found after delete, got %v", err)
	}
}

func TestClient_APIError(t *testing.T) {
	c := newTestClient(t)
	ctx := testContext(t)

	_, err := c.Create(ctx, protocol.CreateSessionRequest{Command: []string{"/nonexistent/binary"}})
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T %v", err, err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity || apiErr.Code != protocol.ErrStartupFailure {
		t.Errorf("unexpected error %+v", apiErr)
	}
}

func TestClient_WaitForTextTimeout(t *testing.T) {
	c := newTestClient(t)
	id, err := c.Create(testContext(t), protocol.CreateSessionRequest{Command: []string{"cat"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := c.WaitForText(ctx, id, "never", 20*time.Millisecond); err == nil {
		t.Fatal("expected timeout")
	}
}

func TestClient_WaitForQuiet(t *testing.T) {
	c := newTestClient(t)
	ctx := testContext(t)

	id, err := c.Create(ctx, protocol.CreateSessionRequest{
		Command: []string{"sh", "-c", "for i in 1 2 3; do echo tick$i; sleep 0.1; done"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := c.WaitForQuiet(ctx, id, 300*time.Millisecond, 20*time.Millisecond); err != nil {
		t.Fatalf("WaitForQuiet: %v", err)
	}
	out, _ := c.Output(ctx, id, false)
	if !strings.Contains(string(out), "tick3") {
		t.Errorf("expected all output before quiet, got %q", out)
	}
}

func TestClient_Attach(t *testing.T) {
	c := newTestClient(t)
	ctx := testContext(t)

	id, err := c.Create(ctx, protocol.CreateSessionRequest{
		Command: []string{"sh", "-c", "read line; echo got:$line"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var out syncBuffer
	resize := make(chan protocol.ResizePayload, 1)
	resize <- protocol.ResizePayload{Rows: 33, Cols: 99}

	if err := c.Attach(ctx, id, strings.NewReader("typed\n"), &out, AttachOptions{Resize: resize}); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if !strings.Contains(out.String(), "got:typed") {
		t.Errorf("expected echoed input, got %q", out.String())
	}
}

func TestClient_AttachUnknownSession(t *testing.T) {
	c := newTestClient(t)

	err := c.Attach(testContext(t), "missing", nil, &syncBuffer{}, AttachOptions{})
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
