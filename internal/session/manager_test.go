package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.GracePeriod = time.Second
	cfg.ReapInterval = 0
	cfg.Logger = slog.New(slog.DiscardHandler)
	return cfg
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	mgr := NewManager(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
	})
	return mgr
}

// waitOutput polls ReadOutput without clearing until want appears.
func waitOutput(t *testing.T, mgr *Manager, id, want string) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		out, err := mgr.ReadOutput(id, false)
		if err != nil {
			t.Fatalf("ReadOutput: %v", err)
		}
		if strings.Contains(string(out), want) {
			return string(out)
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %q, got %q", want, out)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitExited(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("expected session to exit")
	}
}

func TestNewManager(t *testing.T) {
	mgr := newTestManager(t, testConfig())
	if mgr == nil {
		t.Fatal("expected non-nil manager")
	}
}

func TestManager_CreateEmptyCommand(t *testing.T) {
	mgr := newTestManager(t, testConfig())
	if _, err := mgr.Create(CreateOptions{}); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand, got %v", err)
	}
	if _, err := mgr.Create(CreateOptions{Command: []string{""}}); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand, got %v", err)
	}
}

func TestManager_CreateInvalidDimensions(t *testing.T) {
	mgr := newTestManager(t, testConfig())
	for _, opts := range []CreateOptions{
		{Command: []string{"true"}, Rows: -1},
		{Command: []string{"true"}, Cols: 70000},
	} {
		if _, err := mgr.Create(opts); !errors.Is(err, ErrInvalidDimensions) {
			t.Errorf("%+v: expected ErrInvalidDimensions, got %v", opts, err)
		}
	}
}

func TestManager_CreateNonexistentExecutable(t *testing.T) {
	mgr := newTestManager(t, testConfig())
	start := time.Now()
	_, err := mgr.Create(CreateOptions{Command: []string{"/nonexistent/program-xyz"}})
	if !errors.Is(err, ErrStartup) {
		t.Fatalf("expected ErrStartup, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("startup failure must not hang")
	}
	if ids := mgr.List(); len(ids) != 0 {
		t.Errorf("failed session must not be registered, got %v", ids)
	}
}

func TestManager_MaxSessionsLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 1
	mgr := newTestManager(t, cfg)

	if _, err := mgr.Create(CreateOptions{Command: []string{"sleep", "30"}}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := mgr.Create(CreateOptions{Command: []string{"sleep", "30"}}); !errors.Is(err, ErrMaxSessions) {
		t.Fatalf("expected ErrMaxSessions, got %v", err)
	}
}

func TestManager_NotFound(t *testing.T) {
	mgr := newTestManager(t, testConfig())
	checks := map[string]error{}
	_, checks["Get"] = mgr.Get("nonexistent")
	checks["Delete"] = mgr.Delete("nonexistent")
	checks["WriteInput"] = mgr.WriteInput("nonexistent", []byte("x"))
	checks["Resize"] = mgr.Resize("nonexistent", 10, 10)
	_, checks["ReadOutput"] = mgr.ReadOutput("nonexistent", true)
	_, checks["ReadText"] = mgr.ReadText("nonexistent")
	_, checks["Snapshot"] = mgr.Snapshot("nonexistent")
	_, checks["Subscribe"] = mgr.Subscribe("nonexistent", true)
	for op, err := range checks {
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("%s: expected ErrNotFound, got %v", op, err)
		}
	}
}

func TestManager_ListEmpty(t *testing.T) {
	mgr := newTestManager(t, testConfig())
	if ids := mgr.List(); len(ids) != 0 {
		t.Errorf("expected empty list, got %d sessions", len(ids))
	}
}

func TestManager_ListOrder(t *testing.T) {
	mgr := newTestManager(t, testConfig())
	var want []string
	for i := 0; i < 3; i++ {
		s, err := mgr.Create(CreateOptions{Command: []string{"sleep", "30"}})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		want = append(want, s.ID)
	}
	if got := mgr.List(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected creation order %v, got %v", want, got)
	}
}

func TestManager_HelloAndExit(t *testing.T) {
	mgr := newTestManager(t, testConfig())
	sess, err := mgr.Create(CreateOptions{Command: []string{"sh", "-c", "printf 'Hello\\n'"}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if sess.ID == "" {
		t.Error("expected non-empty session ID")
	}

	waitOutput(t, mgr, sess.ID, "Hello")
	waitExited(t, sess)

	if sess.Alive() {
		t.Error("expected session to be dead")
	}
	info := sess.Info()
	if info.State != StateExited || info.Alive || info.ExitCode == nil || *info.ExitCode != 0 {
		t.Errorf("unexpected info after exit: %+v", info)
	}
	if text, _ := mgr.ReadText(sess.ID); !strings.Contains(text, "Hello\n") {
		t.Errorf("expected plain text to contain Hello, got %q", text)
	}
}

func TestManager_InfoAliveMatchesProcess(t *testing.T) {
	mgr := newTestManager(t, testConfig())
	sess, err := mgr.Create(CreateOptions{Command: []string{"sh", "-c", "sleep 0.2"}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for sess.Alive() {
		if time.Now().After(deadline) {
			t.Fatal("expected process to exit")
		}
		time.Sleep(time.Millisecond)
	}
	// The output drain may still be running; liveness must already agree.
	if sess.Info().Alive {
		t.Error("Info reported alive after the process exited")
	}
	waitExited(t, sess)
}

func TestManager_EchoClearOnRead(t *testing.T) {
	mgr := newTestManager(t, testConfig())
	sess, err := mgr.Create(CreateOptions{Command: []string{"cat"}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := mgr.WriteInput(sess.ID, []byte("abc")); err != nil {
		t.Fatalf("WriteInput: %v", err)
	}
	waitOutput(t, mgr, sess.ID, "abc")

	out, err := mgr.ReadOutput(sess.ID, true)
	if err != nil {
		t.Fatalf("ReadOutput: %v", err)
	}
	if string(out) != "abc" {
		t.Errorf("expected %q, got %q", "abc", out)
	}
	out, _ = mgr.ReadOutput(sess.ID, true)
	if len(out) != 0 {
		t.Errorf("expected empty second read, got %q", out)
	}
}

func TestManager_RoundTripControlBytes(t *testing.T) {
	mgr := newTestManager(t, testConfig())
	sess, err := mgr.Create(CreateOptions{Command: []string{"cat"}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	payload := []byte("\x1b[A\tline\r\x03\x7fdone")
	if err := mgr.WriteInput(sess.ID, payload); err != nil {
		t.Fatalf("WriteInput: %v", err)
	}
	out := waitOutput(t, mgr, sess.ID, "done")
	if !bytes.Equal([]byte(out), payload) {
		t.Errorf("expected %q, got %q", payload, out)
	}
}

func TestManager_WriteInputAfterExit(t *testing.T) {
	mgr := newTestManager(t, testConfig())
	sess, err := mgr.Create(CreateOptions{Command: []string{"true"}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitExited(t, sess)
	if err := mgr.WriteInput(sess.ID, []byte("x")); !errors.Is(err, ErrExited) {
		t.Errorf("expected ErrExited, got %v", err)
	}
}

func TestManager_DeleteTwice(t *testing.T) {
	mgr := newTestManager(t, testConfig())
	sess, err := mgr.Create(CreateOptions{Command: []string{"sleep", "30"}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := mgr.Delete(sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if sess.Alive() {
		t.Error("expected process to be reaped")
	}
	if sess.State() != StateClosed {
		t.Errorf("expected closed state, got %s", sess.State())
	}
	select {
	case <-sess.Closed():
	default:
		t.Error("expected Closed to be signaled")
	}
	if err := mgr.Delete(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestManager_ConcurrentDelete(t *testing.T) {
	mgr := newTestManager(t, testConfig())
	sess, err := mgr.Create(CreateOptions{Command: []string{"sleep", "30"}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		notFound int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := mgr.Delete(sess.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrNotFound):
				notFound++
			}
		}()
	}
	wg.Wait()
	if ok != 1 || notFound != 3 {
		t.Errorf("expected one success and three not-found, got %d/%d", ok, notFound)
	}
}

func TestManager_Resize(t *testing.T) {
	mgr := newTestManager(t, testConfig())
	sess, err := mgr.Create(CreateOptions{Command: []string{"sleep", "30"}, Rows: 24, Cols: 80})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := mgr.Resize(sess.ID, 30, 100); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	snap, err := mgr.Snapshot(sess.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Grid) != 30 || len(snap.Grid[0]) != 100 {
		t.Errorf("expected 30x100 grid, got %dx%d", len(snap.Grid), len(snap.Grid[0]))
	}
	if rows, cols := sess.Size(); rows != 30 || cols != 100 {
		t.Errorf("expected terminal 30x100, got %dx%d", rows, cols)
	}
	if err := mgr.Resize(sess.ID, 0, 100); !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("expected ErrInvalidDimensions, got %v", err)
	}
}

func TestManager_Snapshot(t *testing.T) {
	mgr := newTestManager(t, testConfig())
	sess, err := mgr.Create(CreateOptions{
		Command: []string{"sh", "-c", `printf '\033[2J\033[3;5Hmarker'; sleep 30`},
		Rows:    10,
		Cols:    40,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitOutput(t, mgr, sess.ID, "marker")

	snap, _ := mgr.Snapshot(sess.ID)
	if snap.Lines[2] != "    marker" {
		t.Errorf("expected marker on row 3, got %q", snap.Lines)
	}
}

func TestManager_Subscribe(t *testing.T) {
	mgr := newTestManager(t, testConfig())
	sess, err := mgr.Create(CreateOptions{Command: []string{"cat"}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	a, _ := mgr.Subscribe(sess.ID, false)
	b, _ := mgr.Subscribe(sess.ID, false)
	defer a.Close()
	defer b.Close()

	if err := mgr.WriteInput(sess.ID, []byte("shared")); err != nil {
		t.Fatalf("WriteInput: %v", err)
	}
	for name, sub := range map[string]*Subscription{"a": a, "b": b} {
		var got []byte
		deadline := time.After(5 * time.Second)
		for !bytes.Contains(got, []byte("shared")) {
			select {
			case <-sub.Notify():
				got = append(got, sub.Next()...)
			case <-deadline:
				t.Fatalf("viewer %s timed out, got %q", name, got)
			}
		}
		if string(got) != "shared" {
			t.Errorf("viewer %s: expected %q, got %q", name, "shared", got)
		}
	}

	// Viewers do not consume the clear-on-read cursor.
	if out, _ := mgr.ReadOutput(sess.ID, false); string(out) != "shared" {
		t.Errorf("expected polling cursor untouched, got %q", out)
	}
}

func TestManager_SubscribeReplay(t *testing.T) {
	mgr := newTestManager(t, testConfig())
	sess, err := mgr.Create(CreateOptions{Command: []string{"sh", "-c", "echo history; sleep 30"}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitOutput(t, mgr, sess.ID, "history")

	sub, _ := mgr.Subscribe(sess.ID, true)
	defer sub.Close()
	select {
	case <-sub.Notify():
	case <-time.After(time.Second):
		t.Fatal("expected replay notification")
	}
	if got := sub.Next(); !bytes.Contains(got, []byte("history")) {
		t.Errorf("expected replayed history, got %q", got)
	}

	live, _ := mgr.Subscribe(sess.ID, false)
	defer live.Close()
	if live.Pending() {
		t.Error("non-replay viewer must start at the end of the stream")
	}
}

func TestManager_Reap(t *testing.T) {
	cfg := testConfig()
	cfg.ExitedLinger = 0
	cfg.ExitedTTL = time.Hour
	mgr := newTestManager(t, cfg)

	drained, _ := mgr.Create(CreateOptions{Command: []string{"sh", "-c", "echo a"}})
	unread, _ := mgr.Create(CreateOptions{Command: []string{"sh", "-c", "echo b"}})
	viewed, _ := mgr.Create(CreateOptions{Command: []string{"sh", "-c", "echo c"}})
	running, _ := mgr.Create(CreateOptions{Command: []string{"sleep", "30"}})
	for _, s := range []*Session{drained, unread, viewed} {
		waitExited(t, s)
	}
	mgr.ReadOutput(drained.ID, true)
	mgr.ReadOutput(viewed.ID, true)
	sub, _ := mgr.Subscribe(viewed.ID, false)
	defer sub.Close()

	if n := mgr.reap(time.Now()); n != 1 {
		t.Errorf("expected 1 session reaped, got %d", n)
	}
	if _, err := mgr.Get(drained.ID); !errors.Is(err, ErrNotFound) {
		t.Error("expected drained exited session to be reaped")
	}
	for _, s := range []*Session{unread, viewed, running} {
		if _, err := mgr.Get(s.ID); err != nil {
			t.Errorf("session %s should survive: %v", s.ID, err)
		}
	}

	// Past the TTL every exited session goes, read or not.
	if n := mgr.reap(time.Now().Add(2 * time.Hour)); n != 2 {
		t.Errorf("expected 2 sessions reaped past TTL, got %d", n)
	}
	if _, err := mgr.Get(running.ID); err != nil {
		t.Errorf("running session must never be reaped: %v", err)
	}
}

func TestManager_Shutdown(t *testing.T) {
	mgr := NewManager(testConfig())
	var sessions []*Session
	for i := 0; i < 3; i++ {
		s, err := mgr.Create(CreateOptions{Command: []string{"sleep", "30"}})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		sessions = append(sessions, s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for _, s := range sessions {
		if s.Alive() {
			t.Errorf("session %s still alive after shutdown", s.ID)
		}
	}
	if len(mgr.List()) != 0 {
		t.Error("expected empty registry after shutdown")
	}
	if _, err := mgr.Create(CreateOptions{Command: []string{"true"}}); !errors.Is(err, ErrShutdown) {
		t.Errorf("expected ErrShutdown, got %v", err)
	}
}

type countingObserver struct {
	nopObserver
	mu      sync.Mutex
	started int
	failed  int
	exited  int
	removed int
	out     int
	in      int
}

func (o *countingObserver) SessionStarted(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *countingObserver) SessionStartFailed(error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed++
}

func (o *countingObserver) SessionExited(string, int, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.exited++
}

func (o *countingObserver) SessionRemoved(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed++
}

func (o *countingObserver) OutputBytes(_ string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.out += n
}

func (o *countingObserver) InputBytes(_ string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.in += n
}

func TestManager_Observer(t *testing.T) {
	obs := &countingObserver{}
	cfg := testConfig()
	cfg.Observer = obs
	mgr := newTestManager(t, cfg)

	mgr.Create(CreateOptions{Command: []string{"/nonexistent/xyz"}})
	sess, err := mgr.Create(CreateOptions{Command: []string{"cat"}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	mgr.WriteInput(sess.ID, []byte("12345"))
	waitOutput(t, mgr, sess.ID, "12345")
	if err := mgr.Delete(sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.started != 1 || obs.failed != 1 || obs.exited != 1 || obs.removed != 1 {
		t.Errorf("unexpected lifecycle counts: started=%d failed=%d exited=%d removed=%d",
			obs.started, obs.failed, obs.exited, obs.removed)
	}
	if obs.in != 5 || obs.out < 5 {
		t.Errorf("unexpected byte counts in=%d out=%d", obs.in, obs.out)
	}
}
