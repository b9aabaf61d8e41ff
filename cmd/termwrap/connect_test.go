package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"termwrap/internal/config"
	"termwrap/internal/discovery"
)

// useStateDir points the CLI at a fresh state directory and replaces the
// detached launcher with an in-process server. It returns the number of
// servers started so far.
func useStateDir(t *testing.T) (*discovery.Dir, func() int) {
	t.Helper()
	resetGlobals(t)

	s, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	s.StateDir = filepath.Join(t.TempDir(), "state")
	s.Host = "127.0.0.1"
	s.Port = 0
	settings, serverURL = s, ""

	ctx, cancel := context.WithCancel(context.Background())
	var started int
	var stopped []chan error
	oldStart := startServer
	startServer = func(dir *discovery.Dir) error {
		started++
		s := settings
		s.StateDir = dir.Path()
		done := make(chan error, 1)
		stopped = append(stopped, done)
		go func() { done <- serve(ctx, s, slog.New(slog.DiscardHandler)) }()
		return nil
	}
	t.Cleanup(func() {
		startServer = oldStart
		cancel()
		for _, done := range stopped {
			select {
			case <-done:
			case <-time.After(15 * time.Second):
				t.Error("server did not stop")
			}
		}
	})

	return discovery.New(s.StateDir), func() int { return started }
}

func connectContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestConnect_IgnoresStalePortFile(t *testing.T) {
	dir, started := useStateDir(t)
	ctx := connectContext(t)

	// A crashed server leaves its files but not its lock.
	if err := dir.Ensure(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dir.PortFile(), []byte("1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dir.PidFile(), []byte("999999\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := connect(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if started() != 1 {
		t.Fatalf("expected one server start, got %d", started())
	}

	port, err := dir.Port()
	if err != nil || port == 1 {
		t.Fatalf("expected a fresh port, got %d (%v)", port, err)
	}
	if !strings.HasSuffix(c.BaseURL(), ":"+strconv.Itoa(port)) {
		t.Errorf("client %s does not target published port %d", c.BaseURL(), port)
	}
	if _, err := c.Health(ctx); err != nil {
		t.Errorf("Health: %v", err)
	}
}

func TestConnect_ReusesRunningServer(t *testing.T) {
	_, started := useStateDir(t)
	ctx := connectContext(t)

	first, err := connect(ctx)
	if err != nil {
		t.Fatalf("first connect: %v", err)
	}
	second, err := connect(ctx)
	if err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if started() != 1 {
		t.Errorf("expected the running server to be reused, started %d", started())
	}
	if first.BaseURL() != second.BaseURL() {
		t.Errorf("clients differ: %s vs %s", first.BaseURL(), second.BaseURL())
	}
}

func TestConnect_ExplicitURL(t *testing.T) {
	_, started := useStateDir(t)
	serverURL = "http://127.0.0.1:9"

	c, err := connect(connectContext(t))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if started() != 0 {
		t.Errorf("--url should not start a server, started %d", started())
	}
	if !strings.HasPrefix(c.BaseURL(), "http://127.0.0.1:9") {
		t.Errorf("unexpected base URL %s", c.BaseURL())
	}
}
