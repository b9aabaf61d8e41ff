package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"termwrap/internal/client"
	"termwrap/internal/discovery"
)

const (
	startTimeout = 5 * time.Second
	healthWait   = 2 * time.Second
)

// connect returns a client for --url, or for the local server published in
// the state directory, starting one in the background when none is healthy.
func connect(ctx context.Context) (*client.Client, error) {
	if serverURL != "" {
		return client.New(serverURL)
	}

	dir := discovery.New(settings.StateDir)
	if c := published(ctx, dir); c != nil {
		return c, nil
	}

	unlock, err := dir.LockStart(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Another invocation may have started one while we waited for the lock.
	if c := published(ctx, dir); c != nil {
		return c, nil
	}
	if dir.Running() {
		return nil, fmt.Errorf("server in %s holds its lock but is not answering, see %s", dir.Path(), dir.LogFile())
	}
	// A crashed server leaves its port file behind; it must not satisfy the
	// wait for the new one.
	if err := dir.Clear(); err != nil {
		return nil, err
	}

	if err := startServer(dir); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	port, err := dir.WaitForPort(waitCtx)
	if err != nil {
		return nil, fmt.Errorf("server did not start, see %s: %w", dir.LogFile(), err)
	}

	c, err := client.New(localURL(port))
	if err != nil {
		return nil, err
	}
	if _, err := c.Health(waitCtx); err != nil {
		return nil, fmt.Errorf("server did not become healthy, see %s: %w", dir.LogFile(), err)
	}
	return c, nil
}

// published returns a client for a live, healthy published server.
func published(ctx context.Context, dir *discovery.Dir) *client.Client {
	if !dir.Running() {
		return nil
	}
	port, err := dir.Port()
	if err != nil {
		return nil
	}
	c, err := client.New(localURL(port))
	if err != nil {
		return nil
	}
	hctx, cancel := context.WithTimeout(ctx, healthWait)
	defer cancel()
	if _, err := c.Health(hctx); err != nil {
		return nil
	}
	return c
}

func localURL(port int) string {
	host := settings.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// startServer starts a server publishing into dir. Tests replace it.
var startServer = startDetached

// startDetached launches "termwrap serve --port 0" detached from this
// process, logging to the state directory.
func startDetached(dir *discovery.Dir) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	if err := dir.Ensure(); err != nil {
		return err
	}
	logFile, err := os.OpenFile(dir.LogFile(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open server log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(exe, "serve", "--port", "0", "--state-dir", dir.Path())
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	return cmd.Process.Release()
}
