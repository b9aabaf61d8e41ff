// Package discovery lets CLI invocations find, or start, a local server.
//
// A running server holds an exclusive lock on server.lock for its lifetime
// and publishes its port and pid as plain-text files in the state directory.
// Starters serialize on start.lock so that concurrent invocations launch at
// most one server.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
)

const (
	portFile   = "port"
	pidFile    = "pid"
	logFile    = "server.log"
	serverLock = "server.lock"
	startLock  = "start.lock"

	lockRetryDelay = 50 * time.Millisecond
)

var (
	ErrAlreadyRunning = errors.New("server already running")
	ErrNotPublished   = errors.New("no server published")
)

// Dir is a state directory.
type Dir struct {
	path string
}

func New(path string) *Dir { return &Dir{path: path} }

func (d *Dir) Path() string     { return d.path }
func (d *Dir) PortFile() string { return filepath.Join(d.path, portFile) }
func (d *Dir) PidFile() string  { return filepath.Join(d.path, pidFile) }
func (d *Dir) LogFile() string  { return filepath.Join(d.path, logFile) }

// Ensure creates the state directory.
func (d *Dir) Ensure() error {
	if err := os.MkdirAll(d.path, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	return nil
}

// Publication is a server's claim on the state directory.
type Publication struct {
	dir  *Dir
	lock *flock.Flock
}

// Publish records port and the current pid. It fails with ErrAlreadyRunning
// while another live server holds the directory.
func (d *Dir) Publish(port int) (*Publication, error) {
	if err := d.Ensure(); err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(d.path, serverLock))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring server lock: %w", err)
	}
	if !locked {
		return nil, ErrAlreadyRunning
	}

	// pid first: a reader that sees the port can trust the pid.
	if err := writeAtomic(d.PidFile(), strconv.Itoa(os.Getpid())); err != nil {
		lock.Unlock()
		return nil, err
	}
	if err := writeAtomic(d.PortFile(), strconv.Itoa(port)); err != nil {
		lock.Unlock()
		return nil, err
	}
	return &Publication{dir: d, lock: lock}, nil
}

// Close withdraws the published files and releases the server lock.
func (p *Publication) Close() error {
	os.Remove(p.dir.PortFile())
	os.Remove(p.dir.PidFile())
	return p.lock.Unlock()
}

// Clear removes the port and pid files left behind by a server that is no
// longer running.
func (d *Dir) Clear() error {
	for _, p := range []string{d.PortFile(), d.PidFile()} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("clear %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

func writeAtomic(path, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if _, err := tmp.WriteString(content + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readInt(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, ErrNotPublished
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("malformed %s file", filepath.Base(path))
	}
	return n, nil
}

// Port returns the published port.
func (d *Dir) Port() (int, error) { return readInt(d.PortFile()) }

// Pid returns the published server pid.
func (d *Dir) Pid() (int, error) { return readInt(d.PidFile()) }

// Running reports whether some process holds the server lock.
func (d *Dir) Running() bool {
	lock := flock.New(filepath.Join(d.path, serverLock))
	locked, err := lock.TryLock()
	if err != nil {
		return false
	}
	if locked {
		lock.Unlock()
		return false
	}
	return true
}

// LockStart blocks until this process is the only one starting a server.
// The returned function releases the lock.
func (d *Dir) LockStart(ctx context.Context) (func(), error) {
	if err := d.Ensure(); err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(d.path, startLock))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("acquiring start lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("acquiring start lock: %w", ctx.Err())
	}
	return func() { _ = lock.Unlock() }, nil
}

// WaitForPort returns the published port, waiting for a server to publish
// one if none is present yet.
func (d *Dir) WaitForPort(ctx context.Context) (int, error) {
	if err := d.Ensure(); err != nil {
		return 0, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return 0, fmt.Errorf("watch state dir: %w", err)
	}
	defer w.Close()
	if err := w.Add(d.path); err != nil {
		return 0, fmt.Errorf("watch state dir: %w", err)
	}

	// Checked after the watch is armed so a publish in between is not lost.
	if port, err := d.Port(); err == nil {
		return port, nil
	}

	for {
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("waiting for server port: %w", ctx.Err())

		case event, ok := <-w.Events:
			if !ok {
				return 0, ErrNotPublished
			}
			if filepath.Base(event.Name) != portFile || !event.Has(fsnotify.Create|fsnotify.Write) {
				continue
			}
			if port, err := d.Port(); err == nil {
				return port, nil
			}

		case err, ok := <-w.Errors:
			if !ok {
				return 0, ErrNotPublished
			}
			return 0, fmt.Errorf("watch state dir: %w", err)
		}
	}
}
