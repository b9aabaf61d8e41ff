// Package terminal owns one child process running on an OS pseudo-terminal.
//
// A Handle is created by Spawn and runs three goroutines for its lifetime:
// a reader that moves controlling-side output into a pending buffer, a writer
// that applies queued input in submission order, and a waiter that reaps the
// child. Callers consume output with ReadAvailable after Ready fires.
package terminal

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const (
	DefaultRows = 24
	DefaultCols = 80

	defaultWriteQueue    = 256
	defaultWriteTimeout  = 5 * time.Second
	defaultStartupWindow = 100 * time.Millisecond
	readChunkSize        = 32 * 1024
	maxPending           = 4 * 1024 * 1024
	startupDrainTimeout  = 50 * time.Millisecond
	writeRetryDelay      = 5 * time.Millisecond
)

// Options describes the process to run and its terminal.
type Options struct {
	Command []string
	Rows    uint16
	Cols    uint16
	Env     map[string]string
	Dir     string

	// Raw puts the worker side into raw mode: no echo, no line buffering,
	// no output post-processing.
	Raw bool
	// ShellWrap runs shebang-less text scripts under /bin/sh.
	ShellWrap bool
	// StartupWindow is how long Spawn waits for an early non-zero exit.
	// Negative disables the check; zero uses the default.
	StartupWindow time.Duration
	WriteQueue    int
	WriteTimeout  time.Duration
}

// Handle is a running child process attached to a pseudo-terminal.
type Handle struct {
	ptmx *os.File
	cmd  *exec.Cmd
	argv []string

	mu       sync.Mutex
	rows     uint16
	cols     uint16
	pending  []byte
	writeErr error
	exitCode int

	ready    chan struct{}
	readDone chan struct{}
	exited   chan struct{}
	closed   chan struct{}
	writes   chan []byte

	writeTimeout time.Duration
	closeOnce    sync.Once
}

// Spawn allocates a pseudo-terminal, starts opts.Command on it and returns
// once the child is running. Commands that cannot be executed, or that exit
// with a non-zero status inside the startup window, yield a *StartupError.
func Spawn(opts Options) (*Handle, error) {
	if len(opts.Command) == 0 || opts.Command[0] == "" {
		return nil, &StartupError{Command: opts.Command, ExitCode: -1, Err: errors.New("empty command")}
	}
	if opts.Rows == 0 {
		opts.Rows = DefaultRows
	}
	if opts.Cols == 0 {
		opts.Cols = DefaultCols
	}
	if opts.WriteQueue <= 0 {
		opts.WriteQueue = defaultWriteQueue
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.StartupWindow == 0 {
		opts.StartupWindow = defaultStartupWindow
	}

	path, argv, err := resolveCommand(opts.Command, opts.ShellWrap)
	if err != nil {
		return nil, &StartupError{Command: opts.Command, ExitCode: -1, Err: err}
	}

	ptmx, tty, err := pty.Open()
	if err != nil {
		return nil, &StartupError{Command: opts.Command, ExitCode: -1, Err: err}
	}
	if err := pty.Setsize(ptmx, &pty.Winsize{Rows: opts.Rows, Cols: opts.Cols}); err != nil {
		ptmx.Close()
		tty.Close()
		return nil, &StartupError{Command: opts.Command, ExitCode: -1, Err: err}
	}
	if opts.Raw {
		if _, err := term.MakeRaw(int(tty.Fd())); err != nil {
			ptmx.Close()
			tty.Close()
			return nil, &StartupError{Command: opts.Command, ExitCode: -1, Err: err}
		}
	}

	cmd := &exec.Cmd{
		Path:   path,
		Args:   argv,
		Env:    mergeEnv(os.Environ(), opts.Env),
		Dir:    opts.Dir,
		Stdin:  tty,
		Stdout: tty,
		Stderr: tty,
		SysProcAttr: &syscall.SysProcAttr{
			Setsid:  true,
			Setctty: true,
		},
	}
	if err := cmd.Start(); err != nil {
		ptmx.Close()
		tty.Close()
		return nil, &StartupError{Command: opts.Command, ExitCode: -1, Err: err}
	}
	// The child holds its own copy; keeping ours would suppress EOF.
	tty.Close()

	h := &Handle{
		ptmx:         ptmx,
		cmd:          cmd,
		argv:         argv,
		rows:         opts.Rows,
		cols:         opts.Cols,
		ready:        make(chan struct{}, 1),
		readDone:     make(chan struct{}),
		exited:       make(chan struct{}),
		closed:       make(chan struct{}),
		writes:       make(chan []byte, opts.WriteQueue),
		writeTimeout: opts.WriteTimeout,
	}

	go h.readLoop()
	go h.writeLoop()
	go h.waitLoop()

	if opts.StartupWindow > 0 {
		timer := time.NewTimer(opts.StartupWindow)
		defer timer.Stop()
		select {
		case <-h.exited:
			if code := h.ExitCode(); code != 0 {
				select {
				case <-h.readDone:
				case <-time.After(startupDrainTimeout):
				}
				out := h.ReadAvailable()
				h.Close()
				return nil, &StartupError{Command: opts.Command, ExitCode: code, Output: out}
			}
		case <-timer.C:
		}
	}

	return h, nil
}

func (h *Handle) readLoop() {
	defer close(h.readDone)
	defer h.signal()

	buf := make([]byte, readChunkSize)
	for {
		n, err := h.ptmx.Read(buf)
		if n > 0 {
			h.mu.Lock()
			h.pending = append(h.pending, buf[:n]...)
			if len(h.pending) > maxPending {
				h.pending = append([]byte(nil), h.pending[len(h.pending)-maxPending:]...)
			}
			h.mu.Unlock()
			h.signal()
		}
		if err != nil {
			// EIO once every worker-side descriptor is closed, ErrClosed
			// after Close; both end the stream.
			return
		}
	}
}

func (h *Handle) signal() {
	select {
	case h.ready <- struct{}{}:
	default:
	}
}

func (h *Handle) writeLoop() {
	for {
		select {
		case <-h.closed:
			return
		case p := <-h.writes:
			if err := h.writeAll(p); err != nil {
				h.mu.Lock()
				if h.writeErr == nil {
					h.writeErr = err
				}
				h.mu.Unlock()
			}
		}
	}
}

// writeAll retries a transient failure once before giving up.
func (h *Handle) writeAll(p []byte) error {
	retried := false
	for len(p) > 0 {
		n, err := h.ptmx.Write(p)
		p = p[n:]
		if err == nil {
			continue
		}
		if retried || !(errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR)) {
			return err
		}
		retried = true
		time.Sleep(writeRetryDelay)
	}
	return nil
}

func (h *Handle) waitLoop() {
	err := h.cmd.Wait()
	code := 0
	if err != nil {
		code = -1
	}
	if ps := h.cmd.ProcessState; ps != nil {
		code = ps.ExitCode()
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			code = 128 + int(ws.Signal())
		}
	}
	h.mu.Lock()
	h.exitCode = code
	h.mu.Unlock()
	close(h.exited)
}

// Write queues p for delivery to the child's input. It waits at most the
// handle's write timeout for queue space.
func (h *Handle) Write(p []byte) error {
	if !h.IsAlive() {
		return ErrClosed
	}
	h.mu.Lock()
	werr := h.writeErr
	h.mu.Unlock()
	if werr != nil {
		return errors.Join(ErrIO, werr)
	}

	buf := append([]byte(nil), p...)
	timer := time.NewTimer(h.writeTimeout)
	defer timer.Stop()
	select {
	case h.writes <- buf:
		return nil
	case <-h.closed:
		return ErrClosed
	case <-h.exited:
		return ErrClosed
	case <-timer.C:
		return ErrWriteTimeout
	}
}

// ReadAvailable returns whatever output is pending without blocking.
func (h *Handle) ReadAvailable() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.pending
	h.pending = nil
	return out
}

// Ready is signaled (non-blocking, coalesced) when output becomes pending
// and once more when the output stream ends.
func (h *Handle) Ready() <-chan struct{} { return h.ready }

// ReadDone is closed when the controlling side stops producing output.
func (h *Handle) ReadDone() <-chan struct{} { return h.readDone }

// Done is closed once the child has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.exited }

// IsAlive reports whether the child is still running.
func (h *Handle) IsAlive() bool {
	select {
	case <-h.exited:
		return false
	default:
		return true
	}
}

// ExitCode returns the exit status, 128+signal for a signaled child, or 0
// while the child is running.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Pid returns the child's process id.
func (h *Handle) Pid() int { return h.cmd.Process.Pid }

// Argv returns the argv actually executed, after any shell wrapping.
func (h *Handle) Argv() []string { return append([]string(nil), h.argv...) }

// Size returns the current terminal dimensions.
func (h *Handle) Size() (rows, cols uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rows, h.cols
}

// Resize updates the terminal dimensions and notifies the child with
// SIGWINCH. Unchanged dimensions are a no-op.
func (h *Handle) Resize(rows, cols uint16) error {
	if rows == 0 || cols == 0 {
		return ErrInvalidSize
	}
	h.mu.Lock()
	if h.rows == rows && h.cols == cols {
		h.mu.Unlock()
		return nil
	}
	if err := pty.Setsize(h.ptmx, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		h.mu.Unlock()
		return errors.Join(ErrIO, err)
	}
	h.rows, h.cols = rows, cols
	h.mu.Unlock()

	if h.IsAlive() {
		if err := unix.Kill(h.Pid(), unix.SIGWINCH); err != nil && !errors.Is(err, unix.ESRCH) {
			return err
		}
	}
	return nil
}

// Terminate sends SIGTERM to the child's process group, escalates to SIGKILL
// after grace, waits for the child to be reaped and closes the handle.
func (h *Handle) Terminate(grace time.Duration) error {
	defer h.Close()
	if !h.IsAlive() {
		return nil
	}

	h.signalGroup(unix.SIGTERM)
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.exited:
		return nil
	case <-timer.C:
	}

	h.signalGroup(unix.SIGKILL)
	<-h.exited
	return nil
}

func (h *Handle) signalGroup(sig unix.Signal) {
	pid := h.Pid()
	if err := unix.Kill(-pid, sig); err != nil {
		_ = unix.Kill(pid, sig)
	}
}

// Close releases the controlling side. It does not signal the child; use
// Terminate for that. Close is idempotent.
func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.closed)
		err = h.ptmx.Close()
	})
	return err
}

var _ io.Closer = (*Handle)(nil)
