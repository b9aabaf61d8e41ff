package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"termwrap/internal/screen"
	"termwrap/internal/terminal"
)

const (
	defaultMaxSessions     = 64
	defaultGracefulTimeout = 5 * time.Second
	defaultStartupWindow   = 100 * time.Millisecond
	defaultReapInterval    = 10 * time.Second
	defaultExitedLinger    = 30 * time.Second
	defaultExitedTTL       = 10 * time.Minute

	// exitDrainTimeout bounds how long the pump waits for the output stream
	// to end after the child exits. Grandchildren may hold the terminal open.
	exitDrainTimeout = 250 * time.Millisecond

	maxDimension = 65535
)

// Config holds manager settings. The zero value is not useful; start from
// DefaultConfig.
type Config struct {
	MaxSessions   int // 0 means unlimited
	RingCapacity  int
	TextCapacity  int
	GracePeriod   time.Duration
	StartupWindow time.Duration
	ShellWrap     bool
	RawMode       bool

	ReapInterval time.Duration // 0 disables the reaper
	ExitedLinger time.Duration
	ExitedTTL    time.Duration // 0 disables the age limit

	Logger   *slog.Logger
	Observer Observer
}

func DefaultConfig() Config {
	return Config{
		MaxSessions:   defaultMaxSessions,
		RingCapacity:  DefaultRingCapacity,
		TextCapacity:  screen.DefaultTextLimit,
		GracePeriod:   defaultGracefulTimeout,
		StartupWindow: defaultStartupWindow,
		ShellWrap:     true,
		RawMode:       true,
		ReapInterval:  defaultReapInterval,
		ExitedLinger:  defaultExitedLinger,
		ExitedTTL:     defaultExitedTTL,
	}
}

// CreateOptions describes a session to start. Zero dimensions default to
// 24x80.
type CreateOptions struct {
	Command []string
	Rows    int
	Cols    int
	Env     map[string]string
	Dir     string
}

// Manager is the registry of live sessions.
type Manager struct {
	cfg Config
	log *slog.Logger
	obs Observer

	mu       sync.RWMutex
	sessions map[string]*Session
	pending  int
	seq      uint64
	shutdown bool

	stopReaper chan struct{}
	reaperDone chan struct{}
	stopOnce   sync.Once
}

// NewManager creates a session manager and starts its reaper.
func NewManager(cfg Config) *Manager {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracefulTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	m := &Manager{
		cfg:        cfg,
		log:        cfg.Logger,
		obs:        cfg.Observer,
		sessions:   make(map[string]*Session),
		stopReaper: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	if cfg.ReapInterval > 0 {
		go m.reapLoop()
	} else {
		close(m.reaperDone)
	}
	return m
}

func validDimension(n int) bool { return n > 0 && n <= maxDimension }

// Create spawns opts.Command on a new pseudo-terminal and registers it.
func (m *Manager) Create(opts CreateOptions) (*Session, error) {
	if len(opts.Command) == 0 || opts.Command[0] == "" {
		return nil, ErrInvalidCommand
	}
	if opts.Rows == 0 {
		opts.Rows = terminal.DefaultRows
	}
	if opts.Cols == 0 {
		opts.Cols = terminal.DefaultCols
	}
	if !validDimension(opts.Rows) || !validDimension(opts.Cols) {
		return nil, ErrInvalidDimensions
	}

	// Reserve a slot so concurrent creates cannot overshoot the limit while
	// the spawn runs unlocked.
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil, ErrShutdown
	}
	if m.cfg.MaxSessions > 0 && m.liveCountLocked()+m.pending >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (%d)", ErrMaxSessions, m.cfg.MaxSessions)
	}
	m.pending++
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	h, err := terminal.Spawn(terminal.Options{
		Command:       opts.Command,
		Rows:          uint16(opts.Rows),
		Cols:          uint16(opts.Cols),
		Env:           opts.Env,
		Dir:           opts.Dir,
		Raw:           m.cfg.RawMode,
		ShellWrap:     m.cfg.ShellWrap,
		StartupWindow: m.cfg.StartupWindow,
	})

	m.mu.Lock()
	m.pending--
	if err != nil {
		m.mu.Unlock()
		m.obs.SessionStartFailed(err)
		m.log.Warn("session start failed", "command", opts.Command, "error", err)
		return nil, err
	}
	if m.shutdown {
		m.mu.Unlock()
		h.Terminate(m.cfg.GracePeriod)
		return nil, ErrShutdown
	}
	sess := newSession(uuid.New().String(), seq, opts, h, m.cfg)
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	go m.pump(sess)

	m.obs.SessionStarted(sess.ID)
	m.log.Info("session created", "session", sess.ID, "pid", h.Pid(), "command", h.Argv())
	return sess, nil
}

func (m *Manager) liveCountLocked() int {
	n := 0
	for _, s := range m.sessions {
		if s.Alive() {
			n++
		}
	}
	return n
}

// pump is the only writer of a session's ring and screen.
func (m *Manager) pump(s *Session) {
	h := s.term
	for {
		select {
		case <-h.Ready():
			m.drain(s)
		case <-h.Done():
			timer := time.NewTimer(exitDrainTimeout)
		wait:
			for {
				select {
				case <-h.Ready():
					m.drain(s)
				case <-h.ReadDone():
					break wait
				case <-timer.C:
					break wait
				}
			}
			timer.Stop()
			m.drain(s)

			code := h.ExitCode()
			s.markExited(code)
			m.obs.SessionExited(s.ID, code, time.Since(s.CreatedAt))
			m.log.Info("session exited", "session", s.ID, "exit_code", code)
			return
		}
	}
}

func (m *Manager) drain(s *Session) {
	if p := s.term.ReadAvailable(); len(p) > 0 {
		s.record(p)
		m.obs.OutputBytes(s.ID, len(p))
	}
}

func (m *Manager) lookup(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Get returns a session by ID.
func (m *Manager) Get(id string) (*Session, error) { return m.lookup(id) }

// List returns the IDs of all registered sessions, oldest first.
func (m *Manager) List() []string {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	ids := make([]string, len(all))
	for i, s := range all {
		ids[i] = s.ID
	}
	return ids
}

// Delete removes a session, terminating its process group. The registry
// entry is removed first, so a concurrent second Delete sees ErrNotFound.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	alive := s.Alive()
	if err := s.term.Terminate(m.cfg.GracePeriod); err != nil {
		m.log.Warn("terminate failed", "session", id, "error", err)
	}
	<-s.exited
	s.markClosed()

	m.obs.SessionRemoved(id)
	m.log.Info("session deleted", "session", id, "killed", alive)
	return nil
}

// WriteInput forwards data verbatim to the session's child.
func (m *Manager) WriteInput(id string, data []byte) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if !s.Alive() {
		return ErrExited
	}
	if err := s.term.Write(data); err != nil {
		if errors.Is(err, terminal.ErrClosed) {
			return ErrExited
		}
		return fmt.Errorf("write input: %w", err)
	}
	m.obs.InputBytes(id, len(data))
	return nil
}

// Resize changes the terminal and screen dimensions of a session.
func (m *Manager) Resize(id string, rows, cols int) error {
	if !validDimension(rows) || !validDimension(cols) {
		return ErrInvalidDimensions
	}
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.term.Resize(uint16(rows), uint16(cols)); err != nil {
		return fmt.Errorf("resize: %w", err)
	}
	s.screen.Resize(rows, cols)
	return nil
}

// ReadOutput returns the raw output after the session's clear-on-read
// cursor. With clear the cursor advances past the returned bytes.
func (m *Manager) ReadOutput(id string, clear bool) ([]byte, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.ring.ReadCursor(clear), nil
}

// ReadText returns the session's plain-text transcript.
func (m *Manager) ReadText(id string) (string, error) {
	s, err := m.lookup(id)
	if err != nil {
		return "", err
	}
	return s.screen.Text(), nil
}

// Snapshot returns the session's reconstructed screen.
func (m *Manager) Snapshot(id string) (screen.Snapshot, error) {
	s, err := m.lookup(id)
	if err != nil {
		return screen.Snapshot{}, err
	}
	return s.screen.Snapshot(), nil
}

// Subscribe attaches a viewer to a session's output stream.
func (m *Manager) Subscribe(id string, replay bool) (*Subscription, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.Subscribe(replay), nil
}

// Shutdown stops the reaper and deletes every session concurrently. New
// creates fail with ErrShutdown from the moment it is called.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	m.stopOnce.Do(func() { close(m.stopReaper) })

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			if err := m.Delete(id); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() {
		err := g.Wait()
		<-m.reaperDone
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) reapLoop() {
	defer close(m.reaperDone)
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopReaper:
			return
		case now := <-ticker.C:
			m.reap(now)
		}
	}
}

// reap removes exited sessions that nobody is going to read any more.
func (m *Manager) reap(now time.Time) int {
	m.mu.RLock()
	var victims []string
	for id, s := range m.sessions {
		if s.reapable(now, m.cfg.ExitedLinger, m.cfg.ExitedTTL) {
			victims = append(victims, id)
		}
	}
	m.mu.RUnlock()

	n := 0
	for _, id := range victims {
		if err := m.Delete(id); err == nil {
			m.log.Debug("reaped exited session", "session", id)
			n++
		}
	}
	return n
}
