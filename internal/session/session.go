package session

import (
	"sync"
	"time"

	"termwrap/internal/screen"
	"termwrap/internal/terminal"
)

// State represents the lifecycle state of a session.
type State string

const (
	StateRunning State = "running"
	StateExited  State = "exited"
	StateClosed  State = "closed"
)

// Info is a point-in-time description of a session.
type Info struct {
	ID        string    `json:"session_id"`
	Alive     bool      `json:"alive"`
	State     State     `json:"state"`
	Rows      int       `json:"rows"`
	Cols      int       `json:"cols"`
	Command   []string  `json:"command"`
	CreatedAt time.Time `json:"created_at"`
	ExitCode  *int      `json:"exit_code"`
}

// Session is one child process on a pseudo-terminal together with its
// retained output and reconstructed screen.
type Session struct {
	ID        string
	Command   []string
	Env       map[string]string
	Dir       string
	CreatedAt time.Time

	seq    uint64
	term   *terminal.Handle
	ring   *RingBuffer
	screen *screen.Screen

	// opMu serializes input, resize and teardown.
	opMu sync.Mutex

	mu       sync.RWMutex
	state    State
	exitCode int
	exitedAt time.Time
	subs     map[*Subscription]struct{}

	exited chan struct{} // child exited and its output was pumped
	closed chan struct{} // removed from the registry
}

func newSession(id string, seq uint64, opts CreateOptions, h *terminal.Handle, cfg Config) *Session {
	rows, cols := h.Size()
	return &Session{
		ID:        id,
		Command:   append([]string(nil), opts.Command...),
		Env:       opts.Env,
		Dir:       opts.Dir,
		CreatedAt: time.Now().UTC(),
		seq:       seq,
		term:      h,
		ring:      NewRingBuffer(cfg.RingCapacity),
		screen:    screen.New(int(rows), int(cols), screen.WithTextLimit(cfg.TextCapacity)),
		state:     StateRunning,
		subs:      make(map[*Subscription]struct{}),
		exited:    make(chan struct{}),
		closed:    make(chan struct{}),
	}
}

// Alive reports whether the child process is still running. State stays
// StateRunning a little longer, until the child's final output is recorded.
func (s *Session) Alive() bool { return s.term.IsAlive() }

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ExitCode returns the child's exit status and whether it has exited.
func (s *Session) ExitCode() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exitCode, s.state != StateRunning
}

func (s *Session) Size() (rows, cols int) {
	r, c := s.term.Size()
	return int(r), int(c)
}

// Pid returns the child's process id.
func (s *Session) Pid() int { return s.term.Pid() }

// Exited is closed after the child exits and its final output has been
// recorded.
func (s *Session) Exited() <-chan struct{} { return s.exited }

// Closed is closed once the session is removed from its manager.
func (s *Session) Closed() <-chan struct{} { return s.closed }

func (s *Session) Info() Info {
	rows, cols := s.Size()
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := Info{
		ID:        s.ID,
		Alive:     s.term.IsAlive(),
		State:     s.state,
		Rows:      rows,
		Cols:      cols,
		Command:   append([]string(nil), s.Command...),
		CreatedAt: s.CreatedAt,
	}
	if s.state != StateRunning {
		code := s.exitCode
		info.ExitCode = &code
	}
	return info
}

// Subscribe attaches a viewer. With replay the viewer first receives every
// retained byte; otherwise it starts at the current end of the stream.
func (s *Session) Subscribe(replay bool) *Subscription {
	sub := &Subscription{
		s:      s,
		notify: make(chan struct{}, 1),
	}
	if !replay {
		sub.pos = s.ring.Written()
	}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	if replay {
		sub.wake()
	}
	return sub
}

func (s *Session) viewers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (s *Session) notifyViewers() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for sub := range s.subs {
		sub.wake()
	}
}

// record appends a chunk of child output to the ring and the screen.
func (s *Session) record(p []byte) {
	s.ring.Write(p)
	s.screen.Feed(p)
	s.notifyViewers()
}

func (s *Session) markExited(code int) {
	s.mu.Lock()
	if s.state == StateRunning {
		s.state = StateExited
	}
	s.exitCode = code
	s.exitedAt = time.Now()
	s.mu.Unlock()
	close(s.exited)
	s.notifyViewers()
}

func (s *Session) markClosed() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	close(s.closed)
	s.notifyViewers()
}

// reapable reports whether an exited session may be removed at now.
func (s *Session) reapable(now time.Time, linger, ttl time.Duration) bool {
	s.mu.RLock()
	state, exitedAt, viewers := s.state, s.exitedAt, len(s.subs)
	s.mu.RUnlock()
	if state != StateExited {
		return false
	}
	age := now.Sub(exitedAt)
	if ttl > 0 && age >= ttl {
		return true
	}
	return age >= linger && viewers == 0 && s.ring.Drained()
}

// Subscription is one viewer's position in a session's output stream.
type Subscription struct {
	s      *Session
	notify chan struct{}
	pos    int64
	once   sync.Once
}

// Notify is signaled, coalesced, when new output may be available or the
// session changes state.
func (sub *Subscription) Notify() <-chan struct{} { return sub.notify }

// Next returns output the viewer has not seen yet and advances its position.
func (sub *Subscription) Next() []byte {
	var out []byte
	out, sub.pos = sub.s.ring.Since(sub.pos)
	return out
}

// Pending reports whether output is waiting for the viewer.
func (sub *Subscription) Pending() bool { return sub.s.ring.Written() > sub.pos }

// Session returns the session being viewed.
func (sub *Subscription) Session() *Session { return sub.s }

// Close detaches the viewer. It is idempotent.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.s.mu.Lock()
		delete(sub.s.subs, sub)
		sub.s.mu.Unlock()
	})
}

func (sub *Subscription) wake() {
	select {
	case sub.notify <- struct{}{}:
	default:
	}
}
