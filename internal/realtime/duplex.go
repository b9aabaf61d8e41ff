package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"termwrap/internal/protocol"
	"termwrap/internal/screen"
	"termwrap/internal/session"
)

const (
	maxMessageSize = 1 << 20

	// closeGrace bounds the wait for the peer's reply to our close frame.
	closeGrace = time.Second

	controlQueue = 16
)

type connState int32

const (
	stateConnecting connState = iota
	stateOpen
	stateClosing
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	case stateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// binding attaches one WebSocket connection to one session.
type binding struct {
	srv  *Server
	conn *websocket.Conn
	sess *session.Session
	sub  *session.Subscription

	state   atomic.Int32
	control chan []byte // text frames queued by the reader for the writer
}

func (b *binding) setState(s connState) { b.state.Store(int32(s)) }
func (b *binding) getState() connState  { return connState(b.state.Load()) }

// handleWebSocket binds a WebSocket connection to an existing session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}

	replay := true
	if v := r.URL.Query().Get("replay"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, "replay must be a boolean")
			return
		}
		replay = b
	}

	b := &binding{
		srv:     s,
		sess:    sess,
		control: make(chan []byte, controlQueue),
	}
	b.setState(stateConnecting)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "session", sess.ID, "remote", r.RemoteAddr, "error", err)
		return
	}
	b.conn = conn
	b.sub = sess.Subscribe(replay)

	s.conns.Add(1)
	defer s.conns.Done()
	s.obs.ConnectionOpened()
	defer s.obs.ConnectionClosed()

	b.setState(stateOpen)
	s.log.Debug("duplex attached", "session", sess.ID, "remote", r.RemoteAddr, "replay", replay)

	err = b.run(context.Background())

	b.setState(stateClosed)
	if err != nil {
		s.log.Debug("duplex ended", "session", sess.ID, "remote", r.RemoteAddr, "error", err)
	} else {
		s.log.Debug("duplex detached", "session", sess.ID, "remote", r.RemoteAddr)
	}
}

// run pumps both directions until either side ends, then releases the
// subscription and the connection.
func (b *binding) run(parent context.Context) error {
	defer b.sub.Close()
	defer b.conn.Close()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return b.readPump()
	})
	g.Go(func() error {
		defer cancel()
		// Unblocks the reader.
		defer b.conn.Close()
		return b.writePump(ctx)
	})
	return g.Wait()
}

// readPump reads frames from the peer. It returns when the connection is
// closed or fails.
func (b *binding) readPump() error {
	b.conn.SetReadLimit(maxMessageSize)
	b.conn.SetReadDeadline(time.Now().Add(readDeadline))
	b.conn.SetPongHandler(func(string) error {
		b.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		typ, data, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) &&
				b.getState() == stateOpen {
				b.srv.log.Warn("websocket read error", "session", b.sess.ID, "error", err)
			}
			return nil
		}
		b.srv.obs.FrameIn()

		switch typ {
		case websocket.BinaryMessage:
			b.input(data)
		case websocket.TextMessage:
			b.handleMessage(data)
		}
	}
}

func (b *binding) handleMessage(raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		b.sendError(protocol.ErrInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeInput:
		var p protocol.InputPayload
		json.Unmarshal(msg.Payload, &p)
		b.input([]byte(p.Data))

	case protocol.TypeResize:
		var p protocol.ResizePayload
		json.Unmarshal(msg.Payload, &p)
		if err := b.srv.sessions.Resize(b.sess.ID, p.Rows, p.Cols); err != nil {
			_, code := errorStatus(err)
			b.sendError(code, err.Error())
		}
	}
}

func (b *binding) input(data []byte) {
	if len(data) == 0 {
		return
	}
	if err := b.srv.sessions.WriteInput(b.sess.ID, data); err != nil {
		_, code := errorStatus(err)
		b.sendError(code, err.Error())
	}
}

func (b *binding) sendError(code, message string) {
	msg, _ := protocol.NewErrorMessage(code, message)
	data, _ := json.Marshal(msg)
	select {
	case b.control <- data:
	default:
		// Writer is backed up; drop.
	}
}

// writePump is the connection's only writer.
func (b *binding) writePump(ctx context.Context) error {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	poll := time.NewTicker(b.srv.opts.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			b.setState(stateClosing)
			return nil

		case <-b.sub.Notify():
		case <-poll.C:

		case data := <-b.control:
			if err := b.write(websocket.TextMessage, data); err != nil {
				return err
			}
			continue

		case <-ping.C:
			b.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := b.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
			continue
		}

		if err := b.flush(); err != nil {
			return err
		}
		if b.finished() {
			return b.closeExited(ctx)
		}
	}
}

// flush sends all output the viewer has not seen yet.
func (b *binding) flush() error {
	data := b.sub.Next()
	if len(data) == 0 {
		return nil
	}
	data = screen.FilterUnsupported(data)
	if len(data) == 0 {
		return nil
	}
	return b.write(websocket.BinaryMessage, data)
}

// finished reports whether the child has exited and the viewer has seen all
// of its output.
func (b *binding) finished() bool {
	select {
	case <-b.sess.Exited():
		return !b.sub.Pending()
	default:
		return false
	}
}

// closeExited announces the exit, sends the closed marker and starts a
// normal close handshake.
func (b *binding) closeExited(ctx context.Context) error {
	b.setState(stateClosing)

	code, _ := b.sess.ExitCode()
	msg, _ := protocol.NewMessage(protocol.TypeSessionExited, protocol.SessionExitedPayload{
		SessionID: b.sess.ID,
		ExitCode:  code,
	})
	data, _ := json.Marshal(msg)
	if err := b.write(websocket.TextMessage, data); err != nil {
		return err
	}
	if err := b.write(websocket.TextMessage, []byte(protocol.TerminalClosedMarker)); err != nil {
		return err
	}

	b.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session exited")
	if err := b.conn.WriteMessage(websocket.CloseMessage, closeMsg); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	}

	timer := time.NewTimer(closeGrace)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	return nil
}

func (b *binding) write(typ int, data []byte) error {
	b.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := b.conn.WriteMessage(typ, data); err != nil {
		return err
	}
	b.srv.obs.FrameOut()
	return nil
}
