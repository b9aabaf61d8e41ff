package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// TerminalClosedMarker is sent as a text frame once the session's process
// has exited and all of its output has been delivered.
const TerminalClosedMarker = "__TERMINAL_CLOSED__"

// Message is the envelope for WebSocket text frames. Binary frames carry raw
// terminal bytes and have no envelope.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → Client message types.
const (
	TypeSessionExited = "session.exited"
	TypeError         = "error"
)

// Client → Server message types.
const (
	TypeInput  = "input"
	TypeResize = "resize"
)

// Error codes, shared by REST error bodies and WebSocket error messages.
const (
	ErrSessionNotFound = "SESSION_NOT_FOUND"
	ErrSessionExited   = "SESSION_EXITED"
	ErrStartupFailure  = "STARTUP_FAILURE"
	ErrInvalidRequest  = "INVALID_REQUEST"
	ErrInvalidMessage  = "INVALID_MESSAGE"
	ErrMaxSessions     = "MAX_SESSIONS"
	ErrInternal        = "INTERNAL"
)

// Server → Client payloads.

type SessionExitedPayload struct {
	SessionID string `json:"session_id"`
	ExitCode  int    `json:"exit_code"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Client → Server payloads.

type InputPayload struct {
	Data string `json:"data"`
}

type ResizePayload struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}
