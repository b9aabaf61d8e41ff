package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	MaxRows = 500
	MaxCols = 1000
)

// validClientTypes is the set of allowed client→server message types.
var validClientTypes = map[string]bool{
	TypeInput:  true,
	TypeResize: true,
}

// ValidateClientMessage validates a raw JSON message from a client.
// Returns the parsed Message and any validation error.
func ValidateClientMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if !validClientTypes[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	if msg.Payload == nil {
		return nil, fmt.Errorf("missing 'payload' field")
	}

	switch msg.Type {
	case TypeInput:
		var p InputPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}

	case TypeResize:
		var p ResizePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if err := ValidateDimensions(p.Rows, p.Cols); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
	}

	return &msg, nil
}

// ValidateCreate checks a create request. Zero dimensions are allowed and
// mean the server default.
func ValidateCreate(req CreateSessionRequest) error {
	if len(req.Command) == 0 || req.Command[0] == "" {
		return errors.New("missing required field 'command'")
	}
	if req.Rows == 0 && req.Cols == 0 {
		return nil
	}
	rows, cols := req.Rows, req.Cols
	if rows == 0 {
		rows = 24
	}
	if cols == 0 {
		cols = 80
	}
	return ValidateDimensions(rows, cols)
}

// ValidateDimensions checks that a terminal size is within bounds.
func ValidateDimensions(rows, cols int) error {
	if rows < 1 || rows > MaxRows {
		return fmt.Errorf("rows must be between 1 and %d, got %d", MaxRows, rows)
	}
	if cols < 1 || cols > MaxCols {
		return fmt.Errorf("cols must be between 1 and %d, got %d", MaxCols, cols)
	}
	return nil
}

// NewErrorMessage creates an error message ready to send to the client.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}
