package protocol

import "time"

// Output encodings accepted by the read-output endpoint.
const (
	FormatText   = "text"
	FormatBase64 = "base64"
)

// Text sources accepted by the read-text endpoint.
const (
	SourceOutput = "output"
	SourceScreen = "screen"
)

const (
	StatusOK      = "ok"
	StatusDeleted = "deleted"
	StatusHealthy = "healthy"
)

type CreateSessionRequest struct {
	Command []string          `json:"command"`
	Rows    int               `json:"rows,omitempty"`
	Cols    int               `json:"cols,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

type ListSessionsResponse struct {
	Sessions []string `json:"sessions"`
}

type SessionInfo struct {
	SessionID string    `json:"session_id"`
	Alive     bool      `json:"alive"`
	State     string    `json:"state"`
	Rows      int       `json:"rows"`
	Cols      int       `json:"cols"`
	Command   []string  `json:"command"`
	CreatedAt time.Time `json:"created_at"`
	ExitCode  *int      `json:"exit_code"`
}

type InputRequest struct {
	Data string `json:"data"`
}

type ResizeRequest struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type OutputResponse struct {
	Output string `json:"output"`
	Format string `json:"format"`
}

type TextResponse struct {
	Text string `json:"text"`
}

type Cursor struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

type ScreenResponse struct {
	Lines  []string `json:"lines"`
	Rows   int      `json:"rows"`
	Cols   int      `json:"cols"`
	Cursor Cursor   `json:"cursor"`
	Mode   string   `json:"mode"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

type VersionResponse struct {
	Version string `json:"version"`
}
