package realtime

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"termwrap/internal/protocol"
	"termwrap/internal/screen"
	"termwrap/internal/session"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: message, Code: code})
}

// errorStatus maps engine errors onto an HTTP status and wire code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, protocol.ErrSessionNotFound
	case errors.Is(err, session.ErrExited):
		return http.StatusConflict, protocol.ErrSessionExited
	case errors.Is(err, session.ErrStartup):
		return http.StatusUnprocessableEntity, protocol.ErrStartupFailure
	case errors.Is(err, session.ErrInvalidCommand), errors.Is(err, session.ErrInvalidDimensions):
		return http.StatusBadRequest, protocol.ErrInvalidRequest
	case errors.Is(err, session.ErrMaxSessions):
		return http.StatusServiceUnavailable, protocol.ErrMaxSessions
	case errors.Is(err, session.ErrShutdown):
		return http.StatusServiceUnavailable, protocol.ErrInternal
	default:
		return http.StatusInternalServerError, protocol.ErrInternal
	}
}

func (s *Server) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, code, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := protocol.ValidateCreate(req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, err.Error())
		return
	}

	sess, err := s.sessions.Create(session.CreateOptions{
		Command: req.Command,
		Rows:    req.Rows,
		Cols:    req.Cols,
		Env:     req.Env,
		Dir:     req.Cwd,
	})
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, protocol.CreateSessionResponse{SessionID: sess.ID})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.ListSessionsResponse{Sessions: s.sessions.List()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}

	info := sess.Info()
	writeJSON(w, http.StatusOK, protocol.SessionInfo{
		SessionID: info.ID,
		Alive:     info.Alive,
		State:     string(info.State),
		Rows:      info.Rows,
		Cols:      info.Cols,
		Command:   info.Command,
		CreatedAt: info.CreatedAt,
		ExitCode:  info.ExitCode,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(chi.URLParam(r, "id")); err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.StatusResponse{Status: protocol.StatusDeleted})
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req protocol.InputRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.sessions.WriteInput(chi.URLParam(r, "id"), []byte(req.Data)); err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.StatusResponse{Status: protocol.StatusOK})
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	var req protocol.ResizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := protocol.ValidateDimensions(req.Rows, req.Cols); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, err.Error())
		return
	}
	if err := s.sessions.Resize(chi.URLParam(r, "id"), req.Rows, req.Cols); err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.StatusResponse{Status: protocol.StatusOK})
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	clear := true
	if v := q.Get("clear"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, "clear must be a boolean")
			return
		}
		clear = b
	}

	format := q.Get("format")
	if format == "" {
		format = protocol.FormatText
	}
	if format != protocol.FormatText && format != protocol.FormatBase64 {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, "format must be text or base64")
		return
	}

	data, err := s.sessions.ReadOutput(chi.URLParam(r, "id"), clear)
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}

	out := string(data)
	if format == protocol.FormatBase64 {
		out = base64.StdEncoding.EncodeToString(data)
	}
	writeJSON(w, http.StatusOK, protocol.OutputResponse{Output: out, Format: format})
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var (
		text string
		err  error
	)
	switch src := r.URL.Query().Get("source"); src {
	case "", protocol.SourceOutput:
		text, err = s.sessions.ReadText(id)
	case protocol.SourceScreen:
		var snap screen.Snapshot
		snap, err = s.sessions.Snapshot(id)
		text = screen.VisibleText(snap.Lines)
	default:
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, "source must be output or screen")
		return
	}
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.TextResponse{Text: text})
}

func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.ScreenResponse{
		Lines:  snap.Lines,
		Rows:   snap.Rows,
		Cols:   snap.Cols,
		Cursor: protocol.Cursor{Row: snap.CursorRow, Col: snap.CursorCol},
		Mode:   snap.Mode.String(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.HealthResponse{
		Status:   protocol.StatusHealthy,
		Sessions: len(s.sessions.List()),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.VersionResponse{Version: s.opts.Version})
}
