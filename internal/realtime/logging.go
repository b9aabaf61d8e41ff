package realtime

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// slogFormatter adapts chi's request logging to slog.
type slogFormatter struct {
	log *slog.Logger
}

func (f slogFormatter) NewLogEntry(r *http.Request) chimw.LogEntry {
	return &slogEntry{
		log: f.log.With(
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
		),
	}
}

type slogEntry struct {
	log *slog.Logger
}

func (e *slogEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ any) {
	e.log.Debug("http request", "status", status, "bytes", bytes, "elapsed", elapsed)
}

func (e *slogEntry) Panic(v any, stack []byte) {
	e.log.Error("handler panic", "panic", v, "stack", string(stack))
}
