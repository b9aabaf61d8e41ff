package realtime

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"termwrap/internal/session"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second

	defaultPollInterval = 10 * time.Millisecond
)

// ConnObserver receives duplex connection events.
type ConnObserver interface {
	ConnectionOpened()
	ConnectionClosed()
	FrameIn()
	FrameOut()
}

type nopConnObserver struct{}

func (nopConnObserver) ConnectionOpened() {}
func (nopConnObserver) ConnectionClosed() {}
func (nopConnObserver) FrameIn()          {}
func (nopConnObserver) FrameOut()         {}

// Options configures a Server.
type Options struct {
	StaticDir    string
	PollInterval time.Duration
	Version      string

	Logger   *slog.Logger
	Observer ConnObserver
	Metrics  http.Handler // mounted at /metrics when set
}

// Server exposes a session manager over REST and WebSocket.
type Server struct {
	sessions *session.Manager
	opts     Options
	log      *slog.Logger
	obs      ConnObserver
	upgrader websocket.Upgrader

	conns sync.WaitGroup
}

// New creates a new realtime server.
func New(sessions *session.Manager, opts Options) *Server {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = nopConnObserver{}
	}
	return &Server{
		sessions: sessions,
		opts:     opts,
		log:      opts.Logger,
		obs:      opts.Observer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // The server binds to loopback by default.
			},
		},
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestLogger(slogFormatter{log: s.log}))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/", s.handleListSessions)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Post("/input", s.handleInput)
			r.Post("/resize", s.handleResize)
			r.Get("/output", s.handleOutput)
			r.Get("/text", s.handleText)
			r.Get("/screen", s.handleScreen)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	if s.opts.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.opts.StaticDir)))
	}

	return r
}

// Wait blocks until every duplex connection has unwound.
func (s *Server) Wait() { s.conns.Wait() }

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
