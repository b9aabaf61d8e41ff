// Package config loads server settings from TERMWRAP_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"termwrap/internal/session"
)

const Prefix = "TERMWRAP"

type Settings struct {
	Host      string `envconfig:"HOST" default:"127.0.0.1"`
	Port      int    `envconfig:"PORT" default:"8000"`
	StaticDir string `envconfig:"STATIC_DIR" default:""`
	StateDir  string `envconfig:"STATE_DIR" default:"~/.term-wrapper"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// Session engine settings
	MaxSessions   int           `envconfig:"MAX_SESSIONS" default:"64"`
	RingCapacity  int           `envconfig:"RING_CAPACITY" default:"1048576"`
	TextCapacity  int           `envconfig:"TEXT_CAPACITY" default:"1048576"`
	GracePeriod   time.Duration `envconfig:"GRACE_PERIOD" default:"5s"`
	StartupWindow time.Duration `envconfig:"STARTUP_WINDOW" default:"100ms"`
	ShellWrap     bool          `envconfig:"SHELL_WRAP" default:"true"`
	RawMode       bool          `envconfig:"RAW_MODE" default:"true"`
	PollInterval  time.Duration `envconfig:"POLL_INTERVAL" default:"10ms"`

	// Reaper settings
	ReapInterval time.Duration `envconfig:"REAP_INTERVAL" default:"10s"`
	ExitedLinger time.Duration `envconfig:"EXITED_LINGER" default:"30s"`
	ExitedTTL    time.Duration `envconfig:"EXITED_TTL" default:"10m"`
}

// Load reads Settings from the environment and expands a leading "~" in
// StateDir.
func Load() (Settings, error) {
	var s Settings
	if err := envconfig.Process(Prefix, &s); err != nil {
		return Settings{}, fmt.Errorf("load config: %w", err)
	}
	dir, err := expandHome(s.StateDir)
	if err != nil {
		return Settings{}, fmt.Errorf("load config: %w", err)
	}
	s.StateDir = dir
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("load config: %w", err)
	}
	return s, nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

// Validate rejects settings the engine cannot run with.
func (s Settings) Validate() error {
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("port %d out of range", s.Port)
	}
	if s.MaxSessions < 0 {
		return fmt.Errorf("max sessions must not be negative")
	}
	if s.RingCapacity <= 0 || s.TextCapacity <= 0 {
		return fmt.Errorf("ring and text capacities must be positive")
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if _, err := s.Level(); err != nil {
		return err
	}
	return nil
}

// Addr returns the listen address.
func (s Settings) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Level parses LogLevel.
func (s Settings) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s.LogLevel)
	}
	return lvl, nil
}

// Session builds the session manager configuration.
func (s Settings) Session(logger *slog.Logger, obs session.Observer) session.Config {
	return session.Config{
		MaxSessions:   s.MaxSessions,
		RingCapacity:  s.RingCapacity,
		TextCapacity:  s.TextCapacity,
		GracePeriod:   s.GracePeriod,
		StartupWindow: s.StartupWindow,
		ShellWrap:     s.ShellWrap,
		RawMode:       s.RawMode,
		ReapInterval:  s.ReapInterval,
		ExitedLinger:  s.ExitedLinger,
		ExitedTTL:     s.ExitedTTL,
		Logger:        logger,
		Observer:      obs,
	}
}
