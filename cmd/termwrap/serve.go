package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"termwrap/internal/config"
	"termwrap/internal/discovery"
	"termwrap/internal/metrics"
	"termwrap/internal/realtime"
	"termwrap/internal/session"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var (
		host      string
		port      int
		staticDir string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the terminal server in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := settings
			if cmd.Flags().Changed("host") {
				s.Host = host
			}
			if cmd.Flags().Changed("port") {
				s.Port = port
			}
			if cmd.Flags().Changed("static-dir") {
				s.StaticDir = staticDir
			}
			if err := s.Validate(); err != nil {
				return err
			}

			level, _ := s.Level()
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return serve(ctx, s, logger)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (overrides TERMWRAP_HOST)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port, 0 picks a free port (overrides TERMWRAP_PORT)")
	cmd.Flags().StringVar(&staticDir, "static-dir", "", "Serve a frontend from this directory")

	return cmd
}

// serve runs a server with the resolved settings s until ctx is done.
func serve(ctx context.Context, s config.Settings, logger *slog.Logger) error {
	collector := metrics.New()
	sessMgr := session.NewManager(s.Session(logger, collector))

	rtServer := realtime.New(sessMgr, realtime.Options{
		StaticDir:    s.StaticDir,
		PollInterval: s.PollInterval,
		Version:      version,
		Logger:       logger,
		Observer:     collector,
		Metrics:      collector.Handler(),
	})

	addr := s.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	pub, err := discovery.New(s.StateDir).Publish(port)
	if err != nil {
		ln.Close()
		if errors.Is(err, discovery.ErrAlreadyRunning) {
			return fmt.Errorf("another server owns %s: %w", s.StateDir, err)
		}
		return err
	}
	defer pub.Close()

	httpServer := &http.Server{
		Handler:           rtServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	logger.Info("termwrap server running", "addr", ln.Addr().String(), "pid", os.Getpid(), "version", version)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			sessMgr.Shutdown(context.Background())
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	// Deleting every session makes attached viewers receive the closed
	// marker and hang up.
	if err := sessMgr.Shutdown(shutdownCtx); err != nil {
		logger.Warn("session shutdown", "error", err)
	}
	rtServer.Wait()

	logger.Info("server stopped")
	return nil
}
