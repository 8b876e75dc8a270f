package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-replace-server/internal/auth"
	"github.com/sha1n/mcp-replace-server/internal/config"
	"github.com/sha1n/mcp-replace-server/internal/jobs"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds the graceful HTTP shutdown
const ShutdownTimeout = 10 * time.Second

// StartSSEServer serves the SSE transport until ctx is cancelled, then
// shuts the HTTP server down gracefully.
func StartSSEServer(ctx context.Context, rt *Runtime, settings *config.Settings) error {
	srv, err := NewSSEServer(rt, settings)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	// Long-lived SSE streams end with the server context instead of holding up Shutdown.
	srv.BaseContext = func(net.Listener) context.Context { return gctx }

	g.Go(func() error {
		slog.Info("Server listening (HTTP)", "addr", srv.Addr, "auth_type", settings.Auth.Type)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		slog.Info("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// NewSSEServer creates a new SSE server with authentication middleware
func NewSSEServer(rt *Runtime, settings *config.Settings) (*http.Server, error) {
	// Factory function returns the server instance for each request
	sseHandler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server {
		return rt.Server
	}, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/sse", sseHandler)
	mux.Handle("GET /jobs/{id}", jobStatusHandler(rt.Jobs))

	authMiddleware, err := auth.NewMiddleware(settings.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth middleware: %w", err)
	}

	handler := authMiddleware(mux)
	addr := fmt.Sprintf("%s:%d", settings.Host, settings.Port)

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

// jobStatusHandler serves a JobRecord as JSON.
func jobStatusHandler(reader JobReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reader == nil {
			http.Error(w, "batch jobs are not available", http.StatusServiceUnavailable)
			return
		}

		rec, err := reader.Get(r.PathValue("id"))
		if err != nil {
			if errors.Is(err, jobs.ErrJobNotFound) {
				http.Error(w, "job not found", http.StatusNotFound)
				return
			}
			slog.Error("Failed to read job", "job_id", r.PathValue("id"), "error", err)
			http.Error(w, "failed to read job", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rec); err != nil {
			slog.Error("Failed to write job response", "job_id", rec.ID, "error", err)
		}
	})
}
