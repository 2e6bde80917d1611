// Package server implements the liveness HTTP endpoint used by hosting platform health checks.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// Counter exposes the live notification counter.
type Counter interface {
	Notified() int64
}

// Server serves the read-only liveness routes.
type Server struct {
	counter Counter
}

// New creates a liveness Server reporting the given counter.
func New(counter Counter) *Server {
	return &Server{counter: counter}
}

// Router configures the HTTP routes and returns the main handler.
// Only GET / and GET /health exist; both answer the same status line.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware)
	r.Use(middleware.GetHead)

	r.Get("/", s.handleStatus)
	r.Get("/health", s.handleStatus)

	return r
}

// Listen serves handler on addr until ctx is cancelled, then shuts down gracefully.
// It returns nil after a clean shutdown and the listener error otherwise.
func Listen(ctx context.Context, addr string, handler http.Handler) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", addr).Msg("Liveness server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
