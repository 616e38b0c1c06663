package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// RegisterRoutes registers all admin API routes using chi router
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers, secret string) {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(secret))

	r.Get("/status", handlers.handleStatus)
	r.Get("/position", handlers.handlePosition)
	r.Post("/stop", handlers.handleStop)

	// Mount chi router under /admin
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	log.Info().Bool("auth", secret != "").Msg("Admin endpoints enabled at /admin/*")
}

// NewMux builds the admin listener handler. A nil metrics handler leaves
// /metrics unmounted.
func NewMux(handlers *AdminHandlers, secret string, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	RegisterRoutes(mux, handlers, secret)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	return mux
}

// Serve runs an HTTP server on bindAddress:port until ctx is done
func Serve(ctx context.Context, bindAddress string, port int, handler http.Handler) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(bindAddress, strconv.Itoa(port)),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", srv.Addr).Msg("Starting admin server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down admin server: %w", err)
		}
		return nil
	}
}
