// Package server exposes the HTTP API: the live-streams proxy, the wall
// session API the page drives, health, metrics and the page itself. It
// injects correlation IDs into request contexts for consistent logging.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cafu47/streamwall/config"
	"github.com/cafu47/streamwall/web"
)

// NewMux returns the HTTP handler with all routes.
func NewMux(cfg *config.Config, h *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(withCORS(newCORSConfig(cfg)))
	r.Use(observe)

	// Ops
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", h.HandleHealthz)
	r.Get("/readyz", h.HandleReadyz)

	// Live-streams proxy, also at the page's historical functions path
	r.Group(func(r chi.Router) {
		r.Use(rateLimit(cfg))
		r.Get("/get-live-streams", h.HandleLiveStreams)
		r.Get("/functions/get-live-streams", h.HandleLiveStreams)
	})

	// Wall sessions
	r.Route("/api/sessions", func(r chi.Router) {
		r.With(rateLimit(cfg)).Post("/", h.HandleCreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGetSession)
			r.Delete("/", h.HandleDeleteSession)
			r.Get("/events", h.HandleSessionEvents)
			r.Post("/switch", h.HandleSwitch)
			r.Post("/navigate", h.HandleNavigate)
			r.Post("/playing", h.HandlePlaying)
			r.Post("/playback", h.HandlePlayback)
			r.Post("/switcher", h.HandleOpenSwitcher)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(web.Index)
	})
	return r
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, handler http.Handler, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Shutdown goroutine
	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
