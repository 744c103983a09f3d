package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/vk/patchflow/internal/ctxlog"
	"github.com/vk/patchflow/internal/render"
)

// healthServer answers /health while a patch runs.
type healthServer struct {
	server *http.Server
	engine atomic.Pointer[render.Engine]
}

// healthHandler reports OK and, once rendering, the engine counters and tempo.
func (h *healthServer) healthHandler(ctx context.Context) http.HandlerFunc {
	logger := ctxlog.FromContext(ctx)
	return func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
		if e := h.engine.Load(); e != nil {
			fmt.Fprintf(w, "frames %d\ndropouts %d\ntempo %g\n", e.Frames(), e.Dropouts(), e.Tempo())
		}
	}
}

// startHealthcheckServer initializes and runs the health check HTTP server.
func (a *App) startHealthcheckServer(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Configuring health check server.")
	if a.config.HealthcheckPort <= 0 {
		logger.Debug("Health check server not started: disabled")
		return
	}

	h := &healthServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.healthHandler(ctx))

	addr := fmt.Sprintf(":%d", a.config.HealthcheckPort)
	h.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.health = h

	go func() {
		logger.Info("🩺 Health check server starting", "address", fmt.Sprintf("http://localhost%s/health", addr))
		// ListenAndServe returns ErrServerClosed on graceful shutdown.
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health check server failed unexpectedly", "error", err)
		}
	}()
}

func (a *App) watchEngine(e *render.Engine) {
	if a.health != nil {
		a.health.engine.Store(e)
	}
}

func (a *App) closeHealthcheckServer(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	if a.health == nil {
		logger.Debug("Health check server was not running.")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	logger.Info("🩺 Shutting down health check server...")
	err := a.health.server.Shutdown(ctx)
	a.health = nil
	if err != nil {
		logger.Error("Health check server shutdown failed", "error", err)
		return err
	}
	logger.Debug("Health check server shut down gracefully.")
	return nil
}
