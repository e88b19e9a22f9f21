package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/KanavDutta/windowfence/api"
	"github.com/KanavDutta/windowfence/metrics"
	"github.com/KanavDutta/windowfence/pkg/windowfence"
)

const version = "1.0.0"

type pinger interface {
	Ping(ctx context.Context) error
}

func newRouter(limiters *windowfence.Limiters, m *metrics.Metrics, reg *prometheus.Registry, logger *logrus.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	api.NewHandler(limiters.Rate, limiters.Failed, logger).Mount(r)
	r.Handle("/stats", api.NewStatsHandler(m))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/health", healthHandler(limiters))
	r.Get("/", rootHandler)

	return r
}

func healthHandler(store pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status, code := "healthy", http.StatusOK
		if err := store.Ping(ctx); err != nil {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}

		writeJSON(w, code, map[string]string{
			"status":  status,
			"service": "windowfence",
			"version": version,
		})
	}
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "WindowFence Admission Service",
		"version": version,
		"endpoints": map[string]string{
			"POST /check":         "Check if a request is allowed",
			"POST /lockout/check": "Check if a caller is locked out",
			"POST /lockout/fail":  "Record a failed attempt",
			"POST /lockout/reset": "Clear recorded failures",
			"GET /stats":          "Decision statistics (JSON)",
			"GET /metrics":        "Prometheus metrics",
			"GET /health":         "Health check",
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func newServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// serve runs srv until ctx is canceled, then drains in-flight requests.
func serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, logger *logrus.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("HTTP server stopped")
	return nil
}
