package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/KanavDutta/windowfence/cmd/demo/handlers"
	"github.com/KanavDutta/windowfence/middleware"
	"github.com/KanavDutta/windowfence/pkg/windowfence"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		port       string
		configFile string
	)

	cmd := &cobra.Command{
		Use:          "windowfence-demo",
		Short:        "Demo server protecting sample endpoints with windowfence",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := demoConfig(configFile)
			if err != nil {
				return err
			}

			logger := logrus.New()
			logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
				logger.SetLevel(level)
			}

			limiters, err := windowfence.Open(cfg, windowfence.WithLogger(logger))
			if err != nil {
				return err
			}
			defer limiters.Close()

			router, err := newRouter(cfg, limiters, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			printUsage(port)
			return listen(ctx, ":"+port, router, logger)
		},
	}

	cmd.Flags().StringVar(&port, "port", "8080", "port to run the server on")
	cmd.Flags().StringVar(&configFile, "config", "", "path to a YAML configuration file")
	return cmd
}

// demoConfig loads the file when given and otherwise uses small limits that
// are easy to hit by hand.
func demoConfig(path string) (*windowfence.Config, error) {
	if path != "" {
		return windowfence.LoadConfigFromFile(path)
	}

	cfg := windowfence.NewConfig()
	cfg.RateLimit.Limit = 10
	cfg.RateLimit.WindowSeconds = 60
	cfg.FailedLimit.Limit = 3
	cfg.FailedLimit.WindowSeconds = 60
	cfg.LogLevel = "debug"
	return cfg, nil
}

func newRouter(cfg *windowfence.Config, limiters *windowfence.Limiters, logger *logrus.Logger) (http.Handler, error) {
	extractor, err := middleware.ParseKeyExtractorConfig(cfg.KeyExtractor)
	if err != nil {
		return nil, err
	}
	mwConfig := middleware.Config{
		KeyExtractor: extractor,
		Logger:       logger,
	}

	r := chi.NewRouter()
	r.Get("/health", handlers.Health)
	r.Get("/", index)

	r.Route("/api", func(r chi.Router) {
		// Each path gets its own window per caller
		if limiters.Rate != nil {
			r.Use(middleware.RateLimit(limiters.Rate, mwConfig))
		}
		r.Get("/search", handlers.Search)
		r.Post("/create", handlers.Create)

		login := http.Handler(http.HandlerFunc(handlers.Login))
		if limiters.Failed != nil {
			login = middleware.Lockout(limiters.Failed, mwConfig)(login)
		}
		r.Method(http.MethodPost, "/login", login)
	})

	return r, nil
}

func index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, `WindowFence Demo Server

Available endpoints:
  GET  /health       - Health check (no rate limit)
  GET  /api/search   - Search endpoint (rate limited)
  POST /api/create   - Create resource (rate limited)
  POST /api/login    - Login endpoint (rate limited, locks out after repeated failures)

Rate limit headers:
  X-RateLimit-Limit     - Maximum requests allowed
  X-RateLimit-Remaining - Remaining requests in current window
  X-RateLimit-Reset     - Unix timestamp when the window ends
  Retry-After           - Seconds to wait (when rate limited)
`)
}

func printUsage(port string) {
	fmt.Printf(`WindowFence demo listening on http://localhost:%[1]s

Try these commands:
  curl http://localhost:%[1]s/api/search?q=golang
  curl -X POST http://localhost:%[1]s/api/login -d '{"username":"demo","password":"wrong"}'
  curl -X POST http://localhost:%[1]s/api/login -d '{"username":"demo","password":"%[2]s"}'

`, port, handlers.DemoPassword)
}

func listen(ctx context.Context, addr string, handler http.Handler, logger *logrus.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

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

	logger.Info("Shutting down demo server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
