package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/KanavDutta/windowfence/metrics"
	"github.com/KanavDutta/windowfence/pkg/windowfence"
)

const envPrefix = "WINDOWFENCE"

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "windowfence-server",
		Short: "Fixed window admission service",
		Long: `windowfence-server answers admission questions over HTTP.

Callers POST a client id (and optionally an endpoint) to /check for a request
rate decision, and use /lockout/* to count and clear failed attempts.
Limits are shared by every instance pointing at the same Redis server.

Configuration is read from a YAML file (--config) and can be overridden with
environment variables, e.g. WINDOWFENCE_RATE_LIMIT_LIMIT=50 or
WINDOWFENCE_STORE_BACKEND=redis.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, cfgFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, v.GetString("server.addr"), v.GetDuration("server.shutdown_timeout"))
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().Duration("shutdown-timeout", 10*time.Second, "time allowed for in-flight requests on shutdown")
	_ = v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("server.shutdown_timeout", cmd.Flags().Lookup("shutdown-timeout"))

	return cmd
}

// loadConfig layers the config file and WINDOWFENCE_* environment variables
// over the library defaults.
func loadConfig(v *viper.Viper, path string) (*windowfence.Config, error) {
	defaults := windowfence.NewConfig()
	defaults.Store.Redis = defaults.Store.Redis.WithDefaults()

	// Seeding viper with every default key lets AutomaticEnv override
	// settings the file does not mention.
	seed, err := yaml.Marshal(defaults)
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(seed)); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"rate_limit.status_code", "rate_limit.message",
		"failed_limit.status_code", "failed_limit.message",
		"store.redis.password", "store.redis.key_prefix",
		"store.atomic", "store.max_entries", "store.breaker.max_failures",
	} {
		_ = v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", windowfence.ErrInvalidConfig, path, err)
		}
	}

	cfg := windowfence.NewConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", windowfence.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(level string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", windowfence.ErrInvalidConfig, err)
	}
	logger.SetLevel(lvl)
	return logger, nil
}

func run(ctx context.Context, cfg *windowfence.Config, addr string, shutdownTimeout time.Duration) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	limiters, err := windowfence.Open(cfg, windowfence.WithLogger(logger), windowfence.WithMetrics(m))
	if err != nil {
		return err
	}
	defer func() {
		if err := limiters.Close(); err != nil {
			logger.WithError(err).Warn("Closing store failed")
		}
	}()

	if err := limiters.Ping(ctx); err != nil {
		logger.WithError(err).Warn("Store is not reachable yet")
	}

	logger.WithFields(logrus.Fields{
		"addr":         addr,
		"backend":      cfg.Store.Backend,
		"failure_mode": cfg.Store.FailureMode,
		"rate_limit":   fmt.Sprintf("%d/%ds", cfg.RateLimit.Limit, cfg.RateLimit.WindowSeconds),
		"failed_limit": fmt.Sprintf("%d/%ds", cfg.FailedLimit.Limit, cfg.FailedLimit.WindowSeconds),
	}).Info("Starting windowfence server")

	srv := newServer(addr, newRouter(limiters, m, reg, logger))
	return serve(ctx, srv, shutdownTimeout, logger)
}
