// rxpool runs the database and cache connection pools of a pharmacy
// operations backend and serves their status over HTTP.
//
// Usage:
//
//	rxpool [flags]
//
// Flags:
//
//	-config string
//	    Path to configuration file (default "rxpool.toml")
//	-listen string
//	    Status server address (overrides config)
//	-otel
//	    Send pool spans to the global OpenTelemetry tracer provider
//	-v
//	    Enable verbose logging
//	-version
//	    Print version and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pharmaops/rxpool/lib/cachepool"
	"github.com/pharmaops/rxpool/lib/config"
	"github.com/pharmaops/rxpool/lib/dbpool"
	apperrors "github.com/pharmaops/rxpool/lib/errors"
	"github.com/pharmaops/rxpool/lib/metrics"
	"github.com/pharmaops/rxpool/lib/resilience"
	"github.com/pharmaops/rxpool/lib/tracing"
	"github.com/pharmaops/rxpool/version"
)

func main() {
	os.Exit(run())
}

// managedPool is a pool as seen by the command.
type managedPool interface {
	statsSource
	Initialize(ctx context.Context) error
	Close(ctx context.Context) error
}

// backend is a pool plus the monitor that checks its server. monitor is
// nil when health checks are disabled for the section.
type backend struct {
	managedPool
	monitor *resilience.HealthMonitor
}

func run() int {
	configPath := flag.String("config", "rxpool.toml", "Path to configuration file")
	listen := flag.String("listen", "", "Status server address (overrides config)")
	useOTel := flag.Bool("otel", false, "Send pool spans to the global OpenTelemetry tracer provider")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "rxpool - connection pools for pharmacy operations\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  rxpool [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("rxpool version %s\n", version.Full())
		return 0
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.Status.Enabled = true
		cfg.Status.Listen = *listen
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}

	logger := newLogger(cfg.Log)
	metrics.RecordStartTime()

	var tracer tracing.Tracer
	if *useOTel {
		tracer = tracing.NewOTelTracer("github.com/pharmaops/rxpool")
	}

	pools, err := buildPools(cfg, tracer, logger)
	if err != nil {
		logger.Error("failed to create pools", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for name, b := range pools {
		if err := b.Initialize(ctx); err != nil {
			switch {
			case apperrors.IsUnavailable(err):
				logger.Warn("pool warm-up stopped by open breaker", "pool", name, "error", err)
			case apperrors.IsConnection(err):
				logger.Warn("pool warm-up could not reach backend", "pool", name, "error", err)
			default:
				logger.Warn("pool warm-up incomplete", "pool", name, "error", err)
			}
		}
		if b.monitor != nil {
			b.monitor.Start(ctx)
		}
	}

	var srv *http.Server
	serveErr := make(chan error, 1)
	if cfg.Status.Enabled {
		sources := make(map[string]statsSource, len(pools))
		monitors := make(map[string]healthSource)
		for name, b := range pools {
			sources[name] = b
			if b.monitor != nil {
				monitors[name] = b.monitor
			}
		}
		srv = &http.Server{
			Addr:              cfg.Status.Listen,
			Handler:           newStatusHandler(cfg.Service.Name, metrics.Default(), sources, monitors),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
		logger.Info("status server listening", "addr", cfg.Status.Listen)
	}

	logger.Info("rxpool started", "service", cfg.Service.Name, "version", version.Full(), "pools", len(pools))

	code := 0
	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
	case err := <-serveErr:
		logger.Error("status server failed", "error", err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout.Std())
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown error", "error", err)
		}
	}
	if err := closePools(shutdownCtx, pools); err != nil {
		logger.Error("shutdown error", "error", err)
		code = 1
	}

	logger.Info("rxpool stopped")
	return code
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// buildPools constructs one pool per enabled section, with a health
// monitor when the section's health interval is positive. Each pool is
// owned by the caller, which must close it with closePools.
func buildPools(cfg *config.Config, tracer tracing.Tracer, logger *slog.Logger) (map[string]*backend, error) {
	pools := make(map[string]*backend)

	if cfg.Database.Enabled {
		pc := cfg.Database.Pool.PoolConfig("database")
		pc.Tracer = tracer
		p, err := dbpool.New(cfg.Database.Options(), pc)
		if err != nil {
			return nil, fmt.Errorf("database pool: %w", err)
		}
		b := &backend{managedPool: p}
		if cfg.Database.Pool.Health.Interval > 0 {
			// A separate factory so checks never borrow a pooled client.
			f, err := dbpool.NewFactory(cfg.Database.Options())
			if err != nil {
				_ = p.Close(context.Background())
				return nil, fmt.Errorf("database health check: %w", err)
			}
			b.monitor = resilience.NewHealthMonitor("database", f.Ping, pc.Breaker, cfg.Database.Pool.Health.HealthConfig())
		}
		watchBreaker(logger, "database", pc.Breaker)
		pools["database"] = b
	}

	if cfg.Cache.Enabled {
		pc := cfg.Cache.Pool.PoolConfig("cache")
		pc.Tracer = tracer
		p, err := cachepool.New(cfg.Cache.Options(), pc)
		if err != nil {
			_ = closePools(context.Background(), pools)
			return nil, fmt.Errorf("cache pool: %w", err)
		}
		b := &backend{managedPool: p}
		if cfg.Cache.Pool.Health.Interval > 0 {
			f, err := cachepool.NewFactory(cfg.Cache.Options())
			if err != nil {
				_ = p.Close(context.Background())
				_ = closePools(context.Background(), pools)
				return nil, fmt.Errorf("cache health check: %w", err)
			}
			b.monitor = resilience.NewHealthMonitor("cache", f.Ping, pc.Breaker, cfg.Cache.Pool.Health.HealthConfig())
		}
		watchBreaker(logger, "cache", pc.Breaker)
		pools["cache"] = b
	}

	return pools, nil
}

// watchBreaker logs every transition of a pool's creation breaker.
func watchBreaker(logger *slog.Logger, name string, b *resilience.Breaker) {
	if b == nil || logger == nil {
		return
	}
	b.OnStateChange(func(from, to resilience.State) {
		level := slog.LevelInfo
		if to == resilience.StateOpen {
			level = slog.LevelWarn
		}
		logger.Log(context.Background(), level, "connection creation breaker changed state",
			"pool", name, "from", from.String(), "to", to.String())
	})
}

// closePools stops every health monitor, then closes every pool
// concurrently. Pools that were already closed are not an error.
func closePools(ctx context.Context, pools map[string]*backend) error {
	for _, b := range pools {
		if b.monitor != nil {
			b.monitor.Stop()
		}
	}

	var g errgroup.Group
	errs := make([]error, len(pools))
	i := 0
	for name, b := range pools {
		slot := i
		i++
		g.Go(func() error {
			if err := b.Close(ctx); err != nil && !apperrors.IsClosed(err) {
				errs[slot] = fmt.Errorf("closing %s pool: %w", name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return apperrors.Join(errs...)
}
