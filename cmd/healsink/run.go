package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/healsink/internal/ingest"
	"github.com/ajitpratap0/healsink/pkg/config"
	"github.com/ajitpratap0/healsink/pkg/logger"
	"github.com/ajitpratap0/healsink/pkg/metrics"
	"github.com/ajitpratap0/healsink/pkg/observability"
	"github.com/ajitpratap0/healsink/pkg/pipeline"
)

type runOptions struct {
	configFile     string
	input          string
	stopOnError    bool
	reportInterval time.Duration
	strategy       string
	workers        int
	logLevel       string
}

func (o runOptions) apply(cfg *config.Config) {
	if o.strategy != "" {
		cfg.Write.Strategy = o.strategy
	}
	if o.workers > 0 {
		cfg.Write.Workers = o.workers
	}
	if o.logLevel != "" {
		cfg.Observability.LogLevel = o.logLevel
	}
}

func runIngest(ctx context.Context, opts runOptions) error {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	opts.apply(cfg)

	if err := logger.Init(logger.Config{
		Level:    cfg.Observability.LogLevel,
		Encoding: cfg.Observability.LogEncoding,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.With(
		zap.String("component", "healsink-cli"),
		zap.String("pipeline", cfg.Name),
		zap.String("dialect", cfg.Store.Dialect))

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.EnableTracing {
		shutdown, err := observability.Init(observability.TracingConfig{
			ServiceName:    "healsink",
			ServiceVersion: version,
			SamplingRate:   cfg.Observability.TracingSampleRate,
			Writer:         os.Stderr,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn("tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	if cfg.Observability.EnableMetrics {
		srv := serveMetrics(cfg.Observability.MetricsAddr, log)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	src, closeSrc, err := openInput(opts.input)
	if err != nil {
		return err
	}
	defer closeSrc()

	p, err := pipeline.New(ctx, cfg, pipeline.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	log.Info("starting ingest",
		zap.String("input", opts.input),
		zap.String("strategy", p.Strategy().Name()))

	runner := ingest.NewRunner(p, ingest.Config{
		Name:           cfg.Name,
		StopOnError:    opts.stopOnError,
		ReportInterval: opts.reportInterval,
		Logger:         log,
	})
	stats, runErr := runner.Run(ctx, src)

	// the run context may already be cancelled by a signal; shutdown gets
	// its own deadline from the configuration
	closeErr := p.Close(context.Background())

	log.Info("ingest complete",
		zap.Int64("written", stats.Written),
		zap.Int64("failed", stats.Failed),
		zap.Duration("duration", stats.Duration))

	if err := errors.Join(runErr, closeErr); err != nil {
		return err
	}
	if stats.Failed > 0 || stats.Malformed > 0 {
		return fmt.Errorf("%d of %d items were not written", stats.Failed+stats.Malformed, stats.Read+stats.Malformed)
	}
	return nil
}

func serveMetrics(addr string, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
