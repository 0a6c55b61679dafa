package ingest

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/healsink/pkg/logger"
	"github.com/ajitpratap0/healsink/pkg/metrics"
	"github.com/ajitpratap0/healsink/pkg/pipeline"
)

// Sink accepts items for writing. *pipeline.Pipeline implements it.
type Sink interface {
	Process(ctx context.Context, item any) *pipeline.Future
}

// Transform modifies an item before it is written. Returning a nil item
// drops it. Transforms run in the order they were added.
type Transform func(ctx context.Context, item map[string]any) (map[string]any, error)

// Config configures a Runner.
type Config struct {
	// Name labels the throughput gauge
	Name string
	// StopOnError aborts the run at the first failed or malformed item
	StopOnError bool
	// InFlight bounds submitted writes whose result is not yet collected
	InFlight int
	// ReportInterval is how often progress is logged; zero disables it
	ReportInterval time.Duration
	Logger         *zap.Logger
}

// Stats summarises a run.
type Stats struct {
	Read      int64
	Dropped   int64
	Malformed int64
	Written   int64
	Failed    int64
	Duration  time.Duration
}

// Runner streams items from a JSONL source into a Sink.
type Runner struct {
	sink       Sink
	cfg        Config
	transforms []Transform
	throughput *metrics.ThroughputTracker
	logger     *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// NewRunner creates a runner writing to sink.
func NewRunner(sink Sink, cfg Config) *Runner {
	if cfg.InFlight <= 0 {
		cfg.InFlight = 1024
	}
	return &Runner{
		sink:       sink,
		cfg:        cfg,
		throughput: metrics.NewThroughputTracker(cfg.Name),
		logger:     logger.OrGlobal(cfg.Logger).With(zap.String("component", "ingest")),
	}
}

// AddTransform appends a transform.
func (r *Runner) AddTransform(t Transform) {
	r.transforms = append(r.transforms, t)
}

// Run reads src to the end and waits for every submitted write. Write
// failures are counted and logged; with StopOnError the first one (or the
// first malformed line) ends the run with that error.
func (r *Runner) Run(ctx context.Context, src io.Reader) (Stats, error) {
	start := time.Now()
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	futures := make(chan *pipeline.Future, r.cfg.InFlight)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.collect(ctx, futures, cancel)
	}()

	stopReport := r.startReporting()
	readErr := r.read(ctx, NewReader(src), futures, cancel)
	close(futures)
	wg.Wait()
	stopReport()

	r.mu.Lock()
	r.stats.Duration = time.Since(start)
	stats := r.stats
	r.mu.Unlock()

	r.logger.Info("ingest finished",
		zap.Int64("read", stats.Read),
		zap.Int64("written", stats.Written),
		zap.Int64("failed", stats.Failed),
		zap.Int64("malformed", stats.Malformed),
		zap.Int64("dropped", stats.Dropped),
		zap.Duration("duration", stats.Duration))

	if readErr != nil {
		return stats, readErr
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return stats, cause
	}
	return stats, nil
}

func (r *Runner) read(ctx context.Context, reader *Reader, futures chan<- *pipeline.Future, cancel context.CancelCauseFunc) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		item, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		var lineErr *LineError
		if errors.As(err, &lineErr) {
			r.add(func(s *Stats) { s.Malformed++ })
			r.logger.Warn("skipping malformed line", zap.Int("line", lineErr.Line), zap.Error(lineErr.Err))
			if r.cfg.StopOnError {
				cancel(lineErr)
				return nil
			}
			continue
		}
		if err != nil {
			return err
		}
		r.add(func(s *Stats) { s.Read++ })

		item, err = r.apply(ctx, item)
		if err != nil {
			r.add(func(s *Stats) { s.Failed++ })
			r.logger.Warn("transform failed", zap.Int("line", reader.Line()), zap.Error(err))
			if r.cfg.StopOnError {
				cancel(err)
				return nil
			}
			continue
		}
		if item == nil {
			r.add(func(s *Stats) { s.Dropped++ })
			continue
		}

		select {
		case futures <- r.sink.Process(ctx, item):
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Runner) apply(ctx context.Context, item map[string]any) (map[string]any, error) {
	var err error
	for _, t := range r.transforms {
		if item, err = t(ctx, item); err != nil || item == nil {
			return nil, err
		}
	}
	return item, nil
}

func (r *Runner) collect(ctx context.Context, futures <-chan *pipeline.Future, cancel context.CancelCauseFunc) {
	for f := range futures {
		// writes outlive a stop request; their results are still counted
		err := f.Wait(context.WithoutCancel(ctx))
		if err == nil {
			r.add(func(s *Stats) { s.Written++ })
			r.throughput.Increment(1)
			continue
		}
		r.add(func(s *Stats) { s.Failed++ })
		table := ""
		if rec := f.Record(); rec != nil {
			table = rec.Table
		}
		r.logger.Error("write failed", zap.String("table", table), zap.Error(err))
		if r.cfg.StopOnError {
			cancel(err)
		}
	}
}

func (r *Runner) startReporting() func() {
	if r.cfg.ReportInterval <= 0 {
		return func() {}
	}
	ticker := time.NewTicker(r.cfg.ReportInterval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s := r.Stats()
				r.logger.Info("ingest progress",
					zap.Int64("written", s.Written),
					zap.Int64("failed", s.Failed),
					zap.Float64("records_per_second", r.throughput.GetAndReset()))
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}

func (r *Runner) add(f func(*Stats)) {
	r.mu.Lock()
	f(&r.stats)
	r.mu.Unlock()
}

// Stats returns a snapshot of the running totals.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
