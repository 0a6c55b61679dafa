package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ajitpratap0/healsink/pkg/classify"
	"github.com/ajitpratap0/healsink/pkg/clients"
	"github.com/ajitpratap0/healsink/pkg/dialect"
	"github.com/ajitpratap0/healsink/pkg/evolution"
	"github.com/ajitpratap0/healsink/pkg/logger"
	"github.com/ajitpratap0/healsink/pkg/metrics"
	"github.com/ajitpratap0/healsink/pkg/observability"
	"github.com/ajitpratap0/healsink/pkg/record"
	"github.com/ajitpratap0/healsink/pkg/sinkerrors"
)

var (
	// ErrUnrecoverable marks a store error no remediation exists for.
	ErrUnrecoverable = evolution.ErrUnrecoverable
	// ErrNotConverged marks a write whose remediations stopped making
	// progress or exceeded the cycle ceiling.
	ErrNotConverged = errors.New("schema remediation did not converge")
	// ErrClosed is returned for submissions after Close.
	ErrClosed = errors.New("strategy is closed")
)

// WriterConfig configures a Writer.
type WriterConfig struct {
	// Options shape the upsert statement
	Options dialect.WriteOptions
	// MaxRemediations caps corrective cycles per write; zero derives the
	// ceiling from the record
	MaxRemediations int
	Logger          *zap.Logger
}

// Writer performs one self-healing upsert at a time. It holds no per-write
// state and is safe for concurrent use.
type Writer struct {
	dialect         dialect.Dialect
	engine          *evolution.Engine
	opts            dialect.WriteOptions
	maxRemediations int
	logger          *zap.Logger
}

// NewWriter creates a writer.
func NewWriter(d dialect.Dialect, engine *evolution.Engine, cfg WriterConfig) *Writer {
	return &Writer{
		dialect:         d,
		engine:          engine,
		opts:            cfg.Options,
		maxRemediations: cfg.MaxRemediations,
		logger:          logger.OrGlobal(cfg.Logger).With(zap.String("component", "writer")),
	}
}

// Ceiling returns the maximum number of remediations a write of rec may
// apply.
func (w *Writer) Ceiling(rec *record.Record) int {
	if w.maxRemediations > 0 {
		return w.maxRemediations
	}
	return 2*len(rec.Fields) + 3
}

// Write upserts rec through exec, remedying schema mismatches until the
// statement succeeds.
func (w *Writer) Write(ctx context.Context, exec clients.Executor, rec *record.Record) (err error) {
	if err := rec.Validate(); err != nil {
		return err
	}

	ctx, span := observability.StartSpan(ctx, "healsink.write")
	span.SetAttribute("table", rec.Table)
	span.SetAttribute("dialect", w.dialect.Name())

	ctx = logger.ContextWith(ctx, logger.TableKey, rec.Table)
	log := logger.FromContext(ctx, w.logger)
	timer := metrics.NewTimer()
	cycles := 0
	defer func() {
		span.SetAttribute("cycles", cycles)
		span.Finish(err)
		metrics.Writes.WithLabelValues(w.dialect.Name(), outcome(err)).Inc()
		metrics.RemediationCycles.WithLabelValues(w.dialect.Name()).Observe(float64(cycles))
		metrics.WriteLatency.WithLabelValues(w.dialect.Name()).Observe(timer.Stop().Seconds())
	}()

	classifier := w.dialect.Classifier()
	limit := w.Ceiling(rec)
	applied := make(map[string]struct{})

	for {
		stmt := w.dialect.BuildUpsert(rec, w.opts)
		execErr := exec.Execute(ctx, stmt)
		if execErr == nil {
			if cycles > 0 {
				log.Debug("write succeeded after remediation", zap.Int("cycles", cycles))
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return sinkerrors.Wrap(errors.Join(ctxErr, execErr), sinkerrors.ErrorTypeQuery, "write cancelled").
				WithDetail("table", rec.Table)
		}

		cl := classifier.ClassifyError(execErr)
		metrics.StoreErrors.WithLabelValues(w.dialect.Name(), cl.Kind.String()).Inc()
		if !cl.Recoverable() {
			log.Error("unrecoverable store error",
				zap.Any("fields", rec.FieldMap()),
				zap.String("raw", cl.Raw))
			return sinkerrors.Wrap(fmt.Errorf("%w: %w", ErrUnrecoverable, execErr), sinkerrors.ErrorTypeQuery, "write failed").
				WithDetail("table", rec.Table)
		}
		if cycles >= limit {
			return w.notConverged(log, rec, cl, execErr, "remediation ceiling reached", limit)
		}

		rem, remErr := w.engine.Remedy(ctx, exec, cl, rec)
		if remErr != nil {
			log.Error("schema remediation failed",
				zap.String("kind", cl.Kind.String()),
				zap.String("raw", cl.Raw),
				zap.Error(remErr))
			return sinkerrors.Wrap(errors.Join(remErr, execErr), sinkerrors.TypeOf(remErr), "write failed").
				WithDetail("table", rec.Table).
				WithDetail("kind", cl.Kind.String())
		}
		if _, seen := applied[rem.Key]; seen {
			return w.notConverged(log, rec, cl, execErr, "remediation repeated without effect", limit)
		}
		applied[rem.Key] = struct{}{}
		cycles++

		span.AddEvent("remediation")
		log.Debug("remediated, retrying write",
			zap.String("kind", rem.Kind.String()),
			zap.String("column", rem.Column),
			zap.Int("cycle", cycles))
	}
}

func (w *Writer) notConverged(log *zap.Logger, rec *record.Record, cl classify.Classification, execErr error, reason string, limit int) error {
	log.Error("write did not converge",
		zap.String("reason", reason),
		zap.String("kind", cl.Kind.String()),
		zap.String("column", cl.Column),
		zap.Int("ceiling", limit),
		zap.String("raw", cl.Raw))
	return sinkerrors.Wrap(fmt.Errorf("%w: %w", ErrNotConverged, execErr), sinkerrors.ErrorTypeSchema, reason).
		WithDetail("table", rec.Table).
		WithDetail("kind", cl.Kind.String())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrUnrecoverable):
		return metrics.OutcomeUnrecoverable
	case errors.Is(err, ErrNotConverged):
		return metrics.OutcomeNotConverged
	}
	return metrics.OutcomeError
}
