// Package evolution maps a classified store error to the DDL that removes
// it. The engine never retries the failed write itself; the write
// orchestrator does that after a successful remediation.
//
// Remedies by kind:
//
//	UnknownColumn          ADD COLUMN with a name-derived type and the field notes
//	MissingTable           CREATE TABLE from the registry, or a bare table
//	ValueTooLong/Truncated widen the column one step
//	MissingConflictTarget  unique index on the record's conflict key
//	Unrecoverable          ErrUnrecoverable, no DDL
package evolution

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ajitpratap0/healsink/pkg/classify"
	"github.com/ajitpratap0/healsink/pkg/clients"
	"github.com/ajitpratap0/healsink/pkg/dialect"
	"github.com/ajitpratap0/healsink/pkg/logger"
	"github.com/ajitpratap0/healsink/pkg/metrics"
	"github.com/ajitpratap0/healsink/pkg/observability"
	"github.com/ajitpratap0/healsink/pkg/record"
	"github.com/ajitpratap0/healsink/pkg/registry"
	"github.com/ajitpratap0/healsink/pkg/sinkerrors"
)

// ErrUnrecoverable marks a store error no remediation exists for.
var ErrUnrecoverable = errors.New("unrecoverable store error")

var declaredLength = regexp.MustCompile(`\((\d+)\)`)

// Remediation describes the corrective action taken for one error.
type Remediation struct {
	Kind   classify.Kind
	Table  string
	Column string
	// Key identifies the defect; the same key twice in one write means the
	// remediation did not take effect.
	Key        string
	Statements []dialect.Statement
	// Swallowed counts statements that failed only because the change
	// already existed.
	Swallowed int
}

// Engine applies schema remediations through an executor.
type Engine struct {
	dialect   dialect.Dialect
	registry  *registry.Registry
	tableOpts dialect.TableOptions
	logger    *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTableOptions sets the engine, charset and collation used for created
// tables.
func WithTableOptions(opts dialect.TableOptions) Option {
	return func(e *Engine) { e.tableOpts = opts }
}

// New creates an engine. A nil registry provisions only bare tables.
func New(d dialect.Dialect, reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{dialect: d, registry: reg}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = registry.Empty()
	}
	e.logger = logger.OrGlobal(e.logger).With(
		zap.String("component", "evolution"),
		zap.String("dialect", d.Name()))
	return e
}

// Remedy applies the DDL that resolves cl for rec. Statements that fail
// because the change already exists count as success.
func (e *Engine) Remedy(ctx context.Context, exec clients.Executor, cl classify.Classification, rec *record.Record) (rem Remediation, err error) {
	ctx, span := observability.StartSpan(ctx, "healsink.remedy")
	span.SetAttribute("kind", cl.Kind.String())
	span.SetAttribute("table", rec.Table)
	defer func() {
		span.SetAttribute("column", rem.Column)
		span.SetAttribute("statements", len(rem.Statements))
		span.Finish(err)
	}()

	rem = Remediation{Kind: cl.Kind, Table: rec.Table, Column: cl.Column}

	switch cl.Kind {
	case classify.UnknownColumn:
		err = e.addColumn(ctx, exec, rec, &rem)
	case classify.MissingTable:
		err = e.createTable(ctx, exec, rec, &rem)
	case classify.ValueTooLong, classify.ValueTruncated:
		err = e.widenColumn(ctx, exec, rec, &rem)
	case classify.MissingConflictTarget:
		err = e.uniqueIndex(ctx, exec, rec, &rem)
	default:
		return rem, sinkerrors.Wrap(ErrUnrecoverable, sinkerrors.ErrorTypeQuery, "no remediation for store error").
			WithDetail("raw", cl.Raw)
	}
	if err != nil {
		return rem, err
	}

	metrics.Remediations.WithLabelValues(e.dialect.Name(), cl.Kind.String()).Inc()
	return rem, nil
}

func (e *Engine) addColumn(ctx context.Context, exec clients.Executor, rec *record.Record, rem *Remediation) error {
	if rem.Column == "" {
		return sinkerrors.Wrap(ErrUnrecoverable, sinkerrors.ErrorTypeQuery, "unknown column error names no column")
	}
	notes := rec.Notes(rem.Column)
	rem.Key = key(rem.Kind, rem.Table, rem.Column, "")
	rem.Statements = e.dialect.BuildAddColumn(rem.Table, rem.Column, notes)
	if err := e.apply(ctx, exec, rem); err != nil {
		return err
	}
	e.logger.Info("added column",
		zap.String("table", rem.Table),
		zap.String("column", rem.Column),
		zap.String("notes", notes))

	if rec.HasCustomConflictKey() && rec.InConflictKey(rem.Column) {
		e.bestEffortIndex(ctx, exec, rec)
	}
	return nil
}

// bestEffortIndex creates the conflict-key index after one of its columns
// was added. It fails while other key columns are still missing; the index
// is then retried when the last one is added.
func (e *Engine) bestEffortIndex(ctx context.Context, exec clients.Executor, rec *record.Record) {
	cols := rec.ConflictColumns()
	idx := Remediation{Kind: classify.MissingConflictTarget, Table: rec.Table,
		Statements: e.dialect.BuildUniqueIndex(rec.Table, cols)}
	if err := e.apply(ctx, exec, &idx); err != nil {
		e.logger.Warn("could not create conflict key index",
			zap.String("table", rec.Table),
			zap.Strings("columns", cols),
			zap.Error(err))
		return
	}
	e.logger.Info("created unique index",
		zap.String("table", rec.Table),
		zap.Strings("columns", cols))
}

func (e *Engine) createTable(ctx context.Context, exec clients.Executor, rec *record.Record, rem *Remediation) error {
	desc := e.registry.Describe(rec.Table, rec.TableNotes)
	rem.Key = key(rem.Kind, rem.Table, "", "")
	rem.Statements = e.dialect.BuildCreateTable(desc, e.tableOpts)
	if err := e.apply(ctx, exec, rem); err != nil {
		return err
	}

	_, registered := e.registry.Lookup(rec.Table)
	e.logger.Info("created table",
		zap.String("table", rec.Table),
		zap.String("comment", desc.Comment()),
		zap.Bool("registered", registered))
	return nil
}

func (e *Engine) widenColumn(ctx context.Context, exec clients.Executor, rec *record.Record, rem *Remediation) error {
	var currentType string
	if rem.Column == "" {
		col, typ, err := e.locateOverflow(ctx, exec, rec)
		if err != nil {
			return err
		}
		rem.Column, currentType = col, typ
	} else {
		typ, err := exec.QueryString(ctx, e.dialect.ColumnTypeQuery(rem.Table, rem.Column))
		if err != nil {
			return sinkerrors.Wrap(err, sinkerrors.ErrorTypeSchema, "failed to read declared column type").
				WithDetail("table", rem.Table).
				WithDetail("column", rem.Column)
		}
		currentType = typ
	}

	stmts, err := e.dialect.BuildWidenColumn(rem.Table, rem.Column, currentType, rec.Notes(rem.Column))
	if err != nil {
		return err
	}
	rem.Key = key(rem.Kind, rem.Table, rem.Column, currentType)
	rem.Statements = stmts
	if err := e.apply(ctx, exec, rem); err != nil {
		return err
	}
	e.logger.Info("widened column",
		zap.String("table", rem.Table),
		zap.String("column", rem.Column),
		zap.String("from", currentType))
	return nil
}

// locateOverflow finds the first string field longer than its column's
// declared length, for stores whose error does not name the column.
func (e *Engine) locateOverflow(ctx context.Context, exec clients.Executor, rec *record.Record) (string, string, error) {
	for _, f := range rec.Fields {
		n, ok := stringLen(f.Value)
		if !ok {
			continue
		}
		typ, err := exec.QueryString(ctx, e.dialect.ColumnTypeQuery(rec.Table, f.Name))
		if err != nil {
			continue
		}
		m := declaredLength.FindStringSubmatch(typ)
		if m == nil {
			continue
		}
		limit, err := strconv.Atoi(m[1])
		if err == nil && n > limit {
			return f.Name, typ, nil
		}
	}
	return "", "", sinkerrors.Wrap(ErrUnrecoverable, sinkerrors.ErrorTypeSchema, "no field exceeds its declared column length").
		WithDetail("table", rec.Table)
}

func stringLen(v any) (int, bool) {
	switch s := v.(type) {
	case string:
		return utf8.RuneCountInString(s), true
	case []byte:
		return utf8.RuneCount(s), true
	}
	return 0, false
}

func (e *Engine) uniqueIndex(ctx context.Context, exec clients.Executor, rec *record.Record, rem *Remediation) error {
	cols := rec.ConflictColumns()
	rem.Key = key(rem.Kind, rem.Table, fmt.Sprint(cols), "")
	rem.Statements = e.dialect.BuildUniqueIndex(rem.Table, cols)
	if err := e.apply(ctx, exec, rem); err != nil {
		return err
	}
	e.logger.Info("created unique index",
		zap.String("table", rem.Table),
		zap.Strings("columns", cols))
	return nil
}

func (e *Engine) apply(ctx context.Context, exec clients.Executor, rem *Remediation) error {
	classifier := e.dialect.Classifier()
	for _, stmt := range rem.Statements {
		err := exec.Execute(ctx, stmt)
		if err == nil {
			continue
		}
		if classifier.AlreadyApplied(err.Error()) {
			rem.Swallowed++
			metrics.SwallowedDDL.WithLabelValues(e.dialect.Name()).Inc()
			e.logger.Info("schema change already applied",
				zap.String("table", rem.Table),
				zap.String("sql", stmt.SQL),
				zap.Error(err))
			continue
		}
		return sinkerrors.Wrap(err, sinkerrors.ErrorTypeSchema, "schema remediation failed").
			WithDetail("kind", rem.Kind.String()).
			WithDetail("table", rem.Table).
			WithDetail("sql", stmt.SQL)
	}
	return nil
}

func key(kind classify.Kind, table, column, currentType string) string {
	return kind.String() + "|" + table + "|" + column + "|" + currentType
}
