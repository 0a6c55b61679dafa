package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/healsink/pkg/dialect"
	"github.com/ajitpratap0/healsink/pkg/evolution"
	"github.com/ajitpratap0/healsink/pkg/logger"
	"github.com/ajitpratap0/healsink/pkg/metrics"
	"github.com/ajitpratap0/healsink/pkg/record"
	"github.com/ajitpratap0/healsink/pkg/registry"
	"github.com/ajitpratap0/healsink/pkg/sinkerrors"
	"github.com/ajitpratap0/healsink/pkg/testutil"
)

func newMySQLWriter(t *testing.T, reg *registry.Registry, maxRemediations int) *Writer {
	t.Helper()
	log := zaptest.NewLogger(t)
	d := dialect.NewMySQL()
	engine := evolution.New(d, reg,
		evolution.WithLogger(log),
		evolution.WithTableOptions(dialect.TableOptions{Engine: "InnoDB", Charset: "utf8mb4"}))
	return NewWriter(d, engine, WriterConfig{
		Options:         dialect.WriteOptions{Upsert: true},
		MaxRemediations: maxRemediations,
		Logger:          log,
	})
}

func orderRecord() *record.Record {
	return &record.Record{
		Table: "orders",
		Fields: []record.Field{
			{Name: "id", Value: int64(1), Notes: "id"},
			{Name: "sku", Value: "A-1", Notes: "stock keeping unit"},
			{Name: "amount", Value: "10", Notes: "amount"},
			{Name: "product_url", Value: "https://example.com/a-1", Notes: "product page"},
		},
	}
}

func TestWriter_AddsMissingColumns(t *testing.T) {
	fake := testutil.NewFakeMySQL()
	fake.CreateTable("orders", "id", "bigint")
	w := newMySQLWriter(t, nil, 0)

	require.NoError(t, w.Write(context.Background(), fake, orderRecord()))

	alters := fake.ExecutedMatching("ALTER TABLE `orders` ADD COLUMN")
	require.Len(t, alters, 3)
	assert.Contains(t, alters[0], "COMMENT 'stock keeping unit'")
	assert.Len(t, fake.ExecutedMatching("INSERT INTO"), 4)
	assert.Equal(t, []string{"id", "sku", "amount", "product_url"}, fake.Columns("orders"))
	assert.Equal(t, 1, fake.Rows("orders"))

	typ, _ := fake.ColumnType("orders", "sku")
	assert.Equal(t, "varchar(190)", typ)
	typ, _ = fake.ColumnType("orders", "product_url")
	assert.Equal(t, "text", typ)

	// the schema now matches; a second write needs no DDL
	require.NoError(t, w.Write(context.Background(), fake, orderRecord()))
	assert.Len(t, fake.ExecutedMatching("ALTER TABLE"), 3)
}

func TestWriter_LogsCarryContext(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	d := dialect.NewMySQL()
	w := NewWriter(d, evolution.New(d, nil, evolution.WithLogger(zap.NewNop())), WriterConfig{
		Options: dialect.WriteOptions{Upsert: true},
		Logger:  zap.New(core),
	})
	fake := testutil.NewFakeMySQL()
	fake.CreateTable("orders", "id", "bigint")

	ctx := logger.ContextWith(context.Background(), logger.WorkerKey, "2")
	require.NoError(t, w.Write(ctx, fake, orderRecord()))

	done := logs.FilterMessage("write succeeded after remediation").All()
	require.Len(t, done, 1)
	fields := done[0].ContextMap()
	assert.Equal(t, "orders", fields["table"])
	assert.Equal(t, "2", fields["worker"])
	assert.Equal(t, int64(3), fields["cycles"])
}

func TestWriter_CreatesRegisteredTable(t *testing.T) {
	fake := testutil.NewFakeMySQL()
	reg, err := registry.New("", []registry.Entry{{Suffix: "orders", Notes: "Customer orders", Code: "ORD"}})
	require.NoError(t, err)
	w := newMySQLWriter(t, reg, 0)

	require.NoError(t, w.Write(context.Background(), fake, orderRecord()))

	creates := fake.ExecutedMatching("CREATE TABLE")
	require.Len(t, creates, 1)
	assert.Contains(t, creates[0], "COMMENT='ORD Customer orders'")
	assert.Contains(t, creates[0], "ENGINE=InnoDB")
	assert.Contains(t, creates[0], "COLLATE=utf8mb4_general_ci")
	assert.Equal(t, []string{"id", "sku", "amount", "product_url"}, fake.Columns("orders"))
}

func TestWriter_WidensColumns(t *testing.T) {
	tests := []struct {
		name     string
		declared string
		length   int
		want     string
	}{
		{name: "bounded to text", declared: "varchar(190)", length: 300, want: "text"},
		{name: "text to longtext", declared: "text", length: 70000, want: "longtext"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := testutil.NewFakeMySQL()
			fake.CreateTable("posts", "id", "bigint", "body", tt.declared)
			w := newMySQLWriter(t, nil, 0)

			rec := &record.Record{Table: "posts", Fields: []record.Field{
				{Name: "id", Value: int64(7)},
				{Name: "body", Value: strings.Repeat("x", tt.length), Notes: "post body"},
			}}
			require.NoError(t, w.Write(context.Background(), fake, rec))

			typ, _ := fake.ColumnType("posts", "body")
			assert.Equal(t, tt.want, typ)
			changes := fake.ExecutedMatching("ALTER TABLE `posts` CHANGE COLUMN")
			require.Len(t, changes, 1)
			assert.Contains(t, changes[0], "COMMENT 'post body'")
			assert.Equal(t, 1, fake.Rows("posts"))
		})
	}
}

func TestWriter_UnrecoverablePassesThrough(t *testing.T) {
	fake := testutil.NewFakeMySQL()
	fake.CreateTable("orders", "id", "bigint", "sku", "varchar(190)")
	raw := errors.New("Error 1452 (23000): Cannot add or update a child row: a foreign key constraint fails")
	fake.FailNext("INSERT", raw, 1)
	w := newMySQLWriter(t, nil, 0)

	before := promtestutil.ToFloat64(metrics.Writes.WithLabelValues("mysql", metrics.OutcomeUnrecoverable))
	beforeErrors := promtestutil.ToFloat64(metrics.StoreErrors.WithLabelValues("mysql", "unrecoverable"))
	err := w.Write(context.Background(), fake, &record.Record{Table: "orders", Fields: []record.Field{
		{Name: "id", Value: int64(1)},
		{Name: "sku", Value: "A-1"},
	}})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnrecoverable)
	assert.ErrorIs(t, err, raw)
	assert.True(t, sinkerrors.IsType(err, sinkerrors.ErrorTypeQuery))
	assert.Empty(t, fake.ExecutedMatching("ALTER"))
	assert.Empty(t, fake.ExecutedMatching("CREATE"))
	assert.Equal(t, before+1, promtestutil.ToFloat64(metrics.Writes.WithLabelValues("mysql", metrics.OutcomeUnrecoverable)))
	assert.Equal(t, beforeErrors+1, promtestutil.ToFloat64(metrics.StoreErrors.WithLabelValues("mysql", "unrecoverable")))
}

// racingExec applies every ADD COLUMN twice, as if another writer added the
// column between the failed insert and this remediation.
type racingExec struct {
	*testutil.FakeMySQL
}

func (r racingExec) Execute(ctx context.Context, stmt dialect.Statement) error {
	if strings.Contains(stmt.SQL, "ADD COLUMN") {
		_ = r.FakeMySQL.Execute(ctx, stmt)
	}
	return r.FakeMySQL.Execute(ctx, stmt)
}

func TestWriter_SwallowsAlreadyAppliedDDL(t *testing.T) {
	fake := testutil.NewFakeMySQL()
	fake.CreateTable("orders", "id", "bigint")
	w := newMySQLWriter(t, nil, 0)

	before := promtestutil.ToFloat64(metrics.SwallowedDDL.WithLabelValues("mysql"))
	require.NoError(t, w.Write(context.Background(), racingExec{fake}, orderRecord()))

	assert.Equal(t, 1, fake.Rows("orders"))
	assert.Equal(t, before+3, promtestutil.ToFloat64(metrics.SwallowedDDL.WithLabelValues("mysql")))
}

func TestWriter_DDLFailureAborts(t *testing.T) {
	fake := testutil.NewFakeMySQL()
	fake.CreateTable("orders", "id", "bigint")
	denied := errors.New("Error 1142 (42000): ALTER command denied to user 'sink'@'localhost' for table 'orders'")
	fake.FailNext("ALTER TABLE", denied, 1)
	w := newMySQLWriter(t, nil, 0)

	err := w.Write(context.Background(), fake, orderRecord())

	require.Error(t, err)
	assert.ErrorIs(t, err, denied)
	assert.True(t, sinkerrors.IsType(err, sinkerrors.ErrorTypeSchema))
	assert.NotErrorIs(t, err, ErrNotConverged)
	assert.Len(t, fake.ExecutedMatching("INSERT"), 1)
}

func TestWriter_RepeatedRemediationDoesNotConverge(t *testing.T) {
	fake := testutil.NewFakeMySQL()
	fake.CreateTable("posts", "id", "bigint", "body", "longtext")
	tooLong := errors.New("Error 1406 (22001): Data too long for column 'body' at row 1")
	fake.FailNext("INSERT", tooLong, 100)
	w := newMySQLWriter(t, nil, 0)

	err := w.Write(context.Background(), fake, &record.Record{Table: "posts", Fields: []record.Field{
		{Name: "id", Value: int64(1)},
		{Name: "body", Value: "short"},
	}})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConverged)
	assert.ErrorIs(t, err, tooLong)
	assert.True(t, sinkerrors.IsType(err, sinkerrors.ErrorTypeSchema))
	// LONGTEXT widens to itself once; the second identical attempt aborts
	assert.Len(t, fake.ExecutedMatching("ALTER TABLE `posts` CHANGE COLUMN"), 2)
	assert.Len(t, fake.ExecutedMatching("INSERT"), 2)
}

func TestWriter_CeilingStopsRemediation(t *testing.T) {
	fake := testutil.NewFakeMySQL()
	fake.CreateTable("orders", "id", "bigint")
	w := newMySQLWriter(t, nil, 1)

	err := w.Write(context.Background(), fake, orderRecord())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConverged)
	assert.Len(t, fake.ExecutedMatching("ALTER TABLE"), 1)
	assert.Equal(t, 0, fake.Rows("orders"))
}

func TestWriter_Ceiling(t *testing.T) {
	rec := orderRecord()
	assert.Equal(t, 2*len(rec.Fields)+3, newMySQLWriter(t, nil, 0).Ceiling(rec))
	assert.Equal(t, 4, newMySQLWriter(t, nil, 4).Ceiling(rec))
}

func TestWriter_RejectsInvalidRecords(t *testing.T) {
	fake := testutil.NewFakeMySQL()
	w := newMySQLWriter(t, nil, 0)

	tests := []struct {
		name string
		rec  *record.Record
	}{
		{name: "no table", rec: &record.Record{Fields: []record.Field{{Name: "id", Value: 1}}}},
		{name: "no fields", rec: &record.Record{Table: "orders"}},
		{name: "duplicate field", rec: &record.Record{Table: "orders", Fields: []record.Field{
			{Name: "id", Value: 1}, {Name: "id", Value: 2},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := w.Write(context.Background(), fake, tt.rec)
			require.Error(t, err)
			assert.True(t, sinkerrors.IsType(err, sinkerrors.ErrorTypeValidation))
		})
	}
	assert.Empty(t, fake.Executed())
}

func TestWriter_CancelledContext(t *testing.T) {
	fake := testutil.NewFakeMySQL()
	fake.CreateTable("orders", "id", "bigint")
	w := newMySQLWriter(t, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Write(ctx, fake, orderRecord())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrUnrecoverable)
}
