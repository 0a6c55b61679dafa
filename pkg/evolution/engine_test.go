package evolution

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/healsink/pkg/classify"
	"github.com/ajitpratap0/healsink/pkg/dialect"
	"github.com/ajitpratap0/healsink/pkg/record"
	"github.com/ajitpratap0/healsink/pkg/registry"
	"github.com/ajitpratap0/healsink/pkg/sinkerrors"
	"github.com/ajitpratap0/healsink/pkg/testutil"
)

func newEngine(t *testing.T, d dialect.Dialect, reg *registry.Registry) *Engine {
	return New(d, reg, WithLogger(testutil.TestLogger(t)), WithTableOptions(dialect.TableOptions{Engine: "InnoDB", Charset: "utf8mb4"}))
}

func orders() *record.Record {
	return &record.Record{
		Table: "orders",
		Fields: []record.Field{
			{Name: "order_id", Value: "O-1", Notes: "order number"},
			{Name: "amount", Value: "9.99", Notes: "order amount"},
		},
		ConflictKey: []string{"order_id"},
	}
}

func TestRemedyUnknownColumn(t *testing.T) {
	store := testutil.NewFakeMySQL()
	store.CreateTable("orders", "id", "bigint", "order_id", "varchar(190)")
	e := newEngine(t, dialect.NewMySQL(), nil)

	cl := dialect.NewMySQL().Classifier().Classify("Error 1054 (42S22): Unknown column 'amount' in 'field list'")
	rem, err := e.Remedy(context.Background(), store, cl, orders())
	require.NoError(t, err)

	assert.Equal(t, classify.UnknownColumn, rem.Kind)
	assert.Equal(t, "orders", rem.Table)
	assert.Equal(t, "amount", rem.Column)
	assert.Equal(t, "unknown_column|orders|amount|", rem.Key)
	require.Len(t, rem.Statements, 1)
	assert.Contains(t, rem.Statements[0].SQL, "COMMENT 'order amount'")

	typ, ok := store.ColumnType("orders", "amount")
	require.True(t, ok)
	assert.Equal(t, "varchar(190)", typ)
	assert.Empty(t, store.ExecutedMatching("CREATE UNIQUE INDEX"))
}

func TestRemedyConflictKeyColumnAddsIndex(t *testing.T) {
	store := testutil.NewFakeMySQL()
	store.CreateTable("orders", "id", "bigint")
	e := newEngine(t, dialect.NewMySQL(), nil)

	cl := classify.Classification{Kind: classify.UnknownColumn, Column: "order_id"}
	_, err := e.Remedy(context.Background(), store, cl, orders())
	require.NoError(t, err)

	assert.True(t, store.HasIndex("orders", "uk_orders_order_id"))
}

func TestRemedyIndexFailureIsBestEffort(t *testing.T) {
	store := testutil.NewFakeMySQL()
	store.CreateTable("orders", "id", "bigint")
	store.FailNext("CREATE UNIQUE INDEX", errors.New("Error 1062 (23000): Duplicate entry 'O-1' for key"), 1)
	e := newEngine(t, dialect.NewMySQL(), nil)

	cl := classify.Classification{Kind: classify.UnknownColumn, Column: "order_id"}
	_, err := e.Remedy(context.Background(), store, cl, orders())
	require.NoError(t, err)
	assert.False(t, store.HasIndex("orders", "uk_orders_order_id"))
}

func TestRemedyMissingTable(t *testing.T) {
	reg, err := registry.New("crawl_", []registry.Entry{{Suffix: "orders", Notes: "customer orders", Code: "OPS-12"}})
	require.NoError(t, err)

	t.Run("registered", func(t *testing.T) {
		store := testutil.NewFakeMySQL()
		rec := orders()
		rec.Table = "crawl_orders"

		cl := dialect.NewMySQL().Classifier().Classify("Error 1146 (42S02): Table 'shop.crawl_orders' doesn't exist")
		rem, err := newEngine(t, dialect.NewMySQL(), reg).Remedy(context.Background(), store, cl, rec)
		require.NoError(t, err)

		assert.Equal(t, "missing_table|crawl_orders||", rem.Key)
		assert.Contains(t, rem.Statements[0].SQL, "COMMENT='OPS-12 customer orders'")
		assert.Contains(t, rem.Statements[0].SQL, "ENGINE=InnoDB")
		assert.Equal(t, []string{"id"}, store.Columns("crawl_orders"))
	})

	t.Run("bare", func(t *testing.T) {
		store := testutil.NewFakeMySQL()
		rec := orders()
		rec.TableNotes = "ad hoc"

		cl := classify.Classification{Kind: classify.MissingTable, Table: "orders"}
		rem, err := newEngine(t, dialect.NewMySQL(), reg).Remedy(context.Background(), store, cl, rec)
		require.NoError(t, err)
		assert.Contains(t, rem.Statements[0].SQL, "COMMENT='ad hoc'")
		assert.Equal(t, []string{"id"}, store.Columns("orders"))
	})
}

func TestRemedyWidenIsMonotonic(t *testing.T) {
	store := testutil.NewFakeMySQL()
	store.CreateTable("pages", "id", "bigint", "title", "varchar(190)")
	e := newEngine(t, dialect.NewMySQL(), nil)
	rec := &record.Record{Table: "pages", Fields: []record.Field{{Name: "title", Value: "x", Notes: "title"}}}
	cl := classify.Classification{Kind: classify.ValueTooLong, Column: "title"}

	rem, err := e.Remedy(context.Background(), store, cl, rec)
	require.NoError(t, err)
	assert.Equal(t, "value_too_long|pages|title|varchar(190)", rem.Key)
	typ, _ := store.ColumnType("pages", "title")
	assert.Equal(t, "text", typ)

	rem, err = e.Remedy(context.Background(), store, cl, rec)
	require.NoError(t, err)
	assert.Equal(t, "value_too_long|pages|title|text", rem.Key)
	typ, _ = store.ColumnType("pages", "title")
	assert.Equal(t, "longtext", typ)
}

func TestRemedyWidenUnknownColumnType(t *testing.T) {
	store := testutil.NewFakeMySQL()
	store.CreateTable("pages", "id", "bigint")
	e := newEngine(t, dialect.NewMySQL(), nil)
	rec := &record.Record{Table: "pages", Fields: []record.Field{{Name: "title", Value: "x"}}}

	_, err := e.Remedy(context.Background(), store, classify.Classification{Kind: classify.ValueTruncated, Column: "title"}, rec)
	require.Error(t, err)
	assert.True(t, sinkerrors.IsType(err, sinkerrors.ErrorTypeSchema))
}

// pgTypes answers column type queries for the postgres dialect.
type pgTypes struct {
	types    map[string]string
	executed []string
}

func (p *pgTypes) Execute(_ context.Context, stmt dialect.Statement) error {
	p.executed = append(p.executed, stmt.SQL)
	return nil
}

func (p *pgTypes) QueryString(_ context.Context, stmt dialect.Statement) (string, error) {
	typ, ok := p.types[stmt.Args[1].(string)]
	if !ok {
		return "", errors.New("no rows")
	}
	return typ, nil
}

func TestRemedyLocatesOverflowingColumn(t *testing.T) {
	exec := &pgTypes{types: map[string]string{
		"id":    "bigint",
		"short": "character varying(190)",
		"title": "character varying(190)",
	}}
	rec := &record.Record{Table: "pages", Fields: []record.Field{
		{Name: "id", Value: int64(1)},
		{Name: "short", Value: "ok"},
		{Name: "title", Value: strings.Repeat("é", 191)},
	}}
	cl := dialect.NewPostgres().Classifier().Classify("ERROR: value too long for type character varying(190) (SQLSTATE 22001)")

	rem, err := newEngine(t, dialect.NewPostgres(), nil).Remedy(context.Background(), exec, cl, rec)
	require.NoError(t, err)
	assert.Equal(t, "title", rem.Column)
	assert.Equal(t, `ALTER TABLE "pages" ALTER COLUMN "title" TYPE TEXT`, exec.executed[0])

	rec.Fields[2].Value = "fits"
	_, err = newEngine(t, dialect.NewPostgres(), nil).Remedy(context.Background(), exec, cl, rec)
	assert.ErrorIs(t, err, ErrUnrecoverable)
}

func TestRemedyMissingConflictTarget(t *testing.T) {
	exec := &pgTypes{}
	cl := dialect.NewPostgres().Classifier().Classify(
		"ERROR: there is no unique or exclusion constraint matching the ON CONFLICT specification (SQLSTATE 42P10)")

	rem, err := newEngine(t, dialect.NewPostgres(), nil).Remedy(context.Background(), exec, cl, orders())
	require.NoError(t, err)
	assert.Equal(t, classify.MissingConflictTarget, rem.Kind)
	assert.Equal(t, []string{`CREATE UNIQUE INDEX IF NOT EXISTS "uk_orders_order_id" ON "orders" ("order_id")`}, exec.executed)
}

func TestRemedySwallowsAlreadyApplied(t *testing.T) {
	store := testutil.NewFakeMySQL()
	store.CreateTable("orders", "id", "bigint", "order_id", "varchar(190)", "amount", "varchar(190)")
	e := newEngine(t, dialect.NewMySQL(), nil)

	rem, err := e.Remedy(context.Background(), store,
		classify.Classification{Kind: classify.UnknownColumn, Column: "amount"}, orders())
	require.NoError(t, err)
	assert.Equal(t, 1, rem.Swallowed)
}

func TestRemedyDDLFailureAborts(t *testing.T) {
	store := testutil.NewFakeMySQL()
	store.CreateTable("orders", "id", "bigint")
	store.FailNext("ALTER TABLE", errors.New("Error 1142 (42000): ALTER command denied to user"), 1)
	e := newEngine(t, dialect.NewMySQL(), nil)

	_, err := e.Remedy(context.Background(), store,
		classify.Classification{Kind: classify.UnknownColumn, Column: "amount"}, orders())
	require.Error(t, err)
	assert.True(t, sinkerrors.IsType(err, sinkerrors.ErrorTypeSchema))
	assert.Contains(t, err.Error(), "ALTER command denied")
}

func TestRemedyUnrecoverable(t *testing.T) {
	store := testutil.NewFakeMySQL()
	e := newEngine(t, dialect.NewMySQL(), nil)

	cl := dialect.NewMySQL().Classifier().Classify("Error 1064 (42000): You have an error in your SQL syntax")
	_, err := e.Remedy(context.Background(), store, cl, orders())
	assert.ErrorIs(t, err, ErrUnrecoverable)

	_, err = e.Remedy(context.Background(), store, classify.Classification{Kind: classify.UnknownColumn}, orders())
	assert.ErrorIs(t, err, ErrUnrecoverable)
	assert.Empty(t, store.Executed())
}

func TestRemedySQLiteCannotWiden(t *testing.T) {
	exec := &pgTypes{types: map[string]string{"title": "VARCHAR(190)"}}
	rec := &record.Record{Table: "pages", Fields: []record.Field{{Name: "title", Value: "x"}}}

	_, err := newEngine(t, dialect.NewSQLite(), nil).Remedy(context.Background(), exec,
		classify.Classification{Kind: classify.ValueTooLong, Column: "title"}, rec)
	assert.ErrorIs(t, err, dialect.ErrUnsupported)
	assert.Empty(t, exec.executed)
}
