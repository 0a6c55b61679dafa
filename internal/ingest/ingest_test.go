package ingest

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/healsink/pkg/config"
	"github.com/ajitpratap0/healsink/pkg/pipeline"
	"github.com/ajitpratap0/healsink/pkg/testutil"
)

func TestReader(t *testing.T) {
	input := strings.Join([]string{
		`{"_table": "orders", "id": 12345678901234567890, "sku": "A-1"}`,
		``,
		`not json`,
		`[1, 2]`,
		`  {"_table": "orders", "id": 2, "tags": ["a", "b"]}  `,
	}, "\n")
	r := NewReader(strings.NewReader(input))

	item, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, json.Number("12345678901234567890"), item["id"])
	assert.Equal(t, "A-1", item["sku"])

	_, err = r.Next()
	var lineErr *LineError
	require.ErrorAs(t, err, &lineErr)
	assert.Equal(t, 3, lineErr.Line)

	_, err = r.Next()
	require.ErrorAs(t, err, &lineErr)
	assert.Equal(t, 4, lineErr.Line)

	item, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, item["tags"])
	assert.Equal(t, 5, r.Line())

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func newSQLitePipeline(t *testing.T, mutate func(*config.Config)) *pipeline.Pipeline {
	t.Helper()
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	cfg := testutil.SQLiteConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	p, err := pipeline.New(ctx, cfg, pipeline.WithLogger(testutil.TestLogger(t)))
	require.NoError(t, err)
	return p
}

func TestRunner(t *testing.T) {
	testutil.IntegrationTest(t)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p := newSQLitePipeline(t, func(cfg *config.Config) {
		cfg.Write.Strategy = config.StrategyQueued
		cfg.Write.Workers = 2
	})

	path := testutil.WriteJSONL(t, t.TempDir(), "items.jsonl", []map[string]any{
		{"_table": "events", "id": 1, "kind": "click"},
		{"_table": "events", "id": 2, "kind": "view"},
		{"_table": "events", "id": 3, "kind": "internal"},
		{"_table": "events"},
		{"_table": "events", "id": 4, "kind": "click", "target_url": "https://example.com"},
	})
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r := NewRunner(p, Config{Name: "ingest-test", Logger: testutil.TestLogger(t)})
	r.AddTransform(func(_ context.Context, item map[string]any) (map[string]any, error) {
		if item["kind"] == "internal" {
			return nil, nil
		}
		return item, nil
	})

	stats, err := r.Run(ctx, f)
	require.NoError(t, err)
	require.NoError(t, p.Close(ctx))

	assert.Equal(t, int64(5), stats.Read)
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Equal(t, int64(3), stats.Written)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, stats, r.Stats())
}

func TestRunnerStopOnError(t *testing.T) {
	testutil.IntegrationTest(t)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p := newSQLitePipeline(t, nil)
	defer p.Close(ctx)

	input := strings.Join([]string{
		`{"_table": "events", "id": 1, "kind": "click"}`,
		`{broken`,
		`{"_table": "events", "id": 2, "kind": "view"}`,
	}, "\n")

	r := NewRunner(p, Config{StopOnError: true, Logger: testutil.TestLogger(t)})
	stats, err := r.Run(ctx, strings.NewReader(input))

	var lineErr *LineError
	require.True(t, errors.As(err, &lineErr))
	assert.Equal(t, 2, lineErr.Line)
	assert.Equal(t, int64(1), stats.Malformed)
	assert.Equal(t, int64(1), stats.Written)
}

func TestRunnerTransformError(t *testing.T) {
	testutil.IntegrationTest(t)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p := newSQLitePipeline(t, nil)
	defer p.Close(ctx)

	boom := errors.New("boom")
	r := NewRunner(p, Config{Logger: testutil.TestLogger(t)})
	r.AddTransform(func(context.Context, map[string]any) (map[string]any, error) { return nil, boom })

	stats, err := r.Run(ctx, strings.NewReader(`{"_table": "events", "id": 1}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Zero(t, stats.Written)
}
