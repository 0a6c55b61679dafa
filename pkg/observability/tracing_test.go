package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestSpanWithoutInit(t *testing.T) {
	_, span := StartSpan(context.Background(), "noop")
	span.SetAttribute("table", "orders")
	span.Finish(nil)
}

func TestInitExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(TracingConfig{
		ServiceName:  "healsink-test",
		SamplingRate: 1.0,
		Writer:       &buf,
	})
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "healsink.write")
	span.SetAttribute("table", "orders")
	span.SetAttribute("cycles", 2)
	span.SetAttribute("columns", []string{"order_id", "amount"})
	span.AddEvent("remediation", attribute.String("kind", "unknown_column"))

	_, child := StartSpan(ctx, "healsink.remedy")
	child.Finish(errors.New("boom"))
	span.Finish(nil)

	require.NoError(t, shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "healsink.write")
	assert.Contains(t, out, "healsink.remedy")
	assert.Contains(t, out, "orders")
	assert.Contains(t, out, "boom")
}
