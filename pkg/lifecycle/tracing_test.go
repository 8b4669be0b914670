package lifecycle

import (
	"context"
	"testing"

	"github.com/platinummonkey/ledmatrix/pkg/plugins"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func spanAttr(span tracetest.SpanStub, key attribute.Key) string {
	for _, kv := range span.Attributes {
		if kv.Key == key {
			return kv.Value.Emit()
		}
	}
	return ""
}

func TestOperationsAreTraced(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	h := newHarness(t, nil, WithTracer(tp.Tracer("test-tracer")))
	h.addHello()
	ctx := context.Background()

	require.True(t, h.orch.Install(ctx, "hello-world", "").Success)
	assert.False(t, h.orch.Install(ctx, "missing", "").Success)
	require.NoError(t, h.orch.Uninstall(ctx, "hello-world"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)

	assert.Equal(t, "lifecycle.install", spans[0].Name)
	assert.Equal(t, "hello-world", spanAttr(spans[0], "plugin.id"))
	assert.Equal(t, codes.Unset, spans[0].Status.Code)

	assert.Equal(t, "lifecycle.install", spans[1].Name)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
	assert.Equal(t, string(plugins.KindNotFound), spans[1].Status.Description)

	assert.Equal(t, "lifecycle.uninstall", spans[2].Name)
}
