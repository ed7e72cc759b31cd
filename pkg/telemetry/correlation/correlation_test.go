package correlation

import (
	"context"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestEnsureCorrelationIDGeneratesULID(t *testing.T) {
	ctx, cid := EnsureCorrelationID(context.Background())
	require.NotEmpty(t, cid)
	_, err := ulid.ParseStrict(cid)
	require.NoError(t, err)
	require.Equal(t, cid, ExtractCorrelationID(ctx))
}

func TestEnsureCorrelationIDKeepsExisting(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), " upstream-1 ")
	_, cid := EnsureCorrelationID(ctx)
	require.Equal(t, "upstream-1", cid)
}

func TestAnnotateAddsIdentifiers(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "cid-1")
	ctx = ContextWithRemoteSpan(ctx, "4bf92f3577b34da6a3ce929d0e0e4736", "00f067aa0ba902b7")

	metadata := Annotate(ctx, map[string]any{"correlation_id": "kept"})
	require.Equal(t, "kept", metadata["correlation_id"])
	require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", metadata["trace_id"])
}

func TestContextWithRemoteSpanIgnoresGarbage(t *testing.T) {
	ctx := ContextWithRemoteSpan(context.Background(), "nope", "nope")
	require.False(t, trace.SpanContextFromContext(ctx).IsValid())
}
