package tracing

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsTokenBearingKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/v1/business/scans"),
		attribute.String("token", "raw"),
		attribute.String("url.path", "/v1/consumer/scan-sessions/raw"),
	)
	require.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorTruncates(t *testing.T) {
	assert.Nil(t, SafeError(nil))
	err := SafeError(errors.New(strings.Repeat("x", 400)))
	assert.Len(t, err.Error(), 256)
}

func TestNewProviderDisabled(t *testing.T) {
	provider, err := NewProvider(nil, Config{ServiceName: "loyalty", SamplingRatio: 1}, nil)
	require.NoError(t, err)
	require.NotNil(t, provider)
	_, span := provider.Tracer("test").Start(t.Context(), "op")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
}
