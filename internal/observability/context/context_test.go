package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextValuesRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), " req-1 ")
	ctx = WithBusinessID(ctx, "42")
	ctx = WithActor(ctx, "business_member", "7")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "42", BusinessIDFromContext(ctx))
	actorType, actorID := ActorFromContext(ctx)
	assert.Equal(t, "business_member", actorType)
	assert.Equal(t, "7", actorID)
}

func TestEmptyContextReturnsBlank(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
	assert.Empty(t, BusinessIDFromContext(nil))
}

func TestClientValues(t *testing.T) {
	ctx := WithClient(context.Background(), "10.0.0.1 ", "pos-terminal/1.0")
	assert.Equal(t, "10.0.0.1", IPAddressFromContext(ctx))
	assert.Equal(t, "pos-terminal/1.0", UserAgentFromContext(ctx))
}
