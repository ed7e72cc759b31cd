package principal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumerPrincipal(t *testing.T) {
	_, err := Consumer(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)

	ctx := WithPrincipal(context.Background(), Principal{UserID: 10, Kind: KindConsumer, Role: RoleConsumer})
	p, err := Consumer(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 10, p.UserID)

	_, err = BusinessMember(ctx)
	assert.ErrorIs(t, err, ErrNotBusinessStaff)
}

func TestBusinessMemberRequiresBusinessAndMember(t *testing.T) {
	ctx := WithPrincipal(context.Background(), Principal{UserID: 10, Kind: KindBusinessMember, BusinessID: 5})
	_, err := BusinessMember(ctx)
	assert.ErrorIs(t, err, ErrNotBusinessStaff)

	ctx = WithPrincipal(context.Background(), Principal{UserID: 10, Kind: KindBusinessMember, BusinessID: 5, MemberID: 6, Role: RoleStaff})
	p, err := BusinessMember(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, p.BusinessID)

	_, err = Consumer(ctx)
	assert.ErrorIs(t, err, ErrNotConsumer)
}
