package principal

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Kind distinguishes consumer devices from business staff devices.
type Kind string

const (
	KindConsumer       Kind = "consumer"
	KindBusinessMember Kind = "business_member"
)

const (
	RoleConsumer = "consumer"
	RoleStaff    = "staff"
	RoleOwner    = "owner"
)

var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrNotConsumer      = errors.New("principal_not_consumer")
	ErrNotBusinessStaff = errors.New("principal_not_business_member")
)

// Principal is the authenticated caller. BusinessID and MemberID are set only
// for business members and always come from the verified credential.
type Principal struct {
	UserID     snowflake.ID
	Kind       Kind
	BusinessID snowflake.ID
	MemberID   snowflake.ID
	Role       string
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok || p.UserID == 0 {
		return Principal{}, false
	}
	return p, true
}

// Consumer returns the consumer principal in ctx.
func Consumer(ctx context.Context) (Principal, error) {
	p, ok := FromContext(ctx)
	if !ok {
		return Principal{}, ErrUnauthenticated
	}
	if p.Kind != KindConsumer {
		return Principal{}, ErrNotConsumer
	}
	return p, nil
}

// BusinessMember returns the business staff principal in ctx.
func BusinessMember(ctx context.Context) (Principal, error) {
	p, ok := FromContext(ctx)
	if !ok {
		return Principal{}, ErrUnauthenticated
	}
	if p.Kind != KindBusinessMember || p.BusinessID == 0 || p.MemberID == 0 {
		return Principal{}, ErrNotBusinessStaff
	}
	return p, nil
}
