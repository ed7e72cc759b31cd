package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "loyalty:lock:"

// Deletes the key only while it still holds the caller's token, so a lease
// that expired and was taken over is never released by its old holder.
const releaseLeaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	ErrLockUnavailable = errors.New("lock_unavailable")
	ErrInvalidLease    = errors.New("invalid_lease")
	ErrLeaseLost       = errors.New("lease_lost")
)

// Lease is a held named lock. Token proves ownership on release.
type Lease struct {
	Name      string
	Token     string
	ExpiresAt time.Time
}

// Locker hands out short Redis leases shared by every replica.
type Locker struct {
	client  *redis.Client
	release *redis.Script
	now     func() time.Time
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client:  client,
		release: redis.NewScript(releaseLeaseScript),
		now:     time.Now,
	}
}

func lockKey(name string) string {
	return lockKeyPrefix + name
}

// Acquire takes the named lease for ttl. ok is false when another holder has it.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	if l == nil || l.client == nil {
		return Lease{}, false, ErrLockUnavailable
	}
	name = strings.TrimSpace(name)
	if name == "" || ttl <= 0 {
		return Lease{}, false, ErrInvalidLease
	}

	lease := Lease{Name: name, Token: uuid.NewString(), ExpiresAt: l.now().Add(ttl)}
	ok, err := l.client.SetNX(ctx, lockKey(name), lease.Token, ttl).Result()
	if err != nil {
		return Lease{}, false, err
	}
	if !ok {
		return Lease{}, false, nil
	}
	return lease, true, nil
}

// Release gives the lease back. ErrLeaseLost means it expired before release
// and may now belong to someone else.
func (l *Locker) Release(ctx context.Context, lease Lease) error {
	if l == nil || l.client == nil {
		return nil
	}
	if lease.Name == "" || lease.Token == "" {
		return ErrInvalidLease
	}
	deleted, err := l.release.Run(ctx, l.client, []string{lockKey(lease.Name)}, lease.Token).Int64()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrLeaseLost
	}
	return nil
}
