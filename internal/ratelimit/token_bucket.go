package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Lua numbers are truncated to integers on the way back to Redis clients, so
// the remaining budget is returned in thousandths of a token.
const scanBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local clock = redis.call("TIME")
local now = (clock[1] * 1000) + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])

if tokens == nil then
  tokens = burst
else
  local elapsed = math.max(0, now - ts)
  tokens = math.min(burst, tokens + (elapsed / 1000) * rate)
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, math.floor(tokens * 1000)}
`

var errBucketMisconfigured = errors.New("scan bucket misconfigured")

// redisBucket is a token bucket shared by every replica through one Redis
// hash per key.
type redisBucket struct {
	client *redis.Client
	script *redis.Script
}

type bucketDecision struct {
	Allowed    bool
	RetryAfter time.Duration
}

func newRedisBucket(client *redis.Client) *redisBucket {
	if client == nil {
		return nil
	}
	return &redisBucket{
		client: client,
		script: redis.NewScript(scanBucketScript),
	}
}

func (b *redisBucket) take(ctx context.Context, key string, perSecond float64, burst int) (bucketDecision, error) {
	if key == "" || perSecond <= 0 || burst <= 0 {
		return bucketDecision{}, errBucketMisconfigured
	}

	ttl := bucketTTL(perSecond, burst)
	res, err := b.script.Run(ctx, b.client, []string{key}, perSecond, burst, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return bucketDecision{}, err
	}
	if len(res) != 2 {
		return bucketDecision{}, errors.New("unexpected scan bucket reply")
	}

	decision := bucketDecision{Allowed: res[0] == 1}
	if !decision.Allowed {
		missing := 1 - float64(res[1])/1000
		if missing > 0 {
			decision.RetryAfter = time.Duration(missing / perSecond * float64(time.Second))
		}
	}
	return decision, nil
}

// bucketTTL keeps an idle bucket around for twice its full refill time.
func bucketTTL(perSecond float64, burst int) time.Duration {
	seconds := math.Max(1, math.Ceil(float64(burst)/perSecond*2))
	return time.Duration(seconds) * time.Second
}
