package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript admits a request only when the weighted estimate leaves
// room, incrementing the current window counter in the same server-side step.
var slidingWindowScript = redis.NewScript(`
local curr = tonumber(redis.call('GET', KEYS[1]) or '0')
local prev = tonumber(redis.call('GET', KEYS[2]) or '0')
local limit = tonumber(ARGV[1])
local weight = tonumber(ARGV[2])
if prev * weight + curr + 1 > limit then
  return {0, prev, curr}
end
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return {1, prev, curr}
`)

// RedisLimiter shares counters across instances. Windows are aligned to wall
// clock time so every instance agrees on window boundaries.
type RedisLimiter struct {
	client redis.UniversalClient
	rules  map[string]Rule
	prefix string
	now    func() time.Time
}

func NewRedis(client redis.UniversalClient, rules map[string]Rule) *RedisLimiter {
	return &RedisLimiter{client: client, rules: rules, prefix: "authd:ratelimit", now: time.Now}
}

// Check implements Limiter.
func (r *RedisLimiter) Check(ctx context.Context, route, ip string) (Decision, error) {
	rule, ok := r.rules[route]
	if !ok || rule.Limit <= 0 || rule.Window <= 0 {
		return unlimited(), nil
	}

	windowMS := rule.Window.Milliseconds()
	if windowMS <= 0 {
		return Decision{}, fmt.Errorf("rate limit window %s for %q is shorter than 1ms", rule.Window, route)
	}
	nowMS := r.now().UnixMilli()
	window := nowMS / windowMS
	offset := time.Duration(nowMS%windowMS) * time.Millisecond
	weight := 1 - float64(offset)/float64(rule.Window)

	tag := "{" + bucketKey(route, ip) + "}"
	keys := []string{
		fmt.Sprintf("%s:%s:%d", r.prefix, tag, window),
		fmt.Sprintf("%s:%s:%d", r.prefix, tag, window-1),
	}

	res, err := slidingWindowScript.Run(ctx, r.client, keys,
		rule.Limit,
		strconv.FormatFloat(weight, 'f', 6, 64),
		2*windowMS,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	decision, _ := evaluate(rule, res[1], res[2], offset)
	decision.Allowed = res[0] == 1
	if decision.Allowed {
		decision.RetryAfter = 0
	} else {
		decision.Remaining = 0
		decision.RetryAfter = retryAfter(rule, res[1], res[2], offset)
	}
	return decision, nil
}
