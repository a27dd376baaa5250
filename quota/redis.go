package quota

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/inferhub"
)

// RedisGate is a QuotaGate backed by Redis, for deployments that run more
// than one process. Counters live under <prefix><day>:<model> and expire at
// the next midnight in the gate's location.
type RedisGate struct {
	client    goredis.Cmdable
	limits    inferhub.QuotaLimits
	keyPrefix string
	loc       *time.Location
	now       func() time.Time
}

var (
	_ inferhub.QuotaGate     = (*RedisGate)(nil)
	_ inferhub.QuotaReporter = (*RedisGate)(nil)
)

// RedisOption configures a RedisGate.
type RedisOption func(*RedisGate)

// WithKeyPrefix sets the Redis key prefix (default "inferhub:quota:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(g *RedisGate) { g.keyPrefix = prefix }
}

// WithRedisLocation sets the time zone that decides where a day ends.
func WithRedisLocation(loc *time.Location) RedisOption {
	return func(g *RedisGate) { g.loc = loc }
}

// WithRedisClock replaces time.Now.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(g *RedisGate) { g.now = now }
}

// NewRedisGate creates a Redis-backed gate.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func NewRedisGate(client goredis.Cmdable, limits inferhub.QuotaLimits, opts ...RedisOption) *RedisGate {
	g := &RedisGate{
		client:    client,
		limits:    limits,
		keyPrefix: "inferhub:quota:",
		loc:       time.Local,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// admitScript checks and increments one counter atomically.
// KEYS[1] = counter key
// ARGV[1] = limit
// ARGV[2] = expire at (unix seconds)
//
// Returns {admitted (1 or 0), count}.
var admitScript = goredis.NewScript(`
local used = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[1])
if used >= limit then
    return {0, used}
end
used = redis.call("INCR", KEYS[1])
redis.call("EXPIREAT", KEYS[1], ARGV[2])
return {1, used}
`)

// Admit counts one call for model, or returns *inferhub.QuotaError without
// counting when the model has reached its limit today.
func (g *RedisGate) Admit(ctx context.Context, model string) error {
	now := g.now().In(g.loc)
	limit := g.limits.Limit(model)

	res, err := admitScript.Run(ctx, g.client,
		[]string{g.key(now, model)},
		limit, nextMidnight(now).Unix(),
	).Int64Slice()
	if err != nil {
		return fmt.Errorf("inferhub/quota: redis admit: %w", err)
	}
	if len(res) != 2 {
		return fmt.Errorf("inferhub/quota: unexpected admit result: %v", res)
	}

	if res[0] == 0 {
		return &inferhub.QuotaError{Model: model, Used: res[1], Limit: limit}
	}
	return nil
}

// Snapshot returns today's counters sorted by model.
func (g *RedisGate) Snapshot(ctx context.Context) ([]inferhub.QuotaUsage, error) {
	now := g.now().In(g.loc)
	day := now.Format(inferhub.DateLayout)
	prefix := g.keyPrefix + day + ":"

	var out []inferhub.QuotaUsage
	iter := g.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := g.client.Get(ctx, key).Result()
		if err == goredis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("inferhub/quota: redis snapshot: %w", err)
		}
		used, _ := strconv.ParseInt(raw, 10, 64)
		model := strings.TrimPrefix(key, prefix)
		out = append(out, inferhub.QuotaUsage{
			Model: model,
			Used:  used,
			Limit: g.limits.Limit(model),
			Day:   day,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("inferhub/quota: redis snapshot: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out, nil
}

func (g *RedisGate) key(now time.Time, model string) string {
	return g.keyPrefix + now.Format(inferhub.DateLayout) + ":" + model
}

func nextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}
