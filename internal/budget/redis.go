package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	spentKeyPrefix    = "fdp:budget:spent:"
	providerKeyPrefix = "fdp:budget:by_provider:"
	// Keys live past the day boundary so yesterday's spend remains
	// inspectable, then expire on their own.
	keyTTL = 48 * time.Hour
)

// reserveScript performs the check-and-increment in a single Redis-side step
// so concurrent workers can never push spend past the cap. Returns the new
// total on success or -1 when the reservation is denied.
var reserveScript = redis.NewScript(`
local spent = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
local cap = tonumber(ARGV[2])
if spent + amount > cap + 1e-9 then
  return '-1'
end
local new = redis.call('INCRBYFLOAT', KEYS[1], amount)
redis.call('EXPIRE', KEYS[1], ARGV[3])
return new
`)

// RedisLedger is the persisted ledger. Spend survives process restarts;
// date-suffixed keys give the downtime-tolerant daily reset.
type RedisLedger struct {
	rdb      redis.UniversalClient
	dailyCap float64
	warnAt   float64
	now      func() time.Time
}

// NewRedisLedger creates a ledger backed by the given Redis client.
func NewRedisLedger(rdb redis.UniversalClient, dailyCap, warnThreshold float64) *RedisLedger {
	if warnThreshold <= 0 || warnThreshold > 1 {
		warnThreshold = 0.9
	}
	return &RedisLedger{
		rdb:      rdb,
		dailyCap: dailyCap,
		warnAt:   warnThreshold,
		now:      time.Now,
	}
}

func (l *RedisLedger) spentKey() string {
	return spentKeyPrefix + utcDate(l.now())
}

func (l *RedisLedger) providerKey() string {
	return providerKeyPrefix + utcDate(l.now())
}

// Reserve atomically admits amount within the daily cap.
func (l *RedisLedger) Reserve(ctx context.Context, amount float64) (bool, error) {
	res, err := reserveScript.Run(ctx, l.rdb,
		[]string{l.spentKey()},
		fmt.Sprintf("%.10f", amount),
		fmt.Sprintf("%.10f", l.dailyCap),
		int(keyTTL.Seconds()),
	).Text()
	if err != nil {
		return false, fmt.Errorf("budget reserve: %w", err)
	}
	if res == "-1" {
		return false, nil
	}

	var spent float64
	fmt.Sscanf(res, "%f", &spent)
	if spent >= l.dailyCap*l.warnAt {
		log.Warn().
			Float64("spent", spent).
			Float64("cap", l.dailyCap).
			Msg("budget warning threshold crossed")
	}
	return true, nil
}

// Release refunds a reservation whose call never happened.
func (l *RedisLedger) Release(ctx context.Context, amount float64) error {
	if amount <= 0 {
		return nil
	}
	if err := l.rdb.IncrByFloat(ctx, l.spentKey(), -amount).Err(); err != nil {
		return fmt.Errorf("budget release: %w", err)
	}
	return nil
}

// Attribute records completed spend against a provider.
func (l *RedisLedger) Attribute(ctx context.Context, provider string, amount float64) error {
	if amount <= 0 {
		return nil
	}
	pipe := l.rdb.Pipeline()
	pipe.ZIncrBy(ctx, l.providerKey(), amount, provider)
	pipe.Expire(ctx, l.providerKey(), keyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("budget attribute: %w", err)
	}
	return nil
}

// Snapshot returns the current day's spend, headroom and per-provider totals.
func (l *RedisLedger) Snapshot(ctx context.Context) (Snapshot, error) {
	date := utcDate(l.now())

	spent, err := l.rdb.Get(ctx, l.spentKey()).Float64()
	if err != nil && err != redis.Nil {
		return Snapshot{}, fmt.Errorf("budget snapshot: %w", err)
	}

	byProvider := make(map[string]float64)
	members, err := l.rdb.ZRangeWithScores(ctx, l.providerKey(), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return Snapshot{}, fmt.Errorf("budget snapshot: %w", err)
	}
	for _, m := range members {
		if name, ok := m.Member.(string); ok {
			byProvider[name] = m.Score
		}
	}

	return Snapshot{
		Date:       date,
		Spent:      spent,
		DailyCap:   l.dailyCap,
		Headroom:   l.dailyCap - spent,
		ByProvider: byProvider,
	}, nil
}
