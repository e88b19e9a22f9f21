package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/KanavDutta/windowfence/core"
	"github.com/redis/go-redis/v9"
)

//go:embed fixed_window.lua
var fixedWindowScript string

var fixedWindow = redis.NewScript(fixedWindowScript)

// Fields names the hash fields a record is stored under
type Fields struct {
	Time  string
	Count string
}

var (
	// RateFields are the hash fields used by the rate limiter
	RateFields = Fields{Time: "last_reset_time", Count: "count"}

	// FailureFields are the hash fields used by the failure lockout
	FailureFields = Fields{Time: "last_failure_time", Count: "failed_count"}
)

// RedisStore provides Redis-backed storage for window records.
// Each key is a hash holding the window start and the count, with an expiry
// refreshed on writes, so every instance sharing the server sees one count.
type RedisStore struct {
	client redis.UniversalClient
	fields Fields
	prefix string
}

// Ensure RedisStore implements AtomicStore interface
var _ AtomicStore = (*RedisStore)(nil)

// RedisOption configures a RedisStore
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces every key written by the store
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a new Redis-backed store using the given hash fields
func NewRedisStore(client redis.UniversalClient, fields Fields, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		fields: fields,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

// Read retrieves the record for a given key
func (s *RedisStore) Read(ctx context.Context, key string) (core.WindowRecord, error) {
	vals, err := s.client.HMGet(ctx, s.key(key), s.fields.Time, s.fields.Count).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return core.WindowRecord{}, fmt.Errorf("redis hmget %s: %w", key, err)
	}
	if len(vals) != 2 {
		return core.WindowRecord{}, nil
	}

	lastReset, err := parseTime(vals[0])
	if err != nil {
		return core.WindowRecord{}, fmt.Errorf("redis field %s of %s: %w", s.fields.Time, key, err)
	}
	count, err := parseCount(vals[1])
	if err != nil {
		return core.WindowRecord{}, fmt.Errorf("redis field %s of %s: %w", s.fields.Count, key, err)
	}

	return core.WindowRecord{LastReset: lastReset, Count: count}, nil
}

// Write stores both fields and the expiry in one MULTI/EXEC round-trip
func (s *RedisStore) Write(ctx context.Context, key string, rec core.WindowRecord, ttl time.Duration) error {
	k := s.key(key)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k,
			s.fields.Time, formatTime(rec.LastReset),
			s.fields.Count, strconv.FormatInt(rec.Count, 10),
		)
		switch {
		case ttl <= 0:
		case ttl%time.Second == 0:
			pipe.Expire(ctx, k, ttl)
		default:
			pipe.PExpire(ctx, k, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis write %s: %w", key, err)
	}
	return nil
}

// Delete removes the record for a given key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// CheckAndIncrement runs the fixed window check inside Redis with a Lua script
func (s *RedisStore) CheckAndIncrement(ctx context.Context, key string, policy core.Policy, now time.Time) (core.CheckResult, error) {
	ttl := strconv.FormatInt(policy.Window.Milliseconds(), 10)

	res, err := fixedWindow.Run(ctx, s.client, []string{s.key(key)},
		s.fields.Time,                       // ARGV[1]
		s.fields.Count,                      // ARGV[2]
		strconv.FormatInt(policy.Limit, 10), // ARGV[3]
		formatSeconds(policy.Window),        // ARGV[4]
		formatTime(now),                     // ARGV[5]
		ttl,                                 // ARGV[6]
	).Slice()
	if err != nil {
		return core.CheckResult{}, fmt.Errorf("redis fixed window %s: %w", key, err)
	}
	if len(res) != 3 {
		return core.CheckResult{}, fmt.Errorf("redis fixed window %s: unexpected reply %v", key, res)
	}

	allowed, _ := res[0].(int64)
	lastReset, err := parseTime(res[1])
	if err != nil {
		return core.CheckResult{}, fmt.Errorf("redis fixed window %s: %w", key, err)
	}
	count, err := parseCount(res[2])
	if err != nil {
		return core.CheckResult{}, fmt.Errorf("redis fixed window %s: %w", key, err)
	}

	rec := core.WindowRecord{LastReset: lastReset, Count: count}
	return core.NewFixedWindow(policy).Result(allowed == 1, rec, now), nil
}

// Ping checks if Redis connection is alive
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// formatTime encodes a timestamp as decimal Unix seconds with microsecond precision
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

func parseTime(v interface{}) (time.Time, error) {
	var f float64
	switch val := v.(type) {
	case nil:
		return time.Time{}, nil
	case string:
		if val == "" {
			return time.Time{}, nil
		}
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return time.Time{}, err
		}
		f = parsed
	case int64:
		f = float64(val)
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}

	if f <= 0 {
		return time.Time{}, nil
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*1e3), nil
}

func parseCount(v interface{}) (int64, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return val, nil
	case string:
		if val == "" {
			return 0, nil
		}
		return strconv.ParseInt(val, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected count type %T", v)
	}
}
