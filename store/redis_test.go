package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/KanavDutta/windowfence/core"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Unix(1740730536, 0)

func TestRedisStore_ReadMissingKey(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStore(client, RateFields)

	mock.ExpectHMGet("default:127.0.0.1:/login", "last_reset_time", "count").SetVal([]interface{}{nil, nil})

	rec, err := s.Read(context.Background(), "default:127.0.0.1:/login")
	require.NoError(t, err)
	assert.True(t, rec.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_ReadParsesFields(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStore(client, FailureFields)

	mock.ExpectHMGet("failed:127.0.0.1", "last_failure_time", "failed_count").
		SetVal([]interface{}{"1740730536.250000", "2"})

	rec, err := s.Read(context.Background(), "failed:127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Count)
	assert.True(t, rec.LastReset.Equal(fixedNow.Add(250*time.Millisecond)), "got %v", rec.LastReset)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_ReadCorruptField(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStore(client, RateFields)

	mock.ExpectHMGet("k", "last_reset_time", "count").SetVal([]interface{}{"yesterday", "1"})

	_, err := s.Read(context.Background(), "k")
	assert.Error(t, err)
}

func TestRedisStore_ReadError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStore(client, RateFields)

	mock.ExpectHMGet("k", "last_reset_time", "count").SetErr(errors.New("connection refused"))

	_, err := s.Read(context.Background(), "k")
	assert.ErrorContains(t, err, "connection refused")
}

func TestRedisStore_WriteWithTTL(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStore(client, RateFields)

	mock.ExpectTxPipeline()
	mock.ExpectHSet("k", "last_reset_time", "1740730536.000000", "count", "1").SetVal(2)
	mock.ExpectExpire("k", time.Minute).SetVal(true)
	mock.ExpectTxPipelineExec()

	err := s.Write(context.Background(), "k", core.WindowRecord{LastReset: fixedNow, Count: 1}, time.Minute)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_WriteWithoutTTL(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStore(client, FailureFields)

	mock.ExpectTxPipeline()
	mock.ExpectHSet("failed:10.0.0.1", "last_failure_time", "1740730536.000000", "failed_count", "1").SetVal(2)
	mock.ExpectTxPipelineExec()

	err := s.Write(context.Background(), "failed:10.0.0.1", core.WindowRecord{LastReset: fixedNow, Count: 1}, 0)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_KeyPrefix(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStore(client, RateFields, WithKeyPrefix("windowfence:"))

	mock.ExpectDel("windowfence:k").SetVal(1)

	require.NoError(t, s.Delete(context.Background(), "k"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_DeleteMissingKey(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStore(client, FailureFields)

	mock.ExpectDel("failed:nobody").SetVal(0)

	assert.NoError(t, s.Delete(context.Background(), "failed:nobody"))
}

func TestRedisStore_CheckAndIncrement(t *testing.T) {
	policy := core.Policy{Limit: 3, Window: time.Minute}

	tests := []struct {
		name        string
		reply       []interface{}
		wantAllowed bool
		wantCount   int64
	}{
		{
			name:        "allowed",
			reply:       []interface{}{int64(1), "1740730536.000000", int64(1)},
			wantAllowed: true,
			wantCount:   1,
		},
		{
			name:        "denied",
			reply:       []interface{}{int64(0), "1740730530.000000", int64(3)},
			wantAllowed: false,
			wantCount:   3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mock := redismock.NewClientMock()
			s := NewRedisStore(client, RateFields)

			mock.ExpectEvalSha(fixedWindow.Hash(), []string{"k"},
				"last_reset_time", "count", "3", "60", "1740730536.000000", "60000",
			).SetVal(tt.reply)

			result, err := s.CheckAndIncrement(context.Background(), "k", policy, fixedNow)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllowed, result.Allowed)
			assert.Equal(t, tt.wantCount, result.Count)
			if !tt.wantAllowed {
				assert.Equal(t, 54*time.Second, result.RetryAfter)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRedisStore_CheckAndIncrementBadReply(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStore(client, RateFields)

	mock.ExpectEvalSha(fixedWindow.Hash(), []string{"k"},
		"last_reset_time", "count", "3", "60", "1740730536.000000", "60000",
	).SetVal([]interface{}{int64(1)})

	_, err := s.CheckAndIncrement(context.Background(), "k", core.Policy{Limit: 3, Window: time.Minute}, fixedNow)
	assert.Error(t, err)
}

func newMiniredisStore(t *testing.T, fields Fields) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, fields), mr
}

func TestRedisStore_FixedWindowScript(t *testing.T) {
	s, mr := newMiniredisStore(t, RateFields)
	ctx := context.Background()
	policy := core.Policy{Limit: 2, Window: time.Minute}

	for i, want := range []bool{true, true, false} {
		result, err := s.CheckAndIncrement(ctx, "k", policy, fixedNow.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.Equal(t, want, result.Allowed, "call %d", i+1)
		assert.Equal(t, int64(min(i+1, 2)), result.Count, "call %d", i+1)
	}

	// The window start is kept and a denial writes nothing
	assert.Equal(t, "1740730536.000000", mr.HGet("k", "last_reset_time"))
	assert.Equal(t, "2", mr.HGet("k", "count"))
	assert.Equal(t, time.Minute, mr.TTL("k"))

	// Once the window has passed the script starts a new one
	result, err := s.CheckAndIncrement(ctx, "k", policy, fixedNow.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, int64(1), result.Count)
	assert.Equal(t, "1740730596.000000", mr.HGet("k", "last_reset_time"))
	assert.Equal(t, "1", mr.HGet("k", "count"))
}

func TestRedisStore_FixedWindowScriptExpiry(t *testing.T) {
	s, mr := newMiniredisStore(t, RateFields)
	ctx := context.Background()
	policy := core.Policy{Limit: 1, Window: time.Minute}

	result, err := s.CheckAndIncrement(ctx, "k", policy, fixedNow)
	require.NoError(t, err)
	require.True(t, result.Allowed)

	mr.FastForward(time.Minute)
	assert.False(t, mr.Exists("k"), "the window ttl drops the key")

	result, err = s.CheckAndIncrement(ctx, "k", policy, fixedNow.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestRedisStore_ReadWriteAgainstServer(t *testing.T) {
	s, mr := newMiniredisStore(t, FailureFields)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "failed:10.0.0.1", core.WindowRecord{LastReset: fixedNow, Count: 2}, 0))
	assert.Equal(t, "2", mr.HGet("failed:10.0.0.1", "failed_count"))
	assert.Equal(t, time.Duration(0), mr.TTL("failed:10.0.0.1"))

	require.NoError(t, s.Write(ctx, "failed:10.0.0.1", core.WindowRecord{LastReset: fixedNow, Count: 3}, 1500*time.Millisecond))
	assert.Equal(t, 1500*time.Millisecond, mr.TTL("failed:10.0.0.1"))

	rec, err := s.Read(ctx, "failed:10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Count)
	assert.True(t, rec.LastReset.Equal(fixedNow))
}

func TestFormatParseTimeRoundTrip(t *testing.T) {
	ts := time.Unix(1740730536, 123456000)

	got, err := parseTime(formatTime(ts))
	require.NoError(t, err)
	assert.True(t, got.Equal(ts), "got %v, want %v", got, ts)

	zero, err := parseTime(formatTime(time.Time{}))
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
}

// TestRedisStore_Integration exercises a real server.
// Note: This requires a Redis instance running on localhost:6379
// Skip with: go test -short
func TestRedisStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis integration test")
	}

	client := NewRedisClient(RedisConfig{DB: 15})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available:", err)
	}

	s := NewRedisStore(client, RateFields, WithKeyPrefix("windowfence-test:"))
	key := fmt.Sprintf("it-%d", time.Now().UnixNano())
	defer s.Delete(ctx, key)

	policy := core.Policy{Limit: 2, Window: time.Minute}
	now := time.Now()

	for i := 0; i < 2; i++ {
		result, err := s.CheckAndIncrement(ctx, key, policy, now)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}
	result, err := s.CheckAndIncrement(ctx, key, policy, now)
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	rec, err := s.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Count)

	ttl, err := client.TTL(ctx, "windowfence-test:"+key).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute, "ttl = %v", ttl)

	require.NoError(t, s.Delete(ctx, key))
	exists, err := client.Exists(ctx, "windowfence-test:"+key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}
