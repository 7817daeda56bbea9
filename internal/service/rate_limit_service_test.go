package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"phone-auth-service/internal/phone"
	cache "phone-auth-service/internal/repository/redis"
)

func newTestRateLimiter(store cache.Store) *RateLimiter {
	return NewRateLimiter(cache.NewRateLimitCache(store), zap.NewNop())
}

func TestRateLimiter_Boundary(t *testing.T) {
	mr, store := newTestStore(t)
	rl := newTestRateLimiter(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.False(t, rl.Check(ctx, "id", AxisPhone, 3, time.Hour), "call %d", i+1)
	}
	assert.True(t, rl.Check(ctx, "id", AxisPhone, 3, time.Hour))
	assert.True(t, rl.Check(ctx, "id", AxisPhone, 3, time.Hour))

	assert.Equal(t, int64(3), rl.Count(ctx, "id", AxisPhone))
	assert.Equal(t, time.Hour, mr.TTL("rate_limit:phone:id"))

	mr.FastForward(time.Hour)
	assert.False(t, rl.Check(ctx, "id", AxisPhone, 3, time.Hour))
}

func TestRateLimiter_WindowSetOnlyOnFirstHit(t *testing.T) {
	mr, store := newTestStore(t)
	rl := newTestRateLimiter(store)
	ctx := context.Background()

	rl.Check(ctx, "1.2.3.4", AxisIP, 5, time.Hour)
	mr.FastForward(10 * time.Minute)
	rl.Check(ctx, "1.2.3.4", AxisIP, 5, time.Hour)

	assert.Equal(t, 50*time.Minute, mr.TTL("rate_limit:ip:1.2.3.4"))
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	mr, store := newTestStore(t)
	rl := newTestRateLimiter(store)
	mr.Close()

	for i := 0; i < 10; i++ {
		assert.False(t, rl.Check(context.Background(), "id", AxisIP, 1, time.Hour))
	}
	assert.NoError(t, rl.CheckOTPRequest(context.Background(), "1.2.3.4", phone.MustParse(testPhone)))
}

func TestRateLimiter_CheckOTPRequest_IPFirst(t *testing.T) {
	_, store := newTestStore(t)
	rl := newTestRateLimiter(store)
	ctx := context.Background()

	for i := 0; i < OTPRequestsPerIP; i++ {
		num := phone.MustParse("+98912345678" + string(rune('0'+i)))
		require.NoError(t, rl.CheckOTPRequest(ctx, "1.2.3.4", num))
	}

	err := rl.CheckOTPRequest(ctx, "1.2.3.4", phone.MustParse(testPhone))

	require.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, msgIPRateLimited, PublicMessage(err))
}

func TestRateLimiter_CheckOTPRequest_PhoneAxis(t *testing.T) {
	_, store := newTestStore(t)
	rl := newTestRateLimiter(store)
	ctx := context.Background()
	num := phone.MustParse(testPhone)

	require.NoError(t, rl.CheckOTPRequest(ctx, "10.0.0.1", num))
	require.NoError(t, rl.CheckOTPRequest(ctx, "10.0.0.2", num))
	require.NoError(t, rl.CheckOTPRequest(ctx, "10.0.0.3", num))

	err := rl.CheckOTPRequest(ctx, "10.0.0.4", num)

	require.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, msgPhoneRateLimited, PublicMessage(err))
}

func TestRateLimiter_RemainingIncrementReset(t *testing.T) {
	mr, store := newTestStore(t)
	rl := newTestRateLimiter(store)
	ctx := context.Background()

	assert.Equal(t, int64(5), rl.Remaining(ctx, "ip", AxisIP, 5))
	assert.Equal(t, int64(1), rl.Increment(ctx, "ip", AxisIP, time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("rate_limit:ip:ip"))
	rl.Increment(ctx, "ip", AxisIP, time.Minute)
	assert.Equal(t, int64(3), rl.Remaining(ctx, "ip", AxisIP, 5))
	assert.Equal(t, int64(0), rl.Remaining(ctx, "ip", AxisIP, 1))

	rl.Reset(ctx, "ip", AxisIP)
	assert.Zero(t, rl.Count(ctx, "ip", AxisIP))
}

func TestRateLimiter_RearmsWindowAfterFailedExpire(t *testing.T) {
	mr, store := newTestStore(t)
	rl := newTestRateLimiter(&expireFailingStore{Store: store, failures: 1})
	ctx := context.Background()

	assert.False(t, rl.Check(ctx, "id", AxisPhone, 3, time.Hour))
	assert.Zero(t, mr.TTL("rate_limit:phone:id"))

	assert.False(t, rl.Check(ctx, "id", AxisPhone, 3, time.Hour))
	assert.Equal(t, time.Hour, mr.TTL("rate_limit:phone:id"))

	mr.FastForward(time.Hour)
	assert.False(t, rl.Check(ctx, "id", AxisPhone, 3, time.Hour))
}

func TestRateLimiter_RearmsWindowWhenAlreadyLimited(t *testing.T) {
	mr, store := newTestStore(t)
	rl := newTestRateLimiter(store)
	ctx := context.Background()
	require.NoError(t, mr.Set("rate_limit:phone:id", "3"))

	assert.True(t, rl.Check(ctx, "id", AxisPhone, 3, time.Hour))
	assert.Equal(t, time.Hour, mr.TTL("rate_limit:phone:id"))

	mr.FastForward(48 * time.Hour)
	assert.False(t, rl.Check(ctx, "id", AxisPhone, 3, time.Hour))
}
