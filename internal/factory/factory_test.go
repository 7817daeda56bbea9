package factory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"phone-auth-service/internal/client"
	"phone-auth-service/internal/config"
	cache "phone-auth-service/internal/repository/redis"
	"phone-auth-service/internal/service"
)

func newPartialFactory(t *testing.T) (*Factory, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := &config.Config{
		OTP: config.OTPConfig{Length: 6, ExpiryMinutes: 2, LockoutMinutes: 15},
		JWT: config.JWTConfig{Secret: "s", ExpiryHours: 1},
	}
	f := &Factory{
		config:      cfg,
		logger:      zap.NewNop(),
		redisClient: &client.RedisClient{Client: rdb},
		store:       cache.NewKVStore(rdb, 0, zap.NewNop()),
	}
	f.serviceFactory = service.NewServiceFactory(cfg, f.store, nil, nil, nil, nil, zap.NewNop())
	return f, mr
}

func TestHealthCheck_ReportsMissingRequiredDependencies(t *testing.T) {
	f, _ := newPartialFactory(t)

	results := f.HealthCheck(context.Background())

	assert.NoError(t, results["redis"])
	assert.ErrorIs(t, results["scylla"], errNotInitialized)
	assert.NotContains(t, results, "kafka")
	assert.False(t, f.IsHealthy(context.Background()))
}

func TestHealthCheck_RedisDown(t *testing.T) {
	f, mr := newPartialFactory(t)
	mr.Close()

	results := f.HealthCheck(context.Background())

	assert.Error(t, results["redis"])
}

func TestStats(t *testing.T) {
	f, mr := newPartialFactory(t)
	require.NoError(t, mr.Set("otp:hash:+989123456789", "h"))
	require.NoError(t, mr.Set("otp:lock:+989120000000", "1"))

	raw, err := json.Marshal(f.Stats(context.Background()))
	require.NoError(t, err)

	var decoded struct {
		OTP struct {
			ActiveCodes  int64 `json:"active_codes"`
			LockedPhones int64 `json:"locked_phones"`
		} `json:"otp"`
		RedisPool *struct {
			TotalConns uint32 `json:"total_conns"`
		} `json:"redis_pool"`
		AuditDropped uint64 `json:"audit_dropped"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, int64(1), decoded.OTP.ActiveCodes)
	assert.Equal(t, int64(1), decoded.OTP.LockedPhones)
	assert.Zero(t, decoded.AuditDropped)
	require.NotNil(t, decoded.RedisPool)
	assert.Positive(t, decoded.RedisPool.TotalConns)
}

func TestEvents_NilWhenAuditDisabled(t *testing.T) {
	f, _ := newPartialFactory(t)

	assert.Nil(t, f.events())
}

func TestClose_Idempotent(t *testing.T) {
	f, _ := newPartialFactory(t)

	f.Close()
	f.Close()
}
