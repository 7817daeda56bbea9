package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cache "phone-auth-service/internal/repository/redis"
)

func newTestFingerprintService(store cache.Store) *FingerprintService {
	return NewFingerprintService(cache.NewFingerprintCache(store), zap.NewNop())
}

func TestFingerprintService_Generate(t *testing.T) {
	_, store := newTestStore(t)
	svc := newTestFingerprintService(store)
	in := FingerprintInput{
		IP:             "1.2.3.4",
		UserAgent:      "Mozilla/5.0",
		AcceptLanguage: "fa-IR",
		AcceptEncoding: "gzip",
	}

	sum := sha256.Sum256([]byte("1.2.3.4|Mozilla/5.0|fa-IR|gzip"))
	assert.Equal(t, hex.EncodeToString(sum[:]), svc.Generate(in))
	assert.Equal(t, svc.Generate(in), svc.Generate(in))

	in.UserAgent = "curl/8.0"
	assert.NotEqual(t, hex.EncodeToString(sum[:]), svc.Generate(in))
}

func TestFingerprintService_SuspicionThreshold(t *testing.T) {
	mr, store := newTestStore(t)
	svc := newTestFingerprintService(store)
	ctx := context.Background()

	svc.MarkSuspicious(ctx, "fp")
	svc.MarkSuspicious(ctx, "fp")
	assert.False(t, svc.IsSuspicious(ctx, "fp"))

	svc.MarkSuspicious(ctx, "fp")
	assert.True(t, svc.IsSuspicious(ctx, "fp"))
	assert.Equal(t, SuspicionTTL, mr.TTL("fingerprint:suspicious:fp"))
}

func TestFingerprintService_FailsOpen(t *testing.T) {
	mr, store := newTestStore(t)
	svc := newTestFingerprintService(store)
	mr.Close()

	assert.NotPanics(t, func() { svc.MarkSuspicious(context.Background(), "fp") })
	assert.False(t, svc.IsSuspicious(context.Background(), "fp"))
}

func TestFingerprintService_RestoresTTLAfterFailedExpire(t *testing.T) {
	mr, store := newTestStore(t)
	svc := newTestFingerprintService(&expireFailingStore{Store: store, failures: 1})
	ctx := context.Background()

	svc.MarkSuspicious(ctx, "fp")
	assert.Zero(t, mr.TTL("fingerprint:suspicious:fp"))

	svc.MarkSuspicious(ctx, "fp")
	assert.Equal(t, SuspicionTTL, mr.TTL("fingerprint:suspicious:fp"))
}

func TestFingerprintService_SuspiciousCounterWithoutTTLExpires(t *testing.T) {
	mr, store := newTestStore(t)
	svc := newTestFingerprintService(store)
	ctx := context.Background()
	require.NoError(t, mr.Set("fingerprint:suspicious:fp", "5"))

	assert.True(t, svc.IsSuspicious(ctx, "fp"))
	assert.Equal(t, SuspicionTTL, mr.TTL("fingerprint:suspicious:fp"))

	mr.FastForward(SuspicionTTL)
	assert.False(t, svc.IsSuspicious(ctx, "fp"))
}
