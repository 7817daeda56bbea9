package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"phone-auth-service/internal/util"
)

// Store is the ephemeral key-value surface used by the OTP, rate limit and
// fingerprint caches. No method returns an error: transport failures degrade
// to the documented sentinel and the caller applies its own open or closed
// policy.
type Store interface {
	// Get returns ok=false for a missing key or a failed read.
	Get(ctx context.Context, key string) (value string, ok bool)
	// Set stores value with ttl (no expiry when ttl <= 0). False on failure.
	Set(ctx context.Context, key, value string, ttl time.Duration) bool
	// Incr returns the post-increment value, or 0 on failure.
	Incr(ctx context.Context, key string) int64
	Expire(ctx context.Context, key string, ttl time.Duration) bool
	// TTL returns -2s for a missing key or a failed read and -1s for a key
	// without expiry.
	TTL(ctx context.Context, key string) time.Duration
	Exists(ctx context.Context, key string) bool
	Del(ctx context.Context, keys ...string) bool
}

const (
	TTLMissing  = -2 * time.Second
	TTLNoExpiry = -1 * time.Second
)

// KVStore implements Store on go-redis with a per-command deadline.
type KVStore struct {
	client  goredis.Cmdable
	timeout time.Duration
	logger  *zap.Logger
}

var _ Store = (*KVStore)(nil)

func NewKVStore(client goredis.Cmdable, timeout time.Duration, logger *zap.Logger) *KVStore {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &KVStore{client: client, timeout: timeout, logger: logger}
}

func (s *KVStore) Get(ctx context.Context, key string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			s.warn("get", key, err)
		}
		return "", false
	}
	return val, true
}

func (s *KVStore) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		s.warn("set", key, err)
		return false
	}
	return true
}

func (s *KVStore) Incr(ctx context.Context, key string) int64 {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		s.warn("incr", key, err)
		return 0
	}
	return n
}

func (s *KVStore) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		s.warn("expire", key, err)
		return false
	}
	return ok
}

func (s *KVStore) TTL(ctx context.Context, key string) time.Duration {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		s.warn("ttl", key, err)
		return TTLMissing
	}
	// go-redis reports -1/-2 as raw nanosecond durations.
	switch ttl {
	case -2:
		return TTLMissing
	case -1:
		return TTLNoExpiry
	}
	return ttl
}

func (s *KVStore) Exists(ctx context.Context, key string) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		s.warn("exists", key, err)
		return false
	}
	return n > 0
}

func (s *KVStore) Del(ctx context.Context, keys ...string) bool {
	if len(keys) == 0 {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		s.warn("del", keys[0], err)
		return false
	}
	return true
}

// CountKeys walks the keyspace with SCAN and counts keys matching pattern.
// Returns -1 on failure.
func (s *KVStore) CountKeys(ctx context.Context, pattern string) int64 {
	var (
		cursor uint64
		total  int64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			s.warn("scan", pattern, err)
			return -1
		}
		total += int64(len(keys))
		cursor = next
		if cursor == 0 {
			return total
		}
	}
}

func (s *KVStore) warn(op, key string, err error) {
	s.logger.Warn("Store operation failed",
		zap.String("op", op),
		zap.String("key", redactKey(key)),
		zap.Error(err))
}

// redactKey keeps the namespace of a key and masks its identifier, which may
// be a phone number.
func redactKey(key string) string {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return util.MaskPhone(key)
	}
	return key[:i+1] + util.MaskPhone(key[i+1:])
}
