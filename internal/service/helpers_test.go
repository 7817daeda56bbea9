package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"phone-auth-service/internal/audit"
	"phone-auth-service/internal/hashing"
	"phone-auth-service/internal/models"
	"phone-auth-service/internal/phone"
	cache "phone-auth-service/internal/repository/redis"
)

const testPhone = "+989123456789"

func newTestStore(t *testing.T) (*miniredis.Miniredis, cache.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{
		Addr:       mr.Addr(),
		MaxRetries: -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return mr, cache.NewKVStore(client, time.Second, zap.NewNop())
}

func newTestOTPService(store cache.Store, logger *zap.Logger) *OTPService {
	return NewOTPService(
		cache.NewOTPCache(store),
		hashing.NewHasher("test-otp-secret"),
		OTPSettings{Length: 6, Expiry: 2 * time.Minute, Lockout: 15 * time.Minute},
		logger,
	)
}

type challengeStub struct {
	err   error
	calls int
}

func (c *challengeStub) Verify(context.Context, string, string) error {
	c.calls++
	return c.err
}

type senderStub struct {
	mu       sync.Mutex
	err      error
	messages []string
}

func (s *senderStub) Send(_ context.Context, _, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	return s.err
}

var codePattern = regexp.MustCompile(`\d{6}`)

func (s *senderStub) lastCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return ""
	}
	return codePattern.FindString(s.messages[len(s.messages)-1])
}

type userDirectoryStub struct {
	mu      sync.Mutex
	byPhone map[string]*models.User
	upserts int
	findErr error
}

func newUserDirectoryStub() *userDirectoryStub {
	return &userDirectoryStub{byPhone: map[string]*models.User{}}
}

func (d *userDirectoryStub) FindOrCreateByPhone(_ context.Context, num phone.Number, _ models.ProfileHints) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.findErr != nil {
		return nil, d.findErr
	}
	if u, ok := d.byPhone[num.String()]; ok {
		return u, nil
	}
	u := &models.User{UserID: "user-" + num.String()[len(num.String())-4:], Phone: num.String(), CreatedAt: time.Now()}
	d.byPhone[num.String()] = u
	return u, nil
}

func (d *userDirectoryStub) UpsertPhoneCredential(context.Context, string, phone.Number) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.upserts++
	return nil
}

func (d *userDirectoryStub) FindByPhone(_ context.Context, num phone.Number) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.byPhone[num.String()]; ok {
		return u, nil
	}
	return nil, models.ErrUserNotFound
}

func (d *userDirectoryStub) FindByID(_ context.Context, id string) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.byPhone {
		if u.UserID == id {
			return u, nil
		}
	}
	return nil, models.ErrUserNotFound
}

type eventRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *eventRecorder) Emit(e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) types() []audit.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

var errBoom = errors.New("boom")

func modelsHints() models.ProfileHints {
	return models.ProfileHints{}
}

// expireFailingStore drops the first n Expire calls, as a store hiccup
// between INCR and EXPIRE would.
type expireFailingStore struct {
	cache.Store
	mu       sync.Mutex
	failures int
}

func (s *expireFailingStore) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	return s.Store.Expire(ctx, key, ttl)
}
