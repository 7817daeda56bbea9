// Package bucketing spreads partition keys across a fixed number of buckets
// with murmur3 so wide tables avoid hot partitions.
package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"phone-auth-service/internal/config"
)

type BucketingManager struct {
	userBuckets  int
	eventBuckets int
	hasherPool   sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	return newManager(cfg.Bucketing.UserBuckets, cfg.Bucketing.EventBuckets)
}

func newManager(userBuckets, eventBuckets int) *BucketingManager {
	if userBuckets <= 0 {
		userBuckets = 1
	}
	if eventBuckets <= 0 {
		eventBuckets = 1
	}
	bm := &BucketingManager{
		userBuckets:  userBuckets,
		eventBuckets: eventBuckets,
	}
	bm.hasherPool = sync.Pool{
		New: func() any {
			return murmur3.New64()
		},
	}
	return bm
}

// UserBucket returns the stable bucket in [0, userBuckets) for a user ID.
func (bm *BucketingManager) UserBucket(userID string) int {
	return bm.bucket(userID, bm.userBuckets)
}

// EventBucket returns the bucket for an event partition key such as a phone
// hash.
func (bm *BucketingManager) EventBucket(key string) int {
	return bm.bucket(key, bm.eventBuckets)
}

// DateBucket is the UTC calendar day of t.
func (bm *BucketingManager) DateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) UserBuckets() int {
	return bm.userBuckets
}

func (bm *BucketingManager) EventBuckets() int {
	return bm.eventBuckets
}

func (bm *BucketingManager) bucket(key string, n int) int {
	return int(bm.hash(key) % uint64(n))
}

func (bm *BucketingManager) hash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	_, _ = hasher.Write([]byte(key))
	return hasher.Sum64()
}
