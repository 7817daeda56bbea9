package bucketing

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"phone-auth-service/internal/config"
)

func TestUserBucket_StableAndInRange(t *testing.T) {
	bm := NewBucketingManager(&config.Config{
		Bucketing: config.BucketingConfig{UserBuckets: 64, EventBuckets: 8},
	})

	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("user-%d", i)
		b := bm.UserBucket(id)
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 64)
		assert.Equal(t, b, bm.UserBucket(id))
	}
}

func TestUserBucket_Spreads(t *testing.T) {
	bm := newManager(16, 16)
	seen := map[int]bool{}
	for i := 0; i < 1000; i++ {
		seen[bm.UserBucket(fmt.Sprintf("id-%d", i))] = true
	}
	assert.Len(t, seen, 16)
}

func TestEventBucket_Range(t *testing.T) {
	bm := newManager(4, 3)
	for i := 0; i < 100; i++ {
		b := bm.EventBucket(fmt.Sprintf("k%d", i))
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 3)
	}
}

func TestNonPositiveBucketCountsClampToOne(t *testing.T) {
	bm := newManager(0, -1)
	assert.Equal(t, 1, bm.UserBuckets())
	assert.Equal(t, 1, bm.EventBuckets())
	assert.Equal(t, 0, bm.UserBucket("anything"))
}

func TestDateBucket(t *testing.T) {
	bm := newManager(1, 1)
	ts := time.Date(2026, 3, 1, 23, 30, 0, 0, time.FixedZone("IRST", 3*3600+1800))
	assert.Equal(t, "2026-03-01", bm.DateBucket(ts))
}
