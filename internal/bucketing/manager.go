package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"hr-auth-service/internal/config"
)

// BucketingManager assigns stable partition buckets so account rows and
// event streams spread evenly across storage partitions.
type BucketingManager struct {
	userBuckets  int
	eventBuckets int
	hasherPool   sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		userBuckets:  cfg.Bucketing.UserBuckets,
		eventBuckets: cfg.Bucketing.EventBuckets,
	}

	// Pool of hash functions to avoid allocation on the hot path
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

func (bm *BucketingManager) hash(value string) uint64 {
	h := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(h)

	h.Reset()
	_, _ = h.Write([]byte(value))
	return h.Sum64()
}

// UserBucket returns a consistent bucket in [0, userBuckets) for an
// account identifier.
func (bm *BucketingManager) UserBucket(accountID string) int {
	if bm.userBuckets <= 0 {
		return 0
	}
	return int(bm.hash(accountID) % uint64(bm.userBuckets))
}

// EventBucket buckets events by account and day so one account's burst
// stays in one partition per day.
func (bm *BucketingManager) EventBucket(accountID string, at time.Time) int {
	if bm.eventBuckets <= 0 {
		return 0
	}
	key := accountID + ":" + at.UTC().Format("2006-01-02")
	return int(bm.hash(key) % uint64(bm.eventBuckets))
}
