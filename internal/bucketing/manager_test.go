package bucketing

import (
	"testing"
	"time"

	"hr-auth-service/internal/config"
)

func testManager() *BucketingManager {
	return NewBucketingManager(&config.Config{
		Bucketing: config.BucketingConfig{UserBuckets: 16, EventBuckets: 32},
	})
}

func TestUserBucketStableAndInRange(t *testing.T) {
	bm := testManager()

	first := bm.UserBucket("account-1")
	for i := 0; i < 100; i++ {
		if got := bm.UserBucket("account-1"); got != first {
			t.Fatalf("bucket not stable: %d vs %d", got, first)
		}
	}
	if first < 0 || first >= 16 {
		t.Fatalf("bucket out of range: %d", first)
	}
}

func TestEventBucketVariesByDay(t *testing.T) {
	bm := testManager()

	monday := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	sameDay := bm.EventBucket("account-1", monday.Add(5*time.Hour))
	if got := bm.EventBucket("account-1", monday); got != sameDay {
		t.Fatalf("same-day buckets differ: %d vs %d", got, sameDay)
	}

	if got := bm.EventBucket("account-1", monday); got < 0 || got >= 32 {
		t.Fatalf("bucket out of range: %d", got)
	}
}
