package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"hr-auth-service/internal/bucketing"
	"hr-auth-service/internal/events"
	"hr-auth-service/internal/models"
	"hr-auth-service/internal/otp"
)

// fakeAuditRepo records inserts and the purge cutoffs it was given.
type fakeAuditRepo struct {
	records []*models.AuditRecord
	purges  []*time.Time
}

func (r *fakeAuditRepo) Insert(ctx context.Context, record *models.AuditRecord) error {
	r.records = append(r.records, record)
	return nil
}

func (r *fakeAuditRepo) List(ctx context.Context, filter *models.AuditFilter) ([]*models.AuditRecord, error) {
	return r.records, nil
}

func (r *fakeAuditRepo) Purge(ctx context.Context, olderThan *time.Time) error {
	r.purges = append(r.purges, olderThan)
	return nil
}

// fakeAuditIndex records the purge cutoffs forwarded to the mirror.
type fakeAuditIndex struct {
	indexed []*models.AuditRecord
	purges  []*time.Time
	fail    bool
}

func (i *fakeAuditIndex) Index(ctx context.Context, record *models.AuditRecord) error {
	if i.fail {
		return errors.New("index unavailable")
	}
	i.indexed = append(i.indexed, record)
	return nil
}

func (i *fakeAuditIndex) Search(ctx context.Context, query string, limit int) ([]*models.AuditRecord, error) {
	return i.indexed, nil
}

func (i *fakeAuditIndex) Purge(ctx context.Context, olderThan *time.Time) error {
	if i.fail {
		return errors.New("index unavailable")
	}
	i.purges = append(i.purges, olderThan)
	return nil
}

func newAuditService(repo *fakeAuditRepo, index *fakeAuditIndex) *AuditService {
	return NewAuditService(repo, index, bucketing.NewBucketingManager(testConfig()), events.NewNopEmitter())
}

func TestPurgeMirrorsCutoffToSearchIndex(t *testing.T) {
	repo := &fakeAuditRepo{}
	index := &fakeAuditIndex{}
	svc := newAuditService(repo, index)
	ctx := context.Background()

	grant := otp.NewGrant("admin-1", otp.ActionClearAuditLogs, time.Now())
	cutoff := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	if err := svc.Purge(ctx, "admin-1", grant, &cutoff); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}

	if len(repo.purges) != 1 || repo.purges[0] == nil || !repo.purges[0].Equal(cutoff) {
		t.Fatalf("unexpected repository cutoffs %v", repo.purges)
	}
	// A partial purge must not empty the mirror: the index gets the
	// same cutoff, not a full wipe.
	if len(index.purges) != 1 {
		t.Fatalf("expected one index purge, got %d", len(index.purges))
	}
	if index.purges[0] == nil || !index.purges[0].Equal(cutoff) {
		t.Fatalf("index purge cutoff %v does not match %v", index.purges[0], cutoff)
	}
}

func TestPurgeWithoutCutoffClearsEverything(t *testing.T) {
	repo := &fakeAuditRepo{}
	index := &fakeAuditIndex{}
	svc := newAuditService(repo, index)

	grant := otp.NewGrant("admin-1", otp.ActionClearAuditLogs, time.Now())
	if err := svc.Purge(context.Background(), "admin-1", grant, nil); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}

	if len(repo.purges) != 1 || repo.purges[0] != nil {
		t.Fatalf("unexpected repository cutoffs %v", repo.purges)
	}
	if len(index.purges) != 1 || index.purges[0] != nil {
		t.Fatalf("unexpected index cutoffs %v", index.purges)
	}
}

func TestPurgeRequiresMatchingGrant(t *testing.T) {
	repo := &fakeAuditRepo{}
	svc := newAuditService(repo, &fakeAuditIndex{})
	ctx := context.Background()

	if err := svc.Purge(ctx, "admin-1", nil, nil); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized without grant, got %v", err)
	}

	wrong := otp.NewGrant("admin-1", otp.ActionDeleteEmployee, time.Now())
	if err := svc.Purge(ctx, "admin-1", wrong, nil); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized with wrong-action grant, got %v", err)
	}
	if len(repo.purges) != 0 {
		t.Fatal("purge reached the repository without a grant")
	}
}

func TestRecordSurvivesIndexFailure(t *testing.T) {
	repo := &fakeAuditRepo{}
	svc := newAuditService(repo, &fakeAuditIndex{fail: true})

	err := svc.Record(context.Background(), "admin-1", "LOGIN", "account", "admin-1", models.OutcomeSuccess, "", "10.0.0.1")
	if err != nil {
		t.Fatalf("Record failed on index error: %v", err)
	}
	if len(repo.records) != 1 {
		t.Fatalf("expected one stored record, got %d", len(repo.records))
	}
}
