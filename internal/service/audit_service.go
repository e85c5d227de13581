package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hr-auth-service/internal/bucketing"
	"hr-auth-service/internal/events"
	"hr-auth-service/internal/models"
	"hr-auth-service/internal/otp"
	"hr-auth-service/internal/repository/clickhouse"
	"hr-auth-service/internal/repository/elastic"
	"hr-auth-service/internal/util"
)

// AuditService appends to the write-once audit trail and serves reads.
// ClickHouse is the source of truth; the Elasticsearch mirror is best
// effort and only backs full-text search.
type AuditService struct {
	repo      clickhouse.AuditRepository
	index     elastic.AuditIndex
	bucketing *bucketing.BucketingManager
	emitter   events.Emitter

	now func() time.Time
}

func NewAuditService(
	repo clickhouse.AuditRepository,
	index elastic.AuditIndex,
	bucketingMgr *bucketing.BucketingManager,
	emitter events.Emitter,
) *AuditService {
	return &AuditService{
		repo:      repo,
		index:     index,
		bucketing: bucketingMgr,
		emitter:   emitter,
		now:       time.Now,
	}
}

// Record appends one entry. An index failure is logged and swallowed;
// the ClickHouse write is the one that matters.
func (s *AuditService) Record(ctx context.Context, actorID, action, targetType, targetID, outcome, detail, ipAddress string) error {
	now := s.now().UTC()
	record := &models.AuditRecord{
		EventBucket: s.bucketing.EventBucket(actorID, now),
		RecordID:    uuid.New().String(),
		ActorID:     actorID,
		Action:      action,
		TargetType:  targetType,
		TargetID:    targetID,
		Outcome:     outcome,
		Detail:      detail,
		IPAddress:   ipAddress,
		CreatedAt:   now,
	}

	if err := s.repo.Insert(ctx, record); err != nil {
		return err
	}

	if err := s.index.Index(ctx, record); err != nil {
		util.Warn("Failed to mirror audit record into search index",
			zap.String("record_id", record.RecordID),
			zap.Error(err))
	}
	return nil
}

func (s *AuditService) List(ctx context.Context, filter *models.AuditFilter) ([]*models.AuditRecord, error) {
	return s.repo.List(ctx, filter)
}

func (s *AuditService) Search(ctx context.Context, query string, limit int) ([]*models.AuditRecord, error) {
	return s.index.Search(ctx, query, limit)
}

// Purge removes audit records, optionally only those older than a
// cutoff. A Grant for the purge action is mandatory; the purge itself
// is the last thing written to the trail before it goes.
func (s *AuditService) Purge(ctx context.Context, actorID string, grant *otp.Grant, olderThan *time.Time) error {
	if !grant.Authorizes(actorID, otp.ActionClearAuditLogs) {
		return ErrNotAuthorized
	}

	if err := s.repo.Purge(ctx, olderThan); err != nil {
		return err
	}
	// The mirror gets the same cutoff so retained records stay
	// searchable after a partial purge.
	if err := s.index.Purge(ctx, olderThan); err != nil {
		util.Warn("Failed to purge search index", zap.Error(err))
	}

	s.emitter.Emit(ctx, actorID, models.EventAuditPurged, string(otp.ActionClearAuditLogs), "", "")
	util.Warn("Audit trail purged", zap.String("actor_id", actorID))
	return nil
}
