package clickhouse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"hr-auth-service/internal/client"
	"hr-auth-service/internal/models"
	"hr-auth-service/internal/util"
)

// AuditRepository is the append-only audit trail. Records are never
// updated; Purge is the single destructive operation and is reachable
// only through a CLEAR_AUDIT_LOGS grant.
type AuditRepository interface {
	Insert(ctx context.Context, record *models.AuditRecord) error
	List(ctx context.Context, filter *models.AuditFilter) ([]*models.AuditRecord, error)
	Purge(ctx context.Context, olderThan *time.Time) error
}

type auditRepository struct {
	client *client.ClickHouseClient
}

func NewAuditRepository(chClient *client.ClickHouseClient, logger *zap.Logger) AuditRepository {
	return &auditRepository{client: chClient}
}

func (r *auditRepository) Insert(ctx context.Context, record *models.AuditRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := r.client.Conn().Exec(ctx, `
		INSERT INTO audit_records (
			event_bucket, record_id, actor_id, action, target_type,
			target_id, outcome, detail, ip_address, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.EventBucket, record.RecordID, record.ActorID, record.Action,
		record.TargetType, record.TargetID, record.Outcome, record.Detail,
		record.IPAddress, record.CreatedAt)
	if err != nil {
		util.Error("Failed to insert audit record",
			zap.String("record_id", record.RecordID),
			zap.String("action", record.Action),
			zap.Error(err))
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	util.Debug("Audit record written",
		zap.String("record_id", record.RecordID),
		zap.String("action", record.Action),
		zap.String("outcome", record.Outcome))
	return nil
}

func (r *auditRepository) List(ctx context.Context, filter *models.AuditFilter) ([]*models.AuditRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	query := `
		SELECT event_bucket, record_id, actor_id, action, target_type,
			target_id, outcome, detail, ip_address, created_at
		FROM audit_records WHERE 1 = 1`
	args := make([]interface{}, 0, 4)

	if filter != nil {
		if filter.ActorID != "" {
			query += " AND actor_id = ?"
			args = append(args, filter.ActorID)
		}
		if filter.Action != "" {
			query += " AND action = ?"
			args = append(args, filter.Action)
		}
		if !filter.Since.IsZero() {
			query += " AND created_at >= ?"
			args = append(args, filter.Since)
		}
		if !filter.Until.IsZero() {
			query += " AND created_at < ?"
			args = append(args, filter.Until)
		}
	}

	query += " ORDER BY created_at DESC"
	limit := 100
	if filter != nil && filter.Limit > 0 {
		limit = filter.Limit
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := r.client.Conn().Query(ctx, query, args...)
	if err != nil {
		util.Error("Failed to list audit records", zap.Error(err))
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	var records []*models.AuditRecord
	for rows.Next() {
		record := &models.AuditRecord{}
		var bucket int32
		if err := rows.Scan(&bucket, &record.RecordID, &record.ActorID,
			&record.Action, &record.TargetType, &record.TargetID,
			&record.Outcome, &record.Detail, &record.IPAddress,
			&record.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		record.EventBucket = int(bucket)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit records: %w", err)
	}

	return records, nil
}

// Purge removes records older than the cutoff, or everything when the
// cutoff is nil.
func (r *auditRepository) Purge(ctx context.Context, olderThan *time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	var err error
	if olderThan != nil {
		err = r.client.Conn().Exec(ctx,
			`DELETE FROM audit_records WHERE created_at < ?`, *olderThan)
	} else {
		err = r.client.Conn().Exec(ctx, `TRUNCATE TABLE audit_records`)
	}
	if err != nil {
		util.Error("Failed to purge audit records", zap.Error(err))
		return fmt.Errorf("failed to purge audit records: %w", err)
	}

	util.Warn("Audit records purged",
		zap.Bool("full_purge", olderThan == nil))
	return nil
}
