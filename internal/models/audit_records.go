package models

import "time"

// AuditRecord is one write-once entry in the audit trail. Records are
// appended to ClickHouse and mirrored into the Elasticsearch index;
// they are never mutated, only purged wholesale through a gated action.
type AuditRecord struct {
	EventBucket int       `db:"event_bucket" json:"event_bucket"`
	RecordID    string    `db:"record_id" json:"record_id"`
	ActorID     string    `db:"actor_id" json:"actor_id"`
	Action      string    `db:"action" json:"action"`
	TargetType  string    `db:"target_type" json:"target_type"`
	TargetID    string    `db:"target_id" json:"target_id"`
	Outcome     string    `db:"outcome" json:"outcome"`
	Detail      string    `db:"detail" json:"detail"`
	IPAddress   string    `db:"ip_address" json:"ip_address"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Audit outcomes.
const (
	OutcomeSuccess = "SUCCESS"
	OutcomeDenied  = "DENIED"
	OutcomeFailure = "FAILURE"
)

// AuditFilter narrows audit listings. Zero values mean "no constraint".
type AuditFilter struct {
	ActorID string
	Action  string
	Since   time.Time
	Until   time.Time
	Limit   int
}
