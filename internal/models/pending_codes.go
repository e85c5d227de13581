package models

import "time"

// PendingCode is one outstanding one-time code, keyed by
// (subject, action). It lives only in Redis; the code itself is never
// stored, only its argon2 hash. The attempt counter is kept under its
// own Redis key so it can outlive the code record.
type PendingCode struct {
	SubjectID string    `json:"subject_id"`
	Action    string    `json:"action"`
	CodeHash  string    `json:"code_hash"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the code's validity window has passed.
func (p *PendingCode) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
