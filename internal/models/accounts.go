package models

import "time"

// Account is an authentication principal of the HR platform. Lookup is
// by the SHA-256 hash of the normalized email; the address itself is
// stored envelope-encrypted.
type Account struct {
	UserBucket          int        `db:"user_bucket"`
	AccountID           string     `db:"account_id"`
	EmailHash           string     `db:"email_hash"`
	EmailEncrypted      []byte     `db:"email_encrypted"`
	EmailKeyID          string     `db:"email_key_id"`
	PasswordHash        string     `db:"password_hash"`
	Role                string     `db:"role"`
	IsActive            bool       `db:"is_active"`
	Suspended           bool       `db:"suspended"`
	MFAEnabled          bool       `db:"mfa_enabled"`
	FailedLoginAttempts int        `db:"failed_login_attempts"`
	LockedUntil         *time.Time `db:"locked_until"`
	LastLogin           *time.Time `db:"last_login"`
	LastPasswordChange  *time.Time `db:"last_password_change"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           *time.Time `db:"updated_at"`
}

// Locked reports whether the account is inside an active lock window.
func (a *Account) Locked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// Account roles, mirroring the HR platform's role model.
const (
	RoleSuperAdmin = "SUPER_ADMIN"
	RoleHR         = "HR"
	RoleAccountant = "ACCOUNTANT"
	RoleEmployee   = "EMPLOYEE"
)

// ValidRole reports whether role belongs to the closed role set.
func ValidRole(role string) bool {
	switch role {
	case RoleSuperAdmin, RoleHR, RoleAccountant, RoleEmployee:
		return true
	}
	return false
}
