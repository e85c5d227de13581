package models

import "time"

// SecurityEvent is an authentication-significant occurrence published
// to Kafka for downstream risk analysis.
type SecurityEvent struct {
	EventBucket int       `json:"event_bucket"`
	AccountID   string    `json:"account_id"`
	EventType   string    `json:"event_type"`
	Action      string    `json:"action,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	IPAddress   string    `json:"ip_address,omitempty"`
	EventTime   time.Time `json:"event_time"`
}

// Security event types.
const (
	EventLoginFailed         = "LOGIN_FAILED"
	EventLoginSucceeded      = "LOGIN_SUCCEEDED"
	EventAccountLocked       = "ACCOUNT_LOCKED"
	EventOTPIssued           = "OTP_ISSUED"
	EventOTPVerified         = "OTP_VERIFIED"
	EventOTPRejected         = "OTP_REJECTED"
	EventOTPAttemptsExceeded = "OTP_ATTEMPTS_EXCEEDED"
	EventOTPCancelled        = "OTP_CANCELLED"
	EventPasswordReset       = "PASSWORD_RESET"
	EventAfterHoursLogin     = "AFTER_HOURS_LOGIN"
	EventAuditPurged         = "AUDIT_PURGED"
	EventAccountDeleted      = "ACCOUNT_DELETED"
)
