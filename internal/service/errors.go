package service

import "errors"

// Credential verification outcomes. ErrInvalidCredentials deliberately
// covers both "no such account" and "wrong password" so responses
// cannot be used for account enumeration.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is locked")
	ErrAccountSuspended   = errors.New("account is suspended")
	ErrAccountInactive    = errors.New("account is inactive")
)

// One-time code verification outcomes.
var (
	ErrOTPNotRequested = errors.New("no code was requested for this action")
	ErrOTPExpired      = errors.New("code has expired")
	ErrOTPMismatch     = errors.New("code does not match")
)

// Account management outcomes.
var (
	ErrAccountExists   = errors.New("account already exists")
	ErrAccountNotFound = errors.New("account not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotAuthorized   = errors.New("action not authorized")
)
