// Package otp defines the closed set of critical actions a one-time
// code can authorize, and the Grant minted when a code is verified.
package otp

import (
	"errors"
	"time"
)

// Action identifies which sensitive operation a pending code authorizes.
// The set is closed: free-form tags are rejected before any store access,
// so a typo in a call site cannot create an unreachable pending code.
type Action string

const (
	ActionAccountRecovery       Action = "ACCOUNT_RECOVERY"
	ActionMFALogin              Action = "MFA_LOGIN"
	ActionDeleteEmployee        Action = "DELETE_EMPLOYEE"
	ActionClearAuditLogs        Action = "CLEAR_AUDIT_LOGS"
	ActionCreatePurchaseRequest Action = "CREATE_PURCHASE_REQUEST"
	ActionReviewPurchaseRequest Action = "REVIEW_PURCHASE_REQUEST"
	ActionUploadReceipt         Action = "UPLOAD_RECEIPT"
	ActionVerifyClaim           Action = "VERIFY_CLAIM"
	ActionProcessClaim          Action = "PROCESS_CLAIM"
)

var ErrUnknownAction = errors.New("unknown action")

var actionDescriptions = map[Action]string{
	ActionAccountRecovery:       "recover your locked account and reset your password",
	ActionMFALogin:              "complete your sign-in",
	ActionDeleteEmployee:        "delete an employee account",
	ActionClearAuditLogs:        "purge audit log records",
	ActionCreatePurchaseRequest: "create a purchase request",
	ActionReviewPurchaseRequest: "review a purchase request",
	ActionUploadReceipt:         "upload a payment receipt",
	ActionVerifyClaim:           "verify a claim",
	ActionProcessClaim:          "process a claim payout",
}

// destructive actions get the longer expiry window.
var destructiveActions = map[Action]bool{
	ActionDeleteEmployee: true,
	ActionClearAuditLogs: true,
}

// ParseAction validates a wire-level tag against the closed set.
func ParseAction(tag string) (Action, error) {
	action := Action(tag)
	if _, ok := actionDescriptions[action]; !ok {
		return "", ErrUnknownAction
	}
	return action, nil
}

// Valid reports whether the action belongs to the closed set.
func (a Action) Valid() bool {
	_, ok := actionDescriptions[a]
	return ok
}

// Description returns the human-readable phrase used in delivery
// messages ("You are attempting to ...").
func (a Action) Description() string {
	if d, ok := actionDescriptions[a]; ok {
		return d
	}
	return string(a)
}

// Destructive reports whether the action is administrative/destructive
// and therefore uses the longer expiry window.
func (a Action) Destructive() bool {
	return destructiveActions[a]
}

// Window picks the expiry window for this action.
func (a Action) Window(defaultWindow, destructiveWindow time.Duration) time.Duration {
	if a.Destructive() {
		return destructiveWindow
	}
	return defaultWindow
}

// Grant proves that a one-time code for exactly one action was verified.
// Only the gate service can mint one; action executors require a Grant
// for their own action, which makes ungated execution unrepresentable.
type Grant struct {
	SubjectID string
	Action    Action
	GrantedAt time.Time

	minted bool // set only by NewGrant
}

// NewGrant is exported for the service package, not for handlers.
func NewGrant(subjectID string, action Action, at time.Time) *Grant {
	return &Grant{SubjectID: subjectID, Action: action, GrantedAt: at, minted: true}
}

// Authorizes reports whether this grant covers the given action for the
// given subject. A zero Grant authorizes nothing.
func (g *Grant) Authorizes(subjectID string, action Action) bool {
	if g == nil || !g.minted {
		return false
	}
	return g.SubjectID == subjectID && g.Action == action
}
