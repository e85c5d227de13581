package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"hr-auth-service/internal/otp"
)

func TestIssueAndConfirmMintsGrant(t *testing.T) {
	h := newHarness(t)
	account := h.createAccount(t, "alice@example.com", "correct-horse-battery", false)

	expiresAt, err := h.gate.Issue(context.Background(), account, otp.ActionCreatePurchaseRequest)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if want := h.clock.Add(5 * time.Minute); !expiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, expiresAt)
	}

	delivered := h.sender.last(t)
	if delivered.To != "alice@example.com" {
		t.Fatalf("code delivered to %q", delivered.To)
	}
	code := codeFrom(t, delivered)

	grant, err := h.gate.Confirm(context.Background(), account, otp.ActionCreatePurchaseRequest, code)
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if !grant.Authorizes(account.AccountID, otp.ActionCreatePurchaseRequest) {
		t.Fatal("grant does not authorize the verified action")
	}
	if grant.Authorizes(account.AccountID, otp.ActionDeleteEmployee) {
		t.Fatal("grant authorizes an action it was never verified for")
	}
	if grant.Authorizes("someone-else", otp.ActionCreatePurchaseRequest) {
		t.Fatal("grant authorizes a different subject")
	}
}

func TestConfirmIsOneTimeUse(t *testing.T) {
	h := newHarness(t)
	account := h.createAccount(t, "alice@example.com", "correct-horse-battery", false)

	if _, err := h.gate.Issue(context.Background(), account, otp.ActionVerifyClaim); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	code := codeFrom(t, h.sender.last(t))

	if _, err := h.gate.Confirm(context.Background(), account, otp.ActionVerifyClaim, code); err != nil {
		t.Fatalf("first Confirm failed: %v", err)
	}
	if _, err := h.gate.Confirm(context.Background(), account, otp.ActionVerifyClaim, code); !errors.Is(err, ErrOTPNotRequested) {
		t.Fatalf("expected ErrOTPNotRequested on replay, got %v", err)
	}
}

func TestConfirmWithoutIssue(t *testing.T) {
	h := newHarness(t)
	account := h.createAccount(t, "alice@example.com", "correct-horse-battery", false)

	_, err := h.gate.Confirm(context.Background(), account, otp.ActionUploadReceipt, "123456")
	if !errors.Is(err, ErrOTPNotRequested) {
		t.Fatalf("expected ErrOTPNotRequested, got %v", err)
	}
}

func TestReissueSupersedesOlderCode(t *testing.T) {
	h := newHarness(t)
	account := h.createAccount(t, "alice@example.com", "correct-horse-battery", false)
	ctx := context.Background()

	if _, err := h.gate.Issue(ctx, account, otp.ActionProcessClaim); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	oldCode := codeFrom(t, h.sender.last(t))

	if _, err := h.gate.Issue(ctx, account, otp.ActionProcessClaim); err != nil {
		t.Fatalf("second Issue failed: %v", err)
	}
	newCode := codeFrom(t, h.sender.last(t))
	if oldCode == newCode {
		t.Skip("generated codes collided")
	}

	if _, err := h.gate.Confirm(ctx, account, otp.ActionProcessClaim, oldCode); !errors.Is(err, ErrOTPMismatch) {
		t.Fatalf("expected superseded code to mismatch, got %v", err)
	}
	if _, err := h.gate.Confirm(ctx, account, otp.ActionProcessClaim, newCode); err != nil {
		t.Fatalf("latest code rejected: %v", err)
	}
}

func TestExpiredCodeThenForgotten(t *testing.T) {
	h := newHarness(t)
	account := h.createAccount(t, "alice@example.com", "correct-horse-battery", false)
	ctx := context.Background()

	if _, err := h.gate.Issue(ctx, account, otp.ActionReviewPurchaseRequest); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	code := codeFrom(t, h.sender.last(t))

	// Just past the window: still remembered, reported as expired.
	h.advance(6 * time.Minute)
	if _, err := h.gate.Confirm(ctx, account, otp.ActionReviewPurchaseRequest, code); !errors.Is(err, ErrOTPExpired) {
		t.Fatalf("expected ErrOTPExpired, got %v", err)
	}

	// The expired report consumed the entry.
	if _, err := h.gate.Confirm(ctx, account, otp.ActionReviewPurchaseRequest, code); !errors.Is(err, ErrOTPNotRequested) {
		t.Fatalf("expected ErrOTPNotRequested after expiry report, got %v", err)
	}
}

func TestExpiredEntryAgesOutOfStore(t *testing.T) {
	h := newHarness(t)
	account := h.createAccount(t, "alice@example.com", "correct-horse-battery", false)
	ctx := context.Background()

	if _, err := h.gate.Issue(ctx, account, otp.ActionCreatePurchaseRequest); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	code := codeFrom(t, h.sender.last(t))

	// Past window plus grace: the store entry is gone entirely.
	h.advance(20 * time.Minute)
	if _, err := h.gate.Confirm(ctx, account, otp.ActionCreatePurchaseRequest, code); !errors.Is(err, ErrOTPNotRequested) {
		t.Fatalf("expected ErrOTPNotRequested after grace, got %v", err)
	}
}

func TestDestructiveActionsGetLongerWindow(t *testing.T) {
	h := newHarness(t)
	account := h.createAccount(t, "alice@example.com", "correct-horse-battery", false)

	expiresAt, err := h.gate.Issue(context.Background(), account, otp.ActionDeleteEmployee)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if want := h.clock.Add(10 * time.Minute); !expiresAt.Equal(want) {
		t.Fatalf("expected destructive expiry %v, got %v", want, expiresAt)
	}
}

func TestAttemptCapBurnsPendingCode(t *testing.T) {
	h := newHarness(t)
	account := h.createAccount(t, "alice@example.com", "correct-horse-battery", false)
	ctx := context.Background()

	if _, err := h.gate.Issue(ctx, account, otp.ActionVerifyClaim); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	code := codeFrom(t, h.sender.last(t))
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	for i := 0; i < 5; i++ {
		if _, err := h.gate.Confirm(ctx, account, otp.ActionVerifyClaim, wrong); !errors.Is(err, ErrOTPMismatch) {
			t.Fatalf("attempt %d: expected ErrOTPMismatch, got %v", i+1, err)
		}
	}

	// The fifth mismatch removed the code; even the right one is dead.
	if _, err := h.gate.Confirm(ctx, account, otp.ActionVerifyClaim, code); !errors.Is(err, ErrOTPNotRequested) {
		t.Fatalf("expected burned code, got %v", err)
	}
}

func TestAttemptCounterResetsOnReissue(t *testing.T) {
	h := newHarness(t)
	account := h.createAccount(t, "alice@example.com", "correct-horse-battery", false)
	ctx := context.Background()

	if _, err := h.gate.Issue(ctx, account, otp.ActionVerifyClaim); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	code := codeFrom(t, h.sender.last(t))
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	for i := 0; i < 4; i++ {
		if _, err := h.gate.Confirm(ctx, account, otp.ActionVerifyClaim, wrong); !errors.Is(err, ErrOTPMismatch) {
			t.Fatalf("attempt %d: expected ErrOTPMismatch, got %v", i+1, err)
		}
	}

	// Reissue resets the attempt budget.
	if _, err := h.gate.Issue(ctx, account, otp.ActionVerifyClaim); err != nil {
		t.Fatalf("reissue failed: %v", err)
	}
	fresh := codeFrom(t, h.sender.last(t))
	if fresh == wrong {
		t.Skip("generated codes collided")
	}

	if _, err := h.gate.Confirm(ctx, account, otp.ActionVerifyClaim, wrong); !errors.Is(err, ErrOTPMismatch) {
		t.Fatalf("expected ErrOTPMismatch, got %v", err)
	}
	if _, err := h.gate.Confirm(ctx, account, otp.ActionVerifyClaim, fresh); err != nil {
		t.Fatalf("fresh code rejected after single mismatch: %v", err)
	}
}

func TestActionsAreIsolatedPerKey(t *testing.T) {
	h := newHarness(t)
	account := h.createAccount(t, "alice@example.com", "correct-horse-battery", false)
	other := h.createAccount(t, "bob@example.com", "correct-horse-battery", false)
	ctx := context.Background()

	if _, err := h.gate.Issue(ctx, account, otp.ActionCreatePurchaseRequest); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	purchaseCode := codeFrom(t, h.sender.last(t))

	if _, err := h.gate.Issue(ctx, account, otp.ActionUploadReceipt); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	receiptCode := codeFrom(t, h.sender.last(t))

	// A code for one action never satisfies another.
	if purchaseCode != receiptCode {
		if _, err := h.gate.Confirm(ctx, account, otp.ActionUploadReceipt, purchaseCode); !errors.Is(err, ErrOTPMismatch) {
			t.Fatalf("expected cross-action mismatch, got %v", err)
		}
	}

	// Nor does it leak across subjects.
	if _, err := h.gate.Confirm(ctx, other, otp.ActionCreatePurchaseRequest, purchaseCode); !errors.Is(err, ErrOTPNotRequested) {
		t.Fatalf("expected cross-subject ErrOTPNotRequested, got %v", err)
	}

	// Both keys still confirm independently.
	if _, err := h.gate.Confirm(ctx, account, otp.ActionCreatePurchaseRequest, purchaseCode); err != nil {
		t.Fatalf("purchase code rejected: %v", err)
	}
	if _, err := h.gate.Confirm(ctx, account, otp.ActionUploadReceipt, receiptCode); err != nil {
		t.Fatalf("receipt code rejected: %v", err)
	}
}

func TestCancelDiscardsPendingCode(t *testing.T) {
	h := newHarness(t)
	account := h.createAccount(t, "alice@example.com", "correct-horse-battery", false)
	ctx := context.Background()

	if _, err := h.gate.Issue(ctx, account, otp.ActionProcessClaim); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	code := codeFrom(t, h.sender.last(t))

	if err := h.gate.Cancel(ctx, account, otp.ActionProcessClaim); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if _, err := h.gate.Confirm(ctx, account, otp.ActionProcessClaim, code); !errors.Is(err, ErrOTPNotRequested) {
		t.Fatalf("expected cancelled code to be gone, got %v", err)
	}
}

func TestInvalidActionRejectedBeforeStore(t *testing.T) {
	h := newHarness(t)
	account := h.createAccount(t, "alice@example.com", "correct-horse-battery", false)
	ctx := context.Background()

	if _, err := h.gate.Issue(ctx, account, otp.Action("DROP_TABLES")); !errors.Is(err, otp.ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction on issue, got %v", err)
	}
	if _, err := h.gate.Confirm(ctx, account, otp.Action("DROP_TABLES"), "123456"); !errors.Is(err, otp.ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction on confirm, got %v", err)
	}
	if err := h.gate.Cancel(ctx, account, otp.Action("DROP_TABLES")); !errors.Is(err, otp.ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction on cancel, got %v", err)
	}
}
