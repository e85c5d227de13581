package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"hr-auth-service/internal/config"
	"hr-auth-service/internal/encryption"
	"hr-auth-service/internal/events"
	"hr-auth-service/internal/hashing"
	"hr-auth-service/internal/mail"
	"hr-auth-service/internal/models"
	"hr-auth-service/internal/otp"
	redisrepo "hr-auth-service/internal/repository/redis"
	"hr-auth-service/internal/util"
)

// GateService is the critical-action OTP gate: it issues one-time codes
// bound to (subject, action), verifies them with single-use semantics,
// and mints Grants that action executors require. One parameterized
// implementation serves every call site.
type GateService struct {
	store         redisrepo.PendingCodeStore
	hasher        *hashing.Hasher
	sender        mail.Sender
	emitter       events.Emitter
	encryptionMgr *encryption.EncryptionManager
	cfg           *config.OTPConfig

	now func() time.Time
}

func NewGateService(
	store redisrepo.PendingCodeStore,
	hasher *hashing.Hasher,
	sender mail.Sender,
	emitter events.Emitter,
	encryptionMgr *encryption.EncryptionManager,
	cfg *config.Config,
) *GateService {
	return &GateService{
		store:         store,
		hasher:        hasher,
		sender:        sender,
		emitter:       emitter,
		encryptionMgr: encryptionMgr,
		cfg:           &cfg.OTP,
		now:           time.Now,
	}
}

// Issue generates a fresh code for (subject, action), stores its hash,
// and hands the plaintext code to the delivery channel. Any prior code
// for the same key is superseded: last issuance wins. Delivery failure
// is logged but does not invalidate the code.
func (s *GateService) Issue(ctx context.Context, account *models.Account, action otp.Action) (time.Time, error) {
	if !action.Valid() {
		return time.Time{}, otp.ErrUnknownAction
	}

	code, err := generateCode(s.cfg.Digits)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to generate code: %w", err)
	}

	hashResult, err := s.hasher.HashOTP(code)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to hash code: %w", err)
	}
	encodedHash, err := hashResult.Encode()
	if err != nil {
		return time.Time{}, err
	}

	now := s.now().UTC()
	window := action.Window(s.cfg.DefaultWindow, s.cfg.DestructiveWindow)
	pending := &models.PendingCode{
		SubjectID: account.AccountID,
		Action:    string(action),
		CodeHash:  encodedHash,
		IssuedAt:  now,
		ExpiresAt: now.Add(window),
	}

	// The store TTL outlives the window by the grace period so a
	// just-expired code still reads back as EXPIRED, not NOT_REQUESTED.
	if err := s.store.Put(ctx, pending, window+s.cfg.ExpiredGrace); err != nil {
		return time.Time{}, err
	}

	s.deliver(ctx, account, action, code, window)
	s.emitter.Emit(ctx, account.AccountID, models.EventOTPIssued, string(action), "", "")

	util.Info("One-time code issued",
		zap.String("account_id", account.AccountID),
		zap.String("action", string(action)),
		zap.Time("expires_at", pending.ExpiresAt))

	return pending.ExpiresAt, nil
}

func (s *GateService) deliver(ctx context.Context, account *models.Account, action otp.Action, code string, window time.Duration) {
	address, err := s.encryptionMgr.Decrypt(ctx, account.EmailEncrypted)
	if err != nil {
		util.Error("Failed to decrypt delivery address",
			zap.String("account_id", account.AccountID),
			zap.Error(err))
		return
	}

	minutes := int(window / time.Minute)
	var subject, body string
	if action == otp.ActionAccountRecovery {
		subject, body = mail.LockedMessage(code, minutes)
	} else {
		subject, body = mail.CodeMessage(action.Description(), code, minutes)
	}

	if err := s.sender.Send(address, subject, body); err != nil {
		// Accepted weakness: the code stays valid even if the mail
		// never arrives.
		util.Error("Failed to deliver one-time code",
			zap.String("account_id", account.AccountID),
			zap.String("action", string(action)),
			zap.Error(err))
	}
}

// Confirm verifies a presented code and, on success, consumes the
// pending entry and mints a Grant for exactly this (subject, action).
func (s *GateService) Confirm(ctx context.Context, account *models.Account, action otp.Action, presented string) (*otp.Grant, error) {
	if !action.Valid() {
		return nil, otp.ErrUnknownAction
	}

	pending, err := s.store.Get(ctx, account.AccountID, action)
	if err != nil {
		if errors.Is(err, redisrepo.ErrNoPendingCode) {
			return nil, ErrOTPNotRequested
		}
		return nil, err
	}

	now := s.now().UTC()
	if pending.Expired(now) {
		// No retry against a stale code.
		if err := s.store.Delete(ctx, account.AccountID, action); err != nil {
			util.Warn("Failed to drop expired code", zap.Error(err))
		}
		return nil, ErrOTPExpired
	}

	hashResult, err := hashing.DecodeHashResult(pending.CodeHash)
	if err != nil {
		return nil, fmt.Errorf("corrupt pending code: %w", err)
	}

	match, err := s.hasher.VerifyOTP(presented, hashResult)
	if err != nil {
		return nil, fmt.Errorf("failed to verify code: %w", err)
	}

	if !match {
		return nil, s.recordMismatch(ctx, account, action, pending, now)
	}

	// One-time use: consume before reporting success.
	if err := s.store.Delete(ctx, account.AccountID, action); err != nil {
		return nil, fmt.Errorf("failed to consume code: %w", err)
	}

	s.emitter.Emit(ctx, account.AccountID, models.EventOTPVerified, string(action), "", "")
	util.Info("One-time code verified",
		zap.String("account_id", account.AccountID),
		zap.String("action", string(action)))

	return otp.NewGrant(account.AccountID, action, now), nil
}

func (s *GateService) recordMismatch(ctx context.Context, account *models.Account, action otp.Action, pending *models.PendingCode, now time.Time) error {
	attemptTTL := pending.ExpiresAt.Sub(now) + s.cfg.ExpiredGrace
	attempts, err := s.store.IncrementAttempts(ctx, account.AccountID, action, attemptTTL)
	if err != nil {
		util.Warn("Failed to record verification attempt", zap.Error(err))
		return ErrOTPMismatch
	}

	if attempts >= s.cfg.MaxVerifyAttempts {
		// Brute-force cap: burn the pending code, forcing re-issuance.
		if err := s.store.Delete(ctx, account.AccountID, action); err != nil {
			util.Warn("Failed to burn pending code", zap.Error(err))
		}
		s.emitter.Emit(ctx, account.AccountID, models.EventOTPAttemptsExceeded, string(action), "", "")
		util.Warn("Verification attempts exceeded, pending code removed",
			zap.String("account_id", account.AccountID),
			zap.String("action", string(action)),
			zap.Int("attempts", attempts))
		return ErrOTPMismatch
	}

	s.emitter.Emit(ctx, account.AccountID, models.EventOTPRejected, string(action), "", "")
	return ErrOTPMismatch
}

// Cancel discards a pending code before it is used, e.g. when the user
// abandons the flow.
func (s *GateService) Cancel(ctx context.Context, account *models.Account, action otp.Action) error {
	if !action.Valid() {
		return otp.ErrUnknownAction
	}
	if err := s.store.Delete(ctx, account.AccountID, action); err != nil {
		return err
	}
	s.emitter.Emit(ctx, account.AccountID, models.EventOTPCancelled, string(action), "", "")
	return nil
}

// generateCode draws a fixed-width zero-padded decimal code from
// crypto/rand.
func generateCode(digits int) (string, error) {
	if digits < 6 {
		digits = 6
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
