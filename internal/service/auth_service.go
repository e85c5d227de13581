package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hr-auth-service/internal/bucketing"
	"hr-auth-service/internal/config"
	"hr-auth-service/internal/encryption"
	"hr-auth-service/internal/events"
	"hr-auth-service/internal/hashing"
	"hr-auth-service/internal/mail"
	"hr-auth-service/internal/models"
	"hr-auth-service/internal/otp"
	"hr-auth-service/internal/repository/scylla"
	"hr-auth-service/internal/util"
)

// workday bounds for the after-hours sign-in notice, local server time.
const (
	workdayStartHour = 8
	workdayEndHour   = 18
)

// AuthService owns credential verification, the failed-attempt lockout,
// and account lifecycle. Everything that needs a verified one-time code
// goes through the gate.
type AuthService struct {
	accountRepo   scylla.AccountRepository
	gate          *GateService
	hasher        *hashing.Hasher
	emitter       events.Emitter
	bucketing     *bucketing.BucketingManager
	encryptionMgr *encryption.EncryptionManager
	sender        mail.Sender
	cfg           *config.Config

	now func() time.Time
}

func NewAuthService(
	accountRepo scylla.AccountRepository,
	gate *GateService,
	hasher *hashing.Hasher,
	emitter events.Emitter,
	bucketingMgr *bucketing.BucketingManager,
	encryptionMgr *encryption.EncryptionManager,
	sender mail.Sender,
	cfg *config.Config,
) *AuthService {
	return &AuthService{
		accountRepo:   accountRepo,
		gate:          gate,
		hasher:        hasher,
		emitter:       emitter,
		bucketing:     bucketingMgr,
		encryptionMgr: encryptionMgr,
		sender:        sender,
		cfg:           cfg,
		now:           time.Now,
	}
}

// LoginResult tells the caller whether the sign-in completed or a
// second factor is pending.
type LoginResult struct {
	Account      *models.Account
	MFARequired  bool
	OTPExpiresAt time.Time
}

// Register creates a new account. The email is stored as a lookup hash
// plus an envelope-encrypted copy for code delivery.
func (s *AuthService) Register(ctx context.Context, email, password, role string) (*models.Account, error) {
	email = util.NormalizeEmail(email)
	if email == "" || len(password) < 8 {
		return nil, ErrInvalidInput
	}
	if !models.ValidRole(role) {
		return nil, ErrInvalidInput
	}

	emailHash := util.HashEmail(email)
	if _, err := s.accountRepo.GetAccountByEmailHash(ctx, emailHash); err == nil {
		return nil, ErrAccountExists
	} else if !errors.Is(err, scylla.ErrAccountNotFound) {
		return nil, err
	}

	hashResult, err := s.hasher.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	encodedHash, err := hashResult.Encode()
	if err != nil {
		return nil, err
	}

	encryptedEmail, keyID, err := s.encryptionMgr.Encrypt(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt email: %w", err)
	}

	now := s.now().UTC()
	account := &models.Account{
		AccountID:      uuid.New().String(),
		EmailHash:      emailHash,
		EmailEncrypted: encryptedEmail,
		EmailKeyID:     keyID,
		PasswordHash:   encodedHash,
		Role:           role,
		IsActive:       true,
		MFAEnabled:     true,
		CreatedAt:      now,
	}
	account.UserBucket = s.bucketing.UserBucket(account.AccountID)

	if err := s.accountRepo.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	util.Info("Account registered",
		zap.String("account_id", account.AccountID),
		zap.String("role", role))
	return account, nil
}

// VerifyCredentials checks a password against the stored hash and runs
// the lockout ledger. Account status is checked before the secret so a
// suspended account never exercises the hasher.
func (s *AuthService) VerifyCredentials(ctx context.Context, email, password, ipAddress string) (*models.Account, error) {
	email = util.NormalizeEmail(email)
	account, err := s.accountRepo.GetAccountByEmailHash(ctx, util.HashEmail(email))
	if err != nil {
		if errors.Is(err, scylla.ErrAccountNotFound) {
			// Indistinguishable from a wrong password.
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	now := s.now().UTC()
	switch {
	case !account.IsActive:
		return nil, ErrAccountInactive
	case account.Suspended:
		return nil, ErrAccountSuspended
	case account.Locked(now):
		return nil, ErrAccountLocked
	}

	stored, err := hashing.DecodeHashResult(account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("corrupt password hash: %w", err)
	}
	match, err := s.hasher.VerifyPassword(password, stored)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}

	if !match {
		return nil, s.recordFailedLogin(ctx, account, ipAddress, now)
	}

	// A natural lock expiry does not reset the counter, so the reset
	// happens here, on proof of the password.
	if account.FailedLoginAttempts > 0 || account.LockedUntil != nil {
		if err := s.accountRepo.UpdateSecurityState(ctx, account.EmailHash, 0, nil); err != nil {
			util.Warn("Failed to reset login attempt counter", zap.Error(err))
		}
		account.FailedLoginAttempts = 0
		account.LockedUntil = nil
	}
	return account, nil
}

func (s *AuthService) recordFailedLogin(ctx context.Context, account *models.Account, ipAddress string, now time.Time) error {
	attempts := account.FailedLoginAttempts + 1
	if attempts >= s.cfg.Lockout.MaxFailedAttempts {
		lockedUntil := now.Add(s.cfg.Lockout.LockDuration)
		if err := s.accountRepo.UpdateSecurityState(ctx, account.EmailHash, attempts, &lockedUntil); err != nil {
			return err
		}
		account.LockedUntil = &lockedUntil
		account.FailedLoginAttempts = attempts

		// The recovery code is the only exit that clears the ledger
		// before the lock expires on its own.
		if _, err := s.gate.Issue(ctx, account, otp.ActionAccountRecovery); err != nil {
			util.Error("Failed to issue recovery code for locked account",
				zap.String("account_id", account.AccountID),
				zap.Error(err))
		}

		s.emitter.Emit(ctx, account.AccountID, models.EventAccountLocked, "", fmt.Sprintf("locked after %d failed attempts", attempts), ipAddress)
		util.Warn("Account locked",
			zap.String("account_id", account.AccountID),
			zap.Int("failed_attempts", attempts),
			zap.Time("locked_until", lockedUntil))
		return ErrAccountLocked
	}

	if err := s.accountRepo.UpdateSecurityState(ctx, account.EmailHash, attempts, account.LockedUntil); err != nil {
		return err
	}
	s.emitter.Emit(ctx, account.AccountID, models.EventLoginFailed, "", "", ipAddress)
	return ErrInvalidCredentials
}

// Login verifies the password and, for MFA-enabled accounts, parks the
// sign-in behind a one-time code.
func (s *AuthService) Login(ctx context.Context, email, password, ipAddress string) (*LoginResult, error) {
	account, err := s.VerifyCredentials(ctx, email, password, ipAddress)
	if err != nil {
		return nil, err
	}

	if account.MFAEnabled {
		expiresAt, err := s.gate.Issue(ctx, account, otp.ActionMFALogin)
		if err != nil {
			return nil, err
		}
		return &LoginResult{Account: account, MFARequired: true, OTPExpiresAt: expiresAt}, nil
	}

	if err := s.completeLogin(ctx, account, ipAddress); err != nil {
		return nil, err
	}
	return &LoginResult{Account: account}, nil
}

// VerifyLogin finishes an MFA sign-in by consuming the pending code.
func (s *AuthService) VerifyLogin(ctx context.Context, email, code, ipAddress string) (*models.Account, error) {
	email = util.NormalizeEmail(email)
	account, err := s.accountRepo.GetAccountByEmailHash(ctx, util.HashEmail(email))
	if err != nil {
		if errors.Is(err, scylla.ErrAccountNotFound) {
			return nil, ErrOTPNotRequested
		}
		return nil, err
	}

	if _, err := s.gate.Confirm(ctx, account, otp.ActionMFALogin, code); err != nil {
		return nil, err
	}

	if err := s.completeLogin(ctx, account, ipAddress); err != nil {
		return nil, err
	}
	return account, nil
}

func (s *AuthService) completeLogin(ctx context.Context, account *models.Account, ipAddress string) error {
	now := s.now().UTC()
	if err := s.accountRepo.UpdateLastLogin(ctx, account.EmailHash, now); err != nil {
		util.Warn("Failed to record last login", zap.Error(err))
	}
	account.LastLogin = &now

	s.emitter.Emit(ctx, account.AccountID, models.EventLoginSucceeded, "", "", ipAddress)

	local := s.now()
	if local.Hour() < workdayStartHour || local.Hour() >= workdayEndHour {
		s.notifyAfterHours(ctx, account, ipAddress, local)
	}
	return nil
}

// notifyAfterHours sends a heads-up for sign-ins outside the workday.
// Best effort, never blocks the sign-in.
func (s *AuthService) notifyAfterHours(ctx context.Context, account *models.Account, ipAddress string, at time.Time) {
	s.emitter.Emit(ctx, account.AccountID, models.EventAfterHoursLogin, "", at.Format(time.RFC3339), ipAddress)

	if s.cfg.Mail.AlertAddress == "" {
		return
	}
	subject, body := mail.AfterHoursMessage(account.AccountID, account.Role, at, ipAddress)
	if err := s.sender.Send(s.cfg.Mail.AlertAddress, subject, body); err != nil {
		util.Warn("Failed to send after-hours notice",
			zap.String("account_id", account.AccountID),
			zap.Error(err))
	}
}

// ForgotPassword issues a recovery code without revealing whether the
// address is registered.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = util.NormalizeEmail(email)
	account, err := s.accountRepo.GetAccountByEmailHash(ctx, util.HashEmail(email))
	if err != nil {
		if errors.Is(err, scylla.ErrAccountNotFound) {
			return nil
		}
		return err
	}
	if !account.IsActive || account.Suspended {
		return nil
	}

	_, err = s.gate.Issue(ctx, account, otp.ActionAccountRecovery)
	return err
}

// ResetPassword consumes a recovery code and installs the new password.
// The same update clears the lock and the failed-attempt counter.
func (s *AuthService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	email = util.NormalizeEmail(email)
	if len(newPassword) < 8 {
		return ErrInvalidInput
	}

	account, err := s.accountRepo.GetAccountByEmailHash(ctx, util.HashEmail(email))
	if err != nil {
		if errors.Is(err, scylla.ErrAccountNotFound) {
			return ErrOTPNotRequested
		}
		return err
	}

	if _, err := s.gate.Confirm(ctx, account, otp.ActionAccountRecovery, code); err != nil {
		return err
	}

	hashResult, err := s.hasher.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	encodedHash, err := hashResult.Encode()
	if err != nil {
		return err
	}

	if err := s.accountRepo.UpdatePassword(ctx, account.EmailHash, encodedHash, s.now().UTC()); err != nil {
		return err
	}

	s.emitter.Emit(ctx, account.AccountID, models.EventPasswordReset, string(otp.ActionAccountRecovery), "", "")
	util.Info("Password reset", zap.String("account_id", account.AccountID))
	return nil
}

// Suspend freezes an account; suspended accounts refuse sign-in and
// recovery until unsuspended.
func (s *AuthService) Suspend(ctx context.Context, accountID string) error {
	return s.setSuspended(ctx, accountID, true)
}

func (s *AuthService) Unsuspend(ctx context.Context, accountID string) error {
	return s.setSuspended(ctx, accountID, false)
}

func (s *AuthService) setSuspended(ctx context.Context, accountID string, suspended bool) error {
	account, err := s.accountRepo.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, scylla.ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return err
	}
	if err := s.accountRepo.UpdateStatus(ctx, account.EmailHash, account.IsActive, suspended); err != nil {
		return err
	}
	util.Info("Account suspension updated",
		zap.String("account_id", accountID),
		zap.Bool("suspended", suspended))
	return nil
}

// DeleteAccount permanently removes an account. The caller must hold a
// Grant for the delete action; without one this call cannot succeed.
func (s *AuthService) DeleteAccount(ctx context.Context, actorID string, grant *otp.Grant, accountID string) error {
	if !grant.Authorizes(actorID, otp.ActionDeleteEmployee) {
		return ErrNotAuthorized
	}

	account, err := s.accountRepo.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, scylla.ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return err
	}

	if err := s.accountRepo.DeleteAccount(ctx, account); err != nil {
		return err
	}

	s.emitter.Emit(ctx, actorID, models.EventAccountDeleted, string(otp.ActionDeleteEmployee), "deleted account "+accountID, "")
	util.Info("Account deleted",
		zap.String("actor_id", actorID),
		zap.String("account_id", accountID))
	return nil
}

// GetAccount looks up an account by id for handlers that need the
// subject record before calling the gate.
func (s *AuthService) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := s.accountRepo.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, scylla.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

// GetAccountByEmail is the email-keyed variant of GetAccount.
func (s *AuthService) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	account, err := s.accountRepo.GetAccountByEmailHash(ctx, util.HashEmail(util.NormalizeEmail(email)))
	if err != nil {
		if errors.Is(err, scylla.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}
