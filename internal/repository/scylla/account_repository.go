package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"hr-auth-service/internal/models"
	"hr-auth-service/internal/util"
)

var ErrAccountNotFound = errors.New("account not found")

// AccountRepository is the persistence boundary for accounts. Services
// depend on this interface; tests substitute an in-memory fake.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccountByEmailHash(ctx context.Context, emailHash string) (*models.Account, error)
	GetAccountByID(ctx context.Context, accountID string) (*models.Account, error)
	UpdateSecurityState(ctx context.Context, emailHash string, failedAttempts int, lockedUntil *time.Time) error
	UpdatePassword(ctx context.Context, emailHash, passwordHash string, changedAt time.Time) error
	UpdateStatus(ctx context.Context, emailHash string, isActive, suspended bool) error
	UpdateLastLogin(ctx context.Context, emailHash string, at time.Time) error
	DeleteAccount(ctx context.Context, account *models.Account) error
}

type accountRepository struct {
	client *ScyllaClient
}

func NewAccountRepository(client *ScyllaClient, logger *zap.Logger) AccountRepository {
	return &accountRepository{client: client}
}

func (r *accountRepository) CreateAccount(ctx context.Context, account *models.Account) error {
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}

	query := r.client.Prepared.CreateAccount.WithContext(ctx).Bind(
		account.EmailHash, account.UserBucket, account.AccountID,
		account.EmailEncrypted, account.EmailKeyID,
		account.PasswordHash, account.Role, account.IsActive, account.Suspended,
		account.MFAEnabled, account.FailedLoginAttempts, account.LockedUntil,
		account.LastLogin, account.LastPasswordChange, account.CreatedAt,
		account.UpdatedAt)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create account",
			zap.String("account_id", account.AccountID),
			zap.Error(err))
		return fmt.Errorf("failed to create account: %w", err)
	}

	lookup := r.client.Prepared.CreateIDToEmail.WithContext(ctx).Bind(
		account.AccountID, account.EmailHash)
	if err := r.client.ExecuteWithRetry(lookup, 2); err != nil {
		util.Error("Failed to create account ID lookup",
			zap.String("account_id", account.AccountID),
			zap.Error(err))
		return fmt.Errorf("failed to create account lookup: %w", err)
	}

	util.Info("Account created",
		zap.String("account_id", account.AccountID),
		zap.String("role", account.Role))
	return nil
}

func (r *accountRepository) GetAccountByEmailHash(ctx context.Context, emailHash string) (*models.Account, error) {
	account := &models.Account{}

	query := r.client.Prepared.GetAccountByEmail.WithContext(ctx).Bind(emailHash)
	err := r.client.ScanWithRetry(query,
		&account.EmailHash, &account.UserBucket, &account.AccountID,
		&account.EmailEncrypted, &account.EmailKeyID,
		&account.PasswordHash, &account.Role, &account.IsActive, &account.Suspended,
		&account.MFAEnabled, &account.FailedLoginAttempts, &account.LockedUntil,
		&account.LastLogin, &account.LastPasswordChange, &account.CreatedAt,
		&account.UpdatedAt)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrAccountNotFound
		}
		util.Error("Failed to get account by email hash", zap.Error(err))
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}

func (r *accountRepository) GetAccountByID(ctx context.Context, accountID string) (*models.Account, error) {
	var emailHash string

	query := r.client.Prepared.GetEmailHashByID.WithContext(ctx).Bind(accountID)
	if err := r.client.ScanWithRetry(query, &emailHash); err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to resolve account ID: %w", err)
	}

	return r.GetAccountByEmailHash(ctx, emailHash)
}

func (r *accountRepository) UpdateSecurityState(ctx context.Context, emailHash string, failedAttempts int, lockedUntil *time.Time) error {
	now := time.Now().UTC()
	query := r.client.Prepared.UpdateSecurity.WithContext(ctx).Bind(
		failedAttempts, lockedUntil, &now, emailHash)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to update account security state", zap.Error(err))
		return fmt.Errorf("failed to update security state: %w", err)
	}
	return nil
}

func (r *accountRepository) UpdatePassword(ctx context.Context, emailHash, passwordHash string, changedAt time.Time) error {
	now := time.Now().UTC()
	// A password change always clears the lock and the failure counter.
	query := r.client.Prepared.UpdatePassword.WithContext(ctx).Bind(
		passwordHash, changedAt, 0, nil, &now, emailHash)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to update password", zap.Error(err))
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

func (r *accountRepository) UpdateStatus(ctx context.Context, emailHash string, isActive, suspended bool) error {
	now := time.Now().UTC()
	query := r.client.Prepared.UpdateStatus.WithContext(ctx).Bind(
		isActive, suspended, &now, emailHash)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to update account status", zap.Error(err))
		return fmt.Errorf("failed to update status: %w", err)
	}
	return nil
}

func (r *accountRepository) UpdateLastLogin(ctx context.Context, emailHash string, at time.Time) error {
	now := time.Now().UTC()
	query := r.client.Prepared.UpdateLastLogin.WithContext(ctx).Bind(&at, &now, emailHash)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to update last login", zap.Error(err))
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

func (r *accountRepository) DeleteAccount(ctx context.Context, account *models.Account) error {
	query := r.client.Prepared.DeleteAccount.WithContext(ctx).Bind(account.EmailHash)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to delete account",
			zap.String("account_id", account.AccountID),
			zap.Error(err))
		return fmt.Errorf("failed to delete account: %w", err)
	}

	lookup := r.client.Prepared.DeleteIDToEmail.WithContext(ctx).Bind(account.AccountID)
	if err := r.client.ExecuteWithRetry(lookup, 2); err != nil {
		return fmt.Errorf("failed to delete account lookup: %w", err)
	}

	util.Info("Account deleted", zap.String("account_id", account.AccountID))
	return nil
}
