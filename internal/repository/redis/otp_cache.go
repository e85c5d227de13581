package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"hr-auth-service/internal/client"
	"hr-auth-service/internal/models"
	"hr-auth-service/internal/otp"
	"hr-auth-service/internal/util"
)

const (
	pendingCodePrefix = "otp:"
	otpAttemptPrefix  = "otp_attempts:"

	opTimeout = 5 * time.Second
)

// ErrNoPendingCode is returned when no entry exists for a key.
var ErrNoPendingCode = errors.New("no pending code")

// PendingCodeStore is the shared store for outstanding one-time codes.
// Implementations must enforce single-entry-per-(subject,action) and
// native expiry so correctness does not depend on process affinity.
type PendingCodeStore interface {
	Put(ctx context.Context, code *models.PendingCode, ttl time.Duration) error
	Get(ctx context.Context, subjectID string, action otp.Action) (*models.PendingCode, error)
	Delete(ctx context.Context, subjectID string, action otp.Action) error
	IncrementAttempts(ctx context.Context, subjectID string, action otp.Action, ttl time.Duration) (int, error)
}

// OTPCache is the Redis-backed PendingCodeStore. The redis TTL runs
// longer than the code's validity window (the grace period) so a
// just-expired code can still be distinguished from one never issued.
type OTPCache struct {
	client *client.RedisClient
}

func NewOTPCache(redisClient *client.RedisClient) *OTPCache {
	return &OTPCache{client: redisClient}
}

// key builds the structured store key. Subject IDs are UUIDs and
// actions come from a closed enum, so ':' cannot appear in either part.
func key(prefix, subjectID string, action otp.Action) string {
	return prefix + subjectID + ":" + string(action)
}

// Put stores a pending code, overwriting any existing entry for the
// same (subject, action) key and resetting its attempt counter.
// Last issuance wins.
func (c *OTPCache) Put(ctx context.Context, code *models.PendingCode, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	action := otp.Action(code.Action)
	encoded, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to encode pending code: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, key(pendingCodePrefix, code.SubjectID, action), string(encoded), ttl)
	pipe.Del(ctx, key(otpAttemptPrefix, code.SubjectID, action))
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to store pending code",
			zap.String("subject_id", code.SubjectID),
			zap.String("action", code.Action),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to store pending code: %w", err)
	}

	util.Debug("Pending code stored",
		zap.String("subject_id", code.SubjectID),
		zap.String("action", code.Action),
		zap.Duration("ttl", ttl))
	return nil
}

func (c *OTPCache) Get(ctx context.Context, subjectID string, action otp.Action) (*models.PendingCode, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, key(pendingCodePrefix, subjectID, action))
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, ErrNoPendingCode
		}
		util.Error("Failed to get pending code",
			zap.String("subject_id", subjectID),
			zap.String("action", string(action)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get pending code: %w", err)
	}

	var code models.PendingCode
	if err := json.Unmarshal([]byte(raw), &code); err != nil {
		return nil, fmt.Errorf("corrupt pending code entry: %w", err)
	}
	return &code, nil
}

func (c *OTPCache) Delete(ctx context.Context, subjectID string, action otp.Action) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := c.client.Del(ctx,
		key(pendingCodePrefix, subjectID, action),
		key(otpAttemptPrefix, subjectID, action))
	if err != nil {
		util.Error("Failed to delete pending code",
			zap.String("subject_id", subjectID),
			zap.String("action", string(action)),
			zap.Error(err))
		return fmt.Errorf("failed to delete pending code: %w", err)
	}

	util.Debug("Pending code deleted",
		zap.String("subject_id", subjectID),
		zap.String("action", string(action)))
	return nil
}

// IncrementAttempts bumps the per-code verification attempt counter.
// The counter expires with the code's window.
func (c *OTPCache) IncrementAttempts(ctx context.Context, subjectID string, action otp.Action, ttl time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	count, err := c.client.IncrWithExpire(ctx, key(otpAttemptPrefix, subjectID, action), ttl)
	if err != nil {
		util.Error("Failed to increment verification attempts",
			zap.String("subject_id", subjectID),
			zap.String("action", string(action)),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment verification attempts: %w", err)
	}

	util.Debug("Verification attempt recorded",
		zap.String("subject_id", subjectID),
		zap.String("action", string(action)),
		zap.Int("count", int(count)))
	return int(count), nil
}
