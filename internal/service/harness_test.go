package service

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"hr-auth-service/internal/bucketing"
	"hr-auth-service/internal/client"
	"hr-auth-service/internal/config"
	"hr-auth-service/internal/encryption"
	"hr-auth-service/internal/events"
	"hr-auth-service/internal/hashing"
	"hr-auth-service/internal/models"
	redisrepo "hr-auth-service/internal/repository/redis"
	"hr-auth-service/internal/repository/scylla"
	"hr-auth-service/internal/util"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		OTP: config.OTPConfig{
			Digits:            6,
			DefaultWindow:     5 * time.Minute,
			DestructiveWindow: 10 * time.Minute,
			ExpiredGrace:      10 * time.Minute,
			MaxVerifyAttempts: 5,
		},
		Lockout: config.LockoutConfig{
			MaxFailedAttempts: 5,
			LockDuration:      60 * time.Minute,
		},
		Bucketing: config.BucketingConfig{
			UserBuckets:  16,
			EventBuckets: 16,
		},
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8 * 1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
	}
}

// sentMail is one captured delivery.
type sentMail struct {
	To      string
	Subject string
	Body    string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMail
}

func (s *fakeSender) Send(to, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (s *fakeSender) last(t *testing.T) sentMail {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		t.Fatal("expected at least one delivered message")
	}
	return s.sent[len(s.sent)-1]
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

// codeFrom pulls the six digit code out of a delivered message body.
func codeFrom(t *testing.T, m sentMail) string {
	t.Helper()
	match := codePattern.FindStringSubmatch(m.Body)
	if match == nil {
		t.Fatalf("no code found in message body: %q", m.Body)
	}
	return match[1]
}

// fakeAccountRepo is an in-memory AccountRepository keyed by email hash.
type fakeAccountRepo struct {
	mu     sync.Mutex
	byHash map[string]*models.Account
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{byHash: make(map[string]*models.Account)}
}

func copyAccount(a *models.Account) *models.Account {
	c := *a
	return &c
}

func (r *fakeAccountRepo) CreateAccount(ctx context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byHash[account.EmailHash] = copyAccount(account)
	return nil
}

func (r *fakeAccountRepo) GetAccountByEmailHash(ctx context.Context, emailHash string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byHash[emailHash]
	if !ok {
		return nil, scylla.ErrAccountNotFound
	}
	return copyAccount(a), nil
}

func (r *fakeAccountRepo) GetAccountByID(ctx context.Context, accountID string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.byHash {
		if a.AccountID == accountID {
			return copyAccount(a), nil
		}
	}
	return nil, scylla.ErrAccountNotFound
}

func (r *fakeAccountRepo) UpdateSecurityState(ctx context.Context, emailHash string, failedAttempts int, lockedUntil *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byHash[emailHash]
	if !ok {
		return scylla.ErrAccountNotFound
	}
	a.FailedLoginAttempts = failedAttempts
	a.LockedUntil = lockedUntil
	return nil
}

func (r *fakeAccountRepo) UpdatePassword(ctx context.Context, emailHash, passwordHash string, changedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byHash[emailHash]
	if !ok {
		return scylla.ErrAccountNotFound
	}
	a.PasswordHash = passwordHash
	a.LastPasswordChange = &changedAt
	a.FailedLoginAttempts = 0
	a.LockedUntil = nil
	return nil
}

func (r *fakeAccountRepo) UpdateStatus(ctx context.Context, emailHash string, isActive, suspended bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byHash[emailHash]
	if !ok {
		return scylla.ErrAccountNotFound
	}
	a.IsActive = isActive
	a.Suspended = suspended
	return nil
}

func (r *fakeAccountRepo) UpdateLastLogin(ctx context.Context, emailHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byHash[emailHash]
	if !ok {
		return scylla.ErrAccountNotFound
	}
	a.LastLogin = &at
	return nil
}

func (r *fakeAccountRepo) DeleteAccount(ctx context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byHash[account.EmailHash]; !ok {
		return scylla.ErrAccountNotFound
	}
	delete(r.byHash, account.EmailHash)
	return nil
}

// harness wires the service stack onto in-memory backends.
type harness struct {
	cfg    *config.Config
	repo   *fakeAccountRepo
	sender *fakeSender
	hasher *hashing.Hasher
	enc    *encryption.EncryptionManager
	store  redisrepo.PendingCodeStore
	redis  *miniredis.Miniredis

	gate  *GateService
	auth  *AuthService
	clock time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := redisrepo.NewOTPCache(client.NewRedisClientFromConn(rdb))

	cfg := testConfig()
	h := &harness{
		cfg:    cfg,
		repo:   newFakeAccountRepo(),
		sender: &fakeSender{},
		hasher: hashing.NewHasher(cfg),
		enc:    encryption.NewEncryptionManager(cfg, nil),
		store:  store,
		redis:  mr,
		clock:  time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
	}

	h.gate = NewGateService(h.store, h.hasher, h.sender, events.NewNopEmitter(), h.enc, cfg)
	h.gate.now = h.now

	h.auth = NewAuthService(h.repo, h.gate, h.hasher, events.NewNopEmitter(),
		bucketing.NewBucketingManager(cfg), h.enc, h.sender, cfg)
	h.auth.now = h.now

	return h
}

func (h *harness) now() time.Time {
	return h.clock
}

// advance moves both the injected clock and the redis TTL clock.
func (h *harness) advance(d time.Duration) {
	h.clock = h.clock.Add(d)
	h.redis.FastForward(d)
}

// createAccount registers an account directly against the repo.
func (h *harness) createAccount(t *testing.T, email, password string, mfa bool) *models.Account {
	t.Helper()

	hashResult, err := h.hasher.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	encoded, err := hashResult.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	encryptedEmail, keyID, err := h.enc.Encrypt(context.Background(), email)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	account := &models.Account{
		AccountID:      uuid.New().String(),
		EmailHash:      util.HashEmail(util.NormalizeEmail(email)),
		EmailEncrypted: encryptedEmail,
		EmailKeyID:     keyID,
		PasswordHash:   encoded,
		Role:           models.RoleEmployee,
		IsActive:       true,
		MFAEnabled:     mfa,
		CreatedAt:      h.clock,
	}
	if err := h.repo.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	return account
}
