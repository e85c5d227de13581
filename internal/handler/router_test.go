package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"hr-auth-service/internal/bucketing"
	"hr-auth-service/internal/client"
	"hr-auth-service/internal/config"
	"hr-auth-service/internal/encryption"
	"hr-auth-service/internal/events"
	"hr-auth-service/internal/hashing"
	"hr-auth-service/internal/models"
	redisrepo "hr-auth-service/internal/repository/redis"
	"hr-auth-service/internal/repository/scylla"
	"hr-auth-service/internal/service"
	"hr-auth-service/internal/util"
)

// memAccountRepo is a minimal in-memory AccountRepository for HTTP tests.
type memAccountRepo struct {
	mu     sync.Mutex
	byHash map[string]*models.Account
}

func (r *memAccountRepo) get(hash string) (*models.Account, error) {
	a, ok := r.byHash[hash]
	if !ok {
		return nil, scylla.ErrAccountNotFound
	}
	c := *a
	return &c, nil
}

func (r *memAccountRepo) CreateAccount(ctx context.Context, a *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *a
	r.byHash[a.EmailHash] = &c
	return nil
}

func (r *memAccountRepo) GetAccountByEmailHash(ctx context.Context, emailHash string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(emailHash)
}

func (r *memAccountRepo) GetAccountByID(ctx context.Context, accountID string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.byHash {
		if a.AccountID == accountID {
			c := *a
			return &c, nil
		}
	}
	return nil, scylla.ErrAccountNotFound
}

func (r *memAccountRepo) UpdateSecurityState(ctx context.Context, emailHash string, failedAttempts int, lockedUntil *time.Time) error {
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

func (r *memAccountRepo) UpdatePassword(ctx context.Context, emailHash, passwordHash string, changedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byHash[emailHash]
	if !ok {
		return scylla.ErrAccountNotFound
	}
	a.PasswordHash = passwordHash
	a.FailedLoginAttempts = 0
	a.LockedUntil = nil
	return nil
}

func (r *memAccountRepo) UpdateStatus(ctx context.Context, emailHash string, isActive, suspended bool) error {
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

func (r *memAccountRepo) UpdateLastLogin(ctx context.Context, emailHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byHash[emailHash]
	if !ok {
		return scylla.ErrAccountNotFound
	}
	a.LastLogin = &at
	return nil
}

func (r *memAccountRepo) DeleteAccount(ctx context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byHash, account.EmailHash)
	return nil
}

// memAuditRepo keeps audit records in a slice.
type memAuditRepo struct {
	mu      sync.Mutex
	records []*models.AuditRecord
}

func (r *memAuditRepo) Insert(ctx context.Context, record *models.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *memAuditRepo) List(ctx context.Context, filter *models.AuditFilter) ([]*models.AuditRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.AuditRecord, 0, len(r.records))
	for _, rec := range r.records {
		if filter.ActorID != "" && rec.ActorID != filter.ActorID {
			continue
		}
		if filter.Action != "" && rec.Action != filter.Action {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *memAuditRepo) Purge(ctx context.Context, olderThan *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if olderThan == nil {
		r.records = nil
		return nil
	}
	kept := r.records[:0]
	for _, rec := range r.records {
		if !rec.CreatedAt.Before(*olderThan) {
			kept = append(kept, rec)
		}
	}
	r.records = kept
	return nil
}

type memAuditIndex struct{}

func (memAuditIndex) Index(ctx context.Context, record *models.AuditRecord) error { return nil }
func (memAuditIndex) Search(ctx context.Context, query string, limit int) ([]*models.AuditRecord, error) {
	return nil, nil
}
func (memAuditIndex) Purge(ctx context.Context, olderThan *time.Time) error { return nil }

type memSender struct {
	mu   sync.Mutex
	body []string
}

func (s *memSender) Send(to, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.body = append(s.body, body)
	return nil
}

var testCodePattern = regexp.MustCompile(`\b(\d{6})\b`)

func (s *memSender) lastCode(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.body) == 0 {
		t.Fatal("no mail delivered")
	}
	match := testCodePattern.FindStringSubmatch(s.body[len(s.body)-1])
	if match == nil {
		t.Fatalf("no code in body %q", s.body[len(s.body)-1])
	}
	return match[1]
}

type httpHarness struct {
	server *httptest.Server
	sender *memSender
	audit  *memAuditRepo
}

func newHTTPHarness(t *testing.T) *httpHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	store := redisrepo.NewOTPCache(client.NewRedisClientFromConn(rdb))

	cfg := &config.Config{
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
		Bucketing: config.BucketingConfig{UserBuckets: 16, EventBuckets: 16},
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8 * 1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
	}

	sender := &memSender{}
	auditRepo := &memAuditRepo{}
	emitter := events.NewNopEmitter()
	hasher := hashing.NewHasher(cfg)
	enc := encryption.NewEncryptionManager(cfg, nil)
	accountRepo := &memAccountRepo{byHash: make(map[string]*models.Account)}

	sf := service.NewServiceFactory(accountRepo, store, auditRepo, memAuditIndex{},
		hasher, enc, bucketing.NewBucketingManager(cfg), sender, emitter, cfg)

	router := NewRouter(RouterOptions{
		Auth:         NewAuthHandler(sf.AuthService(), sf.GateService(), sf.AuditService(), util.Get()),
		Action:       NewActionHandler(sf.AuthService(), sf.GateService(), sf.AuditService(), util.Get()),
		Audit:        NewAuditHandler(sf.AuthService(), sf.GateService(), sf.AuditService(), util.Get()),
		EnforceHTTPS: false,
	}, util.Get())

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &httpHarness{server: server, sender: sender, audit: auditRepo}
}

func (h *httpHarness) do(t *testing.T, method, path string, payload interface{}) (*http.Response, Response) {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req, err := http.NewRequest(method, h.server.URL+path, &body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded Response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestHealthEndpoint(t *testing.T) {
	h := newHTTPHarness(t)

	resp, err := http.Get(h.server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	h := newHTTPHarness(t)

	resp, _ := h.do(t, http.MethodGet, "/api/v1/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	resp, _ = h.do(t, http.MethodGet, "/api/v1/auth/login", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestRegisterLoginVerifyFlow(t *testing.T) {
	h := newHTTPHarness(t)

	resp, body := h.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":    "alice@example.com",
		"password": "correct-horse-battery",
		"role":     "HR",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d (%+v)", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "correct-horse-battery",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (%+v)", resp.StatusCode, body)
	}
	data, ok := body.Data.(map[string]interface{})
	if !ok || data["mfa_required"] != true {
		t.Fatalf("expected mfa challenge, got %+v", body.Data)
	}

	resp, _ = h.do(t, http.MethodPost, "/api/v1/auth/verify-login", map[string]string{
		"email": "alice@example.com",
		"code":  h.sender.lastCode(t),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify-login: expected 200, got %d", resp.StatusCode)
	}

	// Wrong password is a 401 with no account details.
	resp, body = h.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong-password",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if body.Success {
		t.Fatal("expected failure envelope")
	}
}

func TestActionGateEndpoints(t *testing.T) {
	h := newHTTPHarness(t)

	_, body := h.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":    "alice@example.com",
		"password": "correct-horse-battery",
		"role":     "ACCOUNTANT",
	})
	subjectID := body.Data.(map[string]interface{})["account_id"].(string)

	// Unknown tags are rejected outright.
	resp, _ := h.do(t, http.MethodPost, "/api/v1/actions/request-otp", map[string]string{
		"subject_id": subjectID,
		"action":     "LAUNCH_MISSILES",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", resp.StatusCode)
	}

	resp, _ = h.do(t, http.MethodPost, "/api/v1/actions/request-otp", map[string]string{
		"subject_id": subjectID,
		"action":     "UPLOAD_RECEIPT",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("request-otp: expected 200, got %d", resp.StatusCode)
	}
	code := h.sender.lastCode(t)

	// Verifying before requesting is a conflict for another action.
	resp, _ = h.do(t, http.MethodPost, "/api/v1/actions/verify-otp", map[string]string{
		"subject_id": subjectID,
		"action":     "PROCESS_CLAIM",
		"code":       code,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for never-requested action, got %d", resp.StatusCode)
	}

	resp, body = h.do(t, http.MethodPost, "/api/v1/actions/verify-otp", map[string]string{
		"subject_id": subjectID,
		"action":     "UPLOAD_RECEIPT",
		"code":       code,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify-otp: expected 200, got %d (%+v)", resp.StatusCode, body)
	}

	// Replay of a consumed code.
	resp, _ = h.do(t, http.MethodPost, "/api/v1/actions/verify-otp", map[string]string{
		"subject_id": subjectID,
		"action":     "UPLOAD_RECEIPT",
		"code":       code,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on replay, got %d", resp.StatusCode)
	}
}

func TestCancelEndpoint(t *testing.T) {
	h := newHTTPHarness(t)

	_, body := h.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":    "alice@example.com",
		"password": "correct-horse-battery",
		"role":     "EMPLOYEE",
	})
	subjectID := body.Data.(map[string]interface{})["account_id"].(string)

	h.do(t, http.MethodPost, "/api/v1/actions/request-otp", map[string]string{
		"subject_id": subjectID,
		"action":     "VERIFY_CLAIM",
	})
	code := h.sender.lastCode(t)

	resp, _ := h.do(t, http.MethodPost, "/api/v1/actions/cancel-otp", map[string]string{
		"subject_id": subjectID,
		"action":     "VERIFY_CLAIM",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel-otp: expected 200, got %d", resp.StatusCode)
	}

	resp, _ = h.do(t, http.MethodPost, "/api/v1/actions/verify-otp", map[string]string{
		"subject_id": subjectID,
		"action":     "VERIFY_CLAIM",
		"code":       code,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 after cancel, got %d", resp.StatusCode)
	}
}

func TestDeleteAccountOverHTTPRequiresCode(t *testing.T) {
	h := newHTTPHarness(t)

	_, body := h.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":    "admin@example.com",
		"password": "correct-horse-battery",
		"role":     "SUPER_ADMIN",
	})
	adminID := body.Data.(map[string]interface{})["account_id"].(string)

	_, body = h.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":    "bob@example.com",
		"password": "correct-horse-battery",
		"role":     "EMPLOYEE",
	})
	victimID := body.Data.(map[string]interface{})["account_id"].(string)

	// Without a pending code the delete is refused.
	resp, _ := h.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/accounts/%s", victimID), map[string]string{
		"actor_id": adminID,
		"code":     "123456",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 without pending code, got %d", resp.StatusCode)
	}

	h.do(t, http.MethodPost, "/api/v1/actions/request-otp", map[string]string{
		"subject_id": adminID,
		"action":     "DELETE_EMPLOYEE",
	})
	code := h.sender.lastCode(t)

	resp, _ = h.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/accounts/%s", victimID), map[string]string{
		"actor_id": adminID,
		"code":     code,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with valid code, got %d", resp.StatusCode)
	}

	// The victim is gone.
	resp, _ = h.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "bob@example.com",
		"password": "correct-horse-battery",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for deleted account, got %d", resp.StatusCode)
	}
}

func TestAuditListAndPurge(t *testing.T) {
	h := newHTTPHarness(t)

	_, body := h.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":    "admin@example.com",
		"password": "correct-horse-battery",
		"role":     "SUPER_ADMIN",
	})
	adminID := body.Data.(map[string]interface{})["account_id"].(string)

	resp, body := h.do(t, http.MethodGet, "/api/v1/audit/?actor_id="+adminID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audit list: expected 200, got %d", resp.StatusCode)
	}

	// Purge without a verified code is refused.
	resp, _ = h.do(t, http.MethodPost, "/api/v1/audit/purge", map[string]string{
		"actor_id": adminID,
		"code":     "123456",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 without pending code, got %d", resp.StatusCode)
	}

	h.do(t, http.MethodPost, "/api/v1/actions/request-otp", map[string]string{
		"subject_id": adminID,
		"action":     "CLEAR_AUDIT_LOGS",
	})
	resp, _ = h.do(t, http.MethodPost, "/api/v1/audit/purge", map[string]string{
		"actor_id": adminID,
		"code":     h.sender.lastCode(t),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("purge: expected 200, got %d", resp.StatusCode)
	}

	h.audit.mu.Lock()
	remaining := len(h.audit.records)
	h.audit.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected empty audit trail after purge, got %d records", remaining)
	}
}
