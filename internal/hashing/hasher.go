package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"hr-auth-service/internal/config"
	"hr-auth-service/internal/util"

	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidHash   = errors.New("invalid hash format")
	ErrUnknownPepper = errors.New("pepper version not found")
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher produces and verifies argon2id hashes with a versioned pepper.
// Peppers come from HASH_PEPPERS (comma-separated, oldest first) so
// hashes survive process restarts; the last entry is the current pepper.
// With no environment peppers a random one is generated, which is only
// acceptable for development and in-memory tests.
type Hasher struct {
	params  Argon2Params
	peppers []string
	mu      sync.RWMutex
}

// HashResult is the persisted form of a hash. It serializes to a single
// JSON string column.
type HashResult struct {
	Hash          string `json:"hash"`
	Salt          string `json:"salt"`
	PepperVersion int    `json:"pepper_version"`
	Algorithm     string `json:"algorithm"`
}

func NewHasher(cfg *config.Config) *Hasher {
	params := Argon2Params{
		Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
		Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
		Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
		SaltLength:  32,
		KeyLength:   32,
	}

	h := &Hasher{params: params}
	h.loadPeppers()
	return h
}

func (h *Hasher) loadPeppers() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if raw := os.Getenv("HASH_PEPPERS"); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				h.peppers = append(h.peppers, trimmed)
			}
		}
	}
	if len(h.peppers) > 0 {
		return
	}

	pepperBytes := make([]byte, 32)
	if _, err := rand.Read(pepperBytes); err != nil {
		util.Fatal("Failed to generate fallback pepper", util.ErrorField(err))
	}
	h.peppers = []string{base64.RawURLEncoding.EncodeToString(pepperBytes)}
	util.Warn("HASH_PEPPERS not set, using ephemeral pepper; hashes will not survive a restart")
}

// HashPassword hashes a login password.
func (h *Hasher) HashPassword(password string) (*HashResult, error) {
	return h.hashWithPepper(password, "password")
}

// HashOTP hashes a one-time code before it enters the pending-code store.
func (h *Hasher) HashOTP(code string) (*HashResult, error) {
	return h.hashWithPepper(code, "otp")
}

func (h *Hasher) hashWithPepper(data, context string) (*HashResult, error) {
	h.mu.RLock()
	version := len(h.peppers)
	pepper := h.peppers[version-1]
	h.mu.RUnlock()

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	// Context string keeps password and OTP hashes from being
	// interchangeable even for identical inputs.
	contextualData := data + pepper + context

	hash := argon2.IDKey(
		[]byte(contextualData),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return &HashResult{
		Hash:          base64.RawURLEncoding.EncodeToString(hash),
		Salt:          base64.RawURLEncoding.EncodeToString(salt),
		PepperVersion: version,
		Algorithm:     "argon2id-v1",
	}, nil
}

// VerifyPassword checks a presented password in constant time.
func (h *Hasher) VerifyPassword(password string, result *HashResult) (bool, error) {
	return h.verifyWithPepper(password, result, "password")
}

// VerifyOTP checks a presented one-time code in constant time.
func (h *Hasher) VerifyOTP(code string, result *HashResult) (bool, error) {
	return h.verifyWithPepper(code, result, "otp")
}

func (h *Hasher) verifyWithPepper(data string, result *HashResult, context string) (bool, error) {
	pepper, err := h.pepperByVersion(result.PepperVersion)
	if err != nil {
		return false, err
	}

	salt, err := base64.RawURLEncoding.DecodeString(result.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}
	expectedHash, err := base64.RawURLEncoding.DecodeString(result.Hash)
	if err != nil {
		return false, ErrInvalidHash
	}

	contextualData := data + pepper + context

	computedHash := argon2.IDKey(
		[]byte(contextualData),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		uint32(len(expectedHash)),
	)

	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1, nil
}

func (h *Hasher) pepperByVersion(version int) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if version < 1 || version > len(h.peppers) {
		return "", ErrUnknownPepper
	}
	return h.peppers[version-1], nil
}

// Encode serializes a HashResult for storage in a single column.
func (r *HashResult) Encode() (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode hash result: %w", err)
	}
	return string(raw), nil
}

// DecodeHashResult parses a stored hash column back into a HashResult.
func DecodeHashResult(raw string) (*HashResult, error) {
	var result HashResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, ErrInvalidHash
	}
	if result.Hash == "" || result.Salt == "" {
		return nil, ErrInvalidHash
	}
	return &result, nil
}
