package hashing

import (
	"errors"
	"testing"

	"hr-auth-service/internal/config"
)

func testHasher() *Hasher {
	return NewHasher(&config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8 * 1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
	})
}

func TestPasswordRoundTrip(t *testing.T) {
	h := testHasher()

	result, err := h.HashPassword("correct-horse-battery")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	ok, err := h.VerifyPassword("correct-horse-battery", result)
	if err != nil {
		t.Fatalf("VerifyPassword failed: %v", err)
	}
	if !ok {
		t.Fatal("expected password to verify")
	}

	ok, err = h.VerifyPassword("wrong-password", result)
	if err != nil {
		t.Fatalf("VerifyPassword failed: %v", err)
	}
	if ok {
		t.Fatal("expected wrong password to be rejected")
	}
}

func TestOTPRoundTrip(t *testing.T) {
	h := testHasher()

	result, err := h.HashOTP("482913")
	if err != nil {
		t.Fatalf("HashOTP failed: %v", err)
	}

	ok, err := h.VerifyOTP("482913", result)
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if !ok {
		t.Fatal("expected code to verify")
	}

	ok, err = h.VerifyOTP("482914", result)
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if ok {
		t.Fatal("expected wrong code to be rejected")
	}
}

// The context string keeps password and code hashes apart even when the
// plaintext is identical.
func TestContextsAreNotInterchangeable(t *testing.T) {
	h := testHasher()

	asPassword, err := h.HashPassword("123456")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	ok, err := h.VerifyOTP("123456", asPassword)
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if ok {
		t.Fatal("a password hash must not verify as a code")
	}
}

func TestSaltsDiffer(t *testing.T) {
	h := testHasher()

	a, err := h.HashPassword("same-input")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	b, err := h.HashPassword("same-input")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if a.Hash == b.Hash || a.Salt == b.Salt {
		t.Fatal("expected fresh salt per hash")
	}
}

func TestEncodeDecode(t *testing.T) {
	h := testHasher()

	result, err := h.HashPassword("correct-horse-battery")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	raw, err := result.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := DecodeHashResult(raw)
	if err != nil {
		t.Fatalf("DecodeHashResult failed: %v", err)
	}
	ok, err := h.VerifyPassword("correct-horse-battery", decoded)
	if err != nil {
		t.Fatalf("VerifyPassword failed: %v", err)
	}
	if !ok {
		t.Fatal("expected decoded hash to verify")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "not-json", `{"hash":"","salt":""}`} {
		if _, err := DecodeHashResult(raw); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("DecodeHashResult(%q): expected ErrInvalidHash, got %v", raw, err)
		}
	}
}

func TestUnknownPepperVersion(t *testing.T) {
	h := testHasher()

	result, err := h.HashPassword("correct-horse-battery")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	result.PepperVersion = 99

	if _, err := h.VerifyPassword("correct-horse-battery", result); !errors.Is(err, ErrUnknownPepper) {
		t.Fatalf("expected ErrUnknownPepper, got %v", err)
	}
}
