package medauth

import (
	"strings"
	"testing"
	"time"
)

// RFC 6238 appendix B test vectors, SHA-1 mode, 8 digits.
func TestHOTPCodeReferenceVectors(t *testing.T) {
	secret := []byte("12345678901234567890")

	cases := []struct {
		unix int64
		want string
	}{
		{59, "94287082"},
		{1111111109, "07081804"},
		{1111111111, "14050471"},
		{1234567890, "89005924"},
		{2000000000, "69279037"},
		{20000000000, "65353130"},
	}

	for _, tc := range cases {
		code, err := hotpCode(secret, tc.unix/30, 8)
		if err != nil {
			t.Fatalf("hotpCode(t=%d): %v", tc.unix, err)
		}
		if code != tc.want {
			t.Errorf("t=%d: got %s, want %s", tc.unix, code, tc.want)
		}
	}
}

func TestVerifyCodeAcceptsCurrentStep(t *testing.T) {
	m := newTOTPManager(TOTPConfig{})
	secret := []byte("12345678901234567890")
	now := time.Unix(1111111111, 0)

	code, err := hotpCode(secret, now.Unix()/30, 6)
	if err != nil {
		t.Fatalf("hotpCode: %v", err)
	}

	ok, counter, err := m.VerifyCode(secret, code, now)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatal("current-step code rejected")
	}
	if counter != now.Unix()/30 {
		t.Fatalf("expected counter %d, got %d", now.Unix()/30, counter)
	}
}

func TestVerifyCodeSkew(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Skew: 1})
	secret := []byte("12345678901234567890")
	now := time.Unix(1111111111, 0)
	base := now.Unix() / 30

	prev, _ := hotpCode(secret, base-1, 6)
	next, _ := hotpCode(secret, base+1, 6)
	far, _ := hotpCode(secret, base+2, 6)

	if ok, counter, _ := m.VerifyCode(secret, prev, now); !ok || counter != base-1 {
		t.Fatalf("previous-step code rejected (ok=%v counter=%d)", ok, counter)
	}
	if ok, counter, _ := m.VerifyCode(secret, next, now); !ok || counter != base+1 {
		t.Fatalf("next-step code rejected (ok=%v counter=%d)", ok, counter)
	}
	if ok, _, _ := m.VerifyCode(secret, far, now); ok {
		t.Fatal("code two steps ahead must be rejected at skew 1")
	}
}

func TestVerifyCodeZeroSkew(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Skew: -5})
	if m.config.Skew != 0 {
		t.Fatalf("negative skew should clamp to 0, got %d", m.config.Skew)
	}

	secret := []byte("12345678901234567890")
	now := time.Unix(1111111111, 0)
	prev, _ := hotpCode(secret, now.Unix()/30-1, 6)

	if ok, _, _ := m.VerifyCode(secret, prev, now); ok {
		t.Fatal("previous-step code must be rejected at skew 0")
	}
}

func TestVerifyCodeRejectsMalformedInput(t *testing.T) {
	m := newTOTPManager(TOTPConfig{})
	secret := []byte("12345678901234567890")
	now := time.Unix(1111111111, 0)

	for _, code := range []string{"", "12345", "1234567", "12a456", "......"} {
		ok, _, err := m.VerifyCode(secret, code, now)
		if err != nil {
			t.Fatalf("verify %q: %v", code, err)
		}
		if ok {
			t.Fatalf("malformed code %q accepted", code)
		}
	}

	// Whitespace around an otherwise valid code is tolerated.
	valid, _ := hotpCode(secret, now.Unix()/30, 6)
	if ok, _, _ := m.VerifyCode(secret, " "+valid+" ", now); !ok {
		t.Fatal("padded valid code rejected")
	}
}

func TestVerifyCodeEmptySecret(t *testing.T) {
	m := newTOTPManager(TOTPConfig{})
	if _, _, err := m.VerifyCode(nil, "123456", time.Now()); err == nil {
		t.Fatal("expected an error for an empty secret")
	}
}

func TestGenerateSecret(t *testing.T) {
	m := newTOTPManager(TOTPConfig{})

	raw, encoded, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(raw) != 20 {
		t.Fatalf("expected a 20-byte secret, got %d", len(raw))
	}
	if strings.Contains(encoded, "=") {
		t.Fatal("base32 encoding must not be padded")
	}

	_, second, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if encoded == second {
		t.Fatal("secrets must be random")
	}
}

func TestProvisionURI(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Issuer: "Mercy General"})
	uri := m.ProvisionURI("JBSWY3DPEHPK3PXP", "alice@example.org")

	if !strings.HasPrefix(uri, "otpauth://totp/") {
		t.Fatalf("unexpected scheme: %s", uri)
	}
	for _, want := range []string{"secret=JBSWY3DPEHPK3PXP", "issuer=Mercy+General", "digits=6", "period=30", "algorithm=SHA1"} {
		if !strings.Contains(uri, want) {
			t.Fatalf("uri missing %q: %s", want, uri)
		}
	}
}
