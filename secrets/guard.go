package secrets

import (
	"fmt"
	"strings"

	"github.com/avenlock/medauth/internal"
)

// Environment selects the validation posture.
type Environment uint8

const (
	// Development tolerates missing secrets by generating random fallbacks.
	Development Environment = iota
	// Test substitutes deterministic placeholders silently.
	Test
	// Production refuses to proceed on any failure.
	Production
)

// Set holds the four operational secrets.
type Set struct {
	AccessTokenKey  string
	RefreshTokenKey string
	Pepper          string
	CryptoKey       string
}

// Report is the outcome of [Validate]. Secrets carries the effective set,
// including any generated or placeholder substitutions.
type Report struct {
	Valid    bool
	Errors   []string
	Warnings []string
	Secrets  Set
}

type requirement struct {
	name      string
	minLength int
	// exactLength, when nonzero, must be matched exactly. The crypto key
	// feeds AES-256 directly and must be 32 bytes.
	exactLength int
}

var requirements = []requirement{
	{name: "access_token_key", minLength: 32},
	{name: "refresh_token_key", minLength: 32},
	{name: "pepper", minLength: 16},
	{name: "crypto_key", minLength: 32, exactLength: 32},
}

// Denylisted default values that ship in tutorials and sample configs.
var insecureDefaults = map[string]struct{}{
	"secret":                           {},
	"changeme":                         {},
	"change-me-in-production":          {},
	"your-secret-key":                  {},
	"your-256-bit-secret":              {},
	"supersecret":                      {},
	"jwt-secret":                       {},
	"default":                          {},
	"00000000000000000000000000000000": {},
}

var weakPrefixes = []string{"abc", "123", "qwerty", "password"}

const minEntropyRatio = 0.3

// deterministic test placeholders, one per secret, fixed length 32.
var testPlaceholders = Set{
	AccessTokenKey:  "test-access-token-key-0123456789",
	RefreshTokenKey: "test-refresh-token-key-012345678",
	Pepper:          "test-pepper-value-0123456789abcd",
	CryptoKey:       "test-crypto-key-0123456789abcdef",
}

// Validate checks the set against strength and entropy rules for the given
// environment. The returned report's Secrets field is the set the engine
// must actually run with.
func Validate(s Set, env Environment) Report {
	report := Report{Secrets: s}

	for _, req := range requirements {
		value := fieldValue(&report.Secrets, req.name)

		if value == "" {
			switch env {
			case Test:
				setField(&report.Secrets, req.name, fieldValue(&testPlaceholders, req.name))
			case Development:
				length := req.minLength
				if req.exactLength > 0 {
					length = req.exactLength
				}
				generated, err := internal.RandomSecret(length)
				if err != nil {
					report.Errors = append(report.Errors, fmt.Sprintf("%s: fallback generation failed", req.name))
					continue
				}
				setField(&report.Secrets, req.name, generated)
				report.Warnings = append(report.Warnings, fmt.Sprintf("%s: missing, generated random development fallback", req.name))
			default:
				report.Errors = append(report.Errors, fmt.Sprintf("%s: missing", req.name))
			}
			continue
		}

		if req.exactLength > 0 && len(value) != req.exactLength {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: must be exactly %d characters", req.name, req.exactLength))
			continue
		}
		if len(value) < req.minLength {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: must be at least %d characters", req.name, req.minLength))
			continue
		}
		if issue := structuralIssue(value); issue != "" {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", req.name, issue))
			continue
		}
		if entropyRatio(value) < minEntropyRatio {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: low character diversity", req.name))
		}
	}

	report.Valid = len(report.Errors) == 0
	return report
}

// structuralIssue returns a non-empty description when the value matches a
// known-insecure shape, regardless of length.
func structuralIssue(value string) string {
	lower := strings.ToLower(value)
	if _, bad := insecureDefaults[lower]; bad {
		return "matches a known insecure default"
	}
	if allSameCharacter(value) {
		return "single repeated character"
	}
	for _, prefix := range weakPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return fmt.Sprintf("starts with weak pattern %q", prefix)
		}
	}
	return ""
}

func allSameCharacter(value string) bool {
	for i := 1; i < len(value); i++ {
		if value[i] != value[0] {
			return false
		}
	}
	return len(value) > 0
}

// entropyRatio is unique characters over total length. A crude measure, but
// it catches padded and keyboard-walk values that pass the length check.
func entropyRatio(value string) float64 {
	if value == "" {
		return 0
	}
	seen := make(map[rune]struct{}, len(value))
	for _, r := range value {
		seen[r] = struct{}{}
	}
	return float64(len(seen)) / float64(len([]rune(value)))
}

func fieldValue(s *Set, name string) string {
	switch name {
	case "access_token_key":
		return s.AccessTokenKey
	case "refresh_token_key":
		return s.RefreshTokenKey
	case "pepper":
		return s.Pepper
	case "crypto_key":
		return s.CryptoKey
	}
	return ""
}

func setField(s *Set, name, value string) {
	switch name {
	case "access_token_key":
		s.AccessTokenKey = value
	case "refresh_token_key":
		s.RefreshTokenKey = value
	case "pepper":
		s.Pepper = value
	case "crypto_key":
		s.CryptoKey = value
	}
}
