package password

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/avenlock/medauth/internal"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minPepperBytes        = 16
	saltBytes             = 32
	algorithmID           = "argon2id"
)

// Config holds the argon2id work factors.
type Config struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	KeyLength   uint32
}

// DefaultConfig returns the production work factors: 64 MiB memory, three
// iterations, four lanes, 32-byte output.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 4,
		KeyLength:   32,
	}
}

// Hasher combines the configured work factors with the process-wide pepper.
type Hasher struct {
	config Config
	pepper []byte
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	hash        []byte
	keyLength   uint32
}

// NewHasher validates the work factors and the pepper length.
func NewHasher(cfg Config, pepper string) (*Hasher, error) {
	if cfg.Memory < minMemoryKB {
		return nil, errors.New("password memory must be >= 8192 KB")
	}
	if cfg.Time < minTimeCost {
		return nil, errors.New("password time must be >= 1")
	}
	if cfg.Parallelism < minParallelism {
		return nil, errors.New("password parallelism must be >= 1")
	}
	if cfg.KeyLength < 16 {
		return nil, errors.New("password key length must be >= 16")
	}
	if len(pepper) < minPepperBytes {
		return nil, errors.New("pepper must be >= 16 bytes")
	}

	return &Hasher{config: cfg, pepper: []byte(pepper)}, nil
}

// GenerateSalt returns a fresh per-user salt: 32 random bytes, hex-encoded.
func GenerateSalt() (string, error) {
	return internal.RandomHex(saltBytes)
}

// Hash derives the encoded hash for password under the given per-user salt.
// The derivation is deterministic for a fixed (password, salt, pepper)
// triple; the salt doubles as the KDF salt so history reuse checks can
// recompute candidates against the user's current salt.
func (h *Hasher) Hash(password, salt string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	if salt == "" {
		return "", errors.New("empty salt")
	}

	key := argon2.IDKey(
		h.peppered(password, salt),
		[]byte(salt),
		h.config.Time,
		h.config.Memory,
		h.config.Parallelism,
		h.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s",
		algorithmID,
		argon2.Version,
		h.config.Memory,
		h.config.Time,
		h.config.Parallelism,
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the hash with the parameters embedded in encodedHash and
// compares in constant time. A wrong password, salt, or pepper all fail the
// same way.
func (h *Hasher) Verify(password, encodedHash, salt string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		h.peppered(password, salt),
		[]byte(salt),
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		parsed.keyLength,
	)

	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

// NeedsRehash reports whether encodedHash was produced with weaker work
// factors than currently configured.
func (h *Hasher) NeedsRehash(encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	if h.config.Memory > parsed.memory {
		return true, nil
	}
	if h.config.Time > parsed.time {
		return true, nil
	}
	if h.config.Parallelism > parsed.parallelism {
		return true, nil
	}
	if h.config.KeyLength != parsed.keyLength {
		return true, nil
	}

	return false, nil
}

// DummyVerify burns the same KDF cost as a real verification. Called for
// unknown usernames so response timing does not reveal account existence.
func (h *Hasher) DummyVerify() {
	argon2.IDKey(
		h.peppered("medauth-dummy-password", "medauth-dummy-salt-value"),
		[]byte("medauth-dummy-salt-value"),
		h.config.Time,
		h.config.Memory,
		h.config.Parallelism,
		h.config.KeyLength,
	)
}

func (h *Hasher) peppered(password, salt string) []byte {
	// password || salt || pepper, raw bytes, no normalization.
	combined := make([]byte, 0, len(password)+len(salt)+len(h.pepper))
	combined = append(combined, password...)
	combined = append(combined, salt...)
	combined = append(combined, h.pepper...)
	return combined
}

func parsePHC(encodedHash string) (*parsedPHC, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}

	if parts[1] != algorithmID {
		return nil, errors.New("unsupported algorithm")
	}

	versionPart := parts[2]
	if !strings.HasPrefix(versionPart, "v=") {
		return nil, errors.New("missing argon2 version")
	}

	version, err := strconv.Atoi(strings.TrimPrefix(versionPart, "v="))
	if err != nil {
		return nil, errors.New("invalid argon2 version")
	}
	if version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	params, err := parseParams(parts[3])
	if err != nil {
		return nil, err
	}

	hash, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, errors.New("invalid hash encoding")
	}
	if len(hash) == 0 {
		return nil, errors.New("invalid hash length")
	}

	return &parsedPHC{
		memory:      params.memory,
		time:        params.time,
		parallelism: params.parallelism,
		hash:        hash,
		keyLength:   uint32(len(hash)),
	}, nil
}

type parsedParams struct {
	memory      uint32
	time        uint32
	parallelism uint8
}

func parseParams(part string) (*parsedParams, error) {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return nil, errors.New("invalid parameter format")
	}

	var (
		memorySet, timeSet, parallelismSet bool
		params                             parsedParams
	)

	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, errors.New("invalid parameter entry")
		}

		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return nil, errors.New("invalid memory parameter")
			}
			params.memory = uint32(v)
			memorySet = true
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return nil, errors.New("invalid time parameter")
			}
			params.time = uint32(v)
			timeSet = true
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return nil, errors.New("invalid parallelism parameter")
			}
			params.parallelism = uint8(v)
			parallelismSet = true
		default:
			return nil, errors.New("unsupported parameter")
		}
	}

	if !memorySet || !timeSet || !parallelismSet {
		return nil, errors.New("missing parameters")
	}

	return &params, nil
}
