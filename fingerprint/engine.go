package fingerprint

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"
)

// Validation reasons and classifications.
const (
	ReasonExactMatch      = "exact_match"
	ReasonStoredMatch     = "stored_match"
	ReasonSimilarityMatch = "similarity_match"
	ReasonMismatch        = "mismatch"
	ReasonPublicHash      = "public_hash_submitted"
	ReasonReplay          = "replay_window"

	// ClassificationHijack is set when the IP changed and similarity is low.
	// Callers must invalidate the session immediately on it.
	ClassificationHijack = "possible_session_hijack"
)

// ReplayMarker tracks recently validated (fingerprint, ip) pairs. Seen must
// atomically record the key and report whether it was already present inside
// the window.
type ReplayMarker interface {
	Seen(ctx context.Context, key string, window time.Duration) (bool, error)
}

// Config tunes the engine. Secret keys the HMAC form and must never reach
// clients.
type Config struct {
	Secret          []byte
	Weights         Weights
	Threshold       float64
	StrictThreshold float64
	ReplayWindow    time.Duration
}

// DefaultConfig returns the 0.7 / 0.95 thresholds and a 5-minute replay
// window. The secret must still be supplied.
func DefaultConfig() Config {
	return Config{
		Weights:         DefaultWeights(),
		Threshold:       0.7,
		StrictThreshold: 0.95,
		ReplayWindow:    5 * time.Minute,
	}
}

// Fingerprint is the derived value. Value is the HMAC form and never leaves
// the server; PublicHash is safe to expose.
type Fingerprint struct {
	Value      string
	PublicHash string
	Components Components
	Timestamp  time.Time
}

// Validation is the outcome of a fingerprint check.
type Validation struct {
	Valid          bool
	Similarity     float64
	Reason         string
	Suspicious     bool
	Classification string
}

// Engine derives and validates fingerprints.
type Engine struct {
	config  Config
	markers ReplayMarker
}

// New validates the configuration. markers may be nil to disable replay
// rejection.
func New(cfg Config, markers ReplayMarker) (*Engine, error) {
	if len(cfg.Secret) < 16 {
		return nil, errors.New("fingerprint secret must be >= 16 bytes")
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		return nil, errors.New("invalid similarity threshold")
	}
	if cfg.StrictThreshold < cfg.Threshold || cfg.StrictThreshold > 1 {
		return nil, errors.New("invalid strict similarity threshold")
	}
	if cfg.Weights.total() <= 0 {
		return nil, errors.New("component weights must be positive")
	}
	if cfg.ReplayWindow < 0 {
		return nil, errors.New("invalid replay window")
	}

	return &Engine{config: cfg, markers: markers}, nil
}

// Generate derives the fingerprint for the request attributes. Identical
// attributes always produce an identical HMAC value within a process run.
func (e *Engine) Generate(a Attributes) Fingerprint {
	comps := normalize(a)
	canonical := comps.Encode()

	mac := hmac.New(sha256.New, e.config.Secret)
	_, _ = mac.Write([]byte(canonical))

	public := sha256.Sum256([]byte(canonical))

	return Fingerprint{
		Value:      hex.EncodeToString(mac.Sum(nil)),
		PublicHash: hex.EncodeToString(public[:]),
		Components: comps,
		Timestamp:  time.Now(),
	}
}

// Options modify a validation call.
type Options struct {
	// Strict raises the similarity threshold from 0.7 to 0.95.
	Strict bool
	// EnforceReplay rejects a (clientValue, ip) pair that already validated
	// inside the replay window. Enabled on refresh-time checks.
	EnforceReplay bool
}

// Validate checks a client-supplied value against the freshly computed
// fingerprint and the stored binding. storedValue is the session's HMAC
// fingerprint, storedComponents its plaintext vector ("" when unknown).
func (e *Engine) Validate(ctx context.Context, a Attributes, clientValue, storedValue, storedComponents string, opts Options) (Validation, error) {
	fresh := e.Generate(a)

	// A client echoing the public hash is synthesizing a fingerprint it
	// never held. Fail closed and flag it, even if the hash matches.
	if clientValue != "" && constantTimeEqual(clientValue, fresh.PublicHash) {
		return Validation{
			Valid:      false,
			Similarity: 1.0,
			Reason:     ReasonPublicHash,
			Suspicious: true,
		}, nil
	}

	result := e.match(fresh, clientValue, storedValue, storedComponents, opts.Strict)

	// Replay applies only to client-echoed values; with no echoed value
	// there is no pair to replay.
	if result.Valid && opts.EnforceReplay && clientValue != "" && e.markers != nil && e.config.ReplayWindow > 0 {
		seen, err := e.markers.Seen(ctx, replayKey(clientValue, fresh.Components.IP), e.config.ReplayWindow)
		if err != nil {
			return Validation{}, err
		}
		if seen {
			return Validation{
				Valid:      false,
				Similarity: result.Similarity,
				Reason:     ReasonReplay,
				Suspicious: true,
			}, nil
		}
	}

	return result, nil
}

// ValidateSession is the session-aware form used on refresh. It compares the
// current request against the session's stored binding and escalates to a
// hijack classification when the IP changed and similarity is low.
func (e *Engine) ValidateSession(ctx context.Context, a Attributes, clientValue, storedValue, storedComponents string, opts Options) (Validation, error) {
	result, err := e.Validate(ctx, a, clientValue, storedValue, storedComponents, opts)
	if err != nil {
		return Validation{}, err
	}

	// Hijack escalation applies even when the stored-value equality path
	// would otherwise pass: a captured fingerprint replayed from a new
	// network with a dissimilar component vector is exactly the theft case.
	if storedComponents != "" {
		stored := DecodeComponents(storedComponents)
		current := normalize(a)
		if stored.IP != "" && current.IP != stored.IP && result.Similarity < e.threshold(opts.Strict) {
			result.Classification = ClassificationHijack
			result.Suspicious = true
			result.Valid = false
		}
	}

	return result, nil
}

func (e *Engine) match(fresh Fingerprint, clientValue, storedValue, storedComponents string, strict bool) Validation {
	similarity := 0.0
	if storedComponents != "" {
		similarity = Similarity(fresh.Components, DecodeComponents(storedComponents), e.config.Weights)
	}

	if clientValue != "" && constantTimeEqual(clientValue, fresh.Value) {
		return Validation{Valid: true, Similarity: 1.0, Reason: ReasonExactMatch}
	}

	if storedComponents != "" && similarity >= e.threshold(strict) {
		return Validation{Valid: true, Similarity: similarity, Reason: ReasonSimilarityMatch}
	}

	if clientValue != "" && storedValue != "" && constantTimeEqual(clientValue, storedValue) {
		return Validation{Valid: true, Similarity: similarity, Reason: ReasonStoredMatch}
	}

	return Validation{Valid: false, Similarity: similarity, Reason: ReasonMismatch}
}

func (e *Engine) threshold(strict bool) float64 {
	if strict {
		return e.config.StrictThreshold
	}
	return e.config.Threshold
}

func replayKey(clientValue, ip string) string {
	sum := sha256.Sum256([]byte(clientValue + "\x1f" + ip))
	return hex.EncodeToString(sum[:16])
}

func constantTimeEqual(a, b string) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
