package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Type discriminates the two token kinds.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

var (
	// ErrExpired marks a structurally valid token past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrInvalid marks a signature, type, or claim failure.
	ErrInvalid = errors.New("token invalid")
	// ErrBlacklisted marks a token whose id is blacklisted.
	ErrBlacklisted = errors.New("token blacklisted")
	// ErrBlacklistUnavailable wraps blacklist backend failures. Verification
	// fails closed on it.
	ErrBlacklistUnavailable = errors.New("blacklist backend unavailable")
)

// Blacklist reasons. The set is closed; persisted records carry these
// strings verbatim.
const (
	ReasonLogout            = "logout"
	ReasonRotation          = "rotation"
	ReasonRefreshRotation   = "refresh_rotation"
	ReasonSecurityViolation = "security_violation"
	ReasonPasswordChange    = "password_change"
)

// Blacklist is the append-only token-id set. Add must be idempotent.
type Blacklist interface {
	Add(ctx context.Context, tokenID, userID, reason string, ttl time.Duration) error
	Contains(ctx context.Context, tokenID string) (bool, error)
}

// Claims is the payload carried by both token types.
type Claims struct {
	UserID      string   `json:"uid"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"perms,omitempty"`
	TokenType   string   `json:"typ"`
	jwt.RegisteredClaims
}

// Payload is the caller-supplied portion of a token.
type Payload struct {
	UserID      string
	Role        string
	Permissions []string
	// TokenID, when empty, is replaced by a fresh random uuid at issuance.
	TokenID string
}

// Issued is the result of [Service.Issue].
type Issued struct {
	Token     string
	ID        string
	ExpiresIn int64
	ExpiresAt time.Time
}

// Config holds the type-specific signing secrets and lifetimes.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Leeway        time.Duration
}

// DefaultConfig returns 15-minute access and 7-day refresh lifetimes.
// Secrets must still be supplied.
func DefaultConfig() Config {
	return Config{
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Issuer:     "medauth",
		Leeway:     30 * time.Second,
	}
}

// Service signs and verifies tokens and gates verification on the blacklist.
type Service struct {
	config    Config
	blacklist Blacklist
}

// NewService validates the configuration. The blacklist may be nil only in
// tooling contexts; the engine always supplies one.
func NewService(cfg Config, bl Blacklist) (*Service, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("refresh TTL must exceed access TTL")
	}
	if len(cfg.AccessSecret) < 32 || len(cfg.RefreshSecret) < 32 {
		return nil, errors.New("token secrets must be >= 32 bytes")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	return &Service{config: cfg, blacklist: bl}, nil
}

// Issue signs a token of the given type. The payload's token id is replaced
// with a fresh uuid when absent; issued-at and type are always embedded.
func (s *Service) Issue(p Payload, typ Type) (Issued, error) {
	if p.UserID == "" {
		return Issued{}, fmt.Errorf("%w: empty user id", ErrInvalid)
	}

	ttl, secret, err := s.typeParams(typ)
	if err != nil {
		return Issued{}, err
	}

	id := p.TokenID
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := Claims{
		UserID:      p.UserID,
		Role:        p.Role,
		Permissions: p.Permissions,
		TokenType:   string(typ),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   p.UserID,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		Token:     signed,
		ID:        id,
		ExpiresIn: int64(ttl.Seconds()),
		ExpiresAt: expiresAt,
	}, nil
}

// Verify checks signature, expiry, declared type, and the blacklist. The
// blacklist is consulted even for otherwise-valid signatures: a structurally
// valid but blacklisted token must fail.
func (s *Service) Verify(ctx context.Context, tokenStr string, expected Type) (*Claims, error) {
	_, secret, err := s.typeParams(expected)
	if err != nil {
		return nil, err
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
	}
	if s.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(s.config.Leeway))
	}
	if s.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(s.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalid
	}
	if claims.TokenType != string(expected) {
		return nil, fmt.Errorf("%w: token type mismatch", ErrInvalid)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing token id", ErrInvalid)
	}

	if s.blacklist != nil {
		listed, err := s.blacklist.Contains(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBlacklistUnavailable, err)
		}
		if listed {
			return nil, ErrBlacklisted
		}
	}

	return claims, nil
}

// Blacklist appends the token id. Idempotent; the ttl should cover the
// token's remaining lifetime plus clock slack.
func (s *Service) Blacklist(ctx context.Context, tokenID, userID, reason string, ttl time.Duration) error {
	if s.blacklist == nil {
		return errors.New("no blacklist configured")
	}
	return s.blacklist.Add(ctx, tokenID, userID, reason, ttl)
}

// AccessTTL exposes the configured access lifetime for rotation decisions.
func (s *Service) AccessTTL() time.Duration { return s.config.AccessTTL }

// RefreshTTL exposes the configured refresh lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.config.RefreshTTL }

func (s *Service) typeParams(typ Type) (time.Duration, []byte, error) {
	switch typ {
	case TypeAccess:
		return s.config.AccessTTL, s.config.AccessSecret, nil
	case TypeRefresh:
		return s.config.RefreshTTL, s.config.RefreshSecret, nil
	default:
		return 0, nil, fmt.Errorf("%w: unknown token type %q", ErrInvalid, typ)
	}
}
