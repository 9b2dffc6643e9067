package medauth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/avenlock/medauth/password"
	"github.com/avenlock/medauth/secrets"
)

// memoryUserProvider is an in-memory UserProvider for engine tests.
type memoryUserProvider struct {
	mu       sync.Mutex
	byID     map[string]*UserRecord
	totp     map[string]*TOTPRecord
	creds    map[string][]WebAuthnCredential
	history  map[string][]PasswordHistoryEntry
	failures map[string]error // method name -> injected error
}

func newMemoryProvider() *memoryUserProvider {
	return &memoryUserProvider{
		byID:     map[string]*UserRecord{},
		totp:     map[string]*TOTPRecord{},
		creds:    map[string][]WebAuthnCredential{},
		history:  map[string][]PasswordHistoryEntry{},
		failures: map[string]error{},
	}
}

func (p *memoryUserProvider) put(u UserRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	copied := u
	p.byID[u.UserID] = &copied
}

func (p *memoryUserProvider) get(userID string) UserRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u, ok := p.byID[userID]; ok {
		return *u
	}
	return UserRecord{}
}

func (p *memoryUserProvider) GetUserByUsername(ctx context.Context, username string) (UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range p.byID {
		if u.Username == username {
			return *u, nil
		}
	}
	return UserRecord{}, ErrProviderUserNotFound
}

func (p *memoryUserProvider) GetUserByID(ctx context.Context, userID string) (UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u, ok := p.byID[userID]; ok {
		return *u, nil
	}
	return UserRecord{}, ErrProviderUserNotFound
}

func (p *memoryUserProvider) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u, ok := p.byID[userID]; ok {
		u.PasswordHash = newHash
		return nil
	}
	return ErrProviderUserNotFound
}

func (p *memoryUserProvider) RecordFailedAttempt(ctx context.Context, userID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.byID[userID]
	if !ok {
		return 0, ErrProviderUserNotFound
	}
	u.FailedAttempts++
	return u.FailedAttempts, nil
}

func (p *memoryUserProvider) ResetFailedAttempts(ctx context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u, ok := p.byID[userID]; ok {
		u.FailedAttempts = 0
		u.LockedUntil = time.Time{}
		return nil
	}
	return ErrProviderUserNotFound
}

func (p *memoryUserProvider) LockAccount(ctx context.Context, userID string, until time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u, ok := p.byID[userID]; ok {
		u.LockedUntil = until
		return nil
	}
	return ErrProviderUserNotFound
}

func (p *memoryUserProvider) GetTOTPRecord(ctx context.Context, userID string) (*TOTPRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.totp[userID]; ok {
		copied := *rec
		return &copied, nil
	}
	return nil, nil
}

func (p *memoryUserProvider) setTOTPRecord(userID string, rec TOTPRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totp[userID] = &rec
}

func (p *memoryUserProvider) UpdateTOTPLastUsedCounter(ctx context.Context, userID string, counter int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.totp[userID]; ok {
		rec.LastUsedCounter = counter
		return nil
	}
	return ErrProviderUserNotFound
}

func (p *memoryUserProvider) GetWebAuthnCredentials(ctx context.Context, userID string) ([]WebAuthnCredential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]WebAuthnCredential(nil), p.creds[userID]...), nil
}

func (p *memoryUserProvider) PasswordHistory(ctx context.Context, userID string, limit int) ([]PasswordHistoryEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := p.history[userID]
	// Most recent first.
	out := make([]PasswordHistoryEntry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (p *memoryUserProvider) AppendPasswordHistory(ctx context.Context, entry PasswordHistoryEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history[entry.UserID] = append(p.history[entry.UserID], entry)
	return nil
}

type testEnv struct {
	engine   *Engine
	provider *memoryUserProvider
	redis    *miniredis.Miniredis
}

// fastTestConfig keeps Argon2 at its floor so tests stay quick, enables
// metrics for assertions, and disables background anomaly detection unless
// a test opts back in.
func fastTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Environment = secrets.Test
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.KeyLength = 16
	cfg.Metrics.Enabled = true
	cfg.Anomaly.Enabled = false
	return cfg
}

func newTestEngine(t *testing.T, mutateConfig func(*Config), mutateBuilder func(*Builder)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := fastTestConfig()
	if mutateConfig != nil {
		mutateConfig(&cfg)
	}

	provider := newMemoryProvider()
	b := New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserProvider(provider)
	if mutateBuilder != nil {
		mutateBuilder(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, provider: provider, redis: mr}
}

var userSeq int

// seedUser registers a credential record hashed with the engine's own
// hasher so logins verify against the same pepper.
func (env *testEnv) seedUser(t *testing.T, username, plain string, role Role) UserRecord {
	t.Helper()

	salt, err := password.GenerateSalt()
	if err != nil {
		t.Fatalf("generate salt: %v", err)
	}
	hash, err := env.engine.hasher.Hash(plain, salt)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	userSeq++
	u := UserRecord{
		UserID:       fmt.Sprintf("user-%d", userSeq),
		Username:     username,
		Email:        username + "@example.org",
		PasswordHash: hash,
		Salt:         salt,
		Role:         role,
	}
	env.provider.put(u)
	return u
}

func chromeRequest() RequestContext {
	return RequestContext{
		IP:                 "203.0.113.10",
		UserAgent:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0.0.0 Safari/537.36",
		AcceptLanguage:     "de-DE,de;q=0.9",
		AcceptEncoding:     "gzip, deflate, br",
		ClientHintPlatform: `"Windows"`,
		ClientHintMobile:   "?0",
		ClientHintVendor:   `"Google Chrome"`,
	}
}

func foreignRequest() RequestContext {
	return RequestContext{
		IP:             "198.51.100.9",
		UserAgent:      "python-requests/2.31",
		AcceptLanguage: "en-US",
		AcceptEncoding: "identity",
	}
}

func mustLogin(t *testing.T, env *testEnv, username, plain string, req RequestContext) *AuthResult {
	t.Helper()

	res, err := env.engine.Authenticate(context.Background(), username, plain, req)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !res.Success {
		t.Fatalf("authenticate failed: %+v", res)
	}
	return res
}

func metricValue(env *testEnv, id MetricID) uint64 {
	return env.engine.metrics.Value(id)
}

// drainAudit waits for an event of the wanted type, failing on timeout.
func drainAudit(t *testing.T, sink interface{ Events() <-chan AuditEvent }, eventType string) AuditEvent {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %q audit event arrived", eventType)
		}
	}
}
