package medauth

import (
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/avenlock/medauth/secrets"
)

func TestBuildRequiresCollaborators(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	if _, err := New().WithUserProvider(newMemoryProvider()).Build(); err == nil {
		t.Fatal("expected error without redis")
	}
	if _, err := New().WithRedis(client).Build(); err == nil {
		t.Fatal("expected error without user provider")
	}

	cfg := fastTestConfig()
	cfg.Lockout.Threshold = 0
	if _, err := New().WithConfig(cfg).WithRedis(client).WithUserProvider(newMemoryProvider()).Build(); err == nil {
		t.Fatal("expected config validation error")
	}
}

func TestBuildRejectsWeakProductionSecrets(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := fastTestConfig()
	cfg.Environment = secrets.Production
	cfg.Secrets = secrets.Set{
		AccessTokenKey:  "secret",
		RefreshTokenKey: "password123",
		Pepper:          "",
		CryptoKey:       "changeme",
	}

	_, err := New().WithConfig(cfg).WithRedis(client).WithUserProvider(newMemoryProvider()).Build()
	if !errors.Is(err, ErrSecretsRejected) {
		t.Fatalf("expected ErrSecretsRejected, got %v", err)
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b := New().WithConfig(fastTestConfig()).WithRedis(client).WithUserProvider(newMemoryProvider())

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)

	if _, err := b.Build(); err == nil || !strings.Contains(err.Error(), "already used") {
		t.Fatalf("expected single-use error, got %v", err)
	}
}

func TestBuildAuditsGeneratedFallbackSecrets(t *testing.T) {
	sink := NewChannelAuditSink(16)
	env := newTestEngine(t, func(cfg *Config) {
		cfg.Environment = secrets.Development
		cfg.Secrets = secrets.Set{}
		cfg.Audit.Enabled = true
	}, func(b *Builder) {
		b.WithAuditSink(sink)
	})

	if len(env.engine.SecretReport().Warnings) == 0 {
		t.Fatal("expected guard warnings for missing development secrets")
	}

	ev := drainAudit(t, sink, "secret_guard_warning")
	if ev.Severity != SeverityWarning || !ev.Success {
		t.Fatalf("unexpected secret_guard_warning event: %+v", ev)
	}
	if !strings.Contains(ev.Metadata["warning"], "generated random development fallback") {
		t.Fatalf("warning metadata missing guard finding: %+v", ev.Metadata)
	}
}

func TestBuildSubstitutesTestSecrets(t *testing.T) {
	env := newTestEngine(t, nil, nil)

	report := env.engine.SecretReport()
	if !report.Valid {
		t.Fatalf("test environment secrets rejected: %v", report.Errors)
	}
	if report.Secrets.AccessTokenKey == "" || report.Secrets.Pepper == "" {
		t.Fatal("placeholder secrets not substituted")
	}
	if report.Secrets.AccessTokenKey == report.Secrets.RefreshTokenKey {
		t.Fatal("access and refresh keys must differ")
	}
}
