package medauth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRefreshTokenRotatesPair(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t, nil, nil)
	env.seedUser(t, "alice", "correct-horse", RoleClinician)

	login := mustLogin(t, env, "alice", "correct-horse", chromeRequest())

	refreshed, err := env.engine.RefreshToken(ctx, login.RefreshToken, chromeRequest())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !refreshed.Success || refreshed.AccessToken == "" || refreshed.RefreshToken == "" {
		t.Fatalf("unexpected refresh result: %+v", refreshed)
	}
	if refreshed.SessionID != login.SessionID {
		t.Fatal("refresh must keep the session")
	}
	if refreshed.AccessToken == login.AccessToken || refreshed.RefreshToken == login.RefreshToken {
		t.Fatal("token pair must rotate")
	}

	// The old pair is dead; the new pair works.
	if _, _, err := env.engine.VerifyAccessToken(ctx, login.AccessToken); !errors.Is(err, ErrTokenBlacklisted) {
		t.Fatalf("expected old access token blacklisted, got %v", err)
	}
	if _, err := env.engine.RefreshToken(ctx, login.RefreshToken, chromeRequest()); !errors.Is(err, ErrTokenBlacklisted) {
		t.Fatalf("expected old refresh token blacklisted, got %v", err)
	}
	if _, _, err := env.engine.VerifyAccessToken(ctx, refreshed.AccessToken); err != nil {
		t.Fatalf("new access token rejected: %v", err)
	}
	if metricValue(env, MetricRefreshSuccess) != 1 {
		t.Fatal("refresh metric not recorded")
	}
}

func TestRefreshTokenWrongTokenType(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t, nil, nil)
	env.seedUser(t, "alice", "correct-horse", RoleClinician)

	login := mustLogin(t, env, "alice", "correct-horse", chromeRequest())

	// An access token is not accepted on the refresh path.
	if _, err := env.engine.RefreshToken(ctx, login.AccessToken, chromeRequest()); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	if _, err := env.engine.RefreshToken(ctx, "garbage", chromeRequest()); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for garbage, got %v", err)
	}
}

func TestRefreshTokenDeviceMismatchKillsSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t, nil, nil)
	env.seedUser(t, "alice", "correct-horse", RoleClinician)

	login := mustLogin(t, env, "alice", "correct-horse", chromeRequest())

	// New browser behind the same IP: not a network change, so no hijack
	// escalation, but the component vector no longer matches the binding.
	mismatch := chromeRequest()
	mismatch.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) Firefox/121.0"
	mismatch.AcceptLanguage = "en-US"
	mismatch.AcceptEncoding = "gzip"

	res, err := env.engine.RefreshToken(ctx, login.RefreshToken, mismatch)
	if !errors.Is(err, ErrDeviceMismatch) {
		t.Fatalf("expected ErrDeviceMismatch, got %v", err)
	}
	if res.Success {
		t.Fatal("mismatched device produced tokens")
	}
	if metricValue(env, MetricDeviceMismatch) != 1 {
		t.Fatal("device mismatch metric not recorded")
	}

	// The session was killed, not merely refused: the original device
	// cannot refresh either anymore.
	if _, err := env.engine.RefreshToken(ctx, login.RefreshToken, chromeRequest()); !errors.Is(err, ErrTokenBlacklisted) {
		t.Fatalf("expected dead session, got %v", err)
	}
}

func TestRefreshTokenHijackDetected(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t, nil, nil)
	env.seedUser(t, "alice", "correct-horse", RoleClinician)

	orig := chromeRequest()
	login := mustLogin(t, env, "alice", "correct-horse", orig)

	// The attacker captured the session's fingerprint value and echoes it
	// back from their own machine.
	stolen := env.engine.requestFingerprint(orig).Value
	attack := foreignRequest()
	attack.ClientFingerprint = stolen

	_, err := env.engine.RefreshToken(ctx, login.RefreshToken, attack)
	if !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid for hijack, got %v", err)
	}
	if metricValue(env, MetricHijackDetected) != 1 {
		t.Fatal("hijack metric not recorded")
	}
	if _, err := env.engine.RefreshToken(ctx, login.RefreshToken, orig); !errors.Is(err, ErrTokenBlacklisted) {
		t.Fatalf("expected killed session, got %v", err)
	}
}

func TestRefreshTokenReplayDetected(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t, nil, nil)
	env.seedUser(t, "alice", "correct-horse", RoleClinician)

	req := chromeRequest()
	login := mustLogin(t, env, "alice", "correct-horse", req)

	// A legitimate client echoes its fingerprint; the first refresh passes
	// and records the pair.
	req.ClientFingerprint = env.engine.requestFingerprint(req).Value
	refreshed, err := env.engine.RefreshToken(ctx, login.RefreshToken, req)
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	// The same echoed value re-validating inside the window is a replay.
	if _, err := env.engine.RefreshToken(ctx, refreshed.RefreshToken, req); !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("expected ErrReplayDetected, got %v", err)
	}
	if metricValue(env, MetricReplayDetected) != 1 {
		t.Fatal("replay metric not recorded")
	}
}

func TestRefreshTokenRateLimited(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t, func(cfg *Config) {
		cfg.RateLimit.MaxRefreshAttempts = 2
	}, nil)
	env.seedUser(t, "alice", "correct-horse", RoleClinician)

	login := mustLogin(t, env, "alice", "correct-horse", chromeRequest())

	current := login.RefreshToken
	for i := 0; i < 2; i++ {
		res, err := env.engine.RefreshToken(ctx, current, chromeRequest())
		if err != nil {
			t.Fatalf("refresh %d: %v", i+1, err)
		}
		current = res.RefreshToken
	}

	res, err := env.engine.RefreshToken(ctx, current, chromeRequest())
	if !errors.Is(err, ErrRefreshRateLimited) {
		t.Fatalf("expected ErrRefreshRateLimited, got %v", err)
	}
	if res.Success {
		t.Fatal("throttled refresh produced tokens")
	}

	// The throttle refuses without killing the session.
	env.redis.FastForward(2 * time.Minute)
	if _, err := env.engine.RefreshToken(ctx, current, chromeRequest()); err != nil {
		t.Fatalf("refresh after cooldown: %v", err)
	}
}

func TestRotateAccessTokenNotDue(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t, func(cfg *Config) {
		cfg.Token.RotateWithin = time.Minute
	}, nil)
	env.seedUser(t, "alice", "correct-horse", RoleClinician)

	login := mustLogin(t, env, "alice", "correct-horse", chromeRequest())

	res, err := env.engine.RotateAccessToken(ctx, login.AccessToken, chromeRequest())
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if !res.Success || res.AccessToken != login.AccessToken {
		t.Fatalf("not-due rotation must return the original token: %+v", res)
	}
	if metricValue(env, MetricRotationSkipped) != 1 {
		t.Fatal("skip metric not recorded")
	}
}

func TestRotateAccessTokenDue(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t, nil, nil) // RotateWithin == AccessTTL: always due
	env.seedUser(t, "alice", "correct-horse", RoleClinician)

	login := mustLogin(t, env, "alice", "correct-horse", chromeRequest())

	res, err := env.engine.RotateAccessToken(ctx, login.AccessToken, chromeRequest())
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if !res.Success || res.AccessToken == login.AccessToken || res.AccessToken == "" {
		t.Fatalf("expected a fresh access token: %+v", res)
	}

	// Old access token dead, refresh token untouched.
	if _, _, err := env.engine.VerifyAccessToken(ctx, login.AccessToken); !errors.Is(err, ErrTokenBlacklisted) {
		t.Fatalf("expected old access token blacklisted, got %v", err)
	}
	if _, _, err := env.engine.VerifyAccessToken(ctx, res.AccessToken); err != nil {
		t.Fatalf("new access token rejected: %v", err)
	}
	if _, err := env.engine.RefreshToken(ctx, login.RefreshToken, chromeRequest()); err != nil {
		t.Fatalf("refresh token should survive access rotation: %v", err)
	}
	if metricValue(env, MetricAccessRotated) != 1 {
		t.Fatal("rotation metric not recorded")
	}
}

func TestRotateAccessTokenConcurrentLoser(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t, nil, nil)
	env.seedUser(t, "alice", "correct-horse", RoleClinician)

	login := mustLogin(t, env, "alice", "correct-horse", chromeRequest())

	claims, _, err := env.engine.VerifyAccessToken(ctx, login.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	// Another request already owns the rotation window.
	if _, err := env.engine.markers.RecentlyRotated(ctx, claims.ID, rotationMarkerWindow); err != nil {
		t.Fatalf("preset marker: %v", err)
	}

	res, err := env.engine.RotateAccessToken(ctx, login.AccessToken, chromeRequest())
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if !res.Success || res.AccessToken != login.AccessToken {
		t.Fatalf("loser must keep the original token: %+v", res)
	}
	if metricValue(env, MetricAccessRotated) != 0 {
		t.Fatal("loser must not rotate")
	}

	// The original token stays valid until natural expiry.
	if _, _, err := env.engine.VerifyAccessToken(ctx, login.AccessToken); err != nil {
		t.Fatalf("original token died: %v", err)
	}
}
