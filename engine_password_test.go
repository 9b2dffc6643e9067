package medauth

import (
	"context"
	"errors"
	"testing"
)

func TestChangePasswordSuccess(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t, nil, nil)
	user := env.seedUser(t, "alice", "correct-horse", RoleClinician)

	login := mustLogin(t, env, "alice", "correct-horse", chromeRequest())

	res, err := env.engine.ChangePassword(ctx, user.UserID, "correct-horse", "battery-staple-9", chromeRequest())
	if err != nil {
		t.Fatalf("change password: %v", err)
	}
	if !res.Success {
		t.Fatalf("unexpected result: %+v", res)
	}

	// Every session died with the old password.
	if _, _, err := env.engine.VerifyAccessToken(ctx, login.AccessToken); !errors.Is(err, ErrTokenBlacklisted) {
		t.Fatalf("expected blacklisted token after password change, got %v", err)
	}

	// Old password is gone, new one works.
	if _, err := env.engine.Authenticate(ctx, "alice", "correct-horse", chromeRequest()); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still accepted: %v", err)
	}
	mustLogin(t, env, "alice", "battery-staple-9", chromeRequest())

	if metricValue(env, MetricPasswordChangeSuccess) != 1 {
		t.Fatal("success metric not recorded")
	}
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t, nil, nil)
	user := env.seedUser(t, "alice", "correct-horse", RoleClinician)

	res, err := env.engine.ChangePassword(ctx, user.UserID, "not-the-password", "battery-staple-9", chromeRequest())
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if res.Success || res.Message != GenericFailureMessage {
		t.Fatalf("unexpected result: %+v", res)
	}
	if metricValue(env, MetricPasswordChangeInvalidOld) != 1 {
		t.Fatal("invalid-old metric not recorded")
	}
}

func TestChangePasswordRejectsCurrentReuse(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t, nil, nil)
	user := env.seedUser(t, "alice", "correct-horse", RoleClinician)

	res, err := env.engine.ChangePassword(ctx, user.UserID, "correct-horse", "correct-horse", chromeRequest())
	if !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("expected ErrPasswordReuse, got %v", err)
	}
	// Reuse reads exactly like a policy rejection at the boundary.
	if res.Message != passwordRejectedMessage {
		t.Fatalf("reuse leaked through the message: %+v", res)
	}
	if metricValue(env, MetricPasswordReuseRejected) != 1 {
		t.Fatal("reuse metric not recorded")
	}
}

func TestChangePasswordRejectsHistoricalReuse(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t, nil, nil)
	user := env.seedUser(t, "alice", "password-one-1", RoleClinician)

	if _, err := env.engine.ChangePassword(ctx, user.UserID, "password-one-1", "password-two-2", chromeRequest()); err != nil {
		t.Fatalf("first change: %v", err)
	}
	if _, err := env.engine.ChangePassword(ctx, user.UserID, "password-two-2", "password-three-3", chromeRequest()); err != nil {
		t.Fatalf("second change: %v", err)
	}

	// password-two-2 sits in the retained history now.
	res, err := env.engine.ChangePassword(ctx, user.UserID, "password-three-3", "password-two-2", chromeRequest())
	if !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("expected ErrPasswordReuse for historical password, got %v", err)
	}
	if res.Message != passwordRejectedMessage {
		t.Fatalf("unexpected message: %+v", res)
	}

	// A genuinely new password still passes.
	if _, err := env.engine.ChangePassword(ctx, user.UserID, "password-three-3", "password-four-4", chromeRequest()); err != nil {
		t.Fatalf("fresh password rejected: %v", err)
	}
}

func TestChangePasswordRetiresOriginalPassword(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t, nil, nil)
	user := env.seedUser(t, "alice", "original-pass-1", RoleClinician)

	if _, err := env.engine.ChangePassword(ctx, user.UserID, "original-pass-1", "different-pass-2", chromeRequest()); err != nil {
		t.Fatalf("change: %v", err)
	}

	// The very first password must land in history: a single change cannot
	// open the door back to it.
	res, err := env.engine.ChangePassword(ctx, user.UserID, "different-pass-2", "original-pass-1", chromeRequest())
	if !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("expected ErrPasswordReuse for the original password, got %v", err)
	}
	if res.Message != passwordRejectedMessage {
		t.Fatalf("unexpected message: %+v", res)
	}
}

func TestChangePasswordHistoryDepthZeroDisablesLookback(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t, func(cfg *Config) {
		cfg.Password.HistoryDepth = 0
	}, nil)
	user := env.seedUser(t, "alice", "password-one-1", RoleClinician)

	if _, err := env.engine.ChangePassword(ctx, user.UserID, "password-one-1", "password-two-2", chromeRequest()); err != nil {
		t.Fatalf("first change: %v", err)
	}
	// Immediate reuse of the current password is still caught.
	if _, err := env.engine.ChangePassword(ctx, user.UserID, "password-two-2", "password-two-2", chromeRequest()); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("expected ErrPasswordReuse, got %v", err)
	}
	// But history lookback is off: an older password may return.
	if _, err := env.engine.ChangePassword(ctx, user.UserID, "password-two-2", "password-one-1", chromeRequest()); err != nil {
		t.Fatalf("history disabled but reuse rejected: %v", err)
	}
}

func TestChangePasswordPolicy(t *testing.T) {
	ctx := context.Background()
	env := newTestEngine(t, nil, nil)
	user := env.seedUser(t, "alice", "correct-horse", RoleClinician)

	cases := []struct {
		name                 string
		current, replacement string
	}{
		{"too short", "correct-horse", "short"},
		{"empty new", "correct-horse", ""},
		{"empty current", "", "battery-staple-9"},
	}
	for _, tc := range cases {
		res, err := env.engine.ChangePassword(ctx, user.UserID, tc.current, tc.replacement, chromeRequest())
		if !errors.Is(err, ErrValidationFailed) {
			t.Fatalf("%s: expected ErrValidationFailed, got %v", tc.name, err)
		}
		if res.Success || res.Message != passwordRejectedMessage {
			t.Fatalf("%s: unexpected result: %+v", tc.name, res)
		}
	}

	if _, err := env.engine.ChangePassword(ctx, "", "correct-horse", "battery-staple-9", chromeRequest()); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed for empty user, got %v", err)
	}
	if _, err := env.engine.ChangePassword(ctx, "ghost", "correct-horse", "battery-staple-9", chromeRequest()); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}
