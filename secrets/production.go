package secrets

import (
	"errors"
	"fmt"
)

// ProductionSecret is a secret value that has passed the production policy.
// The zero value is unusable; the only way to obtain a usable instance is
// [NewProductionSecret], which refuses denylisted and structurally weak
// values. Config loaders should hold this type so a weak default cannot
// reach the engine in production by construction.
type ProductionSecret struct {
	value string
}

// ErrWeakSecret is returned by [NewProductionSecret] for any rejected value.
var ErrWeakSecret = errors.New("secret fails production policy")

// NewProductionSecret validates value against the production rules for the
// named requirement ("access_token_key", "refresh_token_key", "pepper",
// "crypto_key").
func NewProductionSecret(name, value string) (ProductionSecret, error) {
	var req *requirement
	for i := range requirements {
		if requirements[i].name == name {
			req = &requirements[i]
			break
		}
	}
	if req == nil {
		return ProductionSecret{}, fmt.Errorf("%w: unknown requirement %q", ErrWeakSecret, name)
	}

	if value == "" {
		return ProductionSecret{}, fmt.Errorf("%w: %s missing", ErrWeakSecret, name)
	}
	if req.exactLength > 0 && len(value) != req.exactLength {
		return ProductionSecret{}, fmt.Errorf("%w: %s must be exactly %d characters", ErrWeakSecret, name, req.exactLength)
	}
	if len(value) < req.minLength {
		return ProductionSecret{}, fmt.Errorf("%w: %s must be at least %d characters", ErrWeakSecret, name, req.minLength)
	}
	if issue := structuralIssue(value); issue != "" {
		return ProductionSecret{}, fmt.Errorf("%w: %s %s", ErrWeakSecret, name, issue)
	}

	return ProductionSecret{value: value}, nil
}

// Reveal returns the secret value. Deliberately not a String method so the
// secret never leaks through accidental formatting.
func (p ProductionSecret) Reveal() string {
	return p.value
}

// IsSet reports whether the secret was constructed through validation.
func (p ProductionSecret) IsSet() bool {
	return p.value != ""
}
