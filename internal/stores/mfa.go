package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrChallengeNotFound = errors.New("mfa challenge not found")
	ErrChallengeExpired  = errors.New("mfa challenge expired")
	// ErrChallengeExceeded means the attempt budget was burned and the
	// challenge deleted; the user must restart the login.
	ErrChallengeExceeded = errors.New("mfa challenge attempts exceeded")
	ErrChallengeBackend  = errors.New("mfa challenge backend unavailable")
)

// Challenge is a pending step-up between password verification and second
// factor. Keyed by user id: one pending step-up per user, consistent with
// the single-active-session policy.
type Challenge struct {
	ChallengeID string `json:"cid"`
	UserID      string `json:"uid"`
	Type        string `json:"type"` // "totp" or "webauthn"
	ExpiresAt   int64  `json:"exp"`
	Attempts    int    `json:"att"`
}

// Challenges stores pending step-ups in Redis.
type Challenges struct {
	redis  redis.UniversalClient
	prefix string
}

func NewChallenges(client redis.UniversalClient, prefix string) *Challenges {
	if prefix == "" {
		prefix = "ma"
	}
	return &Challenges{redis: client, prefix: prefix}
}

func (c *Challenges) key(userID string) string {
	return c.prefix + ":mfa:" + userID
}

// Save overwrites any pending challenge for the user.
func (c *Challenges) Save(ctx context.Context, ch *Challenge, ttl time.Duration) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	if err := c.redis.Set(ctx, c.key(ch.UserID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// Get loads the user's pending challenge, deleting it when expired.
func (c *Challenges) Get(ctx context.Context, userID string) (*Challenge, error) {
	data, err := c.redis.Get(ctx, c.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	var ch Challenge
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, ErrChallengeNotFound
	}
	if time.Now().Unix() > ch.ExpiresAt {
		_, _ = c.redis.Del(ctx, c.key(userID)).Result()
		return nil, ErrChallengeExpired
	}

	return &ch, nil
}

// RecordFailure increments the attempt counter, deleting the challenge and
// reporting exceeded when maxAttempts is reached. Optimistic transaction;
// concurrent failures cannot undercount.
func (c *Challenges) RecordFailure(ctx context.Context, userID string, maxAttempts int) error {
	const maxRetries = 4
	key := c.key(userID)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := c.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrChallengeNotFound
				}
				return err
			}

			var ch Challenge
			if err := json.Unmarshal(data, &ch); err != nil {
				return ErrChallengeNotFound
			}
			if time.Now().Unix() > ch.ExpiresAt {
				_, derr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if derr != nil {
					return derr
				}
				return ErrChallengeExpired
			}

			ch.Attempts++
			exceeded = ch.Attempts >= maxAttempts

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if exceeded {
					pipe.Del(ctx, key)
					return nil
				}
				ttl := time.Until(time.Unix(ch.ExpiresAt, 0))
				updated, merr := json.Marshal(&ch)
				if merr != nil {
					return merr
				}
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			if exceeded {
				return ErrChallengeExceeded
			}
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrChallengeNotFound), errors.Is(err, ErrChallengeExpired):
			return err
		default:
			return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
	}

	return fmt.Errorf("%w: transaction contention", ErrChallengeBackend)
}

// Delete removes the pending challenge, reporting whether one existed.
// Consuming a challenge exactly once guards against step-up replay.
func (c *Challenges) Delete(ctx context.Context, userID string) (bool, error) {
	n, err := c.redis.Del(ctx, c.key(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return n > 0, nil
}
