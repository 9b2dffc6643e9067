package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no session exists for a lookup.
var ErrNotFound = errors.New("session not found")

// ErrRedisUnavailable wraps backend failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// blacklistSlack keeps blacklist entries alive past token expiry to absorb
// clock skew between the store and verifiers.
const blacklistSlack = time.Hour

// invalidateScript performs the three invalidation writes atomically:
// blacklist the access token id, blacklist the refresh token id, flip the
// session's validity flag. Ordered access-blacklist-first so that even a
// non-atomic replay of the script is fail-closed. Index entries are removed
// in the same round trip.
const invalidateScriptSrc = `
redis.call("SET", KEYS[2], ARGV[1], "PX", ARGV[2])
redis.call("SET", KEYS[3], ARGV[1], "PX", ARGV[3])
local existed = redis.call("EXISTS", KEYS[1])
if existed == 1 then
  redis.call("SETRANGE", KEYS[1], 1, string.char(0))
end
redis.call("SREM", KEYS[4], ARGV[4])
redis.call("DEL", KEYS[5], KEYS[6])
return existed
`

// rotateScript swaps the session blob and refresh index under the new token
// pair while blacklisting the superseded refresh token id.
const rotateScriptSrc = `
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[4])
redis.call("DEL", KEYS[3], KEYS[4])
redis.call("SET", KEYS[5], ARGV[5], "PX", ARGV[4])
redis.call("SET", KEYS[6], ARGV[5], "PX", ARGV[4])
return 1
`

var (
	invalidateLua = redis.NewScript(invalidateScriptSrc)
	rotateLua     = redis.NewScript(rotateScriptSrc)
)

// Store persists sessions, token-id indexes, and the token blacklist in
// Redis under a common key prefix.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore wraps the given client. prefix defaults to "ma".
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "ma"
	}
	return &Store{redis: client, prefix: prefix}
}

func (st *Store) sessionKey(id string) string       { return st.prefix + ":s:" + id }
func (st *Store) userKey(userID string) string      { return st.prefix + ":u:" + userID }
func (st *Store) refreshKey(tokenID string) string  { return st.prefix + ":r:" + tokenID }
func (st *Store) accessKey(tokenID string) string   { return st.prefix + ":a:" + tokenID }
func (st *Store) blacklistKey(tokenID string) string { return st.prefix + ":bl:" + tokenID }

// Create persists a new session and its token-id indexes. The caller is
// responsible for having invalidated prior sessions first; Create itself
// makes no single-session guarantee.
func (st *Store) Create(ctx context.Context, s *Session) error {
	blob, err := Encode(s)
	if err != nil {
		return err
	}

	ttl := time.Until(time.Unix(s.RefreshExpiresAt, 0))
	if ttl <= 0 {
		return errors.New("session already expired")
	}

	pipe := st.redis.TxPipeline()
	pipe.Set(ctx, st.sessionKey(s.ID), blob, ttl)
	pipe.SAdd(ctx, st.userKey(s.UserID), s.ID)
	pipe.Expire(ctx, st.userKey(s.UserID), ttl)
	pipe.Set(ctx, st.refreshKey(s.RefreshTokenID), s.ID, ttl)
	pipe.Set(ctx, st.accessKey(s.AccessTokenID), s.ID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get loads a session by id.
func (st *Store) Get(ctx context.Context, id string) (*Session, error) {
	data, err := st.redis.Get(ctx, st.sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return Decode(id, data)
}

// GetByRefreshTokenID resolves the refresh-token-id index.
func (st *Store) GetByRefreshTokenID(ctx context.Context, tokenID string) (*Session, error) {
	return st.getByIndex(ctx, st.refreshKey(tokenID))
}

// GetByAccessTokenID resolves the access-token-id index.
func (st *Store) GetByAccessTokenID(ctx context.Context, tokenID string) (*Session, error) {
	return st.getByIndex(ctx, st.accessKey(tokenID))
}

func (st *Store) getByIndex(ctx context.Context, key string) (*Session, error) {
	id, err := st.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return st.Get(ctx, id)
}

// SessionIDs returns the ids currently indexed for the user, valid or not.
func (st *Store) SessionIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := st.redis.SMembers(ctx, st.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// Invalidate flags the session invalid and blacklists both of its token ids
// in one atomic script. Repeat calls are harmless. Returns false when the
// session no longer exists (its token ids are still blacklisted).
func (st *Store) Invalidate(ctx context.Context, s *Session, reason string) (bool, error) {
	now := time.Now()
	accessTTL := blacklistTTL(s.ExpiresAt, now)
	refreshTTL := blacklistTTL(s.RefreshExpiresAt, now)

	res, err := invalidateLua.Run(ctx, st.redis,
		[]string{
			st.sessionKey(s.ID),
			st.blacklistKey(s.AccessTokenID),
			st.blacklistKey(s.RefreshTokenID),
			st.userKey(s.UserID),
			st.refreshKey(s.RefreshTokenID),
			st.accessKey(s.AccessTokenID),
		},
		blacklistValue(reason, s.UserID),
		strconv.FormatInt(accessTTL.Milliseconds(), 10),
		strconv.FormatInt(refreshTTL.Milliseconds(), 10),
		s.ID,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return res == 1, nil
}

// InvalidateAll invalidates every session indexed for the user. Idempotent
// and tolerant of concurrent removal; returns the number of sessions that
// still existed.
func (st *Store) InvalidateAll(ctx context.Context, userID, reason string) (int, error) {
	ids, err := st.SessionIDs(ctx, userID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, id := range ids {
		s, err := st.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				_, _ = st.redis.SRem(ctx, st.userKey(userID), id).Result()
				continue
			}
			return count, err
		}
		existed, err := st.Invalidate(ctx, s, reason)
		if err != nil {
			return count, err
		}
		if existed {
			count++
		}
	}

	return count, nil
}

// Touch updates the last-activity timestamp. Plain read-modify-write; the
// field is advisory and losing a concurrent update is acceptable.
func (st *Store) Touch(ctx context.Context, s *Session, now time.Time) error {
	s.LastActivity = now.Unix()
	blob, err := Encode(s)
	if err != nil {
		return err
	}
	ttl := time.Until(time.Unix(s.RefreshExpiresAt, 0))
	if ttl <= 0 {
		return nil
	}
	if err := st.redis.Set(ctx, st.sessionKey(s.ID), blob, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RotateTokens atomically persists the session under its new token pair,
// blacklists the superseded refresh token id, and moves both indexes.
// updated must already carry the new token ids and expiries.
func (st *Store) RotateTokens(ctx context.Context, updated *Session, oldAccessID, oldRefreshID, reason string) error {
	blob, err := Encode(updated)
	if err != nil {
		return err
	}

	now := time.Now()
	blTTL := blacklistTTL(updated.RefreshExpiresAt, now)
	sessTTL := time.Until(time.Unix(updated.RefreshExpiresAt, 0))
	if sessTTL <= 0 {
		return errors.New("rotated session already expired")
	}

	res, err := rotateLua.Run(ctx, st.redis,
		[]string{
			st.sessionKey(updated.ID),
			st.blacklistKey(oldRefreshID),
			st.refreshKey(oldRefreshID),
			st.accessKey(oldAccessID),
			st.refreshKey(updated.RefreshTokenID),
			st.accessKey(updated.AccessTokenID),
		},
		blob,
		blacklistValue(reason, updated.UserID),
		strconv.FormatInt(blTTL.Milliseconds(), 10),
		strconv.FormatInt(sessTTL.Milliseconds(), 10),
		updated.ID,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if res == 0 {
		return ErrNotFound
	}

	return nil
}

// SwapAccessToken rewrites the session under a rotated access token id and
// blacklists the superseded one. Used by proactive access rotation.
func (st *Store) SwapAccessToken(ctx context.Context, updated *Session, oldAccessID, reason string) error {
	blob, err := Encode(updated)
	if err != nil {
		return err
	}

	now := time.Now()
	sessTTL := time.Until(time.Unix(updated.RefreshExpiresAt, 0))
	if sessTTL <= 0 {
		return errors.New("session already expired")
	}

	pipe := st.redis.TxPipeline()
	pipe.Set(ctx, st.blacklistKey(oldAccessID), blacklistValue(reason, updated.UserID), blacklistTTL(updated.ExpiresAt, now))
	pipe.Set(ctx, st.sessionKey(updated.ID), blob, sessTTL)
	pipe.Del(ctx, st.accessKey(oldAccessID))
	pipe.Set(ctx, st.accessKey(updated.AccessTokenID), updated.ID, sessTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Add appends a token id to the blacklist. Satisfies the token service's
// Blacklist interface. Idempotent: a second call for the same id keeps the
// original reason.
func (st *Store) Add(ctx context.Context, tokenID, userID, reason string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = blacklistSlack
	}
	if err := st.redis.SetNX(ctx, st.blacklistKey(tokenID), blacklistValue(reason, userID), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Contains reports whether the token id is blacklisted.
func (st *Store) Contains(ctx context.Context, tokenID string) (bool, error) {
	n, err := st.redis.Exists(ctx, st.blacklistKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

// BlacklistReason returns the recorded reason for a blacklisted token id.
func (st *Store) BlacklistReason(ctx context.Context, tokenID string) (string, bool, error) {
	v, err := st.redis.Get(ctx, st.blacklistKey(tokenID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	reason, _, _ := strings.Cut(v, "|")
	return reason, true, nil
}

func blacklistValue(reason, userID string) string {
	return reason + "|" + userID
}

func blacklistTTL(expiresAt int64, now time.Time) time.Duration {
	remaining := time.Unix(expiresAt, 0).Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining + blacklistSlack
}
