package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrHistoryBackend wraps Redis failures from the history store.
var ErrHistoryBackend = errors.New("history backend unavailable")

// historyDepth is how many recent logins are retained per user. The unusual
// hour detector reads five; device change reads the full list.
const historyDepth = 10

// LoginSample is one recorded login event, the raw material for the
// behavioral detectors. Geo fields are zero when GeoIP lookup failed or was
// not configured.
type LoginSample struct {
	At           int64   `json:"at"`
	IP           string  `json:"ip"`
	Country      string  `json:"country,omitempty"`
	City         string  `json:"city,omitempty"`
	Lat          float64 `json:"lat,omitempty"`
	Lon          float64 `json:"lon,omitempty"`
	FPComponents string  `json:"fp,omitempty"`
}

// History keeps a capped list of recent login samples and a last-activity
// timestamp per user.
type History struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewHistory(client redis.UniversalClient, prefix string, ttl time.Duration) *History {
	if prefix == "" {
		prefix = "ma"
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &History{redis: client, prefix: prefix, ttl: ttl}
}

// RecordLogin prepends the sample and trims the list to the retained depth.
func (h *History) RecordLogin(ctx context.Context, userID string, sample LoginSample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return err
	}

	key := h.loginKey(userID)
	pipe := h.redis.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, historyDepth-1)
	pipe.Expire(ctx, key, h.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrHistoryBackend, err)
	}

	return nil
}

// RecentLogins returns up to n samples, most recent first.
func (h *History) RecentLogins(ctx context.Context, userID string, n int) ([]LoginSample, error) {
	if n <= 0 || n > historyDepth {
		n = historyDepth
	}

	raw, err := h.redis.LRange(ctx, h.loginKey(userID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHistoryBackend, err)
	}

	samples := make([]LoginSample, 0, len(raw))
	for _, item := range raw {
		var s LoginSample
		if err := json.Unmarshal([]byte(item), &s); err != nil {
			continue // skip corrupt entries rather than failing detection
		}
		samples = append(samples, s)
	}

	return samples, nil
}

// TouchActivity records the user's most recent authenticated activity,
// read by the abnormally-chatty-client detector.
func (h *History) TouchActivity(ctx context.Context, userID string, at time.Time) error {
	if err := h.redis.Set(ctx, h.activityKey(userID), strconv.FormatInt(at.Unix(), 10), h.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrHistoryBackend, err)
	}
	return nil
}

// LastActivity returns the recorded activity time, or zero when none.
func (h *History) LastActivity(ctx context.Context, userID string) (time.Time, error) {
	v, err := h.redis.Get(ctx, h.activityKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("%w: %v", ErrHistoryBackend, err)
	}
	unix, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return time.Unix(unix, 0), nil
}

func (h *History) loginKey(userID string) string    { return h.prefix + ":h:" + userID }
func (h *History) activityKey(userID string) string { return h.prefix + ":la:" + userID }
