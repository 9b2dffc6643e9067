package anomaly

import (
	"context"
	"time"
)

// EventType distinguishes the two scored event classes.
type EventType string

const (
	EventLogin    EventType = "login_behavior"
	EventTokenUse EventType = "token_usage"
)

// Detection is one persisted anomaly record. Never mutated after creation
// except for the Resolved flag.
type Detection struct {
	ID          string
	UserID      string
	Type        EventType
	Confidence  int // 0-100
	Description string
	Metadata    map[string]string
	Resolved    bool
	CreatedAt   time.Time
}

// Store persists detection records. Implementations must tolerate
// concurrent writers.
type Store interface {
	SaveDetection(ctx context.Context, d *Detection) error
}

// GeoPoint is a resolved IP location.
type GeoPoint struct {
	Country string
	City    string
	Lat     float64
	Lon     float64
}

// Zero reports whether the point carries no location.
func (g GeoPoint) Zero() bool {
	return g.Country == "" && g.City == "" && g.Lat == 0 && g.Lon == 0
}

// Resolver is the externally supplied GeoIP capability. Accuracy is the
// resolver's problem; the detectors only consume what it returns.
type Resolver interface {
	Lookup(ctx context.Context, ip string) (GeoPoint, error)
}
