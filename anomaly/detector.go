package anomaly

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/avenlock/medauth/fingerprint"
)

// Config tunes the detectors. Zero values are replaced by defaults.
type Config struct {
	// MaxTravelSpeedKmh flags logins implying faster-than-airliner travel.
	MaxTravelSpeedKmh float64
	// TravelWindow bounds how far back impossible travel is considered.
	TravelWindow time.Duration
	// DeviceSimilarityFloor is the similarity below which a fingerprint is
	// considered a different device.
	DeviceSimilarityFloor float64
	// UnusualHourDistance is the minimum circular-hour distance from the
	// user's typical login hours before the detector fires.
	UnusualHourDistance int
	// ChatterWindow flags refreshes arriving this soon after any previous
	// authenticated activity.
	ChatterWindow time.Duration
	// CityDriftKm is the same-country distance beyond which a token-use
	// city change fires.
	CityDriftKm float64
	// Weights used for fingerprint component similarity.
	Weights fingerprint.Weights
}

// DefaultConfig returns the thresholds described in the detector list:
// 800 km/h over 24h, 0.9 similarity floor, 2-hour distance, 2-minute
// chatter window, 100 km city drift.
func DefaultConfig() Config {
	return Config{
		MaxTravelSpeedKmh:     800,
		TravelWindow:          24 * time.Hour,
		DeviceSimilarityFloor: 0.9,
		UnusualHourDistance:   2,
		ChatterWindow:         2 * time.Minute,
		CityDriftKm:           100,
		Weights:               fingerprint.DefaultWeights(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxTravelSpeedKmh <= 0 {
		c.MaxTravelSpeedKmh = d.MaxTravelSpeedKmh
	}
	if c.TravelWindow <= 0 {
		c.TravelWindow = d.TravelWindow
	}
	if c.DeviceSimilarityFloor <= 0 {
		c.DeviceSimilarityFloor = d.DeviceSimilarityFloor
	}
	if c.UnusualHourDistance <= 0 {
		c.UnusualHourDistance = d.UnusualHourDistance
	}
	if c.ChatterWindow <= 0 {
		c.ChatterWindow = d.ChatterWindow
	}
	if c.CityDriftKm <= 0 {
		c.CityDriftKm = d.CityDriftKm
	}
	if c.Weights == (fingerprint.Weights{}) {
		c.Weights = d.Weights
	}
	return c
}

// Sample is one historical login observation, most recent first in slices.
type Sample struct {
	At           time.Time
	IP           string
	Geo          GeoPoint
	FPComponents string
}

// LoginEvent is the input to [Detector.AssessLogin]. History excludes the
// current login.
type LoginEvent struct {
	UserID       string
	At           time.Time
	IP           string
	Geo          GeoPoint
	FPComponents string
	History      []Sample
}

// TokenUseEvent is the input to [Detector.AssessTokenUse], assessed at
// refresh time against the session's binding and the user's last activity.
type TokenUseEvent struct {
	UserID              string
	At                  time.Time
	IP                  string
	Geo                 GeoPoint
	LastGeo             GeoPoint
	SessionFPComponents string
	CurrentFPComponents string
	LastActivity        time.Time
}

// Assessment aggregates the fired detections into one additive risk score,
// capped at 100.
type Assessment struct {
	Detections []Detection
	RiskScore  int
}

// Detector holds the configured thresholds. Stateless: all history arrives
// with the event.
type Detector struct {
	config Config
}

// NewDetector applies defaults to the configuration.
func NewDetector(cfg Config) *Detector {
	return &Detector{config: cfg.withDefaults()}
}

// AssessLogin runs the login-behavior detectors.
func (d *Detector) AssessLogin(e LoginEvent) Assessment {
	var out Assessment

	if det, ok := d.impossibleTravel(e); ok {
		out.Detections = append(out.Detections, det)
	}
	if det, ok := d.unusualHour(e); ok {
		out.Detections = append(out.Detections, det)
	}
	if det, ok := d.deviceChange(e); ok {
		out.Detections = append(out.Detections, det)
	}

	out.RiskScore = sumScores(out.Detections)
	return out
}

// AssessTokenUse runs the token-usage detectors.
func (d *Detector) AssessTokenUse(e TokenUseEvent) Assessment {
	var out Assessment

	if !e.Geo.Zero() && !e.LastGeo.Zero() {
		switch {
		case e.Geo.Country != e.LastGeo.Country:
			out.Detections = append(out.Detections, d.detection(e.UserID, EventTokenUse, 55,
				fmt.Sprintf("token used from new country %s (was %s)", e.Geo.Country, e.LastGeo.Country),
				map[string]string{"country": e.Geo.Country, "previous_country": e.LastGeo.Country}))
		case e.Geo.City != e.LastGeo.City && haversineKm(e.Geo, e.LastGeo) > d.config.CityDriftKm:
			out.Detections = append(out.Detections, d.detection(e.UserID, EventTokenUse, 35,
				fmt.Sprintf("token used from %s, %.0f km from previous city %s", e.Geo.City, haversineKm(e.Geo, e.LastGeo), e.LastGeo.City),
				map[string]string{"city": e.Geo.City, "previous_city": e.LastGeo.City}))
		}
	}

	if e.SessionFPComponents != "" && e.CurrentFPComponents != "" {
		sim := fingerprint.Similarity(
			fingerprint.DecodeComponents(e.CurrentFPComponents),
			fingerprint.DecodeComponents(e.SessionFPComponents),
			d.config.Weights,
		)
		if sim < d.config.DeviceSimilarityFloor {
			// 20 at the floor, up to 50 at zero similarity.
			score := clamp(20+int((d.config.DeviceSimilarityFloor-sim)/d.config.DeviceSimilarityFloor*30+0.5), 20, 50)
			out.Detections = append(out.Detections, d.detection(e.UserID, EventTokenUse, score,
				fmt.Sprintf("token used from dissimilar device (similarity %.2f)", sim),
				map[string]string{"similarity": fmt.Sprintf("%.2f", sim)}))
		}
	}

	if !e.LastActivity.IsZero() {
		elapsed := e.At.Sub(e.LastActivity)
		if elapsed >= 0 && elapsed < d.config.ChatterWindow {
			out.Detections = append(out.Detections, d.detection(e.UserID, EventTokenUse, 25,
				fmt.Sprintf("refresh %s after previous activity", elapsed.Round(time.Second)),
				map[string]string{"elapsed_seconds": fmt.Sprintf("%.0f", elapsed.Seconds())}))
		}
	}

	out.RiskScore = sumScores(out.Detections)
	return out
}

func (d *Detector) impossibleTravel(e LoginEvent) (Detection, bool) {
	if e.Geo.Zero() || len(e.History) == 0 {
		return Detection{}, false
	}

	prev := e.History[0]
	if prev.Geo.Zero() {
		return Detection{}, false
	}

	elapsed := e.At.Sub(prev.At)
	if elapsed <= 0 || elapsed > d.config.TravelWindow {
		return Detection{}, false
	}

	distance := haversineKm(e.Geo, prev.Geo)
	hours := elapsed.Hours()
	if hours < 1.0/60 {
		hours = 1.0 / 60 // floor at one minute so a quick re-login cannot divide by near-zero
	}
	speed := distance / hours
	if speed <= d.config.MaxTravelSpeedKmh {
		return Detection{}, false
	}

	// 45 just past the threshold, scaling up to 75 as speed multiplies.
	ratio := speed / d.config.MaxTravelSpeedKmh
	score := clamp(45+int((ratio-1)*15+0.5), 45, 75)

	return d.detection(e.UserID, EventLogin, score,
		fmt.Sprintf("login implies travel at %.0f km/h over %.0f km", speed, distance),
		map[string]string{
			"speed_kmh":   fmt.Sprintf("%.0f", speed),
			"distance_km": fmt.Sprintf("%.0f", distance),
			"previous_ip": prev.IP,
		}), true
}

func (d *Detector) unusualHour(e LoginEvent) (Detection, bool) {
	recent := e.History
	if len(recent) > 5 {
		recent = recent[:5]
	}

	// Typical hours are those seen more than once in the last five logins.
	counts := map[int]int{}
	for _, s := range recent {
		counts[s.At.Hour()]++
	}
	typical := make([]int, 0, len(counts))
	for hour, n := range counts {
		if n > 1 {
			typical = append(typical, hour)
		}
	}
	if len(typical) == 0 {
		return Detection{}, false
	}

	hour := e.At.Hour()
	nearest := 24
	for _, t := range typical {
		if dist := circularHourDistance(hour, t); dist < nearest {
			nearest = dist
		}
	}
	if nearest < d.config.UnusualHourDistance {
		return Detection{}, false
	}

	score := clamp(15+(nearest-d.config.UnusualHourDistance)*5, 15, 35)

	return d.detection(e.UserID, EventLogin, score,
		fmt.Sprintf("login at hour %02d, %d hours from typical pattern", hour, nearest),
		map[string]string{"hour": fmt.Sprintf("%d", hour), "distance": fmt.Sprintf("%d", nearest)}), true
}

func (d *Detector) deviceChange(e LoginEvent) (Detection, bool) {
	if e.FPComponents == "" {
		return Detection{}, false
	}

	current := fingerprint.DecodeComponents(e.FPComponents)
	best := -1.0
	for _, s := range e.History {
		if s.FPComponents == "" {
			continue
		}
		sim := fingerprint.Similarity(current, fingerprint.DecodeComponents(s.FPComponents), d.config.Weights)
		if sim > best {
			best = sim
		}
	}
	if best < 0 || best >= d.config.DeviceSimilarityFloor {
		return Detection{}, false
	}

	// 20 near the floor, 40 for a completely unknown device.
	score := clamp(20+int((d.config.DeviceSimilarityFloor-best)/d.config.DeviceSimilarityFloor*20+0.5), 20, 40)

	return d.detection(e.UserID, EventLogin, score,
		fmt.Sprintf("login from unrecognized device (best similarity %.2f)", best),
		map[string]string{"best_similarity": fmt.Sprintf("%.2f", best)}), true
}

func (d *Detector) detection(userID string, typ EventType, score int, description string, meta map[string]string) Detection {
	return Detection{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        typ,
		Confidence:  score,
		Description: description,
		Metadata:    meta,
		CreatedAt:   time.Now(),
	}
}

func circularHourDistance(a, b int) int {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	if diff > 12 {
		diff = 24 - diff
	}
	return diff
}

func sumScores(ds []Detection) int {
	total := 0
	for _, d := range ds {
		total += d.Confidence
	}
	if total > 100 {
		total = 100
	}
	return total
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
