package fingerprint

import (
	"context"
	"sync"
	"testing"
	"time"
)

var testSecret = []byte("fingerprint-test-secret-0123456789")

type memoryMarker struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemoryMarker() *memoryMarker {
	return &memoryMarker{seen: make(map[string]bool)}
}

func (m *memoryMarker) Seen(ctx context.Context, key string, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	was := m.seen[key]
	m.seen[key] = true
	return was, nil
}

func newTestEngine(t *testing.T, markers ReplayMarker) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Secret = testSecret
	e, err := New(cfg, markers)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

func chromeAttributes() Attributes {
	return Attributes{
		IP:                 "203.0.113.10",
		UserAgent:          "Mozilla/5.0 (Windows NT 10.0) Chrome/120.0.6099.71 Safari/537.36",
		AcceptLanguage:     "de-DE,de;q=0.9",
		AcceptEncoding:     "gzip, deflate, br",
		ClientHintPlatform: `"Windows"`,
		ClientHintMobile:   "?0",
		ClientHintVendor:   `"Google Chrome"`,
	}
}

func TestGenerateDeterministic(t *testing.T) {
	e := newTestEngine(t, nil)

	a := e.Generate(chromeAttributes())
	b := e.Generate(chromeAttributes())

	if a.Value != b.Value {
		t.Fatal("expected identical HMAC values for identical attributes")
	}
	if a.PublicHash != b.PublicHash {
		t.Fatal("expected identical public hashes for identical attributes")
	}
	if a.Value == a.PublicHash {
		t.Fatal("HMAC value and public hash must differ")
	}
	if a.Value == "" || len(a.Value) != 64 {
		t.Fatalf("expected 64 hex characters of HMAC, got %q", a.Value)
	}
}

func TestGenerateSecretChangesValueNotPublicHash(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Secret = testSecret
	e1, _ := New(cfg, nil)

	cfg2 := DefaultConfig()
	cfg2.Secret = []byte("another-fingerprint-secret-0123456")
	e2, _ := New(cfg2, nil)

	a := e1.Generate(chromeAttributes())
	b := e2.Generate(chromeAttributes())

	if a.Value == b.Value {
		t.Fatal("expected different HMAC values under different secrets")
	}
	if a.PublicHash != b.PublicHash {
		t.Fatal("public hash is secret-independent and must match")
	}
}

func TestNormalizeUserAgent(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Chrome/120.0.6099.71", "Chrome/120.x"},
		{"Mozilla/5.0 Chrome/120.0.6099.71 Safari/537.36", "Mozilla/5.x Chrome/120.x Safari/537.x"},
		{"curl/8.4.0", "curl/8.x"},
		{"NoVersionHere", "NoVersionHere"},
		{"  padded/1.2  ", "padded/1.x"},
	}
	for _, tc := range cases {
		if got := NormalizeUserAgent(tc.in); got != tc.want {
			t.Errorf("NormalizeUserAgent(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBrowserPatchUpdateKeepsFingerprint(t *testing.T) {
	e := newTestEngine(t, nil)

	before := chromeAttributes()
	after := chromeAttributes()
	after.UserAgent = "Mozilla/5.0 (Windows NT 10.0) Chrome/120.0.6099.130 Safari/537.36"

	if e.Generate(before).Value != e.Generate(after).Value {
		t.Fatal("a patch-level browser update must not change the fingerprint")
	}
}

func TestSimilarityIPChangeOnly(t *testing.T) {
	a := normalize(chromeAttributes())
	b := a
	b.IP = "198.51.100.7"

	got := Similarity(a, b, DefaultWeights())
	want := 0.70 // all but the 0.30 IP weight matches
	if got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("expected similarity %.2f, got %.4f", want, got)
	}
}

func TestSimilarityEmptyOnBothSidesMatches(t *testing.T) {
	a := normalize(chromeAttributes())
	a.HintVendor = ""
	b := a

	if got := Similarity(a, b, DefaultWeights()); got != 1.0 {
		t.Fatalf("expected 1.0 for identical vectors with shared absence, got %.4f", got)
	}

	b.HintVendor = "Google Chrome"
	got := Similarity(a, b, DefaultWeights())
	if got >= 1.0 {
		t.Fatalf("one-sided absence must count as mismatch, got %.4f", got)
	}
}

func TestEncodeDecodeComponents(t *testing.T) {
	c := normalize(chromeAttributes())
	decoded := DecodeComponents(c.Encode())
	if decoded != c {
		t.Fatalf("decode mismatch: %+v != %+v", decoded, c)
	}

	// Truncated storage decodes with empty trailing fields.
	partial := DecodeComponents("1.2.3.4\x1fChrome/120.x")
	if partial.IP != "1.2.3.4" || partial.UserAgent != "Chrome/120.x" || partial.HintVendor != "" {
		t.Fatalf("unexpected partial decode: %+v", partial)
	}
}

func TestValidateExactClientMatch(t *testing.T) {
	e := newTestEngine(t, nil)
	attrs := chromeAttributes()
	fp := e.Generate(attrs)

	v, err := e.Validate(context.Background(), attrs, fp.Value, "", "", Options{})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !v.Valid || v.Reason != ReasonExactMatch || v.Similarity != 1.0 {
		t.Fatalf("expected exact match, got %+v", v)
	}
}

func TestValidatePublicHashEchoFailsClosed(t *testing.T) {
	e := newTestEngine(t, nil)
	attrs := chromeAttributes()
	fp := e.Generate(attrs)

	v, err := e.Validate(context.Background(), attrs, fp.PublicHash, fp.Value, fp.Components.Encode(), Options{})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if v.Valid {
		t.Fatal("a client echoing the public hash must fail")
	}
	if v.Reason != ReasonPublicHash || !v.Suspicious {
		t.Fatalf("expected suspicious public-hash rejection, got %+v", v)
	}
}

func TestValidateSimilarityAboveThreshold(t *testing.T) {
	e := newTestEngine(t, nil)

	stored := e.Generate(chromeAttributes())

	// Encoding header drift alone: 0.90 similarity, above the 0.7 default.
	drifted := chromeAttributes()
	drifted.AcceptEncoding = "gzip, br"

	v, err := e.Validate(context.Background(), drifted, "", stored.Value, stored.Components.Encode(), Options{})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !v.Valid || v.Reason != ReasonSimilarityMatch {
		t.Fatalf("expected similarity match, got %+v", v)
	}
	if v.Similarity <= 0.7 || v.Similarity >= 1.0 {
		t.Fatalf("unexpected similarity %.4f", v.Similarity)
	}

	// The same drift fails under the strict threshold.
	v, err = e.Validate(context.Background(), drifted, "", stored.Value, stored.Components.Encode(), Options{Strict: true})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if v.Valid {
		t.Fatalf("expected strict rejection at %.4f, got %+v", v.Similarity, v)
	}
}

func TestValidateMismatchBelowThreshold(t *testing.T) {
	e := newTestEngine(t, nil)
	stored := e.Generate(chromeAttributes())

	foreign := Attributes{
		IP:             "198.51.100.44",
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) Firefox/121.0",
		AcceptLanguage: "en-US,en;q=0.5",
		AcceptEncoding: "gzip",
	}

	v, err := e.Validate(context.Background(), foreign, "", stored.Value, stored.Components.Encode(), Options{})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if v.Valid || v.Reason != ReasonMismatch {
		t.Fatalf("expected mismatch, got %+v", v)
	}
}

func TestValidateReplayWindow(t *testing.T) {
	markers := newMemoryMarker()
	e := newTestEngine(t, markers)
	attrs := chromeAttributes()
	fp := e.Generate(attrs)

	opts := Options{EnforceReplay: true}

	v, err := e.Validate(context.Background(), attrs, fp.Value, fp.Value, fp.Components.Encode(), opts)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !v.Valid {
		t.Fatalf("first validation must pass, got %+v", v)
	}

	v, err = e.Validate(context.Background(), attrs, fp.Value, fp.Value, fp.Components.Encode(), opts)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if v.Valid || v.Reason != ReasonReplay || !v.Suspicious {
		t.Fatalf("expected replay rejection, got %+v", v)
	}
}

func TestValidateReplaySkippedWithoutClientValue(t *testing.T) {
	markers := newMemoryMarker()
	e := newTestEngine(t, markers)
	attrs := chromeAttributes()
	stored := e.Generate(attrs)

	opts := Options{EnforceReplay: true}
	for i := 0; i < 3; i++ {
		v, err := e.Validate(context.Background(), attrs, "", stored.Value, stored.Components.Encode(), opts)
		if err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		if !v.Valid {
			t.Fatalf("validation %d without a client value must pass, got %+v", i, v)
		}
	}
	if len(markers.seen) != 0 {
		t.Fatal("no replay markers should be recorded without a client value")
	}
}

func TestValidateSessionHijackEscalation(t *testing.T) {
	e := newTestEngine(t, nil)
	stored := e.Generate(chromeAttributes())

	// New network, dissimilar vector, but the stolen HMAC value is replayed
	// verbatim. The stored-value equality path alone would accept it.
	theft := Attributes{
		IP:             "198.51.100.99",
		UserAgent:      "python-requests/2.31.0",
		AcceptEncoding: "gzip",
	}

	v, err := e.ValidateSession(context.Background(), theft, stored.Value, stored.Value, stored.Components.Encode(), Options{})
	if err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}
	if v.Valid {
		t.Fatalf("expected hijack rejection, got %+v", v)
	}
	if v.Classification != ClassificationHijack || !v.Suspicious {
		t.Fatalf("expected hijack classification, got %+v", v)
	}
}

func TestValidateSessionSameIPNoEscalation(t *testing.T) {
	e := newTestEngine(t, nil)
	attrs := chromeAttributes()
	stored := e.Generate(attrs)

	v, err := e.ValidateSession(context.Background(), attrs, "", stored.Value, stored.Components.Encode(), Options{})
	if err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}
	if !v.Valid || v.Classification != "" {
		t.Fatalf("expected clean pass, got %+v", v)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"short secret", func(c *Config) { c.Secret = []byte("short") }},
		{"zero threshold", func(c *Config) { c.Threshold = 0 }},
		{"strict below threshold", func(c *Config) { c.StrictThreshold = 0.5 }},
		{"zero weights", func(c *Config) { c.Weights = Weights{} }},
		{"negative replay window", func(c *Config) { c.ReplayWindow = -time.Second }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		cfg.Secret = testSecret
		tc.mutate(&cfg)
		if _, err := New(cfg, nil); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}
