package fingerprint

import (
	"regexp"
	"strings"
)

// Attributes are the raw request characteristics fed into the engine. The
// client-hint fields are optional; absence is tolerated.
type Attributes struct {
	IP                 string
	UserAgent          string
	AcceptLanguage     string
	AcceptEncoding     string
	ClientHintPlatform string
	ClientHintMobile   string
	ClientHintVendor   string
}

// Components is the normalized component vector a fingerprint is derived
// from. Order and field set are part of the derivation and must not change
// without a version bump in the stored format.
type Components struct {
	IP             string
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
	HintPlatform   string
	HintMobile     string
	HintVendor     string
}

const componentSeparator = "\x1f"

// versionRe matches dotted version numbers; the major component is kept and
// the remainder wildcarded so routine browser updates do not churn the
// fingerprint.
var versionRe = regexp.MustCompile(`(\d+)(?:\.\d+)+`)

// NormalizeUserAgent collapses minor and patch version numbers to a
// wildcard token: "Chrome/120.0.6099.71" becomes "Chrome/120.x".
func NormalizeUserAgent(ua string) string {
	return versionRe.ReplaceAllString(strings.TrimSpace(ua), "$1.x")
}

func normalize(a Attributes) Components {
	return Components{
		IP:             strings.TrimSpace(a.IP),
		UserAgent:      NormalizeUserAgent(a.UserAgent),
		AcceptLanguage: strings.ToLower(strings.TrimSpace(a.AcceptLanguage)),
		AcceptEncoding: strings.ToLower(strings.TrimSpace(a.AcceptEncoding)),
		HintPlatform:   strings.Trim(strings.TrimSpace(a.ClientHintPlatform), `"`),
		HintMobile:     strings.TrimSpace(a.ClientHintMobile),
		HintVendor:     strings.Trim(strings.TrimSpace(a.ClientHintVendor), `"`),
	}
}

// Encode flattens the vector into a single separator-joined string for
// storage alongside the session.
func (c Components) Encode() string {
	return strings.Join([]string{
		c.IP, c.UserAgent, c.AcceptLanguage, c.AcceptEncoding,
		c.HintPlatform, c.HintMobile, c.HintVendor,
	}, componentSeparator)
}

// DecodeComponents reverses [Components.Encode]. Unknown trailing fields are
// ignored; missing fields decode as empty.
func DecodeComponents(encoded string) Components {
	parts := strings.Split(encoded, componentSeparator)
	get := func(i int) string {
		if i < len(parts) {
			return parts[i]
		}
		return ""
	}
	return Components{
		IP:             get(0),
		UserAgent:      get(1),
		AcceptLanguage: get(2),
		AcceptEncoding: get(3),
		HintPlatform:   get(4),
		HintMobile:     get(5),
		HintVendor:     get(6),
	}
}

// Weights assigns the per-component contribution to similarity. They should
// sum to 1.0; Normalize rescales when they do not.
type Weights struct {
	IP             float64
	UserAgent      float64
	AcceptLanguage float64
	AcceptEncoding float64
	HintPlatform   float64
	HintMobile     float64
	HintVendor     float64
}

// DefaultWeights weight the stable network and browser identity highest and
// the optional client hints lightly.
func DefaultWeights() Weights {
	return Weights{
		IP:             0.30,
		UserAgent:      0.30,
		AcceptLanguage: 0.15,
		AcceptEncoding: 0.10,
		HintPlatform:   0.06,
		HintMobile:     0.04,
		HintVendor:     0.05,
	}
}

func (w Weights) total() float64 {
	return w.IP + w.UserAgent + w.AcceptLanguage + w.AcceptEncoding +
		w.HintPlatform + w.HintMobile + w.HintVendor
}

// Similarity computes the weighted per-field match score between two
// component vectors, in [0, 1]. A component absent on both sides counts as a
// match; absent on one side only, as a mismatch of that component's weight.
// Digest bytes are never compared.
func Similarity(a, b Components, w Weights) float64 {
	total := w.total()
	if total <= 0 {
		return 0
	}

	score := 0.0
	for _, f := range []struct {
		av, bv string
		weight float64
	}{
		{a.IP, b.IP, w.IP},
		{a.UserAgent, b.UserAgent, w.UserAgent},
		{a.AcceptLanguage, b.AcceptLanguage, w.AcceptLanguage},
		{a.AcceptEncoding, b.AcceptEncoding, w.AcceptEncoding},
		{a.HintPlatform, b.HintPlatform, w.HintPlatform},
		{a.HintMobile, b.HintMobile, w.HintMobile},
		{a.HintVendor, b.HintVendor, w.HintVendor},
	} {
		if f.av == f.bv {
			score += f.weight
		}
	}

	return score / total
}
