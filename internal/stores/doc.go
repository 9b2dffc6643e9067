// Package stores holds the small Redis-backed coordination stores the
// engine composes: check-and-set markers for rotation and fingerprint
// replay, the MFA step-up challenge store, and the recent-login history the
// anomaly detectors read.
package stores
