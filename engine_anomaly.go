package medauth

import (
	"context"
	"strconv"
	"time"

	"github.com/avenlock/medauth/anomaly"
	"github.com/avenlock/medauth/internal/stores"
	"github.com/avenlock/medauth/session"
	"github.com/avenlock/medauth/token"
)

// Behavioral assessment is advisory and runs entirely off the request path.
// Jobs are submitted fire-and-forget: a slow GeoIP lookup or a panicking
// detector can never delay or fail a login.

func (e *Engine) submitLoginAssessment(user UserRecord, req RequestContext, fpComponents string, at time.Time) {
	if e.detector == nil || e.worker == nil {
		return
	}

	e.worker.Submit(func(ctx context.Context) {
		geo := e.resolveGeo(ctx, req.IP)

		recent, err := e.history.RecentLogins(ctx, user.UserID, 10)
		if err != nil {
			recent = nil
		}

		assessment := e.detector.AssessLogin(anomaly.LoginEvent{
			UserID:       user.UserID,
			At:           at,
			IP:           req.IP,
			Geo:          geo,
			FPComponents: fpComponents,
			History:      toSamples(recent),
		})
		e.persistDetections(ctx, assessment, req)

		if assessment.RiskScore > e.config.Anomaly.LoginAlertThreshold && e.mailer != nil && user.Email != "" {
			descs := make([]string, 0, len(assessment.Detections))
			for _, d := range assessment.Detections {
				descs = append(descs, d.Description)
			}
			if err := e.mailer.SendSecurityAlert(ctx, user.UserID, user.Email, assessment.RiskScore, descs); err == nil {
				e.metricInc(MetricAnomalyAlertSent)
				e.emitAudit(ctx, auditEventAnomalyAlertSent, SeverityHigh, true, user.UserID, "", req, nil, func() map[string]string {
					return map[string]string{"risk_score": strconv.Itoa(assessment.RiskScore)}
				})
			}
		}

		// Recorded after assessment so the current login never matches
		// itself in the history.
		_ = e.history.RecordLogin(ctx, user.UserID, stores.LoginSample{
			At:           at.Unix(),
			IP:           req.IP,
			Country:      geo.Country,
			City:         geo.City,
			Lat:          geo.Lat,
			Lon:          geo.Lon,
			FPComponents: fpComponents,
		})
		_ = e.history.TouchActivity(ctx, user.UserID, at)
	})
}

func (e *Engine) submitTokenUseAssessment(sess session.Session, req RequestContext, currentFPComponents string, at time.Time, lastActivity time.Time) {
	if e.detector == nil || e.worker == nil {
		return
	}

	e.worker.Submit(func(ctx context.Context) {
		geo := e.resolveGeo(ctx, req.IP)

		var lastGeo anomaly.GeoPoint
		if recent, err := e.history.RecentLogins(ctx, sess.UserID, 1); err == nil && len(recent) > 0 {
			lastGeo = anomaly.GeoPoint{
				Country: recent[0].Country,
				City:    recent[0].City,
				Lat:     recent[0].Lat,
				Lon:     recent[0].Lon,
			}
		}

		assessment := e.detector.AssessTokenUse(anomaly.TokenUseEvent{
			UserID:              sess.UserID,
			At:                  at,
			IP:                  req.IP,
			Geo:                 geo,
			LastGeo:             lastGeo,
			SessionFPComponents: sess.FPComponents,
			CurrentFPComponents: currentFPComponents,
			LastActivity:        lastActivity,
		})
		e.persistDetections(ctx, assessment, req)

		if assessment.RiskScore > e.config.Anomaly.TokenKillThreshold {
			if current, err := e.sessions.Get(ctx, sess.ID); err == nil && current.Valid {
				if killed, err := e.sessions.Invalidate(ctx, current, token.ReasonSecurityViolation); err == nil && killed {
					e.metricInc(MetricAnomalySessionKilled)
					e.metricInc(MetricSessionInvalidated)
					e.emitAudit(ctx, auditEventAnomalySessionKill, SeverityCritical, true, sess.UserID, sess.ID, req, nil, func() map[string]string {
						return map[string]string{"risk_score": strconv.Itoa(assessment.RiskScore)}
					})
				}
			}
		}

		_ = e.history.TouchActivity(ctx, sess.UserID, at)
	})
}

func (e *Engine) persistDetections(ctx context.Context, assessment anomaly.Assessment, req RequestContext) {
	for i := range assessment.Detections {
		d := assessment.Detections[i]
		e.metricInc(MetricAnomalyDetected)
		if e.anomalyStore != nil {
			_ = e.anomalyStore.SaveDetection(ctx, &d)
		}
		e.emitAudit(ctx, auditEventAnomalyDetected, SeverityWarning, true, d.UserID, "", req, nil, func() map[string]string {
			return map[string]string{
				"type":        string(d.Type),
				"confidence":  strconv.Itoa(d.Confidence),
				"description": d.Description,
			}
		})
	}
}

func (e *Engine) resolveGeo(ctx context.Context, ip string) anomaly.GeoPoint {
	if e.geoResolver == nil || ip == "" {
		return anomaly.GeoPoint{}
	}
	geo, err := e.geoResolver.Lookup(ctx, ip)
	if err != nil {
		return anomaly.GeoPoint{}
	}
	return geo
}

func toSamples(recent []stores.LoginSample) []anomaly.Sample {
	if len(recent) == 0 {
		return nil
	}
	out := make([]anomaly.Sample, 0, len(recent))
	for _, s := range recent {
		out = append(out, anomaly.Sample{
			At: time.Unix(s.At, 0),
			IP: s.IP,
			Geo: anomaly.GeoPoint{
				Country: s.Country,
				City:    s.City,
				Lat:     s.Lat,
				Lon:     s.Lon,
			},
			FPComponents: s.FPComponents,
		})
	}
	return out
}
