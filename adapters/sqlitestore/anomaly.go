package sqlitestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avenlock/medauth/anomaly"
)

// SaveDetection persists one anomaly record. Implements [anomaly.Store].
func (s *Store) SaveDetection(ctx context.Context, d *anomaly.Detection) error {
	metadata := "{}"
	if len(d.Metadata) > 0 {
		raw, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("marshal detection metadata: %w", err)
		}
		metadata = string(raw)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO anomaly_detections (id, user_id, type, confidence, description, metadata, resolved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.UserID, string(d.Type), d.Confidence, d.Description, metadata,
		boolToInt(d.Resolved), d.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert detection: %w", err)
	}
	return nil
}

// DetectionsForUser returns the newest detections, most recent first.
func (s *Store) DetectionsForUser(ctx context.Context, userID string, limit int) ([]anomaly.Detection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, confidence, description, metadata, resolved, created_at
		FROM anomaly_detections WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()

	var out []anomaly.Detection
	for rows.Next() {
		var (
			d         anomaly.Detection
			typ       string
			metadata  string
			resolved  int
			createdAt int64
		)
		if err := rows.Scan(&d.ID, &d.UserID, &typ, &d.Confidence, &d.Description, &metadata, &resolved, &createdAt); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		d.Type = anomaly.EventType(typ)
		d.Resolved = resolved != 0
		d.CreatedAt = time.Unix(createdAt, 0)
		if metadata != "" && metadata != "{}" {
			_ = json.Unmarshal([]byte(metadata), &d.Metadata)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ResolveDetection marks a detection as reviewed.
func (s *Store) ResolveDetection(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE anomaly_detections SET resolved = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("resolve detection: %w", err)
	}
	return nil
}
