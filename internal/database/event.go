package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/callprobe/callprobe/internal/database/models"
)

// eventRepo implements DetectionEventRepository.
type eventRepo struct {
	db *DB
}

// NewDetectionEventRepository creates a new DetectionEventRepository.
func NewDetectionEventRepository(db *DB) DetectionEventRepository {
	return &eventRepo{db: db}
}

// Append inserts a new detection event. Events are append-only; there is no
// update or delete path.
func (r *eventRepo) Append(ctx context.Context, event *models.DetectionEvent) error {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO detection_events (call_id, decision, confidence, payload, received_at)
		 VALUES (?, ?, ?, ?, ?)`,
		event.CallID, event.Decision, event.Confidence, event.Payload, event.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting detection event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	event.ID = id
	return nil
}

// ListByCall returns all events for a call ordered by received time descending.
func (r *eventRepo) ListByCall(ctx context.Context, callID string) ([]models.DetectionEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, call_id, decision, confidence, payload, received_at
		 FROM detection_events WHERE call_id = ?
		 ORDER BY received_at DESC, id DESC`, callID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing detection events: %w", err)
	}
	defer rows.Close()

	var events []models.DetectionEvent
	for rows.Next() {
		var e models.DetectionEvent
		if err := rows.Scan(&e.ID, &e.CallID, &e.Decision, &e.Confidence,
			&e.Payload, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scanning detection event row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating detection event rows: %w", err)
	}
	return events, nil
}

// LatestByCall returns the most recent event for a call, or (nil, nil).
func (r *eventRepo) LatestByCall(ctx context.Context, callID string) (*models.DetectionEvent, error) {
	var e models.DetectionEvent
	err := r.db.QueryRowContext(ctx,
		`SELECT id, call_id, decision, confidence, payload, received_at
		 FROM detection_events WHERE call_id = ?
		 ORDER BY received_at DESC, id DESC LIMIT 1`, callID,
	).Scan(&e.ID, &e.CallID, &e.Decision, &e.Confidence, &e.Payload, &e.ReceivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning latest detection event: %w", err)
	}
	return &e, nil
}
