package database

import (
	"context"
	"time"

	"github.com/callprobe/callprobe/internal/database/models"
)

// CallUpdate specifies a partial mutation of a call record. Nil fields are
// left untouched. Callers are expected to go through the state machine, which
// is the only component allowed to decide status and result changes.
type CallUpdate struct {
	ProviderCallID *string
	Status         *models.CallStatus
	Result         *models.DetectionResult
	LatencyMS      *int64
	AnsweredAt     *time.Time
	CompletedAt    *time.Time
}

// Empty reports whether the update would change nothing.
func (u CallUpdate) Empty() bool {
	return u.ProviderCallID == nil && u.Status == nil && u.Result == nil &&
		u.LatencyMS == nil && u.AnsweredAt == nil && u.CompletedAt == nil
}

// CallRepository manages call records.
// Lookups return (nil, nil) when no matching row exists.
type CallRepository interface {
	Create(ctx context.Context, call *models.Call) error
	GetByID(ctx context.Context, id string) (*models.Call, error)
	// GetByProviderCallID returns the most recently created call carrying the
	// given provider call identifier. Provider identifiers are not guaranteed
	// unique across retried attempts, so ties go to the newest record.
	GetByProviderCallID(ctx context.Context, providerCallID string) (*models.Call, error)
	Update(ctx context.Context, id string, upd CallUpdate) error
	// ListRecent returns calls ordered most-recently-created-first.
	ListRecent(ctx context.Context, limit int) ([]models.Call, error)
	// ListStale returns non-terminal calls created before the cutoff.
	ListStale(ctx context.Context, before time.Time) ([]models.Call, error)
	CountByStatus(ctx context.Context) (map[models.CallStatus]int64, error)
	CountByResult(ctx context.Context) (map[models.DetectionResult]int64, error)
}

// DetectionEventRepository manages the append-only detection audit trail.
type DetectionEventRepository interface {
	Append(ctx context.Context, event *models.DetectionEvent) error
	// ListByCall returns all events for a call ordered by received time
	// descending (not insertion order; out-of-order delivery is expected).
	ListByCall(ctx context.Context, callID string) ([]models.DetectionEvent, error)
	// LatestByCall returns the most recent event for a call, or (nil, nil).
	LatestByCall(ctx context.Context, callID string) (*models.DetectionEvent, error)
}
