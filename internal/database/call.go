package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/callprobe/callprobe/internal/database/models"
)

// callRepo implements CallRepository.
type callRepo struct {
	db *DB
}

// NewCallRepository creates a new CallRepository.
func NewCallRepository(db *DB) CallRepository {
	return &callRepo{db: db}
}

const callColumns = `id, provider_call_id, to_number, from_number, strategy,
	 status, result, latency_ms, created_at, answered_at, completed_at`

// Create inserts a new call record. CreatedAt is filled in if unset.
func (r *callRepo) Create(ctx context.Context, call *models.Call) error {
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO calls (`+callColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.ID, call.ProviderCallID, call.ToNumber, call.FromNumber,
		call.Strategy, call.Status, call.Result, call.LatencyMS,
		call.CreatedAt, call.AnsweredAt, call.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting call: %w", err)
	}
	return nil
}

// GetByID returns a call by its local identifier, or (nil, nil) if not found.
func (r *callRepo) GetByID(ctx context.Context, id string) (*models.Call, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE id = ?`, id,
	))
}

// GetByProviderCallID returns the most recently created call with the given
// provider call identifier, or (nil, nil) if none exists.
func (r *callRepo) GetByProviderCallID(ctx context.Context, providerCallID string) (*models.Call, error) {
	if providerCallID == "" {
		return nil, nil
	}
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE provider_call_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`, providerCallID,
	))
}

// Update applies a partial mutation to a call record.
func (r *callRepo) Update(ctx context.Context, id string, upd CallUpdate) error {
	if upd.Empty() {
		return nil
	}

	set := ""
	args := []any{}
	add := func(col string, val any) {
		if set != "" {
			set += ", "
		}
		set += col + " = ?"
		args = append(args, val)
	}

	if upd.ProviderCallID != nil {
		add("provider_call_id", *upd.ProviderCallID)
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.Result != nil {
		add("result", *upd.Result)
	}
	if upd.LatencyMS != nil {
		add("latency_ms", *upd.LatencyMS)
	}
	if upd.AnsweredAt != nil {
		add("answered_at", *upd.AnsweredAt)
	}
	if upd.CompletedAt != nil {
		add("completed_at", *upd.CompletedAt)
	}

	args = append(args, id)
	res, err := r.db.ExecContext(ctx, "UPDATE calls SET "+set+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("updating call: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("updating call %s: no such call", id)
	}
	return nil
}

// ListRecent returns the most recently created calls up to the given limit.
func (r *callRepo) ListRecent(ctx context.Context, limit int) ([]models.Call, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+callColumns+` FROM calls
		 ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing recent calls: %w", err)
	}
	return r.scanRows(rows)
}

// ListStale returns non-terminal calls created before the cutoff, oldest first.
func (r *callRepo) ListStale(ctx context.Context, before time.Time) ([]models.Call, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+callColumns+` FROM calls
		 WHERE status IN (?, ?, ?) AND created_at < ?
		 ORDER BY created_at ASC`,
		models.StatusInitiated, models.StatusRinging, models.StatusInProgress, before,
	)
	if err != nil {
		return nil, fmt.Errorf("listing stale calls: %w", err)
	}
	return r.scanRows(rows)
}

// CountByStatus returns call counts grouped by lifecycle status.
func (r *callRepo) CountByStatus(ctx context.Context) (map[models.CallStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM calls GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting calls by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.CallStatus]int64)
	for rows.Next() {
		var status models.CallStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating status counts: %w", err)
	}
	return counts, nil
}

// CountByResult returns call counts grouped by detection result. Calls with
// no result yet are excluded.
func (r *callRepo) CountByResult(ctx context.Context) (map[models.DetectionResult]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT result, COUNT(*) FROM calls WHERE result != '' GROUP BY result`)
	if err != nil {
		return nil, fmt.Errorf("counting calls by result: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.DetectionResult]int64)
	for rows.Next() {
		var result models.DetectionResult
		var count int64
		if err := rows.Scan(&result, &count); err != nil {
			return nil, fmt.Errorf("scanning result count: %w", err)
		}
		counts[result] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result counts: %w", err)
	}
	return counts, nil
}

// scanOne scans a single call row, returning (nil, nil) when no row matched.
func (r *callRepo) scanOne(row *sql.Row) (*models.Call, error) {
	var c models.Call
	err := row.Scan(&c.ID, &c.ProviderCallID, &c.ToNumber, &c.FromNumber,
		&c.Strategy, &c.Status, &c.Result, &c.LatencyMS,
		&c.CreatedAt, &c.AnsweredAt, &c.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call row: %w", err)
	}
	return &c, nil
}

func (r *callRepo) scanRows(rows *sql.Rows) ([]models.Call, error) {
	defer rows.Close()

	var calls []models.Call
	for rows.Next() {
		var c models.Call
		if err := rows.Scan(&c.ID, &c.ProviderCallID, &c.ToNumber, &c.FromNumber,
			&c.Strategy, &c.Status, &c.Result, &c.LatencyMS,
			&c.CreatedAt, &c.AnsweredAt, &c.CompletedAt); err != nil {
			return nil, fmt.Errorf("scanning call row: %w", err)
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call rows: %w", err)
	}
	return calls, nil
}
