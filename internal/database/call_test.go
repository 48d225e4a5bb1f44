package database

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/callprobe/callprobe/internal/database/models"
)

func mkCall(id string) *models.Call {
	return &models.Call{
		ID:         id,
		ToNumber:   "+15551234567",
		FromNumber: "+15557654321",
		Strategy:   models.StrategyNative,
		Status:     models.StatusInitiated,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestCallRepositoryCreateAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewCallRepository(db)
	ctx := context.Background()

	call := mkCall("call-1")
	if err := repo.Create(ctx, call); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := repo.GetByID(ctx, "call-1")
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got == nil {
		t.Fatal("GetByID() returned nil for existing call")
	}
	if got.ToNumber != call.ToNumber || got.Status != models.StatusInitiated {
		t.Errorf("GetByID() = %+v, want to=%s status=INITIATED", got, call.ToNumber)
	}
	if got.Result != "" {
		t.Errorf("new call result = %q, want empty", got.Result)
	}
	if got.AnsweredAt != nil || got.CompletedAt != nil {
		t.Error("new call has timestamps that should be unset")
	}

	missing, err := repo.GetByID(ctx, "nope")
	if err != nil {
		t.Fatalf("GetByID(missing) error: %v", err)
	}
	if missing != nil {
		t.Errorf("GetByID(missing) = %+v, want nil", missing)
	}
}

func TestCallRepositoryGetByProviderCallID(t *testing.T) {
	db := newTestDB(t)
	repo := NewCallRepository(db)
	ctx := context.Background()

	// Empty provider id never matches, even though unset columns store "".
	got, err := repo.GetByProviderCallID(ctx, "")
	if err != nil {
		t.Fatalf("GetByProviderCallID(\"\") error: %v", err)
	}
	if got != nil {
		t.Errorf("GetByProviderCallID(\"\") = %+v, want nil", got)
	}

	// Two records share a provider id; the newest wins.
	older := mkCall("call-old")
	older.ProviderCallID = "CA123"
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := mkCall("call-new")
	newer.ProviderCallID = "CA123"
	for _, c := range []*models.Call{older, newer} {
		if err := repo.Create(ctx, c); err != nil {
			t.Fatalf("Create(%s) error: %v", c.ID, err)
		}
	}

	got, err = repo.GetByProviderCallID(ctx, "CA123")
	if err != nil {
		t.Fatalf("GetByProviderCallID() error: %v", err)
	}
	if got == nil || got.ID != "call-new" {
		t.Errorf("GetByProviderCallID() = %+v, want call-new", got)
	}
}

func TestCallRepositoryUpdate(t *testing.T) {
	db := newTestDB(t)
	repo := NewCallRepository(db)
	ctx := context.Background()

	call := mkCall("call-upd")
	if err := repo.Create(ctx, call); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	st := models.StatusInProgress
	answered := time.Now().UTC()
	if err := repo.Update(ctx, "call-upd", CallUpdate{Status: &st, AnsweredAt: &answered}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	got, err := repo.GetByID(ctx, "call-upd")
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.Status != models.StatusInProgress {
		t.Errorf("status = %s, want IN_PROGRESS", got.Status)
	}
	if got.AnsweredAt == nil {
		t.Error("answered_at not persisted")
	}
	// Untouched fields survive a partial update.
	if got.ToNumber != call.ToNumber {
		t.Errorf("to_number = %q changed by partial update", got.ToNumber)
	}

	// Empty update is a no-op, not an error.
	if err := repo.Update(ctx, "call-upd", CallUpdate{}); err != nil {
		t.Errorf("empty Update() error: %v", err)
	}

	// Updating a missing call reports it.
	res := models.ResultHuman
	err = repo.Update(ctx, "nope", CallUpdate{Result: &res})
	if err == nil || !strings.Contains(err.Error(), "no such call") {
		t.Errorf("Update(missing) error = %v, want no such call", err)
	}
}

func TestCallRepositoryListRecent(t *testing.T) {
	db := newTestDB(t)
	repo := NewCallRepository(db)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		c := mkCall(id)
		c.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, c); err != nil {
			t.Fatalf("Create(%s) error: %v", id, err)
		}
	}

	calls, err := repo.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent() error: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("ListRecent() returned %d calls, want 2", len(calls))
	}
	if calls[0].ID != "c" || calls[1].ID != "b" {
		t.Errorf("ListRecent() order = [%s %s], want [c b]", calls[0].ID, calls[1].ID)
	}
}

func TestCallRepositoryListStale(t *testing.T) {
	db := newTestDB(t)
	repo := NewCallRepository(db)
	ctx := context.Background()

	cutoff := time.Now().UTC().Add(-10 * time.Minute)

	oldStuck := mkCall("old-stuck")
	oldStuck.Status = models.StatusRinging
	oldStuck.CreatedAt = cutoff.Add(-time.Hour)

	oldDone := mkCall("old-done")
	oldDone.Status = models.StatusCompleted
	oldDone.CreatedAt = cutoff.Add(-time.Hour)

	fresh := mkCall("fresh")
	fresh.Status = models.StatusInProgress

	for _, c := range []*models.Call{oldStuck, oldDone, fresh} {
		if err := repo.Create(ctx, c); err != nil {
			t.Fatalf("Create(%s) error: %v", c.ID, err)
		}
	}

	stale, err := repo.ListStale(ctx, cutoff)
	if err != nil {
		t.Fatalf("ListStale() error: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "old-stuck" {
		t.Errorf("ListStale() = %+v, want only old-stuck", stale)
	}
}

func TestCallRepositoryCounts(t *testing.T) {
	db := newTestDB(t)
	repo := NewCallRepository(db)
	ctx := context.Background()

	specs := []struct {
		id     string
		status models.CallStatus
		result models.DetectionResult
	}{
		{"c1", models.StatusCompleted, models.ResultHuman},
		{"c2", models.StatusCompleted, models.ResultMachine},
		{"c3", models.StatusCompleted, models.ResultMachine},
		{"c4", models.StatusFailed, ""},
		{"c5", models.StatusRinging, ""},
	}
	for _, s := range specs {
		c := mkCall(s.id)
		c.Status = s.status
		c.Result = s.result
		if err := repo.Create(ctx, c); err != nil {
			t.Fatalf("Create(%s) error: %v", s.id, err)
		}
	}

	byStatus, err := repo.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus() error: %v", err)
	}
	if byStatus[models.StatusCompleted] != 3 || byStatus[models.StatusFailed] != 1 || byStatus[models.StatusRinging] != 1 {
		t.Errorf("CountByStatus() = %v", byStatus)
	}

	byResult, err := repo.CountByResult(ctx)
	if err != nil {
		t.Fatalf("CountByResult() error: %v", err)
	}
	if byResult[models.ResultHuman] != 1 || byResult[models.ResultMachine] != 2 {
		t.Errorf("CountByResult() = %v", byResult)
	}
	if _, ok := byResult[""]; ok {
		t.Error("CountByResult() included calls without a result")
	}
}
