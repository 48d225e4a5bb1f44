package database

import (
	"context"
	"testing"
	"time"

	"github.com/callprobe/callprobe/internal/database/models"
)

func TestDetectionEventAppendAndList(t *testing.T) {
	db := newTestDB(t)
	calls := NewCallRepository(db)
	events := NewDetectionEventRepository(db)
	ctx := context.Background()

	if err := calls.Create(ctx, mkCall("call-ev")); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	conf := 0.91
	base := time.Now().UTC()
	// Inserted out of received order on purpose.
	first := &models.DetectionEvent{CallID: "call-ev", Decision: "machine", Confidence: &conf, Payload: `{"n":2}`, ReceivedAt: base.Add(time.Second)}
	second := &models.DetectionEvent{CallID: "call-ev", Payload: `{"n":1}`, ReceivedAt: base}
	for _, e := range []*models.DetectionEvent{first, second} {
		if err := events.Append(ctx, e); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
		if e.ID == 0 {
			t.Error("Append() did not assign an id")
		}
	}

	got, err := events.ListByCall(ctx, "call-ev")
	if err != nil {
		t.Fatalf("ListByCall() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListByCall() returned %d events, want 2", len(got))
	}
	// Most recent received first, regardless of insertion order.
	if got[0].Payload != `{"n":2}` || got[1].Payload != `{"n":1}` {
		t.Errorf("ListByCall() order = [%s %s], want newest first", got[0].Payload, got[1].Payload)
	}
	if got[0].Confidence == nil || *got[0].Confidence != conf {
		t.Errorf("confidence = %v, want %v", got[0].Confidence, conf)
	}

	latest, err := events.LatestByCall(ctx, "call-ev")
	if err != nil {
		t.Fatalf("LatestByCall() error: %v", err)
	}
	if latest == nil || latest.Payload != `{"n":2}` {
		t.Errorf("LatestByCall() = %+v, want newest event", latest)
	}

	none, err := events.LatestByCall(ctx, "no-such-call")
	if err != nil {
		t.Fatalf("LatestByCall(missing) error: %v", err)
	}
	if none != nil {
		t.Errorf("LatestByCall(missing) = %+v, want nil", none)
	}
}

func TestDetectionEventAppendFillsReceivedAt(t *testing.T) {
	db := newTestDB(t)
	calls := NewCallRepository(db)
	events := NewDetectionEventRepository(db)
	ctx := context.Background()

	if err := calls.Create(ctx, mkCall("call-ts")); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	e := &models.DetectionEvent{CallID: "call-ts", Decision: "human"}
	if err := events.Append(ctx, e); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if e.ReceivedAt.IsZero() {
		t.Error("Append() left ReceivedAt unset")
	}
}
