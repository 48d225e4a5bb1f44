package amd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/callprobe/callprobe/internal/database/models"
)

// fakeStrategy records the request it received and returns a scripted result.
type fakeStrategy struct {
	sid string
	err error
	got *InitiateRequest
}

func (f *fakeStrategy) Initiate(ctx context.Context, req InitiateRequest) (string, error) {
	f.got = &req
	return f.sid, f.err
}

func newTestOrchestrator(t *testing.T, strat Strategy) (*testEnv, *Orchestrator) {
	t.Helper()
	env := newTestEnv(t)
	resolver := NewResolver(env.calls, testLogger())
	strategies := map[models.Strategy]Strategy{models.StrategyNative: strat}
	o := NewOrchestrator(env.calls, env.events, env.machine, resolver, strategies, "+15557654321", testLogger())
	return env, o
}

func TestPlaceCallSuccess(t *testing.T) {
	strat := &fakeStrategy{sid: "CA123"}
	env, o := newTestOrchestrator(t, strat)
	ctx := context.Background()

	call, err := o.PlaceCall(ctx, "+15551234567", models.StrategyNative)
	if err != nil {
		t.Fatalf("PlaceCall() error: %v", err)
	}
	if call.ID == "" {
		t.Fatal("PlaceCall() returned call without id")
	}
	if call.ProviderCallID != "CA123" {
		t.Errorf("provider_call_id = %q, want CA123", call.ProviderCallID)
	}
	if call.Status != models.StatusInitiated {
		t.Errorf("status = %s, want INITIATED", call.Status)
	}
	if strat.got == nil || strat.got.CallID != call.ID || strat.got.FromNumber != "+15557654321" {
		t.Errorf("strategy got %+v, want call id %s and configured caller id", strat.got, call.ID)
	}

	// The record was persisted with the provider id.
	stored, err := env.calls.GetByID(ctx, call.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if stored == nil || stored.ProviderCallID != "CA123" {
		t.Errorf("stored call = %+v, want provider id persisted", stored)
	}
}

func TestPlaceCallInitiationFailure(t *testing.T) {
	strat := &fakeStrategy{err: errors.New("provider rejected the call")}
	env, o := newTestOrchestrator(t, strat)
	ctx := context.Background()

	_, err := o.PlaceCall(ctx, "+15551234567", models.StrategyNative)
	if err == nil {
		t.Fatal("PlaceCall() succeeded, want error")
	}

	// The record went straight to FAILED with a completion time and an
	// audit event carrying the error.
	calls, err := env.calls.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent() error: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("call count = %d, want 1", len(calls))
	}
	if calls[0].Status != models.StatusFailed {
		t.Errorf("status = %s, want FAILED", calls[0].Status)
	}
	if calls[0].CompletedAt == nil {
		t.Error("completed_at not set on failed call")
	}

	events, err := env.events.ListByCall(ctx, calls[0].ID)
	if err != nil {
		t.Fatalf("ListByCall() error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("event count = %d, want 1", len(events))
	}
}

func TestPlaceCallUnknownStrategy(t *testing.T) {
	env, o := newTestOrchestrator(t, &fakeStrategy{sid: "CA1"})

	_, err := o.PlaceCall(context.Background(), "+15551234567", models.StrategyTrunk)
	if !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("PlaceCall() error = %v, want ErrUnknownStrategy", err)
	}

	// No record is created for a rejected strategy.
	calls, err := env.calls.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRecent() error: %v", err)
	}
	if len(calls) != 0 {
		t.Errorf("call count = %d, want 0", len(calls))
	}
}

func TestHandleEventResolvesAndApplies(t *testing.T) {
	_, o := newTestOrchestrator(t, &fakeStrategy{sid: "CA55"})
	ctx := context.Background()

	placed, err := o.PlaceCall(ctx, "+15551234567", models.StrategyNative)
	if err != nil {
		t.Fatalf("PlaceCall() error: %v", err)
	}

	// Event carries only the provider id; the resolver finds the record.
	call, err := o.HandleEvent(ctx, "", Event{
		Kind:           KindStatusChange,
		ProviderCallID: "CA55",
		Status:         models.StatusRinging,
	})
	if err != nil {
		t.Fatalf("HandleEvent() error: %v", err)
	}
	if call.ID != placed.ID || call.Status != models.StatusRinging {
		t.Errorf("HandleEvent() = %+v, want %s RINGING", call, placed.ID)
	}
}

func TestHandleEventUnresolved(t *testing.T) {
	_, o := newTestOrchestrator(t, &fakeStrategy{sid: "CA1"})

	_, err := o.HandleEvent(context.Background(), "", Event{
		Kind:           KindStatusChange,
		ProviderCallID: "CA-stranger",
		Status:         models.StatusRinging,
	})
	if !errors.Is(err, ErrUnresolved) {
		t.Fatalf("HandleEvent() error = %v, want ErrUnresolved", err)
	}
}

func TestReconcileStaleCalls(t *testing.T) {
	env, o := newTestOrchestrator(t, &fakeStrategy{sid: "CA1"})
	ctx := context.Background()

	stuck := &models.Call{
		ID: "stuck", ToNumber: "+15551234567", FromNumber: "+15557654321",
		Strategy: models.StrategyStream, Status: models.StatusInProgress,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	done := &models.Call{
		ID: "done", ToNumber: "+15551234567", FromNumber: "+15557654321",
		Strategy: models.StrategyNative, Status: models.StatusCompleted,
		Result:    models.ResultHuman,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	for _, c := range []*models.Call{stuck, done} {
		if err := env.calls.Create(ctx, c); err != nil {
			t.Fatalf("Create(%s) error: %v", c.ID, err)
		}
	}

	o.reconcileStale(ctx, 10*time.Minute)

	got, err := env.calls.GetByID(ctx, "stuck")
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.Status != models.StatusCompleted || got.Result != models.ResultUnknown {
		t.Errorf("reconciled call = %s/%s, want COMPLETED/unknown", got.Status, got.Result)
	}

	// Terminal calls are untouched.
	got, err = env.calls.GetByID(ctx, "done")
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.Result != models.ResultHuman {
		t.Errorf("terminal call result = %s, reconciler touched it", got.Result)
	}
}
