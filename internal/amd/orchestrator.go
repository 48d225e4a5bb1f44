package amd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/callprobe/callprobe/internal/database"
	"github.com/callprobe/callprobe/internal/database/models"
)

// ErrUnresolved is returned when an inbound event cannot be correlated to any
// call record. It is an expected, non-fatal outcome: the event is discarded
// after being logged.
var ErrUnresolved = errors.New("event could not be correlated to a call")

// ErrUnknownStrategy is returned by PlaceCall for strategies outside the
// supported set.
var ErrUnknownStrategy = errors.New("unknown detection strategy")

// SessionRegistry is the subset of the relay registry the orchestrator needs
// for shutdown.
type SessionRegistry interface {
	CloseAll()
}

// Orchestrator wires the call store, state machine, resolver, and detection
// strategies together. It owns call placement and dispatches webhook events
// into the state machine.
type Orchestrator struct {
	calls      database.CallRepository
	events     database.DetectionEventRepository
	machine    *Machine
	resolver   *Resolver
	strategies map[models.Strategy]Strategy
	callerID   string
	logger     *slog.Logger

	sessions SessionRegistry // optional, set after relay wiring
}

// NewOrchestrator creates the orchestrator. callerID is the origin number
// placed on every outbound call.
func NewOrchestrator(
	calls database.CallRepository,
	events database.DetectionEventRepository,
	machine *Machine,
	resolver *Resolver,
	strategies map[models.Strategy]Strategy,
	callerID string,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		calls:      calls,
		events:     events,
		machine:    machine,
		resolver:   resolver,
		strategies: strategies,
		callerID:   callerID,
		logger:     logger.With("subsystem", "orchestrator"),
	}
}

// SetSessionRegistry attaches the relay session registry so Shutdown can
// release streaming sessions. Called once during startup wiring.
func (o *Orchestrator) SetSessionRegistry(r SessionRegistry) {
	o.sessions = r
}

// Machine exposes the state machine for components that apply events
// directly, such as relay sessions.
func (o *Orchestrator) Machine() *Machine { return o.machine }

// Resolver exposes the correlation resolver.
func (o *Orchestrator) Resolver() *Resolver { return o.resolver }

// PlaceCall creates a call record, initiates the call through the selected
// detection strategy, and persists the provider call id on success. On
// initiation failure the record goes straight to FAILED and no streaming
// session is ever created for it.
func (o *Orchestrator) PlaceCall(ctx context.Context, toNumber string, strategy models.Strategy) (*models.Call, error) {
	strat, ok := o.strategies[strategy]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	call := &models.Call{
		ID:         uuid.NewString(),
		ToNumber:   toNumber,
		FromNumber: o.callerID,
		Strategy:   strategy,
		Status:     models.StatusInitiated,
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.calls.Create(ctx, call); err != nil {
		return nil, fmt.Errorf("creating call record: %w", err)
	}

	o.logger.Info("placing call",
		"call_id", call.ID,
		"to", toNumber,
		"strategy", strategy,
	)

	providerCallID, err := strat.Initiate(ctx, InitiateRequest{
		CallID:     call.ID,
		ToNumber:   toNumber,
		FromNumber: o.callerID,
	})
	if err != nil {
		o.failCall(ctx, call, err)
		return nil, fmt.Errorf("initiating call: %w", err)
	}

	pid := providerCallID
	if err := o.calls.Update(ctx, call.ID, database.CallUpdate{ProviderCallID: &pid}); err != nil {
		o.logger.Error("failed to persist provider call id",
			"call_id", call.ID,
			"provider_call_id", providerCallID,
			"error", err,
		)
		return nil, err
	}
	call.ProviderCallID = providerCallID

	o.logger.Info("call initiated",
		"call_id", call.ID,
		"provider_call_id", providerCallID,
	)
	return call, nil
}

// failCall drives a record to FAILED after an initiation error and audits the
// failure. Secondary storage errors are logged, not surfaced; the initiation
// error is what the caller sees.
func (o *Orchestrator) failCall(ctx context.Context, call *models.Call, cause error) {
	now := time.Now().UTC()
	st := models.StatusFailed
	if err := o.calls.Update(ctx, call.ID, database.CallUpdate{
		Status:      &st,
		CompletedAt: &now,
	}); err != nil {
		o.logger.Error("failed to mark call failed", "call_id", call.ID, "error", err)
		return
	}
	call.Status = st
	call.CompletedAt = &now

	payload, _ := json.Marshal(map[string]string{"error": cause.Error()})
	if err := o.events.Append(ctx, &models.DetectionEvent{
		CallID:     call.ID,
		Payload:    string(payload),
		ReceivedAt: now,
	}); err != nil {
		o.logger.Error("failed to audit initiation failure", "call_id", call.ID, "error", err)
	}
}

// HandleEvent correlates an inbound event to a call record and applies it
// through the state machine. localCallID may be empty; the resolver falls
// back to the event's provider call id.
func (o *Orchestrator) HandleEvent(ctx context.Context, localCallID string, ev Event) (*models.Call, error) {
	id, ok, err := o.resolver.Resolve(ctx, localCallID, ev.ProviderCallID)
	if err != nil {
		return nil, fmt.Errorf("resolving event identity: %w", err)
	}
	if !ok {
		o.logger.Warn("discarding uncorrelated event",
			"kind", ev.Kind,
			"local_call_id", localCallID,
			"provider_call_id", ev.ProviderCallID,
		)
		return nil, ErrUnresolved
	}
	return o.machine.Apply(ctx, id, ev)
}

// Shutdown releases all active streaming sessions.
func (o *Orchestrator) Shutdown() {
	if o.sessions != nil {
		o.sessions.CloseAll()
	}
}
