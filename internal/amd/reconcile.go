package amd

import (
	"context"
	"time"

	"github.com/callprobe/callprobe/internal/database/models"
)

// StartReconcileTicker runs a background goroutine that periodically drives
// calls stuck in a non-terminal state past maxAge to a terminal unknown
// outcome. Streaming sessions are in-memory only, so a process restart (or a
// provider that never delivers a final signal) would otherwise leave records
// orphaned in INITIATED/RINGING/IN_PROGRESS indefinitely. The goroutine
// stops when the provided context is cancelled.
func (o *Orchestrator) StartReconcileTicker(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 || maxAge <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.reconcileStale(ctx, maxAge)
			}
		}
	}()
}

// reconcileStale finds non-terminal calls older than maxAge and applies a
// terminal unknown decision to each through the state machine, so the usual
// transition and audit rules hold.
func (o *Orchestrator) reconcileStale(ctx context.Context, maxAge time.Duration) {
	cutoff := time.Now().UTC().Add(-maxAge)
	stale, err := o.calls.ListStale(ctx, cutoff)
	if err != nil {
		o.logger.Error("reconcile: failed to list stale calls", "error", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	for _, call := range stale {
		_, err := o.machine.Apply(ctx, call.ID, Event{
			Kind:     KindDecision,
			Decision: models.ResultUnknown,
			Status:   models.StatusCompleted,
			Payload:  `{"source":"reconciler","reason":"stale non-terminal call"}`,
		})
		if err != nil {
			o.logger.Error("reconcile: failed to close stale call",
				"call_id", call.ID,
				"error", err,
			)
		}
	}

	o.logger.Info("reconciled stale calls", "count", len(stale), "cutoff", cutoff)
}
