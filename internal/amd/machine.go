package amd

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/callprobe/callprobe/internal/database"
	"github.com/callprobe/callprobe/internal/database/models"
)

// DefaultDecisionThreshold is the minimum confidence a scored decision must
// carry to be accepted as the call's result. Decisions without a confidence
// value (webhook-style) are accepted unconditionally, first one wins.
const DefaultDecisionThreshold = 0.7

// storageAttempts bounds retries of repository operations inside Apply.
const storageAttempts = 3

// Machine is the authoritative call lifecycle model. Every inbound signal
// goes through Apply, which serializes mutations per call identifier so that
// concurrent events for the same call can never interleave into an
// inconsistent partial write. Events for different calls proceed in parallel.
type Machine struct {
	calls     database.CallRepository
	events    database.DetectionEventRepository
	threshold float64
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*callLock
}

// callLock is a per-call mutex with a reference count so entries can be
// removed from the lock table once no Apply is waiting on them.
type callLock struct {
	mu   sync.Mutex
	refs int
}

// NewMachine creates a call state machine over the given repositories.
// A threshold <= 0 selects DefaultDecisionThreshold.
func NewMachine(calls database.CallRepository, events database.DetectionEventRepository, threshold float64, logger *slog.Logger) *Machine {
	if threshold <= 0 {
		threshold = DefaultDecisionThreshold
	}
	return &Machine{
		calls:     calls,
		events:    events,
		threshold: threshold,
		logger:    logger.With("subsystem", "state-machine"),
		locks:     make(map[string]*callLock),
	}
}

func (m *Machine) lock(callID string) *callLock {
	m.mu.Lock()
	l, ok := m.locks[callID]
	if !ok {
		l = &callLock{}
		m.locks[callID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return l
}

func (m *Machine) unlock(callID string, l *callLock) {
	l.mu.Unlock()

	m.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, callID)
	}
	m.mu.Unlock()
}

// Apply records the event in the audit trail and advances the call record
// according to the transition rules:
//
//   - status moves forward only, terminal states are absorbing;
//   - the provider correlation key is set exactly once, from the first event
//     that reveals it;
//   - the first decision meeting the confidence threshold (or any decision
//     without a confidence) wins; later decisions are audit-only;
//   - events for an already-terminal call are recorded but mutate nothing.
//
// The returned record reflects the state after the event, so callers can
// react (for example close a streaming session once the call is terminal).
func (m *Machine) Apply(ctx context.Context, callID string, ev Event) (*models.Call, error) {
	l := m.lock(callID)
	defer m.unlock(callID, l)

	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}

	var call *models.Call
	err := m.withRetry(ctx, "loading call", func() error {
		var err error
		call, err = m.calls.GetByID(ctx, callID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if call == nil {
		return nil, fmt.Errorf("apply: call %s not found", callID)
	}

	// Audit trail first, unconditionally. Stale and duplicate events are
	// still meaningful signals even when they no longer move the record.
	record := &models.DetectionEvent{
		CallID:     callID,
		Decision:   string(ev.Decision),
		Confidence: ev.Confidence,
		Payload:    ev.Payload,
		ReceivedAt: ev.ReceivedAt,
	}
	if err := m.withRetry(ctx, "appending event", func() error {
		return m.events.Append(ctx, record)
	}); err != nil {
		return nil, err
	}

	upd := database.CallUpdate{}
	terminal := call.Status.Terminal()

	// Correlation key: set once from the first event that reveals it. This is
	// allowed even on terminal records since it never changes an outcome.
	if call.ProviderCallID == "" && ev.ProviderCallID != "" {
		pid := ev.ProviderCallID
		upd.ProviderCallID = &pid
		call.ProviderCallID = pid
	}

	target := ev.Status
	switch ev.Kind {
	case KindMediaStart:
		// First inbound media frame counts as answer confirmation.
		target = models.StatusInProgress
	case KindDecision:
		// A detection decision implies the call was answered, even when the
		// signal carries no explicit status.
		if target == "" && call.Status.Rank() < models.StatusInProgress.Rank() {
			target = models.StatusInProgress
		}
	}

	if !terminal && target != "" && target.Rank() > call.Status.Rank() {
		st := target
		upd.Status = &st
		call.Status = st
		if st == models.StatusInProgress && call.AnsweredAt == nil {
			t := ev.ReceivedAt
			upd.AnsweredAt = &t
			call.AnsweredAt = &t
		}
		if st.Terminal() && call.CompletedAt == nil {
			t := ev.ReceivedAt
			upd.CompletedAt = &t
			call.CompletedAt = &t
		}
	}

	if ev.Kind == KindDecision && ev.Decision != "" && call.Result == "" && !terminal {
		if ev.Final || ev.Confidence == nil || *ev.Confidence >= m.threshold {
			res := ev.Decision
			upd.Result = &res
			call.Result = res

			lat := ev.LatencyMS
			if lat == nil && call.AnsweredAt != nil {
				ms := ev.ReceivedAt.Sub(*call.AnsweredAt).Milliseconds()
				lat = &ms
			}
			if lat != nil {
				upd.LatencyMS = lat
				call.LatencyMS = lat
			}
		} else {
			m.logger.Debug("decision below threshold, audit only",
				"call_id", callID,
				"decision", ev.Decision,
				"confidence", *ev.Confidence,
			)
		}
	}

	if !upd.Empty() {
		if err := m.withRetry(ctx, "updating call", func() error {
			return m.calls.Update(ctx, callID, upd)
		}); err != nil {
			return nil, err
		}
	}

	return call, nil
}

// withRetry runs a repository operation up to storageAttempts times with a
// short backoff. A storage failure must not silently drop an event, so after
// the attempts are exhausted the error is surfaced and the call is left in
// its last known-good state.
func (m *Machine) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= storageAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt < storageAttempts {
			m.logger.Warn("storage operation failed, retrying",
				"op", op,
				"attempt", attempt,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
			}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
