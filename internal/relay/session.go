package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/callprobe/callprobe/internal/amd"
	"github.com/callprobe/callprobe/internal/database/models"
)

// SessionConfig holds the collaborators a session needs.
type SessionConfig struct {
	Machine   *amd.Machine
	Resolver  *amd.Resolver
	Dialer    InferenceDialer
	Threshold float64
	// MaxDuration force-closes the session after the given time, so a
	// provider that never sends a stop frame cannot leak the session.
	// Zero disables the limit.
	MaxDuration time.Duration
	Logger      *slog.Logger
	// OnBind is invoked once when the session learns its local call id.
	OnBind func(handle, callID string)
}

// Session bridges one inbound media stream to one outbound inference
// connection. It is ephemeral and in-memory only: it exists from the moment
// the telephony side opens the stream until either side closes or a final
// inference result is applied, whichever comes first.
//
// The owning call may be unknown at session start. Identity hints are
// collected from every frame that carries them and correlation is retried
// whenever the session actually needs an identifier; if identity never
// resolves, the session's data is discarded without persisting anything.
type Session struct {
	Handle string // ephemeral registry key, assigned at creation

	inbound   Conn
	machine   *amd.Machine
	resolver  *amd.Resolver
	dialer    InferenceDialer
	threshold float64
	maxDur    time.Duration
	logger    *slog.Logger
	onBind    func(handle, callID string)

	startedAt time.Time

	mu           sync.Mutex
	outbound     Conn
	callID       string // empty until correlation succeeds
	localHint    string
	providerHint string
	// resultApplied is the session-layer duplicate guard: the terminal
	// outcome is applied at most once per session, independent of the state
	// machine's own first-write-wins rule.
	resultApplied bool

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSession creates a session over an accepted inbound connection.
func NewSession(inbound Conn, cfg SessionConfig) *Session {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = amd.DefaultDecisionThreshold
	}
	handle := uuid.NewString()
	return &Session{
		Handle:    handle,
		inbound:   inbound,
		machine:   cfg.Machine,
		resolver:  cfg.Resolver,
		dialer:    cfg.Dialer,
		threshold: threshold,
		maxDur:    cfg.MaxDuration,
		logger:    cfg.Logger.With("subsystem", "relay", "session", handle),
		onBind:    cfg.OnBind,
	}
}

// CallID returns the bound local call id, or empty if unresolved.
func (s *Session) CallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callID
}

// Close shuts the inbound leg, which unwinds the whole session. Safe to call
// from any goroutine and more than once.
func (s *Session) Close() {
	s.inbound.Close()
}

// Run processes the session until the inbound stream ends, then settles the
// call's terminal outcome and releases both connections. It blocks for the
// lifetime of the session; the caller runs it on its own goroutine.
func (s *Session) Run(ctx context.Context) {
	s.startedAt = time.Now()

	if s.maxDur > 0 {
		timer := time.AfterFunc(s.maxDur, func() {
			s.logger.Warn("max stream duration exceeded, closing session")
			s.inbound.Close()
		})
		defer timer.Stop()
	}

	for {
		mt, data, err := s.inbound.ReadMessage()
		if err != nil {
			break
		}
		if done := s.handleFrame(ctx, mt, data); done {
			break
		}
	}

	s.settle(ctx)
	s.teardown()
	s.wg.Wait()

	s.logger.Info("session closed", "duration_ms", time.Since(s.startedAt).Milliseconds())
}

// handleFrame dispatches one inbound message. Returns true when the stream
// is finished and the read loop should stop.
func (s *Session) handleFrame(ctx context.Context, mt int, data []byte) bool {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		s.logger.Warn("ignoring malformed media frame", "error", err)
		return false
	}

	switch f.Event {
	case "start":
		s.handleStart(ctx, &f, mt, data)
	case "media":
		// Forward audio regardless of resolution state: inference can run
		// without a known call id, results are applied once identity exists.
		s.forward(mt, data)
	case "stop":
		if f.Stop != nil && f.Stop.CallSID != "" {
			s.mu.Lock()
			if s.providerHint == "" {
				s.providerHint = f.Stop.CallSID
			}
			s.mu.Unlock()
		}
		s.forward(mt, data)
		return true
	default:
		s.logger.Debug("ignoring unknown frame event", "event", f.Event)
	}
	return false
}

// handleStart extracts identity hints, opens the inference leg, and attempts
// first correlation.
func (s *Session) handleStart(ctx context.Context, f *Frame, mt int, raw []byte) {
	if f.Start == nil {
		s.logger.Warn("start frame missing start payload")
		return
	}

	s.mu.Lock()
	if cp := f.Start.CustomParameters; cp != nil {
		if v := cp["call_id"]; v != "" {
			s.localHint = v
		}
		if v := cp["provider_call_id"]; v != "" {
			s.providerHint = v
		}
	}
	if f.Start.CallSID != "" {
		s.providerHint = f.Start.CallSID
	}
	local, prov := s.localHint, s.providerHint
	s.mu.Unlock()

	// The inference leg opens before identity is known; audio must not be
	// dropped while correlation is pending.
	s.openOutbound(ctx)
	s.forward(mt, raw)

	id, ok, err := s.resolver.Resolve(ctx, local, prov)
	if err != nil {
		s.logger.Error("correlation lookup failed", "error", err)
		return
	}
	if !ok {
		s.logger.Info("stream identity unresolved, deferring correlation",
			"provider_call_id", prov)
		return
	}
	s.bind(id)

	if _, err := s.machine.Apply(ctx, id, amd.Event{
		Kind:           amd.KindMediaStart,
		ProviderCallID: prov,
		Payload:        string(raw),
	}); err != nil {
		s.logger.Error("failed to apply media-start", "call_id", id, "error", err)
	}
}

// openOutbound dials the inference backend once and starts the result
// reader. A dial failure is non-fatal: the inbound leg keeps draining, there
// is at most one inference attempt per call.
func (s *Session) openOutbound(ctx context.Context) {
	s.mu.Lock()
	if s.outbound != nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		s.logger.Error("failed to open inference connection", "error", err)
		return
	}

	s.mu.Lock()
	s.outbound = conn
	s.mu.Unlock()

	s.wg.Add(1)
	go s.readResults(ctx, conn)
}

// forward writes one frame to the inference leg, if open. Write failures are
// logged and ignored; the inbound leg continues.
func (s *Session) forward(mt int, data []byte) {
	s.mu.Lock()
	out := s.outbound
	s.mu.Unlock()
	if out == nil {
		return
	}
	if err := out.WriteMessage(mt, data); err != nil {
		s.logger.Warn("inference write failed", "error", err)
	}
}

// readResults consumes inference messages until a decisive one arrives, then
// applies it and closes both legs.
func (s *Session) readResults(ctx context.Context, conn Conn) {
	defer s.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var res Result
		if err := json.Unmarshal(data, &res); err != nil {
			s.logger.Warn("ignoring malformed inference message", "error", err)
			continue
		}

		final := res.Event == ResultKindFinal
		if !final && !(res.Event == ResultKindPrediction && res.Confidence >= s.threshold) {
			s.logger.Debug("inference below threshold, waiting",
				"label", res.Label, "confidence", res.Confidence)
			continue
		}

		s.applyResult(ctx, res, data, final)
		s.inbound.Close()
		return
	}
}

// applyResult feeds a decisive inference result through the state machine,
// exactly once per session.
func (s *Session) applyResult(ctx context.Context, res Result, raw []byte, final bool) {
	s.mu.Lock()
	if s.resultApplied {
		s.mu.Unlock()
		return
	}
	callID := s.callID
	local, prov := s.localHint, s.providerHint
	s.mu.Unlock()

	if callID == "" {
		// The record may have learned its provider id since the stream
		// opened (for example via the status webhook); retry correlation.
		id, ok, err := s.resolver.Resolve(ctx, local, prov)
		if err != nil || !ok {
			s.logger.Warn("discarding inference result for unresolved session",
				"label", res.Label, "error", err)
			return
		}
		s.bind(id)
		callID = id
	}

	s.mu.Lock()
	if s.resultApplied {
		s.mu.Unlock()
		return
	}
	s.resultApplied = true
	s.mu.Unlock()

	label := models.DetectionResult(res.Label)
	conf := res.Confidence
	if _, err := s.machine.Apply(ctx, callID, amd.Event{
		Kind:           amd.KindDecision,
		ProviderCallID: prov,
		Status:         models.StatusCompleted,
		Decision:       label,
		Confidence:     &conf,
		Final:          final,
		Payload:        string(raw),
	}); err != nil {
		s.logger.Error("failed to apply inference result", "call_id", callID, "error", err)
		return
	}

	s.logger.Info("detection complete",
		"call_id", callID,
		"label", res.Label,
		"confidence", res.Confidence,
		"elapsed_ms", time.Since(s.startedAt).Milliseconds(),
	)
}

// settle records the stream end and, when no decision was ever reached,
// drives the call to a terminal unknown outcome so it never lingers in
// IN_PROGRESS. An unresolved session is discarded without persisting
// anything; that is an expected outcome, not an error.
func (s *Session) settle(ctx context.Context) {
	s.mu.Lock()
	callID := s.callID
	local, prov := s.localHint, s.providerHint
	s.mu.Unlock()

	if callID == "" {
		id, ok, err := s.resolver.Resolve(ctx, local, prov)
		if err != nil || !ok {
			s.logger.Info("discarding session with unresolved identity",
				"provider_call_id", prov)
			return
		}
		s.bind(id)
		callID = id
	}

	// Audit the stream ending. For an already-terminal call this is
	// recorded without mutating the record.
	if _, err := s.machine.Apply(ctx, callID, amd.Event{
		Kind:           amd.KindMediaStop,
		ProviderCallID: prov,
		Payload:        `{"event":"stop"}`,
	}); err != nil {
		s.logger.Error("failed to apply media-stop", "call_id", callID, "error", err)
	}

	s.mu.Lock()
	if s.resultApplied {
		s.mu.Unlock()
		return
	}
	s.resultApplied = true
	s.mu.Unlock()

	if _, err := s.machine.Apply(ctx, callID, amd.Event{
		Kind:           amd.KindDecision,
		ProviderCallID: prov,
		Status:         models.StatusCompleted,
		Decision:       models.ResultUnknown,
		Payload:        `{"source":"relay","reason":"stream ended without decision"}`,
	}); err != nil {
		s.logger.Error("failed to apply terminal unknown", "call_id", callID, "error", err)
	}
}

// bind records the resolved call id, once, and notifies the registry.
func (s *Session) bind(callID string) {
	s.mu.Lock()
	if s.callID != "" {
		s.mu.Unlock()
		return
	}
	s.callID = callID
	s.mu.Unlock()

	if s.onBind != nil {
		s.onBind(s.Handle, callID)
	}
	s.logger.Info("session bound to call", "call_id", callID)
}

// teardown closes both legs. Closing the inbound leg is the cancellation
// signal for the session; it always propagates to the outbound leg.
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		s.inbound.Close()
		s.mu.Lock()
		out := s.outbound
		s.mu.Unlock()
		if out != nil {
			out.Close()
		}
	})
}
