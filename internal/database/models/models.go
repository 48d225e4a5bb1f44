package models

import "time"

// CallStatus is the lifecycle state of an outbound call attempt.
// Calls advance forward only: INITIATED -> RINGING -> IN_PROGRESS -> terminal.
// Any terminal state is also reachable directly from INITIATED, since a call
// can fail before it ever rings.
type CallStatus string

const (
	StatusInitiated  CallStatus = "INITIATED"
	StatusRinging    CallStatus = "RINGING"
	StatusInProgress CallStatus = "IN_PROGRESS"
	StatusCompleted  CallStatus = "COMPLETED"
	StatusFailed     CallStatus = "FAILED"
	StatusBusy       CallStatus = "BUSY"
	StatusNoAnswer   CallStatus = "NO_ANSWER"
)

// Terminal reports whether the status is absorbing: no further transition
// may change the call's status, result, or completion time.
func (s CallStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer:
		return true
	}
	return false
}

// Rank returns the position of the status in the forward-only transition
// graph. A transition is permitted only to a strictly higher rank.
func (s CallStatus) Rank() int {
	switch s {
	case StatusInitiated:
		return 0
	case StatusRinging:
		return 1
	case StatusInProgress:
		return 2
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer:
		return 3
	}
	return -1
}

// DetectionResult is the answered-by classification for a call.
// Empty string means no result has been recorded yet.
type DetectionResult string

const (
	ResultHuman   DetectionResult = "human"
	ResultMachine DetectionResult = "machine"
	ResultUnknown DetectionResult = "unknown"
)

// Strategy selects how answering-machine detection is performed for a call.
type Strategy string

const (
	// StrategyNative lets the telephony provider perform detection itself
	// and report the decision via a status callback.
	StrategyNative Strategy = "native"
	// StrategyTrunk routes the call through an intermediary signaling layer
	// which performs detection and reports via its own event webhook.
	StrategyTrunk Strategy = "trunk"
	// StrategyStream connects the call to a media stream and performs
	// detection out of process over an inference websocket.
	StrategyStream Strategy = "stream"
)

// Valid reports whether the strategy is one of the supported variants.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyNative, StrategyTrunk, StrategyStream:
		return true
	}
	return false
}

// Call represents one outbound call attempt and its detection outcome.
type Call struct {
	ID             string // locally generated UUID, immutable
	ProviderCallID string // provider's call identifier, set once known, then immutable
	ToNumber       string
	FromNumber     string
	Strategy       Strategy
	Status         CallStatus
	Result         DetectionResult // empty until a decision is accepted
	LatencyMS      *int64          // ms from answer confirmation to decision
	CreatedAt      time.Time
	AnsweredAt     *time.Time // first confirmed answer signal
	CompletedAt    *time.Time // set when a terminal status is reached
}

// DetectionEvent is one append-only audit entry for a call: a provider status
// change, a raw decision payload, an inference result, or a media signal.
// Events are never mutated after insertion; display order is by ReceivedAt
// descending because out-of-order delivery is expected.
type DetectionEvent struct {
	ID         int64
	CallID     string
	Decision   string   // decision label if the event carried one
	Confidence *float64 // 0.0-1.0 if the source supplied one
	Payload    string   // original payload preserved verbatim (JSON)
	ReceivedAt time.Time
}
