// Package amd implements the call lifecycle core for answering-machine
// detection: the normalized event model, the forward-only call state machine,
// identity correlation, and the pluggable detection strategies.
package amd

import (
	"time"

	"github.com/callprobe/callprobe/internal/database/models"
)

// EventKind classifies a normalized inbound signal.
type EventKind string

const (
	KindStatusChange EventKind = "status-change"
	KindDecision     EventKind = "decision"
	KindMediaStart   EventKind = "media-start"
	KindMediaStop    EventKind = "media-stop"
)

// Event is a normalized signal about one call, produced from a provider
// status callback, a trunk detection webhook, or the audio relay. All fields
// other than Kind are optional; the state machine ignores what is absent.
type Event struct {
	Kind           EventKind
	ProviderCallID string
	// Status is the mapped target lifecycle status, when the signal carries
	// one. Unknown provider statuses map to "" and are audit-only.
	Status     models.CallStatus
	Decision   models.DetectionResult
	Confidence *float64
	// Final marks a decision the source tagged as authoritative; it is
	// accepted even below the confidence threshold.
	Final bool
	// LatencyMS is the detection latency as reported by the signal source.
	// When absent it is derived from the record's answer timestamp.
	LatencyMS  *int64
	Payload    string // original wire payload, preserved verbatim for audit
	ReceivedAt time.Time
}

// providerStatusMap translates the telephony provider's status vocabulary to
// the internal lifecycle states. The mapping is deliberately explicit: any
// status not listed here leaves the record's status unchanged and is recorded
// as an event only.
var providerStatusMap = map[string]models.CallStatus{
	"initiated":   models.StatusInitiated,
	"ringing":     models.StatusRinging,
	"in-progress": models.StatusInProgress,
	"completed":   models.StatusCompleted,
	"failed":      models.StatusFailed,
	"busy":        models.StatusBusy,
	"no-answer":   models.StatusNoAnswer,
}

// MapProviderStatus maps a provider call status string to an internal status.
// The second return is false for statuses outside the known vocabulary.
func MapProviderStatus(status string) (models.CallStatus, bool) {
	s, ok := providerStatusMap[status]
	return s, ok
}

// MapAnsweredBy translates the provider's answered-by labels to a detection
// result. Machine sub-labels (beep, silence, fax) all collapse to machine.
func MapAnsweredBy(label string) (models.DetectionResult, bool) {
	switch label {
	case "human":
		return models.ResultHuman, true
	case "machine_start", "machine_end_beep", "machine_end_silence", "machine_end_other", "fax":
		return models.ResultMachine, true
	case "unknown":
		return models.ResultUnknown, true
	}
	return "", false
}
