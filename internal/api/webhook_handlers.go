package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/callprobe/callprobe/internal/amd"
	"github.com/callprobe/callprobe/internal/database/models"
)

// handleProviderCallback handles the provider's form-encoded status callback.
// One endpoint covers both plain lifecycle updates and native detection
// decisions, since the provider reports AnsweredBy on the same callback URL.
// The response is an XML instruction document telling the provider to
// announce the result and hang up.
func (s *Server) handleProviderCallback(w http.ResponseWriter, r *http.Request) {
	localID := r.URL.Query().Get("call_id")

	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadLen)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	callSid := r.PostForm.Get("CallSid")
	callStatus := r.PostForm.Get("CallStatus")
	answeredBy := r.PostForm.Get("AnsweredBy")

	if localID == "" && callSid == "" {
		writeError(w, http.StatusBadRequest, "call_id or CallSid required")
		return
	}

	ev := amd.Event{
		Kind:           amd.KindStatusChange,
		ProviderCallID: callSid,
		ReceivedAt:     time.Now().UTC(),
	}
	if st, ok := amd.MapProviderStatus(callStatus); ok {
		ev.Status = st
	} else if callStatus != "" {
		slog.Warn("unrecognized provider call status", "status", callStatus, "call_id", localID)
	}
	if answeredBy != "" {
		ev.Kind = amd.KindDecision
		// The provider reports a label without a confidence score; its
		// decision is taken as authoritative.
		ev.Final = true
		if decision, ok := amd.MapAnsweredBy(answeredBy); ok {
			ev.Decision = decision
		} else {
			slog.Warn("unrecognized answered-by label", "answered_by", answeredBy, "call_id", localID)
			ev.Decision = models.ResultUnknown
		}
		if raw := r.PostForm.Get("MachineDetectionDuration"); raw != "" {
			if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
				ev.LatencyMS = &ms
			}
		}
	}

	payload, _ := json.Marshal(flattenForm(r.PostForm))
	ev.Payload = string(payload)

	call, err := s.orchestrator.HandleEvent(r.Context(), localID, ev)
	if err != nil {
		if errors.Is(err, amd.ErrUnresolved) {
			writeError(w, http.StatusNotFound, "call not found")
			return
		}
		slog.Error("provider callback: failed to apply event", "error", err, "call_id", localID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	result := string(call.Result)
	if result == "" {
		result = "unknown"
	}
	writeXML(w, http.StatusOK, fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Say>This is a test call from the detection system. Detected %s. Goodbye.</Say>
  <Hangup/>
</Response>`, result))
}

// trunkEventRequest is the JSON body the intermediary trunk posts when its
// in-network detection fires.
type trunkEventRequest struct {
	CallSid  string `json:"callSid"`
	Event    string `json:"event"`
	Duration *int64 `json:"duration"`
}

// handleTrunkEvent handles detection decisions relayed by the SIP trunk
// intermediary.
func (s *Server) handleTrunkEvent(w http.ResponseWriter, r *http.Request) {
	localID := r.URL.Query().Get("call_id")

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadLen))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var req trunkEventRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	var decision models.DetectionResult
	switch req.Event {
	case "amd_human_detected":
		decision = models.ResultHuman
	case "amd_machine_detected":
		decision = models.ResultMachine
	default:
		writeError(w, http.StatusBadRequest, "event must be \"amd_human_detected\" or \"amd_machine_detected\"")
		return
	}
	if localID == "" && req.CallSid == "" {
		writeError(w, http.StatusBadRequest, "call_id or callSid required")
		return
	}

	ev := amd.Event{
		Kind:           amd.KindDecision,
		ProviderCallID: req.CallSid,
		Decision:       decision,
		Final:          true,
		LatencyMS:      req.Duration,
		Payload:        string(raw),
		ReceivedAt:     time.Now().UTC(),
	}

	if _, err := s.orchestrator.HandleEvent(r.Context(), localID, ev); err != nil {
		if errors.Is(err, amd.ErrUnresolved) {
			writeError(w, http.StatusNotFound, "call not found")
			return
		}
		slog.Error("trunk event: failed to apply event", "error", err, "call_id", localID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}

// flattenForm collapses url.Values to single-valued pairs for audit storage.
func flattenForm(values map[string][]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
