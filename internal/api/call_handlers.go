package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/callprobe/callprobe/internal/database/models"
)

// placeCallRequest is the JSON body for POST /api/v1/calls.
type placeCallRequest struct {
	ToNumber string `json:"to_number"`
	Strategy string `json:"strategy"`
}

// callResponse is the JSON representation of a call record.
type callResponse struct {
	ID             string  `json:"id"`
	ProviderCallID string  `json:"provider_call_id,omitempty"`
	ToNumber       string  `json:"to_number"`
	FromNumber     string  `json:"from_number"`
	Strategy       string  `json:"strategy"`
	Status         string  `json:"status"`
	Result         string  `json:"result,omitempty"`
	LatencyMS      *int64  `json:"latency_ms"`
	CreatedAt      string  `json:"created_at"`
	AnsweredAt     *string `json:"answered_at"`
	CompletedAt    *string `json:"completed_at"`
}

// toCallResponse converts a models.Call to the API response.
func toCallResponse(c *models.Call) callResponse {
	resp := callResponse{
		ID:             c.ID,
		ProviderCallID: c.ProviderCallID,
		ToNumber:       c.ToNumber,
		FromNumber:     c.FromNumber,
		Strategy:       string(c.Strategy),
		Status:         string(c.Status),
		Result:         string(c.Result),
		LatencyMS:      c.LatencyMS,
		CreatedAt:      c.CreatedAt.Format(time.RFC3339),
	}
	if c.AnsweredAt != nil {
		s := c.AnsweredAt.Format(time.RFC3339)
		resp.AnsweredAt = &s
	}
	if c.CompletedAt != nil {
		s := c.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &s
	}
	return resp
}

// eventResponse is the JSON representation of one detection audit event.
type eventResponse struct {
	ID         int64           `json:"id"`
	CallID     string          `json:"call_id"`
	Decision   string          `json:"decision,omitempty"`
	Confidence *float64        `json:"confidence"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt string          `json:"received_at"`
}

// toEventResponse converts a models.DetectionEvent to the API response. The
// stored payload is passed through raw when it is valid JSON, otherwise it is
// re-encoded as a JSON string.
func toEventResponse(e *models.DetectionEvent) eventResponse {
	resp := eventResponse{
		ID:         e.ID,
		CallID:     e.CallID,
		Decision:   e.Decision,
		Confidence: e.Confidence,
		ReceivedAt: e.ReceivedAt.Format(time.RFC3339),
	}
	if e.Payload != "" {
		if json.Valid([]byte(e.Payload)) {
			resp.Payload = json.RawMessage(e.Payload)
		} else {
			quoted, _ := json.Marshal(e.Payload)
			resp.Payload = quoted
		}
	}
	return resp
}

// handlePlaceCall initiates an outbound detection call.
func (s *Server) handlePlaceCall(w http.ResponseWriter, r *http.Request) {
	var req placeCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	if msg := validatePhoneNumber("to_number", req.ToNumber); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	strategy := models.Strategy(req.Strategy)
	if strategy == "" {
		strategy = models.StrategyNative
	}
	if !strategy.Valid() {
		writeError(w, http.StatusBadRequest, "strategy must be \"native\", \"trunk\", or \"stream\"")
		return
	}

	call, err := s.orchestrator.PlaceCall(r.Context(), req.ToNumber, strategy)
	if err != nil {
		slog.Error("place call: initiation failed", "error", err, "to", req.ToNumber, "strategy", strategy)
		writeError(w, http.StatusBadGateway, "call initiation failed")
		return
	}

	writeJSON(w, http.StatusCreated, toCallResponse(call))
}

// callListItem is a call plus its most recent audit event, for the list view.
type callListItem struct {
	callResponse
	LastEvent *eventResponse `json:"last_event"`
}

// handleListCalls returns recent calls, newest first, each with its most
// recent detection event. Query param: limit.
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	calls, err := s.calls.ListRecent(r.Context(), limit)
	if err != nil {
		slog.Error("list calls: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]callListItem, len(calls))
	for i := range calls {
		items[i] = callListItem{callResponse: toCallResponse(&calls[i])}
		last, err := s.events.LatestByCall(r.Context(), calls[i].ID)
		if err != nil {
			slog.Error("list calls: failed to query latest event", "error", err, "call_id", calls[i].ID)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if last != nil {
			resp := toEventResponse(last)
			items[i].LastEvent = &resp
		}
	}
	writeJSON(w, http.StatusOK, items)
}

// handleGetCall returns a single call by local ID.
func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	call, err := s.calls.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("get call: failed to query", "error", err, "call_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if call == nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}

	writeJSON(w, http.StatusOK, toCallResponse(call))
}

// handleListCallEvents returns the detection audit trail for a call, most
// recent first.
func (s *Server) handleListCallEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	call, err := s.calls.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("list call events: failed to query call", "error", err, "call_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if call == nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}

	events, err := s.events.ListByCall(r.Context(), id)
	if err != nil {
		slog.Error("list call events: failed to query events", "error", err, "call_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]eventResponse, len(events))
	for i := range events {
		items[i] = toEventResponse(&events[i])
	}
	writeJSON(w, http.StatusOK, items)
}
