package handler

import (
	"context"
	"encoding/json"
	"net/http"
)

// MatchingService is the slice of the order service the matching handler
// needs.
type MatchingService interface {
	TriggerMatching(ctx context.Context, marketID string, outcome int) error
	SweepExpired(ctx context.Context, marketID string) []uint64
	SweepAll(ctx context.Context) int
}

// MatchingHandler exposes manual matching triggers and expiry sweeps.
type MatchingHandler struct {
	svc MatchingService
}

// NewMatchingHandler creates a MatchingHandler backed by svc.
func NewMatchingHandler(svc MatchingService) *MatchingHandler {
	return &MatchingHandler{svc: svc}
}

type triggerRequest struct {
	MarketID string `json:"market_id"`
	Outcome  int    `json:"outcome"`
}

// Trigger handles POST /api/matching/trigger. It resumes deferred walk work
// for one lane, picking up any price drift since the last observation.
func (h *MatchingHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var body triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if body.MarketID == "" {
		writeError(w, http.StatusBadRequest, "market_id is required")
		return
	}

	if err := h.svc.TriggerMatching(r.Context(), body.MarketID, body.Outcome); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": body.MarketID,
		"outcome":   body.Outcome,
		"triggered": true,
	})
}

type sweepRequest struct {
	MarketID string `json:"market_id,omitempty"`
}

// Sweep handles POST /api/matching/sweep. With a market_id it sweeps one
// market and returns the reaped order ids; without it sweeps every market.
func (h *MatchingHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	var body sweepRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	}

	if body.MarketID != "" {
		reaped := h.svc.SweepExpired(r.Context(), body.MarketID)
		writeJSON(w, http.StatusOK, map[string]any{
			"market_id": body.MarketID,
			"reaped":    reaped,
			"count":     len(reaped),
		})
		return
	}

	count := h.svc.SweepAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}
