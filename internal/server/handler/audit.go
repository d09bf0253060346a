package handler

import (
	"context"
	"net/http"

	"github.com/castlefield/tickbook/internal/domain"
)

// AuditService is the slice of the order service the audit handler needs.
type AuditService interface {
	ListAudit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler serves the append-only audit trail.
type AuditHandler struct {
	svc AuditService
}

// NewAuditHandler creates an AuditHandler backed by svc.
func NewAuditHandler(svc AuditService) *AuditHandler {
	return &AuditHandler{svc: svc}
}

// List handles GET /api/audit. The optional event query parameter narrows
// the listing to one event type and must name a known event.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	if event := r.URL.Query().Get("event"); event != "" {
		if !domain.KnownEvent(event) {
			writeError(w, http.StatusBadRequest, "unknown event type: "+event)
			return
		}
		opts.Event = event
	}

	entries, err := h.svc.ListAudit(r.Context(), opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
