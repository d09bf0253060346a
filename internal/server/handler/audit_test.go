package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castlefield/tickbook/internal/domain"
)

type stubAuditService struct {
	gotOpts domain.ListOpts
	entries []domain.AuditEntry
}

func (s *stubAuditService) ListAudit(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.gotOpts = opts
	return s.entries, nil
}

func TestListAudit_FiltersByKnownEvent(t *testing.T) {
	svc := &stubAuditService{entries: []domain.AuditEntry{
		{ID: 1, Event: domain.EventOrderPlaced},
	}}
	h := NewAuditHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/audit?event=order_placed&limit=10", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.EventOrderPlaced, svc.gotOpts.Event)
	assert.Equal(t, 10, svc.gotOpts.Limit)
	assert.Contains(t, rec.Body.String(), `"count":1`)
}

func TestListAudit_RejectsUnknownEvent(t *testing.T) {
	svc := &stubAuditService{}
	h := NewAuditHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/audit?event=nonsense", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.gotOpts.Event)
}

func TestListAudit_NoFilterPassesThrough(t *testing.T) {
	svc := &stubAuditService{}
	h := NewAuditHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/audit", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, svc.gotOpts.Event)
	assert.Equal(t, defaultListLimit, svc.gotOpts.Limit)
}
