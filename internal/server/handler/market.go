package handler

import (
	"context"
	"fmt"
	"math/big"
	"net/http"

	"github.com/castlefield/tickbook/internal/domain"
	"github.com/castlefield/tickbook/internal/tick"
)

// MarketService is the slice of the order service the market handler needs.
type MarketService interface {
	Markets() []*domain.Market
	Market(id string) (*domain.Market, error)
	LastTick(marketID string, outcome int) (int64, bool)
	PoolBalances(ctx context.Context, marketID string) ([]*big.Int, error)
}

// MarketHandler serves market metadata and per-outcome tick state.
type MarketHandler struct {
	svc MarketService
}

// NewMarketHandler creates a MarketHandler backed by svc.
func NewMarketHandler(svc MarketService) *MarketHandler {
	return &MarketHandler{svc: svc}
}

// List handles GET /api/markets.
func (h *MarketHandler) List(w http.ResponseWriter, r *http.Request) {
	markets := h.svc.Markets()
	writeJSON(w, http.StatusOK, map[string]any{
		"markets": markets,
		"count":   len(markets),
	})
}

// Get handles GET /api/markets/{id}.
func (h *MarketHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Market(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Pool handles GET /api/markets/{id}/pool. It returns the AMM pool's
// outcome-token balances as wad strings.
func (h *MarketHandler) Pool(w http.ResponseWriter, r *http.Request) {
	marketID := r.PathValue("id")
	balances, err := h.svc.PoolBalances(r.Context(), marketID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	rendered := make([]string, len(balances))
	for i, b := range balances {
		rendered[i] = b.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": marketID,
		"balances":  rendered,
	})
}

// Tick handles GET /api/markets/{id}/outcomes/{outcome}/tick. It returns the
// engine's last observed tick for the lane along with its price rendering.
func (h *MarketHandler) Tick(w http.ResponseWriter, r *http.Request) {
	marketID := r.PathValue("id")
	outcome, err := pathInt(r, "outcome")
	if err != nil {
		writeDomainError(w, err)
		return
	}

	m, err := h.svc.Market(marketID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if outcome < 0 || outcome >= m.OutcomeCount() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("outcome %d out of range for market %s", outcome, marketID))
		return
	}

	t, ok := h.svc.LastTick(marketID, outcome)
	if !ok {
		writeError(w, http.StatusNotFound, "no tick observed for lane yet")
		return
	}

	price, err := tick.TickToPrice(t)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": marketID,
		"outcome":   outcome,
		"tick":      t,
		"price":     price.String(),
	})
}
