package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/castlefield/tickbook/internal/domain"
	"github.com/castlefield/tickbook/internal/service"
)

// OrderAPI is the slice of the order service the order handler needs.
type OrderAPI interface {
	PlaceOrder(ctx context.Context, req service.PlaceRequest) (uint64, error)
	CancelOrder(ctx context.Context, id uint64, caller common.Address, signature string) error
	GetOrder(ctx context.Context, id uint64) (domain.Order, error)
	ListOrdersByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Order, error)
	ListOrdersByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Order, error)
	ListFills(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Fill, error)
}

// OrderHandler serves order placement, cancellation, and history queries.
type OrderHandler struct {
	svc OrderAPI
}

// NewOrderHandler creates an OrderHandler backed by svc.
func NewOrderHandler(svc OrderAPI) *OrderHandler {
	return &OrderHandler{svc: svc}
}

// placeOrderRequest is the JSON body for POST /api/orders. Price and amount
// are wad-scaled decimal integer strings (1e18 = 1.0).
type placeOrderRequest struct {
	Owner    string `json:"owner"`
	MarketID string `json:"market_id"`
	Outcome  int    `json:"outcome"`
	Side     string `json:"side"`
	Price    string `json:"price"`
	Amount   string `json:"amount"`
	Expiry   string `json:"expiry,omitempty"`
}

// cancelOrderRequest is the JSON body for DELETE /api/orders/{id}.
type cancelOrderRequest struct {
	Owner     string `json:"owner"`
	Signature string `json:"signature,omitempty"`
}

// Place handles POST /api/orders.
func (h *OrderHandler) Place(w http.ResponseWriter, r *http.Request) {
	var body placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	req, err := body.toPlaceRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.svc.PlaceOrder(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"order_id": id,
		"status":   string(domain.OrderStatusActive),
	})
}

// Cancel handles DELETE /api/orders/{id}.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var body cancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if !common.IsHexAddress(body.Owner) {
		writeError(w, http.StatusBadRequest, "owner must be a hex address")
		return
	}

	if err := h.svc.CancelOrder(r.Context(), id, common.HexToAddress(body.Owner), body.Signature); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order_id": id,
		"status":   string(domain.OrderStatusCancelled),
	})
}

// Get handles GET /api/orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	o, err := h.svc.GetOrder(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// List handles GET /api/orders. Exactly one of the market_id or owner query
// parameters selects the listing axis.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	marketID := q.Get("market_id")
	owner := q.Get("owner")
	opts := parseListOpts(r)

	var (
		orders []domain.Order
		err    error
	)
	switch {
	case marketID != "" && owner != "":
		writeError(w, http.StatusBadRequest, "specify market_id or owner, not both")
		return
	case marketID != "":
		orders, err = h.svc.ListOrdersByMarket(r.Context(), marketID, opts)
	case owner != "":
		if !common.IsHexAddress(owner) {
			writeError(w, http.StatusBadRequest, "owner must be a hex address")
			return
		}
		orders, err = h.svc.ListOrdersByOwner(r.Context(), common.HexToAddress(owner).Hex(), opts)
	default:
		writeError(w, http.StatusBadRequest, "market_id or owner query parameter required")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"orders": orders,
		"count":  len(orders),
	})
}

// ListFills handles GET /api/fills?market_id=...
func (h *OrderHandler) ListFills(w http.ResponseWriter, r *http.Request) {
	marketID := r.URL.Query().Get("market_id")
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "market_id query parameter required")
		return
	}

	fills, err := h.svc.ListFills(r.Context(), marketID, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fills": fills,
		"count": len(fills),
	})
}

// toPlaceRequest validates the JSON body and converts it into the service
// request type.
func (b placeOrderRequest) toPlaceRequest() (service.PlaceRequest, error) {
	var req service.PlaceRequest

	if !common.IsHexAddress(b.Owner) {
		return req, fmt.Errorf("owner must be a hex address")
	}
	if b.MarketID == "" {
		return req, fmt.Errorf("market_id is required")
	}

	side := domain.Side(b.Side)
	if side != domain.SideBuy && side != domain.SideSell {
		return req, fmt.Errorf("side must be %q or %q", domain.SideBuy, domain.SideSell)
	}

	price, ok := new(big.Int).SetString(b.Price, 10)
	if !ok {
		return req, fmt.Errorf("price must be a wad decimal integer string")
	}
	amount, ok := new(big.Int).SetString(b.Amount, 10)
	if !ok {
		return req, fmt.Errorf("amount must be a wad decimal integer string")
	}

	var expiry time.Time
	if b.Expiry != "" {
		var err error
		expiry, err = time.Parse(time.RFC3339, b.Expiry)
		if err != nil {
			return req, fmt.Errorf("expiry must be RFC 3339: %w", err)
		}
	}

	return service.PlaceRequest{
		Owner:    common.HexToAddress(b.Owner),
		MarketID: b.MarketID,
		Outcome:  b.Outcome,
		Side:     side,
		Price:    price,
		Amount:   amount,
		Expiry:   expiry,
	}, nil
}
