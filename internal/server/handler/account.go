package handler

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// AccountService is the slice of the order service the account handler needs.
type AccountService interface {
	Deposit(ctx context.Context, owner common.Address, amount *big.Int) error
	CollateralBalance(ctx context.Context, owner common.Address) (*big.Int, error)
}

// AccountHandler serves collateral deposits and balance queries.
type AccountHandler struct {
	svc AccountService
}

// NewAccountHandler creates an AccountHandler backed by svc.
func NewAccountHandler(svc AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

type depositRequest struct {
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

// Deposit handles POST /api/collateral/deposit. Amount is a wad decimal
// integer string.
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var body depositRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if !common.IsHexAddress(body.Owner) {
		writeError(w, http.StatusBadRequest, "owner must be a hex address")
		return
	}
	amount, ok := new(big.Int).SetString(body.Amount, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "amount must be a wad decimal integer string")
		return
	}

	owner := common.HexToAddress(body.Owner)
	if err := h.svc.Deposit(r.Context(), owner, amount); err != nil {
		writeDomainError(w, err)
		return
	}

	balance, err := h.svc.CollateralBalance(r.Context(), owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":   owner.Hex(),
		"balance": balance.String(),
	})
}

// Balance handles GET /api/collateral/{owner}.
func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("owner")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "owner must be a hex address")
		return
	}
	owner := common.HexToAddress(raw)

	balance, err := h.svc.CollateralBalance(r.Context(), owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":   owner.Hex(),
		"balance": balance.String(),
	})
}
