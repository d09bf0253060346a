package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("invalid order parameters")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")

	// ErrInvalidState covers operations against an order in the wrong
	// status; ErrAlreadyFinal is the lifecycle-manager flavour for orders
	// that have already left Active.
	ErrInvalidState = errors.New("invalid order state")
	ErrAlreadyFinal = errors.New("order already final")

	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrSlippageExceeded is returned by the AMM adapter when a trade would
	// settle below its minimum-out bound. It is recoverable: the order stays
	// Active and may execute on a later trigger.
	ErrSlippageExceeded = errors.New("slippage exceeded")

	// ErrMergeOrdering and ErrInsufficientPositionBalance signal
	// multi-condition merge failures. Both abort the current execution
	// attempt without partial effect.
	ErrMergeOrdering               = errors.New("merge ordering violated")
	ErrInsufficientPositionBalance = errors.New("insufficient position balance")

	ErrInvalidPrice = errors.New("price outside (0, 1)")
	ErrInvalidTick  = errors.New("tick out of range or not spacing-aligned")
)
