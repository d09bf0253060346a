package domain

import "time"

// Market is a multi-outcome prediction market backed by a single AMM pool.
// Outcomes and Conditions are fixed for the lifetime of the market.
type Market struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Outcomes []string `json:"outcomes"`

	// Conditions lists the underlying condition ids in the order they were
	// originally split. Markets composing more than one condition must merge
	// in the reverse of this order when realizing collateral on a sell.
	Conditions []string `json:"conditions"`

	CreatedAt time.Time `json:"created_at"`
}

// OutcomeCount returns the number of outcome slots (always >= 2).
func (m *Market) OutcomeCount() int {
	return len(m.Outcomes)
}

// MultiCondition reports whether sells require coordinated merges.
func (m *Market) MultiCondition() bool {
	return len(m.Conditions) > 1
}
