package notify

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/castlefield/tickbook/internal/domain"
)

type memSender struct {
	titles   []string
	messages []string
}

func (m *memSender) Send(_ context.Context, title, message string) error {
	m.titles = append(m.titles, title)
	m.messages = append(m.messages, message)
	return nil
}

func (m *memSender) Name() string { return "mem" }

func TestNotifier_FiltersEventTypes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sender := &memSender{}
	n := New([]Sender{sender}, []string{domain.EventOrderFilled}, nil, logger)

	ctx := context.Background()
	n.handle(ctx, domain.EngineEvent{Type: domain.EventOrderFilled, MarketID: "mkt", OrderID: 7, Tick: 4000, Amount: big.NewInt(1)})
	n.handle(ctx, domain.EngineEvent{Type: domain.EventOrderCancelled, MarketID: "mkt", OrderID: 8})

	assert.Equal(t, []string{"Order filled"}, sender.titles)
}

func TestNotifier_EmptyFilterAllowsAll(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sender := &memSender{}
	n := New([]Sender{sender}, nil, nil, logger)

	ctx := context.Background()
	n.handle(ctx, domain.EngineEvent{Type: domain.EventWalkDeferred, MarketID: "mkt", Outcome: 1, Tick: 3990})
	n.handle(ctx, domain.EngineEvent{Type: domain.EventExecutionSkipped, MarketID: "mkt", OrderID: 2, Tick: 4000, Reason: "slippage exceeded"})

	assert.Len(t, sender.titles, 2)
	assert.Contains(t, sender.messages[0], "mkt/1")
	assert.Contains(t, sender.messages[1], "slippage exceeded")
}
