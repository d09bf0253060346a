// Package notify turns engine events into operator alerts. The notifier
// subscribes to the engine event channel on the signal bus, renders each
// event into a short message, and fans it out to the configured senders.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/castlefield/tickbook/internal/domain"
)

// Sender is one delivery channel for rendered alerts.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier filters engine events and dispatches them to its senders. Only
// events whose type appears in the allowed set are forwarded; an empty set
// allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	bus     domain.SignalBus
	logger  *slog.Logger
}

// New creates a Notifier delivering to senders, filtered to the given event
// types.
func New(senders []Sender, events []string, bus domain.SignalBus, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		bus:     bus,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Run consumes engine events from the bus until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	if len(n.senders) == 0 {
		<-ctx.Done()
		return nil
	}

	msgs, err := n.bus.Subscribe(ctx, "events:engine")
	if err != nil {
		return fmt.Errorf("notify: subscribe: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-msgs:
			if !ok {
				return nil
			}
			var ev domain.EngineEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				n.logger.WarnContext(ctx, "undecodable event", slog.String("error", err.Error()))
				continue
			}
			n.handle(ctx, ev)
		}
	}
}

func (n *Notifier) handle(ctx context.Context, ev domain.EngineEvent) {
	if len(n.events) > 0 && !n.events[ev.Type] {
		return
	}
	title, message := render(ev)
	if err := n.dispatch(ctx, title, message); err != nil {
		n.logger.WarnContext(ctx, "notification delivery incomplete",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
	}
}

// render formats one engine event as a title and body.
func render(ev domain.EngineEvent) (string, string) {
	lane := fmt.Sprintf("%s/%d", ev.MarketID, ev.Outcome)
	switch ev.Type {
	case domain.EventOrderFilled:
		return "Order filled",
			fmt.Sprintf("order %d on %s filled at tick %d (amount %s)", ev.OrderID, lane, ev.Tick, ev.Amount)
	case domain.EventOrderExpired:
		return "Order expired",
			fmt.Sprintf("order %d on %s expired and was refunded", ev.OrderID, lane)
	case domain.EventExecutionSkipped:
		return "Execution skipped",
			fmt.Sprintf("order %d on %s skipped at tick %d: %s", ev.OrderID, lane, ev.Tick, ev.Reason)
	case domain.EventWalkDeferred:
		return "Walk deferred",
			fmt.Sprintf("lane %s deferred remaining work at tick %d", lane, ev.Tick)
	default:
		return ev.Type, fmt.Sprintf("lane %s, order %d, tick %d", lane, ev.OrderID, ev.Tick)
	}
}

// dispatch sends to every sender, collecting per-sender failures so one bad
// channel does not block the others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
