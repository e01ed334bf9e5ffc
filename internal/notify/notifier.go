// Package notify delivers operator alerts for pipeline events over Telegram
// and Discord. Event types can be filtered so operators receive only the
// alerts they care about; safety events always go out.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/helioslabs/helios/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender.
	Name() string
}

// Notifier formats pipeline events and dispatches them to all senders.
type Notifier struct {
	senders []Sender
	allowed map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only event types in the events slice are
// forwarded; an empty slice allows everything. Safety-limit events bypass
// the filter unconditionally.
func NewNotifier(senders []Sender, events []domain.EventType, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		allowed[e] = true
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify formats and delivers one event. Spread batches are never notified;
// they are far too frequent to be an operator alert.
func (n *Notifier) Notify(ctx context.Context, ev domain.Event) error {
	if ev.Type == domain.EventSpreads {
		return nil
	}
	if ev.Type != domain.EventSafetyLimit && len(n.allowed) > 0 && !n.allowed[ev.Type] {
		return nil
	}

	title, message := format(ev)
	return n.dispatch(ctx, title, message)
}

// dispatch fans the message out to every sender. One sender failing does not
// stop delivery to the rest; failures are combined into one error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

func format(ev domain.Event) (title, message string) {
	switch ev.Type {
	case domain.EventTradeCompleted:
		if t := ev.Trade; t != nil {
			return "Trade completed",
				fmt.Sprintf("%s %s->%s profit %.4f (expected %.4f)",
					t.Symbol, t.BuyVenue, t.SellVenue, t.ActualProfit, t.ExpectedProfit)
		}
	case domain.EventTradeFailed:
		if t := ev.Trade; t != nil {
			return "Trade failed",
				fmt.Sprintf("%s %s->%s: %s", t.Symbol, t.BuyVenue, t.SellVenue, t.Error)
		}
	case domain.EventTradeRollback:
		if t := ev.Trade; t != nil {
			return "Trade rolled back",
				fmt.Sprintf("%s %s->%s loss %.4f: %s",
					t.Symbol, t.BuyVenue, t.SellVenue, t.ActualProfit, t.Error)
		}
	case domain.EventOpportunityBlocked:
		if o := ev.Opportunity; o != nil {
			return "Opportunity blocked",
				fmt.Sprintf("%s %s->%s expected %.4f: %s",
					o.Symbol, o.BuyVenue, o.SellVenue, o.NetProfit, ev.Reason)
		}
	case domain.EventSafetyLimit:
		return "SAFETY LIMIT TRIPPED", ev.Reason
	}
	return string(ev.Type), ev.Reason
}
