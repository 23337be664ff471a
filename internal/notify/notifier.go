// Package notify delivers operator notifications to Telegram and Discord.
// Routine lifecycle events can be filtered by type; alerts that need a human
// (halts, lost audit rows, failed CRITICAL exits) always go out.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Event types accepted by Notify.
const (
	EventPositionClosed = "position_closed"
	EventBreakerChanged = "circuit_breaker"
	EventRebalance      = "rebalance"
)

// Sender is one delivery channel. Send must be safe to call concurrently
// with other senders.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans notifications out to its senders. Notify honours the event
// filter; NotifyAll ignores it.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	prefix  string
	logger  *slog.Logger
}

// NewNotifier builds a Notifier. An empty events list allows every event.
// A non-empty prefix is shown in brackets before each title.
func NewNotifier(senders []Sender, events []string, prefix string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		prefix:  prefix,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers when event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll delivers regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender concurrently. A failing sender does not
// stop the others; failures are joined.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}
	if n.prefix != "" {
		title = "[" + n.prefix + "] " + title
	}

	errs := make([]error, len(n.senders))
	var g errgroup.Group
	for i, s := range n.senders {
		g.Go(func() error {
			if err := s.Send(ctx, title, message); err != nil {
				n.logger.ErrorContext(ctx, "sender failed",
					slog.String("sender", s.Name()),
					slog.String("error", err.Error()),
				)
				errs[i] = err
				return nil
			}
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", failed, errors.Join(errs...))
	}
	return nil
}
