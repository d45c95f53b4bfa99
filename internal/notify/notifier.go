// Package notify delivers engine events to chat channels (Telegram,
// Discord). Events are filtered by kind and sent from a background worker so
// a slow channel never holds up a tick.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/119969788/poly-copy-trading/internal/arbitrage"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

type message struct {
	event, title, body string
}

// Notifier fans messages out to its senders. It implements
// arbitrage.Observer.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed kinds; empty allows all
	queue   chan message
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. queueSize bounds the number of pending
// event messages; zero means 64.
func NewNotifier(senders []Sender, events []string, queueSize int, logger *slog.Logger) *Notifier {
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		queue:   make(chan message, queueSize),
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Allowed reports whether event passes the filter.
func (n *Notifier) Allowed(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// Observe queues a message for ev. A full queue drops the message.
func (n *Notifier) Observe(ctx context.Context, ev arbitrage.Event) {
	if len(n.senders) == 0 || !n.Allowed(string(ev.Kind)) {
		return
	}
	title, body := FormatEvent(ev)
	select {
	case n.queue <- message{event: string(ev.Kind), title: title, body: body}:
	default:
		n.logger.WarnContext(ctx, "notification queue full, dropping", slog.String("event", string(ev.Kind)))
	}
}

// Run sends queued messages until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-n.queue:
			if err := n.dispatch(ctx, m.title, m.body); err != nil {
				n.logger.WarnContext(ctx, "notification failed",
					slog.String("event", m.event),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Notify sends synchronously when event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, body string) error {
	if !n.Allowed(event) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, body)
}

// NotifyAll sends synchronously regardless of the filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, body string) error {
	return n.dispatch(ctx, title, body)
}

// dispatch tries every sender; one failure does not stop the others.
func (n *Notifier) dispatch(ctx context.Context, title, body string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent", slog.String("sender", s.Name()), slog.String("title", title))
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
