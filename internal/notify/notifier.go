package notify

import (
	"context"
	"errors"
	"log/slog"
)

// Message is a rendered notification. To holds person names or addresses; each sink
// resolves them the way it needs to.
type Message struct {
	To      []string
	Subject string
	HTML    string
	Text    string
}

// Notifier delivers a message over one channel.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// MultiNotifier fans a message out to several notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send tries every notifier and joins their errors.
func (m *MultiNotifier) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len reports how many notifiers are combined.
func (m *MultiNotifier) Len() int {
	return len(m.notifiers)
}

// NoOpNotifier does nothing.
type NoOpNotifier struct{}

func (n *NoOpNotifier) Send(ctx context.Context, msg Message) error {
	return nil
}

// LogNotifier writes messages to the log instead of delivering them.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Send(ctx context.Context, msg Message) error {
	l.logger.InfoContext(ctx, "notification", "to", msg.To, "subject", msg.Subject)
	return nil
}
