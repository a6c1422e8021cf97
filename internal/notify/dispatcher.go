package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"finopstrack/internal/core"
)

const defaultSendTimeout = 10 * time.Second

// Dispatcher renders notifications and hands them to a Notifier in the background,
// so request handlers and sweeps never wait on delivery.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
	location *time.Location
	timeout  time.Duration

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

var _ core.Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher. A zero timeout uses 10s.
func NewDispatcher(notifier Notifier, logger *slog.Logger, location *time.Location, timeout time.Duration) *Dispatcher {
	if notifier == nil {
		notifier = &NoOpNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Dispatcher{
		notifier: notifier,
		logger:   logger,
		location: location,
		timeout:  timeout,
	}
}

// Notify queues n for delivery. Failures are logged and never reach the caller.
func (d *Dispatcher) Notify(ctx context.Context, n core.Notification) {
	if len(n.Recipients) == 0 {
		d.logger.Debug("notification has no recipients", "kind", n.Kind, "task_id", n.TaskID, "subtask_id", n.SubtaskID)
		return
	}
	msg, err := Render(n, d.location)
	if err != nil {
		d.logger.Error("render notification", "kind", n.Kind, "err", err)
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("dispatcher closed, dropping notification", "kind", n.Kind, "task_id", n.TaskID)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	sendCtx := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(sendCtx, d.timeout)
		defer cancel()
		if err := d.notifier.Send(ctx, msg); err != nil {
			d.logger.Error("send notification", "kind", n.Kind, "task_id", n.TaskID, "subtask_id", n.SubtaskID, "err", err)
			return
		}
		d.logger.Info("notification sent", "kind", n.Kind, "task_id", n.TaskID, "subtask_id", n.SubtaskID, "recipients", len(msg.To))
	}()
}

// Close stops accepting notifications and waits for in-flight sends or ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
