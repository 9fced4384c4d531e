package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Async sends in the background and never reports delivery errors to the
// caller. Wait blocks until in-flight sends finish.
type Async struct {
	next   Notifier
	logger *slog.Logger
	wg     sync.WaitGroup
}

var _ Notifier = (*Async)(nil)

// NewAsync wraps a notifier.
func NewAsync(next Notifier, logger *slog.Logger) *Async {
	return &Async{next: next, logger: logger}
}

func (a *Async) Send(ctx context.Context, to, template string, data Data) error {
	ctx = context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.next.Send(ctx, to, template, data); err != nil {
			a.logger.Error("failed to send email", "template", template, "error", err)
		}
	}()
	return nil
}

// Wait blocks until all pending sends are done.
func (a *Async) Wait() {
	a.wg.Wait()
}
