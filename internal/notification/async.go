package notification

import (
	"context"
	"sync"
	"time"

	"ubipay/pkg/logger"
)

// Async delivers events on a background goroutine so callers never wait on
// or fail because of a sink. Events are dropped when the buffer is full.
type Async struct {
	next    Notifier
	logger  logger.Logger
	queue   chan asyncEvent
	timeout time.Duration
	wg      sync.WaitGroup
	once    sync.Once
}

type asyncEvent struct {
	event   string
	payload map[string]interface{}
}

func NewAsync(next Notifier, buffer int, log logger.Logger) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	a := &Async{
		next:    next,
		logger:  log,
		queue:   make(chan asyncEvent, buffer),
		timeout: 5 * time.Second,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) Notify(_ context.Context, event string, payload map[string]interface{}) error {
	select {
	case a.queue <- asyncEvent{event: event, payload: payload}:
	default:
		a.logger.Warn("Notification dropped, queue full", map[string]interface{}{"event": event})
	}
	return nil
}

func (a *Async) run() {
	defer a.wg.Done()
	for ev := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Notify(ctx, ev.event, ev.payload); err != nil {
			a.logger.Error("Notification delivery failed", map[string]interface{}{
				"event": ev.event,
				"error": err.Error(),
			})
		}
		cancel()
	}
}

// Close flushes queued events and stops the worker. Notify must not be
// called after Close.
func (a *Async) Close() {
	a.once.Do(func() {
		close(a.queue)
		a.wg.Wait()
	})
}
