package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	maxInflight    = 1000
	handlerTimeout = 30 * time.Second
)

type Event interface {
	Name() string
}

type Handler func(ctx context.Context, e Event) error

// Bus is an in-memory event bus. Handlers run asynchronously on a bounded
// worker pool; a panicking or failing handler never takes the publisher down.
type Bus struct {
	inflight chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewBus creates a new event bus. Call Stop to drain handlers on shutdown.
func NewBus() *Bus {
	return &Bus{
		inflight: make(chan struct{}, maxInflight),
		handlers: make(map[string][]Handler),
	}
}

// Subscribe registers h for events published under name.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[name] = append(b.handlers[name], h)
}

// Publish dispatches e to every handler subscribed to its name.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, h := range b.handlers[e.Name()] {
		b.dispatch(ctx, h, e)
	}
}

func (b *Bus) dispatch(ctx context.Context, h Handler, e Event) {
	b.wg.Add(1)
	b.inflight <- struct{}{}

	// Detach from the publisher's context so a canceled request does not
	// abort a handler that is already running.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handlerTimeout)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(hctx, "event: handler panic",
					"event", e.Name(),
					"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
				)
			}

			cancel()
			<-b.inflight
			b.wg.Done()
		}()

		if err := h(hctx, e); err != nil {
			slog.ErrorContext(hctx, "event: handle event failed",
				"event", e.Name(),
				"error", err,
			)
		}
	}()
}

// Stop waits for all in-flight handlers to finish.
func (b *Bus) Stop() {
	b.wg.Wait()
}
