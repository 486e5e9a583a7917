package network

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/edgeoffload/dispatch/internal/core"
)

// Envelope is a message together with its destination.
type Envelope struct {
	To  core.Endpoint
	Msg core.Message
}

// MemoryTransport delivers messages between handlers in the same process.
// Delivery is asynchronous; Wait blocks until every delivery, including
// ones triggered by handlers, has finished.
type MemoryTransport struct {
	handlers    map[core.Endpoint]Handler
	unreachable map[core.Endpoint]error
	sent        []Envelope
	closed      bool
	mu          sync.RWMutex

	inflight sync.WaitGroup
	logger   *slog.Logger
}

// NewMemoryTransport creates an empty in-process transport.
func NewMemoryTransport(logger *slog.Logger) *MemoryTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryTransport{
		handlers:    make(map[core.Endpoint]Handler),
		unreachable: make(map[core.Endpoint]error),
		logger:      logger.With("component", "memory_transport"),
	}
}

// Handle installs h for ep.
func (t *MemoryTransport) Handle(ep core.Endpoint, h Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if _, ok := t.handlers[ep]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, ep)
	}
	t.handlers[ep] = h
	return nil
}

// Send queues msg for the handler at to.
func (t *MemoryTransport) Send(ctx context.Context, to core.Endpoint, msg core.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if err, ok := t.unreachable[to]; ok {
		t.mu.Unlock()
		return err
	}
	h, ok := t.handlers[to]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, to)
	}
	t.sent = append(t.sent, Envelope{To: to, Msg: msg})
	t.inflight.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.inflight.Done()
		if err := h(context.Background(), msg); err != nil {
			t.logger.Warn("Handler failed",
				"to", to.String(),
				"kind", msg.Kind.String(),
				"task_id", msg.Task.ID,
				"error", err,
			)
		}
	}()
	return nil
}

// SetUnreachable makes every Send to ep fail with err. A nil err restores
// delivery.
func (t *MemoryTransport) SetUnreachable(ep core.Endpoint, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.unreachable, ep)
		return
	}
	t.unreachable[ep] = err
}

// Wait blocks until no delivery is in flight.
func (t *MemoryTransport) Wait() {
	t.inflight.Wait()
}

// Sent returns every message accepted so far, in send order.
func (t *MemoryTransport) Sent() []Envelope {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Envelope, len(t.sent))
	copy(out, t.sent)
	return out
}

// SentTo returns the messages accepted for ep.
func (t *MemoryTransport) SentTo(ep core.Endpoint) []core.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []core.Message
	for _, e := range t.sent {
		if e.To == ep {
			out = append(out, e.Msg)
		}
	}
	return out
}

// Close stops accepting messages.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
