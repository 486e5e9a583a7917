package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/edgeoffload/dispatch/internal/core"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the breaker for a destination is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerConfig holds per-destination circuit breaker settings
type BreakerConfig struct {
	FailureThreshold uint32        `json:"failure_threshold"`
	ResetTimeout     time.Duration `json:"reset_timeout"`
	HalfOpenMax      uint32        `json:"half_open_max"`
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMax:      3,
	}
}

// BreakerTransport wraps a transport with one circuit breaker per
// destination, so an unreachable station fails fast instead of holding up
// every task routed through it.
type BreakerTransport struct {
	next     Transport
	config   BreakerConfig
	breakers map[core.Endpoint]*gobreaker.CircuitBreaker
	mu       sync.Mutex
	logger   *slog.Logger
}

// NewBreakerTransport decorates next.
func NewBreakerTransport(next Transport, config BreakerConfig, logger *slog.Logger) *BreakerTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerTransport{
		next:     next,
		config:   config,
		breakers: make(map[core.Endpoint]*gobreaker.CircuitBreaker),
		logger:   logger.With("component", "breaker_transport"),
	}
}

func (b *BreakerTransport) breaker(to core.Endpoint) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[to]; ok {
		return cb
	}
	threshold := b.config.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        to.String(),
		MaxRequests: b.config.HalfOpenMax,
		Timeout:     b.config.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Info("Circuit breaker state changed",
				"destination", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	b.breakers[to] = cb
	return cb
}

// Send delivers through the destination's breaker.
func (b *BreakerTransport) Send(ctx context.Context, to core.Endpoint, msg core.Message) error {
	_, err := b.breaker(to).Execute(func() (interface{}, error) {
		return nil, b.next.Send(ctx, to, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, to)
	}
	return err
}

// State reports the breaker state for a destination.
func (b *BreakerTransport) State(to core.Endpoint) gobreaker.State {
	return b.breaker(to).State()
}

// Handle delegates to the wrapped transport.
func (b *BreakerTransport) Handle(ep core.Endpoint, h Handler) error {
	return b.next.Handle(ep, h)
}

// Close closes the wrapped transport.
func (b *BreakerTransport) Close() error {
	return b.next.Close()
}
