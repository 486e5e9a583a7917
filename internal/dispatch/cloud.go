package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/edgeoffload/dispatch/internal/core"
)

// CloudStats is a snapshot of cloud server counters.
type CloudStats struct {
	Accepted   uint64
	EdgePlaced uint64
	Failures   uint64
	Duplicates uint64
}

// CloudServer is the fallback of last resort. It accepts every task it is
// given.
type CloudServer struct {
	endpoint core.Endpoint

	seen  *bloom.BloomFilter
	stats CloudStats
	mu    sync.Mutex

	metrics *Metrics
	logger  *slog.Logger
}

// CloudOption configures a CloudServer.
type CloudOption func(*CloudServer)

// WithCloudLogger sets the cloud logger.
func WithCloudLogger(logger *slog.Logger) CloudOption {
	return func(c *CloudServer) { c.logger = logger }
}

// WithCloudMetrics attaches Prometheus collectors.
func WithCloudMetrics(m *Metrics) CloudOption {
	return func(c *CloudServer) { c.metrics = m }
}

// WithDuplicateEstimates sizes the duplicate-delivery filter for n tasks
// at false-positive rate fp.
func WithDuplicateEstimates(n uint, fp float64) CloudOption {
	return func(c *CloudServer) { c.seen = bloom.NewWithEstimates(n, fp) }
}

// NewCloudServer creates a cloud server reachable at ep.
func NewCloudServer(ep core.Endpoint, opts ...CloudOption) *CloudServer {
	c := &CloudServer{endpoint: ep}
	for _, opt := range opts {
		opt(c)
	}
	if c.seen == nil {
		c.seen = bloom.NewWithEstimates(100_000, 0.001)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "cloud", "endpoint", ep.String())
	return c
}

// Endpoint returns the cloud's address.
func (c *CloudServer) Endpoint() core.Endpoint { return c.endpoint }

// Accept takes ownership of a task. It always succeeds. A task id the
// filter has probably seen before is logged as a possible duplicate
// delivery but still accepted.
func (c *CloudServer) Accept(t core.Task) bool {
	c.mu.Lock()
	dup := c.seen.TestAndAddString(t.ID)
	c.stats.Accepted++
	if dup {
		c.stats.Duplicates++
	}
	c.mu.Unlock()

	c.metrics.observeCloudAccept(dup)
	if dup {
		c.logger.Warn("Task probably delivered to cloud more than once", "task_id", t.ID)
	} else {
		c.logger.Debug("Task accepted", "task_id", t.ID)
	}
	return true
}

// Handle processes one inbound message.
func (c *CloudServer) Handle(_ context.Context, msg core.Message) error {
	switch msg.Kind {
	case core.KindHandle:
		c.Accept(msg.Task)
	case core.KindDispatchFailure:
		c.mu.Lock()
		c.stats.Failures++
		c.mu.Unlock()
		c.Accept(msg.Task)
	case core.KindDispatchSuccess:
		c.mu.Lock()
		c.stats.EdgePlaced++
		c.mu.Unlock()
		c.logger.Debug("Task placed at the edge", "task_id", msg.Task.ID)
	default:
		return errUnsupportedMessage(msg.Kind.String(), c.endpoint.String())
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (c *CloudServer) Stats() CloudStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
