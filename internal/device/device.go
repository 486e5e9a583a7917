package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/edgeoffload/dispatch/internal/core"
)

// Device is an edge device attached to a base station. Its capacity only
// shrinks through explicit reservations.
type Device struct {
	endpoint core.Endpoint
	capacity core.Capacity
	price    float64
	handled  uint64
	mu       sync.Mutex
	logger   *slog.Logger
}

// New creates a device with the given free capacity and asking price.
func New(ep core.Endpoint, cpu, memory, price float64, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{
		endpoint: ep,
		capacity: core.Capacity{CPUCycles: cpu, Memory: memory},
		price:    price,
		logger:   logger.With("component", "device", "endpoint", ep.String()),
	}
}

// Endpoint returns the device address.
func (d *Device) Endpoint() core.Endpoint { return d.endpoint }

// Offer returns a snapshot of the device's free capacity.
func (d *Device) Offer() core.ComputeOffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return core.ComputeOffer{
		Endpoint:      d.endpoint,
		FreeCPUCycles: d.capacity.CPUCycles,
		FreeMemory:    d.capacity.Memory,
		Price:         d.price,
	}
}

// TryReserve claims the task's resources if they are still free and the
// price is within budget.
func (d *Device) TryReserve(t core.Task) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.price > t.Budget {
		return false
	}
	return d.capacity.Reserve(t.NeededCPUCycles, t.NeededMemory)
}

// Release returns a reservation.
func (d *Device) Release(t core.Task) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.capacity.Release(t.NeededCPUCycles, t.NeededMemory)
}

// Handle accepts tasks sent to the device.
func (d *Device) Handle(_ context.Context, msg core.Message) error {
	if msg.Kind != core.KindHandle {
		return fmt.Errorf("device %s: unexpected %s message", d.endpoint, msg.Kind)
	}
	d.mu.Lock()
	d.handled++
	d.mu.Unlock()

	d.logger.Info("Handling task",
		"task_id", msg.Task.ID,
		"cpu", msg.Task.NeededCPUCycles,
		"memory", msg.Task.NeededMemory,
	)
	return nil
}

// Handled returns how many tasks the device was asked to run.
func (d *Device) Handled() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handled
}
