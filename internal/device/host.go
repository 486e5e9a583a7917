package device

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/edgeoffload/dispatch/internal/core"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const bytesPerMiB = 1 << 20

// HostSampler reads the local machine's load.
type HostSampler interface {
	// CPU returns the logical core count and current utilisation percent.
	CPU() (cores int, percent float64, err error)
	// AvailableMemory returns free memory in bytes.
	AvailableMemory() (uint64, error)
}

type gopsutilSampler struct{}

func (gopsutilSampler) CPU() (int, float64, error) {
	cores, err := cpu.Counts(true)
	if err != nil {
		return 0, 0, err
	}
	pct, err := cpu.Percent(0, false)
	if err != nil {
		return 0, 0, err
	}
	if len(pct) == 0 {
		return cores, 0, nil
	}
	return cores, pct[0], nil
}

func (gopsutilSampler) AvailableMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// HostOffers advertises the machine the process runs on as a single
// device. Free CPU is the idle share of all cores scaled by
// CyclesPerCore; free memory is in MiB.
type HostOffers struct {
	Endpoint      core.Endpoint
	Price         float64
	CyclesPerCore float64

	sampler HostSampler
	logger  *slog.Logger
}

// NewHostOffers creates a host-backed offer source.
func NewHostOffers(ep core.Endpoint, price, cyclesPerCore float64, logger *slog.Logger) *HostOffers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HostOffers{
		Endpoint:      ep,
		Price:         price,
		CyclesPerCore: cyclesPerCore,
		sampler:       gopsutilSampler{},
		logger:        logger.With("component", "host_offers"),
	}
}

// LocalOffers samples the host. A failed sample yields no offers, which
// makes the station escalate.
func (h *HostOffers) LocalOffers() []core.ComputeOffer {
	cores, pct, err := h.sampler.CPU()
	if err != nil {
		h.logger.Warn("CPU sample failed", "error", err)
		return nil
	}
	avail, err := h.sampler.AvailableMemory()
	if err != nil {
		h.logger.Warn("Memory sample failed", "error", err)
		return nil
	}
	idle := 1 - pct/100
	if idle < 0 {
		idle = 0
	}
	return []core.ComputeOffer{{
		Endpoint:      h.Endpoint,
		FreeCPUCycles: float64(cores) * idle * h.CyclesPerCore,
		FreeMemory:    float64(avail) / bytesPerMiB,
		Price:         h.Price,
	}}
}

// Handle accepts tasks sent to the host.
func (h *HostOffers) Handle(_ context.Context, msg core.Message) error {
	if msg.Kind != core.KindHandle {
		return fmt.Errorf("host %s: unexpected %s message", h.Endpoint, msg.Kind)
	}
	h.logger.Info("Handling task on host", "task_id", msg.Task.ID)
	return nil
}
