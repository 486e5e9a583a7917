package device

import (
	"sync"

	"github.com/edgeoffload/dispatch/internal/core"
)

// Pool is the ordered set of devices attached to one station. It serves
// as the station's offer source and reserver.
type Pool struct {
	devices    []*Device
	byEndpoint map[core.Endpoint]*Device
	mu         sync.RWMutex
}

// NewPool creates a pool holding devices in the given order.
func NewPool(devices ...*Device) *Pool {
	p := &Pool{byEndpoint: make(map[core.Endpoint]*Device)}
	for _, d := range devices {
		p.Add(d)
	}
	return p
}

// Add appends a device. A device already present is ignored.
func (p *Pool) Add(d *Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byEndpoint[d.Endpoint()]; ok {
		return
	}
	p.devices = append(p.devices, d)
	p.byEndpoint[d.Endpoint()] = d
}

// Devices returns the devices in order.
func (p *Pool) Devices() []*Device {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Device, len(p.devices))
	copy(out, p.devices)
	return out
}

// LocalOffers returns a fresh snapshot of every device, in order.
func (p *Pool) LocalOffers() []core.ComputeOffer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	offers := make([]core.ComputeOffer, 0, len(p.devices))
	for _, d := range p.devices {
		offers = append(offers, d.Offer())
	}
	return offers
}

// TryReserve reserves t on the device behind offer.
func (p *Pool) TryReserve(offer core.ComputeOffer, t core.Task) bool {
	p.mu.RLock()
	d, ok := p.byEndpoint[offer.Endpoint]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	return d.TryReserve(t)
}

// Release undoes a reservation made through TryReserve.
func (p *Pool) Release(offer core.ComputeOffer, t core.Task) {
	p.mu.RLock()
	d, ok := p.byEndpoint[offer.Endpoint]
	p.mu.RUnlock()
	if ok {
		d.Release(t)
	}
}
