package core

// ComputeOffer is a point-in-time view of one edge device's free capacity
// and asking price. Offers are snapshots and are never cached between
// matching attempts.
type ComputeOffer struct {
	Endpoint      Endpoint `json:"endpoint"`
	FreeCPUCycles float64  `json:"free_cpu_cycles"`
	FreeMemory    float64  `json:"free_memory"`
	Price         float64  `json:"price"`
}

// Satisfies reports whether the offer can host the task: strictly more CPU
// and memory than needed, at a price within budget.
func (o ComputeOffer) Satisfies(t Task) bool {
	return o.FreeCPUCycles > t.NeededCPUCycles &&
		o.FreeMemory > t.NeededMemory &&
		o.Price <= t.Budget
}

// OfferSource yields the current offers of the devices attached to a
// station, in a stable order. Every call reads fresh values.
type OfferSource interface {
	LocalOffers() []ComputeOffer
}

// Reserver is implemented by offer sources that can atomically claim
// capacity for a task after it has been matched.
type Reserver interface {
	TryReserve(offer ComputeOffer, t Task) bool
	Release(offer ComputeOffer, t Task)
}

// OfferFunc adapts a function to OfferSource.
type OfferFunc func() []ComputeOffer

// LocalOffers calls f.
func (f OfferFunc) LocalOffers() []ComputeOffer { return f() }

// StaticOffers is an OfferSource over a fixed list.
type StaticOffers []ComputeOffer

// LocalOffers returns a copy of the list.
func (s StaticOffers) LocalOffers() []ComputeOffer {
	out := make([]ComputeOffer, len(s))
	copy(out, s)
	return out
}
