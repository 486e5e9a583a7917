package core

// Capacity tracks the free resources of a single device. It is not safe
// for concurrent use; owners guard it.
type Capacity struct {
	CPUCycles float64
	Memory    float64
}

// Release returns resources to the pool.
func (c *Capacity) Release(cpu, memory float64) {
	c.CPUCycles += cpu
	c.Memory += memory
}

// Reserve claims resources and reports whether there was room. The check
// uses the same strict comparison as offer matching, so a reservation
// never drains a device to exactly zero.
func (c *Capacity) Reserve(cpu, memory float64) bool {
	if c.CPUCycles <= cpu || c.Memory <= memory {
		return false
	}
	c.CPUCycles -= cpu
	c.Memory -= memory
	return true
}
