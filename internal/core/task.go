package core

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Task is a unit of client work that must be placed on an edge device or the
// cloud. Tasks are values: every hop carries its own copy.
type Task struct {
	ID              string  `json:"id"`
	NeededCPUCycles float64 `json:"needed_cpu_cycles"`
	NeededMemory    float64 `json:"needed_memory"`
	Budget          float64 `json:"budget"`
}

// NewTask creates a task with a fresh random ID.
func NewTask(cpu, memory, budget float64) Task {
	return Task{
		ID:              uuid.NewString(),
		NeededCPUCycles: cpu,
		NeededMemory:    memory,
		Budget:          budget,
	}
}

// EnsureID assigns a random ID when the originator supplied none.
func (t Task) EnsureID() Task {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return t
}

// Validate rejects tasks that can never be dispatched meaningfully.
func (t Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is empty")
	}
	if !finite(t.NeededCPUCycles) || !finite(t.NeededMemory) || !finite(t.Budget) {
		return fmt.Errorf("task %s: non-finite requirement or budget", t.ID)
	}
	if t.NeededCPUCycles < 0 || t.NeededMemory < 0 {
		return fmt.Errorf("task %s: negative resource requirement", t.ID)
	}
	if t.Budget < 0 {
		return fmt.Errorf("task %s: negative budget", t.ID)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
