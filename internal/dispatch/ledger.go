package dispatch

import (
	"sort"
	"sync"
	"time"
)

// Ledger remembers, per in-flight task, which stations have already been
// tried. Implementations must be safe for concurrent use by every station
// in a deployment.
type Ledger interface {
	Record(taskID, stationID string)
	AlreadyTried(taskID, stationID string) bool
	Clear(taskID string)
}

// LedgerInspector is the read-only diagnostic view used by monitors and
// the HTTP API.
type LedgerInspector interface {
	Len() int
	Tried(taskID string) []string
	Stale(olderThan time.Duration) []string
}

type ledgerEntry struct {
	stations  map[string]struct{}
	createdAt time.Time
}

// MemoryLedger is the in-process Ledger shared by all stations of a
// container.
type MemoryLedger struct {
	entries map[string]*ledgerEntry
	mu      sync.Mutex
	now     func() time.Time
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		entries: make(map[string]*ledgerEntry),
		now:     time.Now,
	}
}

// Record marks stationID as tried for taskID. Recording twice is a no-op.
func (l *MemoryLedger) Record(taskID, stationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[taskID]
	if !ok {
		e = &ledgerEntry{stations: make(map[string]struct{}), createdAt: l.now()}
		l.entries[taskID] = e
	}
	e.stations[stationID] = struct{}{}
}

// AlreadyTried reports whether stationID was recorded for taskID.
func (l *MemoryLedger) AlreadyTried(taskID, stationID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[taskID]
	if !ok {
		return false
	}
	_, ok = e.stations[stationID]
	return ok
}

// Clear drops every record for taskID.
func (l *MemoryLedger) Clear(taskID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, taskID)
}

// Len returns the number of tasks with a live entry.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Tried returns the sorted station IDs recorded for taskID.
func (l *MemoryLedger) Tried(taskID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[taskID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.stations))
	for id := range e.stations {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Stale returns the sorted IDs of tasks whose entry is older than
// olderThan. Entries normally live for a few hops only, so anything
// returned here points at a path that failed to clear.
func (l *MemoryLedger) Stale(olderThan time.Duration) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-olderThan)
	var out []string
	for id, e := range l.entries {
		if e.createdAt.Before(cutoff) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
