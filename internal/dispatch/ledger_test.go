package dispatch

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ========== MemoryLedger Tests ==========

func TestNewMemoryLedger(t *testing.T) {
	l := NewMemoryLedger()
	require.NotNil(t, l)
	assert.Equal(t, 0, l.Len())
	assert.False(t, l.AlreadyTried("t", "a"))
}

func TestLedgerRecordIsIdempotent(t *testing.T) {
	l := NewMemoryLedger()
	l.Record("t", "a")
	l.Record("t", "a")

	assert.True(t, l.AlreadyTried("t", "a"))
	assert.False(t, l.AlreadyTried("t", "b"))
	assert.Equal(t, []string{"a"}, l.Tried("t"))
	assert.Equal(t, 1, l.Len())
}

func TestLedgerEntriesArePerTask(t *testing.T) {
	l := NewMemoryLedger()
	l.Record("t1", "a")
	l.Record("t2", "b")

	assert.False(t, l.AlreadyTried("t1", "b"))
	assert.False(t, l.AlreadyTried("t2", "a"))
	assert.Equal(t, 2, l.Len())
}

func TestLedgerClear(t *testing.T) {
	l := NewMemoryLedger()
	l.Record("t", "a")
	l.Record("t", "b")
	l.Clear("t")

	assert.False(t, l.AlreadyTried("t", "a"))
	assert.Nil(t, l.Tried("t"))
	assert.Equal(t, 0, l.Len())

	// Clearing an absent task is a no-op.
	l.Clear("missing")
	assert.Equal(t, 0, l.Len())
}

func TestLedgerStale(t *testing.T) {
	l := NewMemoryLedger()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Record("old", "a")
	now = now.Add(10 * time.Minute)
	l.Record("new", "a")

	assert.Equal(t, []string{"old"}, l.Stale(5*time.Minute))
	assert.Empty(t, l.Stale(time.Hour))

	// Recording again does not refresh the entry's age.
	l.Record("old", "b")
	assert.Equal(t, []string{"old"}, l.Stale(5*time.Minute))
}

func TestLedgerConcurrentAccess(t *testing.T) {
	l := NewMemoryLedger()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			task := fmt.Sprintf("task-%d", id%5)
			station := fmt.Sprintf("station-%d", id)
			l.Record(task, station)
			assert.True(t, l.AlreadyTried(task, station))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, l.Len())
	for i := 0; i < 5; i++ {
		assert.Len(t, l.Tried(fmt.Sprintf("task-%d", i)), 10)
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			l.Clear(fmt.Sprintf("task-%d", id))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, l.Len())
}

func TestMemoryLedgerImplementsInterfaces(t *testing.T) {
	var _ Ledger = NewMemoryLedger()
	var _ LedgerInspector = NewMemoryLedger()
}
