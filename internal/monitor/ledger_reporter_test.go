package monitor

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeoffload/dispatch/internal/dispatch"
)

type fakeInspector struct {
	entries int
	stale   []string
	asked   []time.Duration
}

func (f *fakeInspector) Len() int { return f.entries }
func (f *fakeInspector) Tried(string) []string { return nil }
func (f *fakeInspector) Stale(olderThan time.Duration) []string {
	f.asked = append(f.asked, olderThan)
	return f.stale
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ========== LedgerReporter Tests ==========

func TestReportHealthyLedger(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := dispatch.NewMetrics(reg)
	ledger := &fakeInspector{entries: 3}

	r := NewLedgerReporter(ledger, metrics, time.Minute, quietLogger())
	rep := r.Report()

	assert.Equal(t, 3, rep.Entries)
	assert.Empty(t, rep.Stale)
	assert.Equal(t, []time.Duration{time.Minute}, ledger.asked)

	n, err := testutil.GatherAndCount(reg, "offload_ledger_entries")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReportStaleEntries(t *testing.T) {
	ledger := &fakeInspector{entries: 2, stale: []string{"t1", "t2"}}
	r := NewLedgerReporter(ledger, nil, time.Second, quietLogger())

	rep := r.Report()
	assert.Equal(t, []string{"t1", "t2"}, rep.Stale)
}

func TestReportWithMemoryLedger(t *testing.T) {
	ledger := dispatch.NewMemoryLedger()
	ledger.Record("t1", "10.0.1.1:9001")
	r := NewLedgerReporter(ledger, nil, time.Hour, quietLogger())

	rep := r.Report()
	assert.Equal(t, 1, rep.Entries)
	assert.Empty(t, rep.Stale)

	ledger.Clear("t1")
	assert.Equal(t, 0, r.Report().Entries)
}

func TestStartRejectsNonPositiveInterval(t *testing.T) {
	r := NewLedgerReporter(&fakeInspector{}, nil, time.Second, quietLogger())
	assert.Error(t, r.Start(0))
	assert.Error(t, r.Start(-time.Second))
}

func TestStartRunsScheduledReports(t *testing.T) {
	ledger := &fakeInspector{}
	r := NewLedgerReporter(ledger, nil, time.Second, quietLogger())
	require.NoError(t, r.Start(time.Second))

	assert.Eventually(t, func() bool {
		return len(r.cron.Entries()) == 1 && !r.cron.Entries()[0].Prev.IsZero()
	}, 5*time.Second, 50*time.Millisecond)

	select {
	case <-r.Stop().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("reporter did not stop")
	}
}
