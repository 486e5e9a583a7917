package dispatch

import (
	"github.com/edgeoffload/dispatch/internal/core"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes dispatch counters to Prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	decisions     *prometheus.CounterVec
	sendFailures  *prometheus.CounterVec
	ledgerEntries prometheus.Gauge
	cloudAccepted prometheus.Counter
	duplicates    prometheus.Counter
}

// NewMetrics creates the dispatch collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offload",
			Name:      "dispatch_decisions_total",
			Help:      "Dispatch decisions taken by stations, by outcome.",
		}, []string{"outcome"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offload",
			Name:      "send_failures_total",
			Help:      "Messages the transport failed to deliver, by message kind.",
		}, []string{"kind"}),
		ledgerEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "offload",
			Name:      "ledger_entries",
			Help:      "Tasks currently tracked in the dispatch ledger.",
		}),
		cloudAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "offload",
			Name:      "cloud_accepted_total",
			Help:      "Tasks accepted by the cloud server.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "offload",
			Name:      "cloud_probable_duplicates_total",
			Help:      "Cloud deliveries whose task id was probably seen before.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.decisions, m.sendFailures, m.ledgerEntries, m.cloudAccepted, m.duplicates)
	}
	return m
}

func (m *Metrics) observeDecision(o Outcome) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(o.String()).Inc()
}

func (m *Metrics) observeSendFailure(kind core.MessageKind) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) observeCloudAccept(duplicate bool) {
	if m == nil {
		return
	}
	m.cloudAccepted.Inc()
	if duplicate {
		m.duplicates.Inc()
	}
}

// SetLedgerEntries publishes the current ledger size.
func (m *Metrics) SetLedgerEntries(n int) {
	if m == nil {
		return
	}
	m.ledgerEntries.Set(float64(n))
}
