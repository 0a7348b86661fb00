// Package metrics exposes Prometheus counters for table loads and monitoring sessions.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/midi-sniffer/backend/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "midi_sniffer"

// Metrics holds the sniffer's Prometheus collectors.
type Metrics struct {
	framesRead       prometheus.Counter
	framesInvalid    prometheus.Counter
	framesUnresolved prometheus.Counter
	hiresCombined    prometheus.Counter
	pairsStale       prometheus.Counter
	summaries        *prometheus.CounterVec
	groupSize        prometheus.Histogram
	activeSessions   prometheus.Gauge
	tableLoads       *prometheus.CounterVec
	tableDiagnostics *prometheus.CounterVec
}

// New creates and registers the collectors. A nil registerer returns nil metrics.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		framesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_read_total",
			Help:      "Frames read from capture sources",
		}),
		framesInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_invalid_total",
			Help:      "Frames rejected by the decoder",
		}),
		framesUnresolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_unresolved_total",
			Help:      "Decoded frames with no lookup entry",
		}),
		hiresCombined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hires_combined_total",
			Help:      "14-bit values assembled from MSB/LSB pairs",
		}),
		pairsStale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hires_stale_total",
			Help:      "Hi-res halves discarded as stale",
		}),
		summaries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_total",
			Help:      "Grouped summaries emitted, by flush reason",
		}, []string{"reason"}),
		groupSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "group_size",
			Help:      "Events collapsed into one summary",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Monitoring sessions currently running",
		}),
		tableLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "table_loads_total",
			Help:      "Mapping table loads, by result",
		}, []string{"result"}),
		tableDiagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "table_diagnostics_total",
			Help:      "Diagnostics recorded while loading tables, by kind",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.framesRead,
		m.framesInvalid,
		m.framesUnresolved,
		m.hiresCombined,
		m.pairsStale,
		m.summaries,
		m.groupSize,
		m.activeSessions,
		m.tableLoads,
		m.tableDiagnostics,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameRead() {
	if m == nil {
		return
	}
	m.framesRead.Inc()
}

func (m *Metrics) FrameInvalid() {
	if m == nil {
		return
	}
	m.framesInvalid.Inc()
}

// EventDecoded records the resolution and pairing outcome of one event.
func (m *Metrics) EventDecoded(ev models.DecodedEvent) {
	if m == nil {
		return
	}
	if ev.Resolved == nil {
		m.framesUnresolved.Inc()
	}
	if ev.HiRes != nil && ev.HiRes.Complete {
		m.hiresCombined.Inc()
	}
}

// PairsStale adds n stale hi-res discards.
func (m *Metrics) PairsStale(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.pairsStale.Add(float64(n))
}

func (m *Metrics) SummaryEmitted(s models.Summary) {
	if m == nil {
		return
	}
	m.summaries.WithLabelValues(string(s.Reason)).Inc()
	m.groupSize.Observe(float64(s.Count))
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionFinished() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// TableLoaded records a table load and its diagnostics. err is the load error, if any.
func (m *Metrics) TableLoaded(diags []models.Diagnostic, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.tableLoads.WithLabelValues("error").Inc()
		return
	}
	m.tableLoads.WithLabelValues("ok").Inc()
	for _, d := range diags {
		m.tableDiagnostics.WithLabelValues(string(d.Kind)).Inc()
	}
}
