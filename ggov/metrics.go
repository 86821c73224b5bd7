package ggov

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "ggov"

// Metrics are the prometheus collectors updated by a [Governance].
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	VotesSubmitted prometheus.Counter
	VotesAdmitted  prometheus.Counter
	VotesDuplicate prometheus.Counter
	VotesDropped   *prometheus.CounterVec

	Advances           prometheus.Counter
	HeightMismatches   prometheus.Counter
	Height             prometheus.Gauge
	AgendasWithSupport prometheus.Gauge
}

// Reasons recorded on the VotesDropped counter.
const (
	dropReasonDecode    = "decode"
	dropReasonSignature = "signature"
)

// NewMetrics creates the governance collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		VotesSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "votes_submitted_total",
			Help:      "Votes this node signed and submitted to the log.",
		}),
		VotesAdmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "votes_admitted_total",
			Help:      "Verified votes added to the tally.",
		}),
		VotesDuplicate: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "votes_duplicate_total",
			Help:      "Verified votes whose voter was already tallied for the agenda.",
		}),
		VotesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "votes_dropped_total",
			Help:      "Log messages dropped during ingestion, by reason.",
		}, []string{"reason"}),

		Advances: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "advances_total",
			Help:      "Successful height advances.",
		}),
		HeightMismatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "height_mismatches_total",
			Help:      "Advance calls refused because the asserted height was stale.",
		}),
		Height: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "height",
			Help:      "Current governance height.",
		}),
		AgendasWithSupport: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "agendas",
			Help:      "Agendas with at least one vote at the current height.",
		}),
	}
}

func (m *Metrics) submitted() {
	if m == nil {
		return
	}
	m.VotesSubmitted.Inc()
}

func (m *Metrics) admitted(newVoter bool) {
	if m == nil {
		return
	}
	if newVoter {
		m.VotesAdmitted.Inc()
	} else {
		m.VotesDuplicate.Inc()
	}
}

func (m *Metrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.VotesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) heightMismatch() {
	if m == nil {
		return
	}
	m.HeightMismatches.Inc()
}

func (m *Metrics) setState(height uint64, agendas int, advanced bool) {
	if m == nil {
		return
	}
	if advanced {
		m.Advances.Inc()
	}
	m.Height.Set(float64(height))
	m.AgendasWithSupport.Set(float64(agendas))
}
