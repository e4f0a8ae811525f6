// Package prometheus provides the Prometheus implementation of
// metrics.Metrics.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dreamware/voxroute/internal/metrics"
)

type playerMetrics struct {
	created         *prometheus.CounterVec
	destroyed       *prometheus.CounterVec
	removed         prometheus.Counter
	evicted         *prometheus.CounterVec
	active          prometheus.Gauge
	selectionFailed prometheus.Counter
	nodeAvailable   *prometheus.GaugeVec
	nodePenalty     *prometheus.GaugeVec
}

// New registers the control-plane collectors on reg and returns the
// metrics.Metrics backed by them.
func New(reg prometheus.Registerer) metrics.Metrics {
	m := &playerMetrics{
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxroute_players_created_total",
			Help: "Total number of players bound to a node",
		}, []string{"node"}),

		destroyed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxroute_players_destroyed_total",
			Help: "Total number of destroyed players by teardown outcome",
		}, []string{"node", "outcome"}),

		removed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxroute_players_removed_total",
			Help: "Total number of players removed from the local cache only",
		}),

		evicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxroute_players_evicted_total",
			Help: "Total number of players evicted because their node was lost",
		}, []string{"node"}),

		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voxroute_players_active",
			Help: "Number of players currently mapped to a guild",
		}),

		selectionFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxroute_node_selection_failures_total",
			Help: "Total number of player creations that found no available node",
		}),

		nodeAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voxroute_node_available",
			Help: "Whether a node accepts new players (1) or not (0)",
		}, []string{"node"}),

		nodePenalty: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voxroute_node_penalty",
			Help: "Most recent load penalty reported by a node",
		}, []string{"node"}),
	}

	reg.MustRegister(
		m.created,
		m.destroyed,
		m.removed,
		m.evicted,
		m.active,
		m.selectionFailed,
		m.nodeAvailable,
		m.nodePenalty,
	)

	return m
}

func (m *playerMetrics) PlayerCreated(node string) {
	m.created.WithLabelValues(node).Inc()
}

func (m *playerMetrics) PlayerDestroyed(node string, outcome string) {
	m.destroyed.WithLabelValues(node, outcome).Inc()
}

func (m *playerMetrics) PlayerRemoved() {
	m.removed.Inc()
}

func (m *playerMetrics) PlayersEvicted(node string, count int) {
	m.evicted.WithLabelValues(node).Add(float64(count))
}

func (m *playerMetrics) PlayersActive(count int) {
	m.active.Set(float64(count))
}

func (m *playerMetrics) SelectionFailed() {
	m.selectionFailed.Inc()
}

func (m *playerMetrics) NodeAvailability(node string, available bool) {
	v := 0.0
	if available {
		v = 1
	}
	m.nodeAvailable.WithLabelValues(node).Set(v)
}

func (m *playerMetrics) NodePenalty(node string, penalty float64) {
	m.nodePenalty.WithLabelValues(node).Set(penalty)
}
