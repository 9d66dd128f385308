// Package metrics exposes the coordinator's in-process Prometheus
// instrumentation (registry partition sizes, heartbeat expirations,
// round phase). The metrics *backend* (the `metric_store` config
// section, an InfluxDB-equivalent) is an external collaborator and a
// Non-goal (§1); these collectors are the ambient observability the
// teacher always wires regardless, using its existing
// prometheus/client_golang dependency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors bundles every gauge/counter the coordinator core feeds.
type Collectors struct {
	ParticipantsWaiting  prometheus.Gauge
	ParticipantsSelected prometheus.Gauge
	ParticipantsDone     prometheus.Gauge
	ParticipantsIgnored  prometheus.Gauge
	ParticipantsInactive prometheus.Gauge

	HeartbeatExpirations prometheus.Counter
	RoundsCompleted      prometheus.Counter
	RoundsAborted        prometheus.Counter

	CurrentPhase *prometheus.GaugeVec
}

// NewCollectors constructs and registers every collector against reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		ParticipantsWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xaynet", Subsystem: "coordinator", Name: "participants_waiting",
			Help: "Number of participants currently in the Waiting state.",
		}),
		ParticipantsSelected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xaynet", Subsystem: "coordinator", Name: "participants_selected",
			Help: "Number of participants currently in the Selected state.",
		}),
		ParticipantsDone: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xaynet", Subsystem: "coordinator", Name: "participants_done",
			Help: "Number of participants currently in the Done state.",
		}),
		ParticipantsIgnored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xaynet", Subsystem: "coordinator", Name: "participants_ignored",
			Help: "Number of participants currently in the Ignored state.",
		}),
		ParticipantsInactive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xaynet", Subsystem: "coordinator", Name: "participants_done_and_inactive",
			Help: "Number of participants currently in the DoneAndInactive state.",
		}),
		HeartbeatExpirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xaynet", Subsystem: "coordinator", Name: "heartbeat_expirations_total",
			Help: "Total number of heartbeat timer expirations observed.",
		}),
		RoundsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xaynet", Subsystem: "coordinator", Name: "rounds_completed_total",
			Help: "Total number of rounds that reached Idle after Aggregate.",
		}),
		RoundsAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xaynet", Subsystem: "coordinator", Name: "rounds_aborted_total",
			Help: "Total number of rounds aborted back to NewRound.",
		}),
		CurrentPhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "xaynet", Subsystem: "coordinator", Name: "phase",
			Help: "1 for the coordinator's current phase, 0 otherwise.",
		}, []string{"phase"}),
	}

	reg.MustRegister(
		c.ParticipantsWaiting,
		c.ParticipantsSelected,
		c.ParticipantsDone,
		c.ParticipantsIgnored,
		c.ParticipantsInactive,
		c.HeartbeatExpirations,
		c.RoundsCompleted,
		c.RoundsAborted,
		c.CurrentPhase,
	)

	return c
}
