package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TriageOutcomes counts triage decisions per direction, action and reason
	TriageOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_triage_outcomes_total",
			Help: "Total number of triaged inbound transfers",
		},
		[]string{"direction", "action", "reason"},
	)

	// FetchErrors counts failed source chain polls
	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_fetch_errors_total",
			Help: "Total number of failed source chain fetches",
		},
		[]string{"direction"},
	)

	// Refunds counts refunds by result (sent, failed)
	Refunds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_refunds_total",
			Help: "Total number of refunds issued on the source chain",
		},
		[]string{"direction", "result"},
	)

	// Settlements counts settlements by result (confirmed, submit_failed, confirm_failed)
	Settlements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_settlements_total",
			Help: "Total number of settlements processed from the queue",
		},
		[]string{"direction", "result"},
	)

	// QueueDepth is the number of settlement items waiting
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_queue_depth",
			Help: "Settlement items waiting in the bridge queue",
		},
		[]string{"direction"},
	)

	// Watermark is the block number or unix timestamp of the last advanced watermark
	Watermark = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_watermark_position",
			Help: "Last processed source position (block for log ordering, unix time otherwise)",
		},
		[]string{"direction"},
	)

	// Sweeps counts liquidity sweeps by result
	Sweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_sweeps_total",
			Help: "Total number of liquidity sweeps",
		},
		[]string{"direction", "result"},
	)

	// Halted is 1 when a direction stopped on a protocol anomaly
	Halted = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_direction_halted",
			Help: "Set to 1 when a bridge direction halted on a fatal anomaly",
		},
		[]string{"direction"},
	)
)
