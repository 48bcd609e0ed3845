// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesSentTotal counts frames handed to the transport, by command kind
	FramesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightmesh_frames_sent_total",
			Help: "Total number of frames transmitted",
		},
		[]string{"kind"},
	)

	// FramesReceivedTotal counts decoded inbound frames, by command kind
	FramesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightmesh_frames_received_total",
			Help: "Total number of frames received and decoded",
		},
		[]string{"kind"},
	)

	// DecodeErrorsTotal counts dropped inbound frames by failure reason
	DecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightmesh_decode_errors_total",
			Help: "Total number of inbound frames dropped because they failed to decode",
		},
		[]string{"reason"},
	)

	// SendErrorsTotal counts transport transmit failures
	SendErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lightmesh_send_errors_total",
			Help: "Total number of frames the transport failed to transmit",
		},
	)

	// LocalAppliesTotal counts controller commands applied to its own strip
	LocalAppliesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lightmesh_local_applies_total",
			Help: "Total number of commands applied locally instead of transmitted",
		},
	)

	// LivenessAcksTotal counts liveness acknowledgements, by direction
	LivenessAcksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightmesh_liveness_acks_total",
			Help: "Total number of liveness acknowledgements sent or received",
		},
		[]string{"direction"},
	)

	// EngineTicksTotal counts pattern engine ticks
	EngineTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lightmesh_engine_ticks_total",
			Help: "Total number of pattern engine ticks",
		},
	)

	// PatternActive is the active pattern index, -1 when nothing runs
	PatternActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lightmesh_pattern_active",
			Help: "Index of the running pattern, -1 when stopped",
		},
	)

	// DeviceFallbacksTotal counts inactivity fallbacks on a node
	DeviceFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lightmesh_device_fallbacks_total",
			Help: "Total number of times a node turned its strip off after inactivity",
		},
	)

	// MailboxOverwritesTotal counts commands replaced before they were applied
	MailboxOverwritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lightmesh_mailbox_overwrites_total",
			Help: "Total number of unread commands overwritten by a newer one",
		},
	)

	// JobRunsTotal counts scheduler job executions
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightmesh_job_runs_total",
			Help: "Total number of scheduled job runs",
		},
		[]string{"job"},
	)

	// JobDurationSeconds measures scheduled job run time
	JobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lightmesh_job_duration_seconds",
			Help:    "Duration of scheduled job runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 4, 12), // 1µs to ~4s
		},
		[]string{"job"},
	)

	// ControlRequestsTotal counts control plane requests by method and outcome
	ControlRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightmesh_control_requests_total",
			Help: "Total number of control plane requests",
		},
		[]string{"method", "outcome"},
	)
)

// Ack directions for LivenessAcksTotal.
const (
	AckSent     = "sent"
	AckReceived = "received"
)
