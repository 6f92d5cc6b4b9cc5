package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dialctl",
			Subsystem: "link",
			Name:      "frames_sent_total",
			Help:      "Frames handed to the radio driver.",
		},
		[]string{"type"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dialctl",
			Subsystem: "link",
			Name:      "frames_received_total",
			Help:      "Frames decoded successfully.",
		},
		[]string{"type"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dialctl",
			Subsystem: "link",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped, by reason.",
		},
		[]string{"reason"},
	)
	pairingOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dialctl",
			Subsystem: "pairing",
			Name:      "outcomes_total",
			Help:      "Pairing attempt outcomes.",
		},
		[]string{"outcome"},
	)
	approvedPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dialctl",
			Subsystem: "peers",
			Name:      "approved",
			Help:      "Valid slots in the approved-peer table.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesSent, framesReceived, framesDropped, pairingOutcomes, approvedPeers)
	})
}

func RecordFrameSent(msgType string) {
	RegisterMetrics()
	framesSent.WithLabelValues(msgType).Inc()
}

func RecordFrameReceived(msgType string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(msgType).Inc()
}

func RecordFrameDropped(reason string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(reason).Inc()
}

func RecordPairingOutcome(outcome string) {
	RegisterMetrics()
	pairingOutcomes.WithLabelValues(outcome).Inc()
}

func SetApprovedPeers(n int) {
	RegisterMetrics()
	approvedPeers.Set(float64(n))
}
