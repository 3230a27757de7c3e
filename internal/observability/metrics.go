package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultOK    = "ok"
	ResultError = "error"

	DirectionIn  = "in"
	DirectionOut = "out"
)

var (
	registerOnce sync.Once

	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pgasnet",
			Subsystem: "message",
			Name:      "total",
			Help:      "Messages encoded (out) or dispatched (in) by type.",
		},
		[]string{"direction", "type"},
	)
	protocolViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pgasnet",
			Subsystem: "message",
			Name:      "protocol_violations_total",
			Help:      "Streams abandoned after a framing or field-order violation.",
		},
		[]string{"transport"},
	)
	broadcastForwards = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pgasnet",
			Subsystem: "broadcast",
			Name:      "forwards_total",
			Help:      "Broadcast payloads relayed to spanning-tree children.",
		},
		[]string{"result"},
	)
	broadcastApplies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pgasnet",
			Subsystem: "broadcast",
			Name:      "applies_total",
			Help:      "Broadcast values written into local thread storage.",
		},
		[]string{"result"},
	)
	peerSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pgasnet",
			Subsystem: "transport",
			Name:      "peer_sends_total",
			Help:      "Queued messages written to a peer connection, or dropped after the write or dial failed.",
		},
		[]string{"result"},
	)
	broadcastPayloadBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pgasnet",
			Subsystem: "broadcast",
			Name:      "payload_bytes",
			Help:      "Opaque payload size of received broadcasts.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			messages,
			protocolViolations,
			broadcastForwards,
			broadcastApplies,
			peerSends,
			broadcastPayloadBytes,
		)
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordMessage(direction, messageType string) {
	RegisterMetrics()
	messages.WithLabelValues(direction, messageType).Inc()
}

func RecordProtocolViolation(transport string) {
	RegisterMetrics()
	protocolViolations.WithLabelValues(transport).Inc()
}

func RecordBroadcastForward(ok bool) {
	RegisterMetrics()
	broadcastForwards.WithLabelValues(resultLabel(ok)).Inc()
}

func RecordBroadcastApply(ok bool) {
	RegisterMetrics()
	broadcastApplies.WithLabelValues(resultLabel(ok)).Inc()
}

func RecordPeerSend(ok bool) {
	RegisterMetrics()
	peerSends.WithLabelValues(resultLabel(ok)).Inc()
}

func RecordBroadcastPayload(n int64) {
	RegisterMetrics()
	broadcastPayloadBytes.Observe(float64(n))
}

func resultLabel(ok bool) string {
	if ok {
		return ResultOK
	}
	return ResultError
}
