// Package telemetry holds the Prometheus collectors the server updates as
// it runs. Collectors register against the default registry; the server
// binary exposes them over /metrics when a metrics address is configured.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Members tracks the current size of the membership registry.
	Members = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "huddle",
		Name:      "members",
		Help:      "Current number of registered members.",
	})

	// Connections tracks connections accepted but not yet cleaned up,
	// including ones that never pass the join handshake.
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "huddle",
		Name:      "active_connections",
		Help:      "Current number of open peer connections.",
	})

	// MessagesRelayed counts records the server forwarded between peers,
	// labeled by record kind.
	MessagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "huddle",
		Name:      "messages_relayed_total",
		Help:      "Total records relayed between peers, by kind.",
	}, []string{"kind"})

	// HeartbeatRounds counts started liveness rounds, scheduled and manual.
	HeartbeatRounds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "huddle",
		Name:      "heartbeat_rounds_total",
		Help:      "Total heartbeat rounds started.",
	})

	// HeartbeatRemovals counts members removed for missing the grace window.
	HeartbeatRemovals = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "huddle",
		Name:      "heartbeat_removals_total",
		Help:      "Total members removed by the liveness sweep.",
	})

	// Elections counts coordinator elections, including ones over an empty
	// membership that elect nobody.
	Elections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "huddle",
		Name:      "elections_total",
		Help:      "Total coordinator elections run.",
	})
)

// Handler exposes the default registry for the server binary to mount.
func Handler() http.Handler {
	return promhttp.Handler()
}
