// Package metrics exposes the runtime's Prometheus counters and gauges.
// No example repo in the retrieval pack instruments itself with
// prometheus/client_golang; this package is an out-of-pack addition
// using the ecosystem's standard client rather than hand-rolled
// counters, since the runtime's operational surface (frames, active
// connections and channels, reconnects) is exactly what a Prometheus
// registry is for.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	FramesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "distant",
		Name:      "frames_sent_total",
		Help:      "Frames written to a transport, by transport kind.",
	}, []string{"transport"})

	FramesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "distant",
		Name:      "frames_received_total",
		Help:      "Frames read from a transport, by transport kind.",
	}, []string{"transport"})

	Reconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "distant",
		Name:      "reconnects_total",
		Help:      "Transport reconnect attempts, by outcome.",
	}, []string{"outcome"})

	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "distant",
		Name:      "active_connections",
		Help:      "Connections currently registered with the manager.",
	})

	ActiveChannels = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "distant",
		Name:      "active_channels",
		Help:      "Open channels currently multiplexed across all connections.",
	})

	AuthAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "distant",
		Name:      "auth_attempts_total",
		Help:      "Authentication attempts, by method and outcome.",
	}, []string{"method", "outcome"})
)

// Register adds every collector in this package to reg. Call once at
// process startup; reg is normally prometheus.DefaultRegisterer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		FramesSent, FramesReceived, Reconnects,
		ActiveConnections, ActiveChannels, AuthAttempts,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
