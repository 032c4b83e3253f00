// Package metrics exposes Prometheus collectors for the request and
// realtime layers on a registry owned by this client.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "roommate"

var (
	// Registry holds every collector of this package plus the Go runtime collectors.
	Registry = prometheus.NewRegistry()

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Duration of REST calls by method and status code.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "code"},
	)

	Refreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "credential_refresh_total",
			Help:      "Credential refresh attempts by outcome.",
		},
		[]string{"outcome"},
	)

	Replays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "replayed_requests_total",
			Help:      "Requests replayed after a credential refresh, by role in the refresh.",
		},
		[]string{"role"},
	)

	FramesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "frames_received_total",
			Help:      "Inbound realtime frames decoded successfully.",
		},
	)

	FramesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "frames_dropped_total",
			Help:      "Inbound realtime frames dropped because they could not be decoded.",
		},
	)

	FramesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "frames_sent_total",
			Help:      "Outbound realtime frames by type.",
		},
		[]string{"type"},
	)

	OpenChannels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "open_channels",
			Help:      "Realtime channels currently open.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		RequestDuration,
		Refreshes,
		Replays,
		FramesReceived,
		FramesDropped,
		FramesSent,
		OpenChannels,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
