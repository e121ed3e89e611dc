// Package banchometrics exposes the daemon's Prometheus metrics.
package banchometrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const namespace = "gobancho"

// Subsystems.
const (
	subsystemGateway = "gateway"
	subsystemState   = "state"
	subsystemRPC     = "rpc"
)

// Label names.
const (
	labelResult    = "result"
	labelKind      = "kind"
	labelOpcode    = "opcode"
	labelProcedure = "procedure"
	labelOutcome   = "outcome"
)

// RPC outcome label values.
const (
	RPCOutcomeOK    = "ok"
	RPCOutcomeError = "error"
	RPCOutcomePanic = "panic"
)

// Login result label values.
const (
	LoginResultOK        = "ok"
	LoginResultRejected  = "rejected"
	LoginResultThrottled = "throttled"
	LoginResultError     = "error"
)

// Request kind label values.
const (
	RequestKindLogin   = "login"
	RequestKindBancho  = "bancho"
	RequestKindRestart = "restart"
)

// -------------------------------------------------------------------------
// Collector — Prometheus gateway/state metrics
// -------------------------------------------------------------------------

// Collector holds all gobancho Prometheus metrics.
//
// Gauges track live state (sessions, notify backlog); counters track
// traffic volumes and reaper activity for alerting.
type Collector struct {
	// Sessions tracks the number of currently live sessions.
	Sessions prometheus.Gauge

	// NotifyMessages tracks the notify queue backlog.
	NotifyMessages prometheus.Gauge

	// Logins counts login attempts by result.
	Logins *prometheus.CounterVec

	// Requests counts bancho HTTP requests by kind.
	Requests *prometheus.CounterVec

	// PacketsIn counts decoded client packets by opcode.
	PacketsIn *prometheus.CounterVec

	// SessionsReaped counts idle sessions evicted by the reaper.
	SessionsReaped prometheus.Counter

	// MessagesReaped counts notify messages removed by the reaper.
	MessagesReaped prometheus.Counter

	// RequestSeconds observes bancho request latency.
	RequestSeconds prometheus.Histogram

	// RPCCalls counts bancho-state RPC calls by procedure and outcome.
	RPCCalls *prometheus.CounterVec

	// RPCSeconds observes bancho-state RPC latency.
	RPCSeconds prometheus.Histogram
}

// NewCollector creates a Collector with all metrics registered against
// the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.NotifyMessages,
		c.Logins,
		c.Requests,
		c.PacketsIn,
		c.SessionsReaped,
		c.MessagesReaped,
		c.RequestSeconds,
		c.RPCCalls,
		c.RPCSeconds,
	)

	return c
}

// newMetrics creates all metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemState,
			Name:      "sessions",
			Help:      "Number of currently live sessions.",
		}),

		NotifyMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemState,
			Name:      "notify_messages",
			Help:      "Number of retained notify queue messages.",
		}),

		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemGateway,
			Name:      "logins_total",
			Help:      "Total login attempts by result.",
		}, []string{labelResult}),

		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemGateway,
			Name:      "requests_total",
			Help:      "Total bancho HTTP requests by kind.",
		}, []string{labelKind}),

		PacketsIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemGateway,
			Name:      "packets_total",
			Help:      "Total decoded client packets by opcode.",
		}, []string{labelOpcode}),

		SessionsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemState,
			Name:      "sessions_reaped_total",
			Help:      "Total idle sessions evicted by the reaper.",
		}),

		MessagesReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemState,
			Name:      "messages_reaped_total",
			Help:      "Total notify messages removed by the reaper.",
		}),

		RequestSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemGateway,
			Name:      "request_seconds",
			Help:      "Bancho request handling latency.",
			Buckets:   prometheus.DefBuckets,
		}),

		RPCCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemRPC,
			Name:      "calls_total",
			Help:      "Total bancho-state RPC calls by procedure and outcome.",
		}, []string{labelProcedure, labelOutcome}),

		RPCSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemRPC,
			Name:      "call_seconds",
			Help:      "Bancho-state RPC handling latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
