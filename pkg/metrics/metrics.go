// Package metrics exposes connection health as Prometheus metrics.
//
// A nil *Recorder is valid and records nothing, so the connection stack does
// not depend on metrics being configured.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "servconn"

// Recorder holds the metrics of one server connection.
type Recorder struct {
	state              *prometheus.GaugeVec
	reconnectAttempts  prometheus.Counter
	logins             prometheus.Counter
	echoRTT            prometheus.Histogram
	echoTimeouts       prometheus.Counter
	closeErrors        *prometheus.CounterVec
	anotherConnIgnored prometheus.Counter
	inboundMessages    prometheus.Counter
	outboundMessages   prometheus.Counter
	states             []string
}

// NewRecorder creates and registers the metrics of a connection speaking
// protocol ("csp" or "d2m"). states lists the connection state names; the
// state gauge is 1 for the current state and 0 for all others.
func NewRecorder(reg prometheus.Registerer, protocol string, states []string) (*Recorder, error) {
	if reg == nil {
		return nil, nil
	}
	labels := prometheus.Labels{"protocol": protocol}

	r := &Recorder{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "connection",
			Name:        "state",
			Help:        "Current connection state (1 for the active state)",
			ConstLabels: labels,
		}, []string{"state"}),

		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "connection",
			Name:        "reconnect_attempts_total",
			Help:        "Connection attempts that ended without staying connected",
			ConstLabels: labels,
		}),

		logins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "connection",
			Name:        "logins_total",
			Help:        "Successful CSP logins",
			ConstLabels: labels,
		}),

		echoRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "monitoring",
			Name:        "echo_rtt_seconds",
			Help:        "Round trip time of echo requests",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			ConstLabels: labels,
		}),

		echoTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "monitoring",
			Name:        "echo_timeouts_total",
			Help:        "Echo requests without a reply in time",
			ConstLabels: labels,
		}),

		closeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "monitoring",
			Name:        "close_errors_total",
			Help:        "Close errors received from the server",
			ConstLabels: labels,
		}, []string{"can_reconnect"}),

		anotherConnIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "monitoring",
			Name:        "another_connection_ignored_total",
			Help:        "Suppressed 'another connection' close errors",
			ConstLabels: labels,
		}),

		inboundMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "end_to_end",
			Name:        "inbound_messages_total",
			Help:        "Messages handed to the task manager",
			ConstLabels: labels,
		}),

		outboundMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "end_to_end",
			Name:        "outbound_messages_total",
			Help:        "Messages sent by the task manager",
			ConstLabels: labels,
		}),

		states: states,
	}

	collectors := []prometheus.Collector{
		r.state, r.reconnectAttempts, r.logins, r.echoRTT, r.echoTimeouts,
		r.closeErrors, r.anotherConnIgnored, r.inboundMessages, r.outboundMessages,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// SetState marks state as the current connection state.
func (r *Recorder) SetState(state string) {
	if r == nil {
		return
	}
	for _, s := range r.states {
		v := 0.0
		if s == state {
			v = 1
		}
		r.state.WithLabelValues(s).Set(v)
	}
}

// ReconnectAttempt counts a failed connection cycle.
func (r *Recorder) ReconnectAttempt() {
	if r == nil {
		return
	}
	r.reconnectAttempts.Inc()
}

// Login counts a completed CSP login.
func (r *Recorder) Login() {
	if r == nil {
		return
	}
	r.logins.Inc()
}

// EchoRTT records an echo round trip.
func (r *Recorder) EchoRTT(rtt time.Duration) {
	if r == nil {
		return
	}
	r.echoRTT.Observe(rtt.Seconds())
}

// EchoTimeout counts a missing echo reply.
func (r *Recorder) EchoTimeout() {
	if r == nil {
		return
	}
	r.echoTimeouts.Inc()
}

// CloseError counts a close error from the server.
func (r *Recorder) CloseError(canReconnect bool) {
	if r == nil {
		return
	}
	label := "false"
	if canReconnect {
		label = "true"
	}
	r.closeErrors.WithLabelValues(label).Inc()
}

// AnotherConnectionIgnored counts a suppressed "another connection" error.
func (r *Recorder) AnotherConnectionIgnored() {
	if r == nil {
		return
	}
	r.anotherConnIgnored.Inc()
}

// InboundMessage counts a message handed to the task manager.
func (r *Recorder) InboundMessage() {
	if r == nil {
		return
	}
	r.inboundMessages.Inc()
}

// OutboundMessage counts a message sent by the task manager.
func (r *Recorder) OutboundMessage() {
	if r == nil {
		return
	}
	r.outboundMessages.Inc()
}
