// Package metrics exports server metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "redis_server"

// Collector records server metrics as Prometheus series
type Collector struct {
	// Command metrics
	commandDuration *prometheus.HistogramVec
	commandTotal    *prometheus.CounterVec
	commandErrors   *prometheus.CounterVec

	// Connection metrics
	connectedClients prometheus.Gauge
	connectionsTotal prometheus.Counter
	blockedClients   prometheus.Gauge
	protocolErrors   *prometheus.CounterVec

	// Keyspace metrics
	keys prometheus.Gauge

	// Startup metrics
	snapshotDuration prometheus.Gauge
	snapshotKeys     prometheus.Gauge
	handshakes       *prometheus.CounterVec
	handshakeLatency prometheus.Histogram
}

// New creates a collector and registers its series with reg. A nil reg
// registers with the default registry.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		commandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Duration of commands in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		commandTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Total number of processed commands",
			},
			[]string{"command"},
		),
		commandErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "command_errors_total",
				Help:      "Total number of commands answered with an error",
			},
			[]string{"command"},
		),

		connectedClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connected_clients",
				Help:      "Number of open client connections",
			},
		),
		connectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Total number of accepted connections",
			},
		),
		blockedClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "blocked_clients",
				Help:      "Number of clients waiting in a blocking read",
			},
		),
		protocolErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "protocol_errors_total",
				Help:      "Total number of connections closed by read failures",
			},
			[]string{"kind"},
		),

		keys: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "keys",
				Help:      "Number of live keys",
			},
		),

		snapshotDuration: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "snapshot_load_duration_seconds",
				Help:      "Time spent loading the startup snapshot",
			},
		),
		snapshotKeys: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "snapshot_loaded_keys",
				Help:      "Number of keys loaded from the startup snapshot",
			},
		),
		handshakes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "replication_handshakes_total",
				Help:      "Total number of replication handshakes by result",
			},
			[]string{"result"},
		),
		handshakeLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "replication_handshake_duration_seconds",
				Help:      "Duration of replication handshakes in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}

// RecordCommand records one processed command
func (c *Collector) RecordCommand(cmd string, duration time.Duration, failed bool) {
	c.commandDuration.WithLabelValues(cmd).Observe(duration.Seconds())
	c.commandTotal.WithLabelValues(cmd).Inc()
	if failed {
		c.commandErrors.WithLabelValues(cmd).Inc()
	}
}

// RecordConnection records a connection being opened or closed
func (c *Collector) RecordConnection(opened bool) {
	if opened {
		c.connectionsTotal.Inc()
		c.connectedClients.Inc()
		return
	}
	c.connectedClients.Dec()
}

// RecordBlockedClient adjusts the number of blocked clients by delta
func (c *Collector) RecordBlockedClient(delta int) {
	c.blockedClients.Add(float64(delta))
}

// RecordProtocolError records a connection closed by a read failure of
// the given kind ("decode" or "io")
func (c *Collector) RecordProtocolError(kind string) {
	c.protocolErrors.WithLabelValues(kind).Inc()
}

// RecordKeyCount records the current number of live keys
func (c *Collector) RecordKeyCount(count int64) {
	c.keys.Set(float64(count))
}

// RecordSnapshotLoad records the outcome of the startup snapshot load
func (c *Collector) RecordSnapshotLoad(duration time.Duration, keys int) {
	c.snapshotDuration.Set(duration.Seconds())
	c.snapshotKeys.Set(float64(keys))
}

// RecordHandshake records one replication handshake attempt
func (c *Collector) RecordHandshake(duration time.Duration, err error) {
	c.handshakeLatency.Observe(duration.Seconds())
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.handshakes.WithLabelValues(result).Inc()
}
