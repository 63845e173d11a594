package redisserver

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// config holds the configuration for a Server
type config struct {
	// Listener settings
	addr        string
	readTimeout time.Duration

	// Snapshot location
	dir        string
	dbFilename string

	// Replication
	replicaOf        string // "host:port" of the primary, empty for a primary
	handshakeTimeout time.Duration

	// Admin endpoint
	adminAddr string
	gatherer  prometheus.Gatherer

	// Store settings
	cleanup storage.CleanupConfig
	extra   map[string]string

	// Observability
	logger         Logger
	metrics        MetricsCollector
	tracerProvider trace.TracerProvider
	keysInterval   time.Duration
}

// defaultConfig returns a configuration with sensible defaults
func defaultConfig() *config {
	return &config{
		addr:             ":6379",
		dir:              ".",
		dbFilename:       "dump.rdb",
		handshakeTimeout: 10 * time.Second,
		cleanup:          storage.CleanupConfigDisabled,
		extra:            make(map[string]string),
		logger:           nopLogger{},
		keysInterval:     5 * time.Second,
	}
}

// Option represents a configuration option for a Server
type Option func(*config) error

// WithAddr sets the address the server listens on
//
// Example:
//
//	WithAddr(":6379")
//	WithAddr("127.0.0.1:0")
func WithAddr(addr string) Option {
	return func(c *config) error {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return &ConfigError{Option: "addr", Value: addr, Err: ErrInvalidConfig}
		}
		c.addr = addr
		return nil
	}
}

// WithDir sets the directory holding the snapshot file
func WithDir(dir string) Option {
	return func(c *config) error {
		if dir == "" {
			return &ConfigError{Option: "dir", Value: dir, Err: ErrInvalidConfig}
		}
		c.dir = dir
		return nil
	}
}

// WithDBFilename sets the name of the snapshot file inside the directory
//
// Example:
//
//	WithDBFilename("dump.rdb")
func WithDBFilename(name string) Option {
	return func(c *config) error {
		if name == "" || strings.ContainsAny(name, `/\`) {
			return &ConfigError{Option: "dbfilename", Value: name, Err: ErrInvalidConfig}
		}
		c.dbFilename = name
		return nil
	}
}

// WithReplicaOf makes the server a replica of the given primary. The address
// is either "host port", as in the Redis replicaof directive, or "host:port".
//
// Example:
//
//	WithReplicaOf("localhost 6379")
func WithReplicaOf(primary string) Option {
	return func(c *config) error {
		addr, err := parseReplicaOf(primary)
		if err != nil {
			return &ConfigError{Option: "replicaof", Value: primary, Err: fmt.Errorf("%w: %v", ErrInvalidConfig, err)}
		}
		c.replicaOf = addr
		return nil
	}
}

// WithHandshakeTimeout bounds the replication handshake
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return ErrInvalidConfig
		}
		c.handshakeTimeout = timeout
		return nil
	}
}

// WithAdminAddr enables the admin HTTP endpoint (/metrics, /healthz, /info)
//
// Example:
//
//	WithAdminAddr(":9121")
func WithAdminAddr(addr string) Option {
	return func(c *config) error {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return &ConfigError{Option: "admin-addr", Value: addr, Err: ErrInvalidConfig}
		}
		c.adminAddr = addr
		return nil
	}
}

// WithGatherer sets the Prometheus registry served on /metrics. The default
// registry is served when unset.
func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(c *config) error {
		c.gatherer = gatherer
		return nil
	}
}

// WithReadTimeout closes client connections idle for longer than timeout
//
// Example:
//
//	WithReadTimeout(5 * time.Minute)
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return ErrInvalidConfig
		}
		c.readTimeout = timeout
		return nil
	}
}

// WithCleanup enables the incremental background sweep of expired keys
//
// Example:
//
//	WithCleanup(storage.CleanupConfigDefault)
func WithCleanup(cleanup storage.CleanupConfig) Option {
	return func(c *config) error {
		c.cleanup = cleanup
		return nil
	}
}

// WithConfig adds a parameter served by CONFIG GET. Names are
// case-insensitive.
//
// Example:
//
//	WithConfig("appendonly", "no")
func WithConfig(name, value string) Option {
	return func(c *config) error {
		if name == "" {
			return &ConfigError{Option: "config", Value: name, Err: ErrInvalidConfig}
		}
		c.extra[strings.ToLower(name)] = value
		return nil
	}
}

// WithLogger sets a custom logger for the server
//
// Example:
//
//	WithLogger(redisserver.NewLogger(os.Stderr, slog.LevelDebug))
func WithLogger(logger Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return ErrInvalidConfig
		}
		c.logger = logger
		return nil
	}
}

// WithMetrics enables metrics collection with the provided collector
//
// Example:
//
//	WithMetrics(metrics.New(prometheus.DefaultRegisterer))
func WithMetrics(collector MetricsCollector) Option {
	return func(c *config) error {
		c.metrics = collector
		return nil
	}
}

// WithTracerProvider sets the provider used for per-command spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) error {
		c.tracerProvider = tp
		return nil
	}
}

// parseReplicaOf normalizes "host port" and "host:port" to "host:port"
func parseReplicaOf(s string) (string, error) {
	s = strings.TrimSpace(s)

	var host, port string
	if fields := strings.Fields(s); len(fields) == 2 {
		host, port = fields[0], fields[1]
	} else {
		var err error
		host, port, err = net.SplitHostPort(s)
		if err != nil {
			return "", err
		}
	}

	if host == "" {
		return "", errors.New("missing host")
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return "", errors.New("invalid port")
	}
	return net.JoinHostPort(host, port), nil
}
