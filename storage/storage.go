package storage

import (
	"context"
	"errors"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/stream"
)

// ErrWrongType is returned when an operation targets a key holding a
// value of another type
var ErrWrongType = errors.New("operation against a key holding the wrong kind of value")

// Storage defines the keyed store operations used by the command layer
type Storage interface {
	// Set stores value under key, returning the previous value if it was live
	Set(key string, value Value, expiresAt *time.Time) (Value, bool)
	// Get returns a copy of the live value stored under key
	Get(key string) (Value, bool)
	// View calls fn with the live value under the store lock
	View(key string, fn func(Value)) bool
	// Type returns the type of the live value, or ValueTypeNone
	Type(key string) ValueType

	// Stream operations
	InsertStreamEntry(key string, id stream.ProvidedID, fields []stream.Field) (stream.EntryID, error)
	RegisterInsertListener(key string, l stream.Listener) error
	ReadStreams(ctx context.Context, reads []StreamRead, block Block) ([]StreamResult, error)

	// Key operations
	Keys(pattern string) []string
	KeyCount() int

	// Startup configuration
	Config(name string) (string, bool)
	ConfigNames() []string
	ReplicationID() string

	// Shutdown
	Close() error
}

// GetRef applies project to the live value under key while the store lock
// is held, without copying the value.
func GetRef[T any](s Storage, key string, project func(Value) T) (T, bool) {
	var out T
	ok := s.View(key, func(v Value) {
		out = project(v)
	})
	return out, ok
}

// CleanupConfig holds configuration for the optional incremental expiry sweep
type CleanupConfig struct {
	// Interval between sweep cycles; zero disables the sweep
	Interval time.Duration
	// SampleSize is the number of keys to sample per round
	SampleSize int
	// MaxRounds is the maximum number of rounds per cleanup cycle
	MaxRounds int
	// ExpiredThreshold continues cleanup if this fraction of sampled keys are expired
	ExpiredThreshold float64
}

// CleanupConfigDisabled leaves expired keys in place until overwritten
var CleanupConfigDisabled = CleanupConfig{}

// CleanupConfigDefault mirrors the Redis active expire cycle
var CleanupConfigDefault = CleanupConfig{
	Interval:         time.Second,
	SampleSize:       20,
	MaxRounds:        4,
	ExpiredThreshold: 0.25,
}

// CleanupConfigLowLatency keeps each cycle short to minimize lock time
var CleanupConfigLowLatency = CleanupConfig{
	Interval:         time.Second,
	SampleSize:       15,
	MaxRounds:        3,
	ExpiredThreshold: 0.4,
}

// Enabled reports whether the sweep should run
func (c CleanupConfig) Enabled() bool {
	return c.Interval > 0 && c.SampleSize > 0 && c.MaxRounds > 0
}
