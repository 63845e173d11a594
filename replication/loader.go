package replication

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// Logger interface for replication logging
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Error(msg string, fields ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// LoadStats summarizes a snapshot load
type LoadStats struct {
	Version   int
	Databases int
	Keys      int
	Expired   int
	Skipped   int
	Aux       map[string]string
	Duration  time.Duration
}

// storeHandler writes decoded string keys into the store
type storeHandler struct {
	store  storage.Storage
	now    time.Time
	stats  *LoadStats
	logger Logger
}

func (h *storeHandler) OnAux(key, value string) error {
	h.stats.Aux[key] = value
	return nil
}

func (h *storeHandler) OnDatabase(index uint64) error {
	h.stats.Databases++
	if index != 0 {
		h.logger.Debug("Loading keys of non-default database into the keyspace", "db", index)
	}
	return nil
}

func (h *storeHandler) OnResizeDB(keys, expires uint64) error {
	h.logger.Debug("RDB resize hint", "keys", keys, "expires", expires)
	return nil
}

func (h *storeHandler) OnKey(key, value string, expiresAt *time.Time) error {
	if expiresAt != nil && !h.now.Before(*expiresAt) {
		h.stats.Expired++
		return nil
	}
	h.store.Set(key, storage.StringValue{Data: value}, expiresAt)
	h.stats.Keys++
	return nil
}

func (h *storeHandler) OnSkip(key string, valueType byte) error {
	h.stats.Skipped++
	return nil
}

func (h *storeHandler) OnEnd() error {
	return nil
}

// Load parses an RDB stream from r and sets each live string key in store.
// Keys already expired at load time are dropped.
func Load(r io.Reader, store storage.Storage, logger Logger) (LoadStats, error) {
	if logger == nil {
		logger = nopLogger{}
	}

	start := time.Now()
	stats := LoadStats{Aux: make(map[string]string)}
	handler := &storeHandler{
		store:  store,
		now:    start,
		stats:  &stats,
		logger: logger,
	}

	parser := NewRDBParser(r, handler)
	parser.SetLogger(logger)
	err := parser.Parse()
	stats.Version = parser.Version()
	stats.Duration = time.Since(start)
	return stats, err
}

// LoadSnapshot loads the RDB file at path into store. A missing file is
// an empty dataset.
func LoadSnapshot(path string, store storage.Storage, logger Logger) (LoadStats, error) {
	if logger == nil {
		logger = nopLogger{}
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("No snapshot found, starting with an empty dataset", "path", path)
		return LoadStats{Aux: map[string]string{}}, nil
	}
	if err != nil {
		return LoadStats{}, fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	stats, err := Load(f, store, logger)
	if err != nil {
		return stats, fmt.Errorf("loading snapshot %s: %w", path, err)
	}

	logger.Info("Snapshot loaded",
		"path", path,
		"version", stats.Version,
		"keys", stats.Keys,
		"expired", stats.Expired,
		"skipped", stats.Skipped,
		"duration", stats.Duration)
	return stats, nil
}
