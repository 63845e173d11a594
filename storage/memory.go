package storage

import (
	randv2 "math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/stream"
)

// MemoryStorage implements Storage with one map behind one mutex
type MemoryStorage struct {
	mu   sync.Mutex
	data map[string]*record

	// Immutable after construction
	config        map[string]string
	replicationID string
	now           func() time.Time

	// Background cleanup
	cleanupConfig CleanupConfig
	cleanupStop   chan struct{}
	cleanupDone   chan struct{}
	closeOnce     sync.Once

	// Random number generator for sampling
	rng *randv2.Rand
}

// MemoryOption is a function that configures a MemoryStorage instance
type MemoryOption func(*MemoryStorage)

// WithConfig sets the startup configuration table served by Config.
// The map is copied.
func WithConfig(config map[string]string) MemoryOption {
	return func(s *MemoryStorage) {
		for name, value := range config {
			s.config[name] = value
		}
	}
}

// WithClock replaces the wall clock used for expiry and stream IDs
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStorage) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCleanup enables the incremental expiry sweep
func WithCleanup(config CleanupConfig) MemoryOption {
	return func(s *MemoryStorage) {
		s.cleanupConfig = config
	}
}

// WithReplicationID fixes the replication ID instead of generating one
func WithReplicationID(id string) MemoryOption {
	return func(s *MemoryStorage) {
		s.replicationID = id
	}
}

// NewMemory creates a new in-memory store
func NewMemory(opts ...MemoryOption) *MemoryStorage {
	s := &MemoryStorage{
		data:          make(map[string]*record),
		config:        make(map[string]string),
		now:           time.Now,
		cleanupConfig: CleanupConfigDisabled,
		cleanupStop:   make(chan struct{}),
		cleanupDone:   make(chan struct{}),
		rng:           randv2.New(randv2.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.replicationID == "" {
		s.replicationID = NewReplicationID(s.now())
	}

	if s.cleanupConfig.Enabled() {
		go s.cleanupExpiredKeys()
	} else {
		close(s.cleanupDone)
	}

	return s
}

// liveLocked returns the record under key if it is live. s.mu must be held.
func (s *MemoryStorage) liveLocked(key string) (*record, bool) {
	rec, ok := s.data[key]
	if !ok || !rec.liveAt(s.now()) {
		return nil, false
	}
	return rec, true
}

// Set stores value under key and returns the previous value if it was live
func (s *MemoryStorage) Set(key string, value Value, expiresAt *time.Time) (Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, wasLive := s.liveLocked(key)
	s.data[key] = &record{value: value, expiresAt: copyTime(expiresAt)}

	if !wasLive {
		return nil, false
	}
	return prev.value, true
}

// Get returns a copy of the live value under key
func (s *MemoryStorage) Get(key string) (Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.liveLocked(key)
	if !ok {
		return nil, false
	}
	return copyValue(rec.value), true
}

// View calls fn with the live value under key while the lock is held.
// fn must not retain the value or call back into the store.
func (s *MemoryStorage) View(key string, fn func(Value)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.liveLocked(key)
	if !ok {
		return false
	}
	fn(rec.value)
	return true
}

// Type returns the type of the live value under key
func (s *MemoryStorage) Type(key string) ValueType {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.liveLocked(key)
	if !ok {
		return ValueTypeNone
	}
	return rec.value.Type()
}

// streamLocked returns the stream under key, creating an empty one when
// the key is absent or expired. s.mu must be held.
func (s *MemoryStorage) streamLocked(key string) (*stream.Stream, error) {
	rec, ok := s.liveLocked(key)
	if !ok {
		st := stream.NewWithClock(s.now)
		s.data[key] = &record{value: StreamValue{Stream: st}}
		return st, nil
	}

	sv, ok := rec.value.(StreamValue)
	if !ok {
		return nil, ErrWrongType
	}
	return sv.Stream, nil
}

// InsertStreamEntry appends an entry to the stream under key
func (s *MemoryStorage) InsertStreamEntry(key string, id stream.ProvidedID, fields []stream.Field) (stream.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.streamLocked(key)
	if err != nil {
		return stream.EntryID{}, err
	}
	return st.Insert(id, fields)
}

// RegisterInsertListener registers a one-shot listener on the stream under key
func (s *MemoryStorage) RegisterInsertListener(key string, l stream.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.streamLocked(key)
	if err != nil {
		return err
	}
	st.Listen(l)
	return nil
}

// Keys returns the keys matching pattern. Expired keys that have not been
// overwritten or swept are included.
func (s *MemoryStorage) Keys(pattern string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		if pattern == "" || MatchPattern(key, pattern) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}

// KeyCount returns the number of live keys
func (s *MemoryStorage) KeyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0
	for _, rec := range s.data {
		if rec.liveAt(now) {
			count++
		}
	}
	return count
}

// Config looks up a startup configuration value
func (s *MemoryStorage) Config(name string) (string, bool) {
	value, ok := s.config[name]
	return value, ok
}

// ConfigNames returns the configuration names in sorted order
func (s *MemoryStorage) ConfigNames() []string {
	names := make([]string, 0, len(s.config))
	for name := range s.config {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ReplicationID returns the 40 character replication ID of this instance
func (s *MemoryStorage) ReplicationID() string {
	return s.replicationID
}

// Close stops the background cleanup, if running
func (s *MemoryStorage) Close() error {
	s.closeOnce.Do(func() {
		close(s.cleanupStop)
	})
	<-s.cleanupDone
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
