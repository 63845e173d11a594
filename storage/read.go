package storage

import (
	"context"
	"slices"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/stream"
)

// Cursor is the position after which a stream read returns entries.
// Latest selects the stream's top item at the time of the call ("$").
type Cursor struct {
	ID     stream.EntryID
	Latest bool
}

// After returns a cursor positioned at id
func After(id stream.EntryID) Cursor {
	return Cursor{ID: id}
}

// Latest returns a cursor positioned at the stream's current top item
func Latest() Cursor {
	return Cursor{Latest: true}
}

// StreamRead names one stream and the cursor to read after
type StreamRead struct {
	Key    string
	Cursor Cursor
}

// StreamResult holds the entries read from one stream
type StreamResult struct {
	Key     string
	Entries []stream.Entry
}

// Block selects whether and for how long ReadStreams waits for new entries
type Block struct {
	Enabled bool
	// Timeout bounds the wait; zero waits until an insert or cancellation
	Timeout time.Duration
}

// NoBlock returns immediately when no entries are available
func NoBlock() Block {
	return Block{}
}

// BlockFor waits up to timeout; a zero timeout waits indefinitely
func BlockFor(timeout time.Duration) Block {
	return Block{Enabled: true, Timeout: timeout}
}

// ReadStreams returns the entries after each read's cursor, keeping only
// streams with at least one entry. A nil result means no data.
//
// With blocking enabled and no data available, one-shot listeners are
// registered on every stream in the same critical section as the check,
// then the lock is released while waiting for the first notification,
// the timeout or ctx cancellation. Notifications that do not advance
// past a cursor re-register and keep waiting.
func (s *MemoryStorage) ReadStreams(ctx context.Context, reads []StreamRead, block Block) ([]StreamResult, error) {
	s.mu.Lock()

	cursors := make([]stream.EntryID, len(reads))
	for i, r := range reads {
		if !r.Cursor.Latest {
			cursors[i] = r.Cursor.ID
			continue
		}
		top, err := s.lastIDLocked(r.Key)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		cursors[i] = top
	}

	results, err := s.collectLocked(reads, cursors)
	if err != nil || len(results) > 0 || !block.Enabled {
		s.mu.Unlock()
		return results, err
	}

	notify := make(chan stream.Entry, 1)
	if err := s.listenLocked(reads, notify); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	var timeout <-chan time.Time
	if block.Timeout > 0 {
		timer := time.NewTimer(block.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case <-notify:
			s.mu.Lock()
			results, err := s.collectLocked(reads, cursors)
			if err == nil && len(results) == 0 {
				err = s.listenLocked(reads, notify)
			}
			s.mu.Unlock()
			if err != nil || len(results) > 0 {
				return results, err
			}
		case <-timeout:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// lastIDLocked returns the top item of the stream under key, 0-0 when the
// key is absent. s.mu must be held.
func (s *MemoryStorage) lastIDLocked(key string) (stream.EntryID, error) {
	rec, ok := s.liveLocked(key)
	if !ok {
		return stream.EntryID{}, nil
	}
	sv, ok := rec.value.(StreamValue)
	if !ok {
		return stream.EntryID{}, ErrWrongType
	}
	return sv.Stream.LastID(), nil
}

// collectLocked gathers entries after each cursor. s.mu must be held.
func (s *MemoryStorage) collectLocked(reads []StreamRead, cursors []stream.EntryID) ([]StreamResult, error) {
	var results []StreamResult
	for i, r := range reads {
		rec, ok := s.liveLocked(r.Key)
		if !ok {
			continue
		}
		sv, ok := rec.value.(StreamValue)
		if !ok {
			return nil, ErrWrongType
		}
		entries := slices.Collect(sv.Stream.After(cursors[i]))
		if len(entries) > 0 {
			results = append(results, StreamResult{Key: r.Key, Entries: entries})
		}
	}
	return results, nil
}

// listenLocked registers l on every stream named by reads. s.mu must be held.
func (s *MemoryStorage) listenLocked(reads []StreamRead, l stream.Listener) error {
	for _, r := range reads {
		st, err := s.streamLocked(r.Key)
		if err != nil {
			return err
		}
		st.Listen(l)
	}
	return nil
}
