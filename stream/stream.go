package stream

import (
	"iter"
	"math"
	"slices"
	"sort"
	"time"
)

// Field is one name/value pair of an entry. Entries keep fields in the
// order they were supplied.
type Field struct {
	Name  string
	Value string
}

// Entry is one item of a stream
type Entry struct {
	ID     EntryID
	Fields []Field
}

// Listener receives the entry of the next insert into a stream.
// Delivery never blocks: a listener channel needs a free buffer slot,
// otherwise the notification is dropped.
type Listener chan<- Entry

// Stream is an append-only log of entries with strictly increasing IDs.
//
// A Stream is not safe for concurrent use; the owning store serializes
// access to it.
type Stream struct {
	entries   []Entry
	last      EntryID
	listeners []Listener
	now       func() time.Time
}

// New creates an empty stream that generates IDs from the wall clock
func New() *Stream {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty stream that generates IDs from now
func NewWithClock(now func() time.Time) *Stream {
	return &Stream{now: now}
}

// Len returns the number of entries
func (s *Stream) Len() int {
	return len(s.entries)
}

// LastID returns the top item ID, or 0-0 for an empty stream
func (s *Stream) LastID() EntryID {
	return s.last
}

// ListenerCount returns the number of registered listeners
func (s *Stream) ListenerCount() int {
	return len(s.listeners)
}

// Insert appends an entry with an ID resolved from provided.
//
// The resolved ID must be strictly greater than the top item; otherwise
// the stream is left unchanged and *OrderError (or ErrZeroID for 0-0) is
// returned. On success every registered listener receives the new entry
// and the listener list is cleared.
func (s *Stream) Insert(provided ProvidedID, fields []Field) (EntryID, error) {
	id, err := s.resolve(provided)
	if err != nil {
		return EntryID{}, err
	}
	if id.IsZero() {
		return EntryID{}, ErrZeroID
	}
	if id.Compare(s.last) <= 0 {
		return EntryID{}, &OrderError{Top: s.last}
	}

	entry := Entry{ID: id, Fields: fields}
	s.entries = append(s.entries, entry)
	s.last = id

	for _, l := range s.listeners {
		select {
		case l <- entry:
		default:
		}
	}
	s.listeners = nil

	return id, nil
}

func (s *Stream) resolve(provided ProvidedID) (EntryID, error) {
	switch provided.kind {
	case providedExplicit:
		return provided.id, nil
	case providedAutoSeq:
		return s.nextInMs(provided.id.Ms)
	case providedAuto:
		ms := uint64(s.now().UnixMilli())
		// A clock behind the top item keeps generating within its millisecond.
		if ms < s.last.Ms {
			ms = s.last.Ms
		}
		return s.nextInMs(ms)
	default:
		panic("stream: unknown provided ID kind")
	}
}

func (s *Stream) nextInMs(ms uint64) (EntryID, error) {
	if ms != s.last.Ms {
		return EntryID{Ms: ms}, nil
	}
	if s.last.Seq == math.MaxUint64 {
		return EntryID{}, &OrderError{Top: s.last}
	}
	return EntryID{Ms: ms, Seq: s.last.Seq + 1}, nil
}

// Listen registers a one-shot listener for the next insert
func (s *Stream) Listen(l Listener) {
	s.listeners = append(s.listeners, l)
}

// Range returns the entries between lo and hi in ascending ID order.
//
// The sequence covers the entries present when Range is called and can be
// iterated any number of times.
func (s *Stream) Range(lo, hi Bound) iter.Seq[Entry] {
	entries := s.entries
	start := sort.Search(len(entries), func(i int) bool {
		return lo.admitsAbove(entries[i].ID)
	})

	return func(yield func(Entry) bool) {
		for _, e := range entries[start:] {
			if !hi.admitsBelow(e.ID) {
				return
			}
			if !yield(e) {
				return
			}
		}
	}
}

// After returns the entries strictly after cursor
func (s *Stream) After(cursor EntryID) iter.Seq[Entry] {
	return s.Range(Exclusive(cursor), Unbounded())
}

// Clone returns a copy of the stream's entries without its listeners.
// Entries are immutable once inserted, so field slices are shared.
func (s *Stream) Clone() *Stream {
	return &Stream{
		entries: slices.Clone(s.entries),
		last:    s.last,
		now:     s.now,
	}
}
