package storage

import (
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/stream"
)

// ValueType represents the Redis data type
type ValueType int

const (
	ValueTypeNone ValueType = iota
	ValueTypeString
	ValueTypeStream
)

// String returns the Redis-compatible type name
func (vt ValueType) String() string {
	switch vt {
	case ValueTypeString:
		return "string"
	case ValueTypeStream:
		return "stream"
	default:
		return "none"
	}
}

// Value is a stored value. The set of implementations is closed:
// StringValue and StreamValue.
type Value interface {
	Type() ValueType
	sealed()
}

// StringValue represents a string value
type StringValue struct {
	Data string
}

func (StringValue) Type() ValueType { return ValueTypeString }
func (StringValue) sealed()         {}

// StreamValue represents a stream value
type StreamValue struct {
	Stream *stream.Stream
}

func (StreamValue) Type() ValueType { return ValueTypeStream }
func (StreamValue) sealed()         {}

// record is one entry of the key space
type record struct {
	value     Value
	expiresAt *time.Time
}

// liveAt reports whether the record has no expiry or now is strictly before it
func (r *record) liveAt(now time.Time) bool {
	return r.expiresAt == nil || now.Before(*r.expiresAt)
}

// copyValue returns a value the caller may keep after the store lock is released
func copyValue(v Value) Value {
	switch v := v.(type) {
	case StringValue:
		return v
	case StreamValue:
		return StreamValue{Stream: v.Stream.Clone()}
	default:
		panic("storage: unknown value type")
	}
}
