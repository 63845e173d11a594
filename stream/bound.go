package stream

import (
	"math"
	"strings"
)

// BoundKind selects how a Bound limits a range
type BoundKind uint8

const (
	BoundUnbounded BoundKind = iota
	BoundIncluded
	BoundExcluded
)

// Bound is one end of a range query
type Bound struct {
	Kind BoundKind
	ID   EntryID
}

// Unbounded returns a bound that admits every ID
func Unbounded() Bound {
	return Bound{Kind: BoundUnbounded}
}

// Inclusive returns a bound that admits id itself
func Inclusive(id EntryID) Bound {
	return Bound{Kind: BoundIncluded, ID: id}
}

// Exclusive returns a bound that stops just short of id
func Exclusive(id EntryID) Bound {
	return Bound{Kind: BoundExcluded, ID: id}
}

// admitsAbove reports whether id satisfies b used as a lower bound
func (b Bound) admitsAbove(id EntryID) bool {
	switch b.Kind {
	case BoundIncluded:
		return id.Compare(b.ID) >= 0
	case BoundExcluded:
		return id.Compare(b.ID) > 0
	default:
		return true
	}
}

// admitsBelow reports whether id satisfies b used as an upper bound
func (b Bound) admitsBelow(id EntryID) bool {
	switch b.Kind {
	case BoundIncluded:
		return id.Compare(b.ID) <= 0
	case BoundExcluded:
		return id.Compare(b.ID) < 0
	default:
		return true
	}
}

// ParseRangeStart parses the start argument of XRANGE: "-", "+", "ms",
// "ms-seq", optionally prefixed by '(' for an exclusive bound. "+" starts at
// the largest ID.
func ParseRangeStart(s string) (Bound, error) {
	return parseRangeBound(s, "-", 0)
}

// ParseRangeEnd parses the end argument of XRANGE: "+", "-", "ms", "ms-seq",
// optionally prefixed by '(' for an exclusive bound. "-" ends at 0-0.
func ParseRangeEnd(s string) (Bound, error) {
	return parseRangeBound(s, "+", math.MaxUint64)
}

func parseRangeBound(s, open string, defaultSeq uint64) (Bound, error) {
	switch {
	case s == open:
		return Unbounded(), nil
	case s == "-":
		return Inclusive(EntryID{}), nil
	case s == "+":
		return Inclusive(MaxID), nil
	}

	exclusive := strings.HasPrefix(s, "(")
	s = strings.TrimPrefix(s, "(")

	var id EntryID
	if strings.Contains(s, "-") {
		parsed, err := ParseEntryID(s)
		if err != nil {
			return Bound{}, err
		}
		id = parsed
	} else {
		ms, err := parseComponent(s)
		if err != nil {
			return Bound{}, err
		}
		id = EntryID{Ms: ms, Seq: defaultSeq}
	}

	if exclusive {
		return Exclusive(id), nil
	}
	return Inclusive(id), nil
}
