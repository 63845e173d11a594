package stream

import (
	"cmp"
	"math"
	"strconv"
	"strings"
)

// EntryID identifies one stream entry
type EntryID struct {
	Ms  uint64
	Seq uint64
}

// MaxID is the largest representable entry ID
var MaxID = EntryID{Ms: math.MaxUint64, Seq: math.MaxUint64}

// ParseEntryID parses the "ms-seq" form of an entry ID
func ParseEntryID(s string) (EntryID, error) {
	msText, seqText, err := splitID(s)
	if err != nil {
		return EntryID{}, err
	}
	ms, err := parseComponent(msText)
	if err != nil {
		return EntryID{}, err
	}
	seq, err := parseComponent(seqText)
	if err != nil {
		return EntryID{}, err
	}
	return EntryID{Ms: ms, Seq: seq}, nil
}

// Compare returns -1, 0 or +1 ordering by milliseconds, then sequence
func (id EntryID) Compare(other EntryID) int {
	if c := cmp.Compare(id.Ms, other.Ms); c != 0 {
		return c
	}
	return cmp.Compare(id.Seq, other.Seq)
}

// Less reports whether id sorts before other
func (id EntryID) Less(other EntryID) bool {
	return id.Compare(other) < 0
}

// IsZero reports whether id is 0-0
func (id EntryID) IsZero() bool {
	return id.Ms == 0 && id.Seq == 0
}

func (id EntryID) String() string {
	return strconv.FormatUint(id.Ms, 10) + "-" + strconv.FormatUint(id.Seq, 10)
}

type providedKind uint8

const (
	providedExplicit providedKind = iota
	providedAutoSeq
	providedAuto
)

// ProvidedID is the ID a caller supplies on insert: fully explicit,
// explicit milliseconds with a generated sequence, or fully generated.
type ProvidedID struct {
	kind providedKind
	id   EntryID
}

// ExplicitID requests exactly id
func ExplicitID(id EntryID) ProvidedID {
	return ProvidedID{kind: providedExplicit, id: id}
}

// AutoSequence requests the given milliseconds with a generated sequence
func AutoSequence(ms uint64) ProvidedID {
	return ProvidedID{kind: providedAutoSeq, id: EntryID{Ms: ms}}
}

// AutoID requests an ID generated from the wall clock
func AutoID() ProvidedID {
	return ProvidedID{kind: providedAuto}
}

// ParseProvidedID parses "*", "ms-*" or "ms-seq"
func ParseProvidedID(s string) (ProvidedID, error) {
	if s == "*" {
		return AutoID(), nil
	}
	msText, seqText, err := splitID(s)
	if err != nil {
		return ProvidedID{}, err
	}
	ms, err := parseComponent(msText)
	if err != nil {
		return ProvidedID{}, err
	}
	if seqText == "*" {
		return AutoSequence(ms), nil
	}
	seq, err := parseComponent(seqText)
	if err != nil {
		return ProvidedID{}, err
	}
	return ExplicitID(EntryID{Ms: ms, Seq: seq}), nil
}

func (p ProvidedID) String() string {
	switch p.kind {
	case providedAuto:
		return "*"
	case providedAutoSeq:
		return strconv.FormatUint(p.id.Ms, 10) + "-*"
	default:
		return p.id.String()
	}
}

func splitID(s string) (string, string, error) {
	msText, seqText, found := strings.Cut(s, "-")
	if !found {
		return "", "", ErrMissingSeparator
	}
	if strings.Contains(seqText, "-") {
		return "", "", ErrTooManySeparators
	}
	return msText, seqText, nil
}

func parseComponent(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, &NotANumberError{Text: s, Err: err}
	}
	return n, nil
}
