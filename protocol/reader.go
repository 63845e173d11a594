package protocol

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"unicode/utf8"
)

const (
	// CRLF is the Redis protocol line terminator
	CRLF = "\r\n"

	// maxBulkSize is the maximum size for bulk strings (512MB, as Redis)
	maxBulkSize = 512 * 1024 * 1024

	// maxArraySize is the maximum size for arrays
	maxArraySize = 1024 * 1024
)

var errLengthRange = errors.New("out of range")

// Reader is a streaming RESP reader. Each call to ReadNext consumes exactly
// one value from the underlying stream.
type Reader struct {
	br      *bufio.Reader
	scratch []byte // Reusable buffer for reading lines
}

// NewReader creates a new streaming RESP reader
func NewReader(r io.Reader) *Reader {
	return &Reader{
		br:      bufio.NewReader(r),
		scratch: make([]byte, 0, 512),
	}
}

// ReadNext reads the next RESP value from the stream.
//
// io.EOF is returned unchanged when the stream ends before the first byte
// of a value; a stream ending inside a value yields io.ErrUnexpectedEOF.
func (r *Reader) ReadNext() (Value, error) {
	typeByte, err := r.br.ReadByte()
	if err != nil {
		return Value{}, err
	}

	v, err := r.readValue(ValueType(typeByte))
	if errors.Is(err, io.EOF) {
		return Value{}, io.ErrUnexpectedEOF
	}
	return v, err
}

// Buffered returns the number of bytes already read from the stream but
// not yet consumed by ReadNext.
func (r *Reader) Buffered() int {
	return r.br.Buffered()
}

func (r *Reader) readValue(t ValueType) (Value, error) {
	switch t {
	case TypeSimpleString:
		return r.readSimpleString()
	case TypeBulkString:
		return r.readBulkString()
	case TypeArray:
		return r.readArray()
	case TypeNull:
		return r.readNull()
	default:
		return Value{}, &UnknownTypeError{Byte: byte(t)}
	}
}

// readSimpleString reads a simple string value
func (r *Reader) readSimpleString() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}
	if !utf8.Valid(line) {
		return Value{}, ErrInvalidUTF8
	}
	return SimpleString(string(line)), nil
}

// readNull reads the terminator that follows the RESP3 null type byte
func (r *Reader) readNull() (Value, error) {
	if err := r.expectCRLF(); err != nil {
		return Value{}, err
	}
	return Null(), nil
}

// readBulkString reads a bulk string value
func (r *Reader) readBulkString() (Value, error) {
	length, err := r.readLength(maxBulkSize)
	if err != nil {
		return Value{}, err
	}
	if length < 0 {
		return NullBulkString(), nil
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r.br, data); err != nil {
		return Value{}, err
	}
	if err := r.expectCRLF(); err != nil {
		return Value{}, err
	}
	if !utf8.Valid(data) {
		return Value{}, ErrInvalidUTF8
	}
	return BulkString(string(data)), nil
}

// readArray reads an array value and each of its elements in order
func (r *Reader) readArray() (Value, error) {
	length, err := r.readLength(maxArraySize)
	if err != nil {
		return Value{}, err
	}
	if length < 0 {
		return NullArray(), nil
	}

	items := make([]Value, length)
	for i := range items {
		typeByte, err := r.br.ReadByte()
		if err != nil {
			return Value{}, err
		}
		items[i], err = r.readValue(ValueType(typeByte))
		if err != nil {
			return Value{}, err
		}
	}
	return Value{Type: TypeArray, Array: items}, nil
}

// readLength reads a signed decimal length line. Any negative length
// denotes the null form of the enclosing type.
func (r *Reader) readLength(limit int64) (int64, error) {
	line, err := r.readLine()
	if err != nil {
		return 0, err
	}
	if !utf8.Valid(line) {
		return 0, ErrInvalidUTF8
	}

	n, err := strconv.ParseInt(string(line), 10, 64)
	if err != nil {
		return 0, &LengthError{Line: string(line), Err: err}
	}
	if n > limit {
		return 0, &LengthError{Line: string(line), Err: errLengthRange}
	}
	return n, nil
}

// readLine reads up to CR and requires the next byte to be LF.
// The returned slice aliases the scratch buffer.
func (r *Reader) readLine() ([]byte, error) {
	r.scratch = r.scratch[:0]
	for {
		chunk, err := r.br.ReadSlice('\r')
		r.scratch = append(r.scratch, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}

	next, err := r.br.ReadByte()
	if err != nil {
		return nil, err
	}
	if next != '\n' {
		return nil, &TerminatorError{First: '\r', Second: next}
	}
	return r.scratch[:len(r.scratch)-1], nil
}

// expectCRLF consumes two bytes that must be "\r\n"
func (r *Reader) expectCRLF() error {
	var pair [2]byte
	if _, err := io.ReadFull(r.br, pair[:]); err != nil {
		return err
	}
	if pair[0] != '\r' || pair[1] != '\n' {
		return &TerminatorError{First: pair[0], Second: pair[1]}
	}
	return nil
}

