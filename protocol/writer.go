package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// errorSanitizer keeps simple errors on a single line
var errorSanitizer = strings.NewReplacer("\r", " ", "\n", " ")

// Writer buffers RESP encoded values until Flush is called
type Writer struct {
	bw *bufio.Writer
}

// NewWriter creates a new RESP protocol writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		bw: bufio.NewWriter(w),
	}
}

// WriteValue writes the encoding of v to the output buffer
func (w *Writer) WriteValue(v Value) error {
	switch v.Type {
	case TypeSimpleString:
		return w.WriteSimpleString(v.Str)
	case TypeError:
		return w.WriteError(v.Kind, v.Str)
	case TypeBulkString:
		if v.IsNull {
			return w.WriteNullBulkString()
		}
		return w.WriteBulkString(v.Str)
	case TypeArray:
		if v.IsNull {
			return w.WriteNullArray()
		}
		return w.WriteArray(v.Array)
	case TypeNull:
		return w.WriteNull()
	default:
		return fmt.Errorf("unsupported value type: %q", byte(v.Type))
	}
}

// WriteSimpleString writes a simple string
func (w *Writer) WriteSimpleString(s string) error {
	w.bw.WriteByte(byte(TypeSimpleString))
	w.bw.WriteString(s)
	return w.writeCRLF()
}

// WriteError writes a simple error as "-{kind} {message}"
func (w *Writer) WriteError(kind, message string) error {
	w.bw.WriteByte(byte(TypeError))
	w.bw.WriteString(errorSanitizer.Replace(kind))
	w.bw.WriteByte(' ')
	w.bw.WriteString(errorSanitizer.Replace(message))
	return w.writeCRLF()
}

// WriteBulkString writes a length-prefixed bulk string
func (w *Writer) WriteBulkString(s string) error {
	w.writeHeader(TypeBulkString, len(s))
	w.bw.WriteString(s)
	return w.writeCRLF()
}

// WriteNullBulkString writes a null bulk string
func (w *Writer) WriteNullBulkString() error {
	w.bw.WriteString("$-1")
	return w.writeCRLF()
}

// WriteArray writes an array of values
func (w *Writer) WriteArray(values []Value) error {
	if err := w.writeHeader(TypeArray, len(values)); err != nil {
		return err
	}
	for _, v := range values {
		if err := w.WriteValue(v); err != nil {
			return err
		}
	}
	return nil
}

// WriteNullArray writes a null array
func (w *Writer) WriteNullArray() error {
	w.bw.WriteString("*-1")
	return w.writeCRLF()
}

// WriteNull writes the RESP3 null
func (w *Writer) WriteNull() error {
	w.bw.WriteByte(byte(TypeNull))
	return w.writeCRLF()
}

// WriteCommand writes a command as an array of bulk strings
func (w *Writer) WriteCommand(args ...string) error {
	if err := w.writeHeader(TypeArray, len(args)); err != nil {
		return err
	}
	for _, arg := range args {
		if err := w.WriteBulkString(arg); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes any buffered data to the underlying writer
func (w *Writer) Flush() error {
	return w.bw.Flush()
}

func (w *Writer) writeHeader(t ValueType, n int) error {
	w.bw.WriteByte(byte(t))
	w.bw.WriteString(strconv.Itoa(n))
	return w.writeCRLF()
}

// writeCRLF terminates the current element. bufio.Writer keeps the first
// write error sticky, so reporting it here covers the preceding writes.
func (w *Writer) writeCRLF() error {
	_, err := w.bw.WriteString(CRLF)
	return err
}
