package protocol

import (
	"fmt"
	"strings"
)

// ValueType represents the type of a RESP value
type ValueType byte

const (
	// RESP value types
	TypeSimpleString ValueType = '+'
	TypeError        ValueType = '-'
	TypeBulkString   ValueType = '$'
	TypeArray        ValueType = '*'
	TypeNull         ValueType = '_'
)

// Value represents one RESP value.
//
// The set of kinds is closed: Type selects which fields are meaningful.
// Bulk strings and arrays additionally carry IsNull for their null forms.
type Value struct {
	Type   ValueType
	Str    string  // simple string, bulk string or error message
	Kind   string  // error kind, e.g. "ERR" or "WRONGTYPE"
	Array  []Value // array elements
	IsNull bool
}

// SimpleString returns a simple string value
func SimpleString(s string) Value {
	return Value{Type: TypeSimpleString, Str: s}
}

// BulkString returns a bulk string value
func BulkString(s string) Value {
	return Value{Type: TypeBulkString, Str: s}
}

// NullBulkString returns the null bulk string ($-1)
func NullBulkString() Value {
	return Value{Type: TypeBulkString, IsNull: true}
}

// Array returns an array holding the given elements
func Array(values ...Value) Value {
	if values == nil {
		values = []Value{}
	}
	return Value{Type: TypeArray, Array: values}
}

// NullArray returns the null array (*-1)
func NullArray() Value {
	return Value{Type: TypeArray, IsNull: true}
}

// Null returns the RESP3 null (_)
func Null() Value {
	return Value{Type: TypeNull}
}

// Error returns a simple error value of the given kind
func Error(kind, message string) Value {
	return Value{Type: TypeError, Kind: kind, Str: message}
}

// BulkStrings returns an array of bulk strings
func BulkStrings(items ...string) Value {
	values := make([]Value, len(items))
	for i, item := range items {
		values[i] = BulkString(item)
	}
	return Array(values...)
}

// String returns a string representation of the value
func (v Value) String() string {
	switch v.Type {
	case TypeSimpleString:
		return v.Str
	case TypeError:
		return v.Kind + " " + v.Str
	case TypeBulkString:
		if v.IsNull {
			return "(nil)"
		}
		return v.Str
	case TypeArray:
		if v.IsNull {
			return "(nil)"
		}
		parts := make([]string, len(v.Array))
		for i, item := range v.Array {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case TypeNull:
		return "(nil)"
	default:
		return fmt.Sprintf("unknown type %c", v.Type)
	}
}

// IsError returns true if this is an error value
func (v Value) IsError() bool {
	return v.Type == TypeError
}

// Command represents a Redis command parsed from a RESP array
type Command struct {
	Name string
	Args []string
}

// ParseCommand parses a RESP array value into a Command.
// Command name and arguments may be bulk or simple strings.
func ParseCommand(v Value) (*Command, error) {
	if v.Type != TypeArray || v.IsNull || len(v.Array) == 0 {
		return nil, fmt.Errorf("%w: expected non-empty array, got %s", ErrInvalidCommand, typeName(v))
	}

	parts := make([]string, len(v.Array))
	for i, item := range v.Array {
		if item.IsNull || (item.Type != TypeBulkString && item.Type != TypeSimpleString) {
			return nil, fmt.Errorf("%w: element %d is %s", ErrInvalidCommand, i, typeName(item))
		}
		parts[i] = item.Str
	}

	return &Command{
		Name: strings.ToUpper(parts[0]),
		Args: parts[1:],
	}, nil
}

// String returns a string representation of the command
func (c *Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

func typeName(v Value) string {
	switch v.Type {
	case TypeSimpleString:
		return "simple string"
	case TypeError:
		return "error"
	case TypeBulkString:
		if v.IsNull {
			return "null bulk string"
		}
		return "bulk string"
	case TypeArray:
		if v.IsNull {
			return "null array"
		}
		return "array"
	case TypeNull:
		return "null"
	default:
		return fmt.Sprintf("type %q", byte(v.Type))
	}
}
