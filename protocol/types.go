package protocol

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueType represents the type of a RESP value. Its numeric value is the
// marker byte that introduces the value on the wire.
type ValueType byte

const (
	// RESP2 value types
	TypeSimpleString ValueType = '+'
	TypeError        ValueType = '-'
	TypeInteger      ValueType = ':'
	TypeBulkString   ValueType = '$'
	TypeArray        ValueType = '*'

	// RESP3 value types
	TypeNull           ValueType = '_'
	TypeBoolean        ValueType = '#'
	TypeDouble         ValueType = ','
	TypeBigNumber      ValueType = '('
	TypeBulkError      ValueType = '!'
	TypeVerbatimString ValueType = '='
	TypeMap            ValueType = '%'
	TypeSet            ValueType = '~'
	TypePush           ValueType = '>'
	TypeAttribute      ValueType = '|'
)

// String returns the human readable name of the type
func (t ValueType) String() string {
	switch t {
	case TypeSimpleString:
		return "simple-string"
	case TypeError:
		return "error"
	case TypeInteger:
		return "integer"
	case TypeBulkString:
		return "bulk-string"
	case TypeArray:
		return "array"
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "boolean"
	case TypeDouble:
		return "double"
	case TypeBigNumber:
		return "big-number"
	case TypeBulkError:
		return "bulk-error"
	case TypeVerbatimString:
		return "verbatim-string"
	case TypeMap:
		return "map"
	case TypeSet:
		return "set"
	case TypePush:
		return "push"
	case TypeAttribute:
		return "attribute"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// IsRESP3 reports whether the type only exists in RESP3
func (t ValueType) IsRESP3() bool {
	switch t {
	case TypeNull, TypeBoolean, TypeDouble, TypeBigNumber, TypeBulkError,
		TypeVerbatimString, TypeMap, TypeSet, TypePush, TypeAttribute:
		return true
	}
	return false
}

// Valid reports whether t is a known marker
func (t ValueType) Valid() bool {
	switch t {
	case TypeSimpleString, TypeError, TypeInteger, TypeBulkString, TypeArray:
		return true
	}
	return t.IsRESP3()
}

// isAggregate reports whether a header of type t carries an element count
func (t ValueType) isAggregate() bool {
	switch t {
	case TypeArray, TypeMap, TypeSet, TypePush, TypeAttribute:
		return true
	}
	return false
}

// isBulk reports whether a header of type t carries a payload length
func (t ValueType) isBulk() bool {
	return t == TypeBulkString || t == TypeBulkError || t == TypeVerbatimString
}

// Value represents a parsed RESP value.
//
// Only the fields relevant to Type are meaningful. RESP2 nulls are a bulk
// string or array with IsNull set; RESP3 has the dedicated TypeNull.
type Value struct {
	Type    ValueType
	Data    []byte
	Integer int64
	Double  float64
	Bool    bool
	Format  [3]byte // verbatim string format, e.g. "txt"
	Array   []Value // array, set and push elements
	Map     []KeyValue
	Attrs   []KeyValue // RESP3 attributes that preceded the value
	IsNull  bool
}

// KeyValue is one entry of a RESP3 map or attribute
type KeyValue struct {
	Key   Value
	Value Value
}

// SimpleString returns a simple string value
func SimpleString(s string) Value {
	return Value{Type: TypeSimpleString, Data: []byte(s)}
}

// ErrorReply returns an error value
func ErrorReply(msg string) Value {
	return Value{Type: TypeError, Data: []byte(msg)}
}

// Int returns an integer value
func Int(n int64) Value {
	return Value{Type: TypeInteger, Integer: n}
}

// Bulk returns a bulk string value that aliases b
func Bulk(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{Type: TypeBulkString, Data: b}
}

// BulkString returns a bulk string value
func BulkString(s string) Value {
	return Value{Type: TypeBulkString, Data: []byte(s)}
}

// NullBulk returns the RESP2 null bulk string
func NullBulk() Value {
	return Value{Type: TypeBulkString, IsNull: true}
}

// NullArray returns the RESP2 null array
func NullArray() Value {
	return Value{Type: TypeArray, IsNull: true}
}

// Null returns the RESP3 null
func Null() Value {
	return Value{Type: TypeNull}
}

// Bool returns a RESP3 boolean
func Bool(b bool) Value {
	return Value{Type: TypeBoolean, Bool: b}
}

// Double returns a RESP3 double
func Double(f float64) Value {
	return Value{Type: TypeDouble, Double: f}
}

// BigNumber returns a RESP3 big number from its decimal text
func BigNumber(s string) Value {
	return Value{Type: TypeBigNumber, Data: []byte(s)}
}

// BulkError returns a RESP3 bulk error
func BulkError(msg string) Value {
	return Value{Type: TypeBulkError, Data: []byte(msg)}
}

// Verbatim returns a RESP3 verbatim string. An empty format means "txt";
// otherwise only the first three bytes of format are used, and a shorter
// format fails to encode.
func Verbatim(format, text string) Value {
	if format == "" {
		format = "txt"
	}
	v := Value{Type: TypeVerbatimString, Data: []byte(text)}
	copy(v.Format[:], format)
	return v
}

// Array returns an array of the given elements
func Array(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{Type: TypeArray, Array: elems}
}

// Set returns a RESP3 set of the given elements
func Set(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{Type: TypeSet, Array: elems}
}

// Push returns a RESP3 push message
func Push(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{Type: TypePush, Array: elems}
}

// Map returns a RESP3 map of the given pairs, in order
func Map(pairs ...KeyValue) Value {
	if pairs == nil {
		pairs = []KeyValue{}
	}
	return Value{Type: TypeMap, Map: pairs}
}

// Pair builds a map entry
func Pair(key, value Value) KeyValue {
	return KeyValue{Key: key, Value: value}
}

// WithAttrs returns a copy of v carrying the given attributes
func (v Value) WithAttrs(attrs ...KeyValue) Value {
	v.Attrs = attrs
	return v
}

// String returns a string representation of the value
func (v Value) String() string {
	switch v.Type {
	case TypeSimpleString, TypeError, TypeBulkError, TypeBigNumber:
		return string(v.Data)
	case TypeInteger:
		return strconv.FormatInt(v.Integer, 10)
	case TypeBulkString:
		if v.IsNull {
			return "(nil)"
		}
		return string(v.Data)
	case TypeVerbatimString:
		return string(v.Data)
	case TypeArray, TypeSet, TypePush:
		if v.IsNull {
			return "(nil)"
		}
		parts := make([]string, len(v.Array))
		for i, item := range v.Array {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case TypeMap, TypeAttribute:
		parts := make([]string, len(v.Map))
		for i, kv := range v.Map {
			parts[i] = kv.Key.String() + ": " + kv.Value.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case TypeNull:
		return "(nil)"
	case TypeBoolean:
		return strconv.FormatBool(v.Bool)
	case TypeDouble:
		return strconv.FormatFloat(v.Double, 'g', -1, 64)
	default:
		return fmt.Sprintf("unknown type %c", v.Type)
	}
}

// Bytes returns the byte representation of the value
func (v Value) Bytes() []byte {
	return v.Data
}

// Int returns the integer value, or 0 if not an integer
func (v Value) Int() int64 {
	return v.Integer
}

// FormatString returns the verbatim format as a string
func (v Value) FormatString() string {
	return strings.TrimRight(string(v.Format[:]), "\x00")
}

// IsNil reports whether v is any of the null forms
func (v Value) IsNil() bool {
	return v.Type == TypeNull || (v.IsNull && (v.Type == TypeBulkString || v.Type == TypeArray))
}

// IsError returns true if this is an error value
func (v Value) IsError() bool {
	return v.Type == TypeError || v.Type == TypeBulkError
}

// Error returns the error message if this is an error value
func (v Value) Error() string {
	if v.IsError() {
		return string(v.Data)
	}
	return ""
}

// Clone returns a deep copy of v that shares no memory with it
func (v Value) Clone() Value {
	if v.Data != nil {
		v.Data = append(make([]byte, 0, len(v.Data)), v.Data...)
	}
	if v.Array != nil {
		elems := make([]Value, len(v.Array))
		for i, e := range v.Array {
			elems[i] = e.Clone()
		}
		v.Array = elems
	}
	v.Map = clonePairs(v.Map)
	v.Attrs = clonePairs(v.Attrs)
	return v
}

func clonePairs(pairs []KeyValue) []KeyValue {
	if pairs == nil {
		return nil
	}
	out := make([]KeyValue, len(pairs))
	for i, kv := range pairs {
		out[i] = KeyValue{Key: kv.Key.Clone(), Value: kv.Value.Clone()}
	}
	return out
}

// Equal reports whether v and o are the same value. All null forms are equal
// to each other, NaN doubles are equal to each other, and other doubles are
// compared bit for bit.
func (v Value) Equal(o Value) bool {
	return Equal(v, o)
}

// Equal reports whether a and b are the same value
func Equal(a, b Value) bool {
	if a.IsNil() || b.IsNil() {
		return a.IsNil() && b.IsNil() && pairsEqual(a.Attrs, b.Attrs)
	}
	if a.Type != b.Type || !pairsEqual(a.Attrs, b.Attrs) {
		return false
	}
	switch a.Type {
	case TypeInteger:
		return a.Integer == b.Integer
	case TypeBoolean:
		return a.Bool == b.Bool
	case TypeDouble:
		if math.IsNaN(a.Double) || math.IsNaN(b.Double) {
			return math.IsNaN(a.Double) && math.IsNaN(b.Double)
		}
		return math.Float64bits(a.Double) == math.Float64bits(b.Double)
	case TypeVerbatimString:
		return a.Format == b.Format && bytes.Equal(a.Data, b.Data)
	case TypeArray, TypeSet, TypePush:
		if len(a.Array) != len(b.Array) {
			return false
		}
		for i := range a.Array {
			if !Equal(a.Array[i], b.Array[i]) {
				return false
			}
		}
		return true
	case TypeMap, TypeAttribute:
		return pairsEqual(a.Map, b.Map)
	default:
		return bytes.Equal(a.Data, b.Data)
	}
}

func pairsEqual(a, b []KeyValue) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i].Key, b[i].Key) || !Equal(a[i].Value, b[i].Value) {
			return false
		}
	}
	return true
}
