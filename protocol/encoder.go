package protocol

import (
	"bytes"
	"strconv"
)

// CRLF is the Redis protocol line terminator
const CRLF = "\r\n"

var (
	nullRESP3 = []byte("_\r\n")
	nilBulk   = []byte("$-1\r\n")
	nilArray  = []byte("*-1\r\n")
)

// Sink receives encoded bytes
type Sink interface {
	Write(p []byte) (int, error)

	// Available returns the free capacity, or -1 when unbounded
	Available() int
}

// GrowableSink is an allocating sink backed by a growing byte slice
type GrowableSink struct {
	buf []byte
}

// NewGrowableSink returns a sink that appends to buf
func NewGrowableSink(buf []byte) *GrowableSink {
	return &GrowableSink{buf: buf}
}

func (s *GrowableSink) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// Available always reports an unbounded sink
func (s *GrowableSink) Available() int { return -1 }

// Bytes returns the bytes written so far
func (s *GrowableSink) Bytes() []byte { return s.buf }

// Len returns the number of bytes written so far
func (s *GrowableSink) Len() int { return len(s.buf) }

// Reset empties the sink, keeping its capacity
func (s *GrowableSink) Reset() { s.buf = s.buf[:0] }

// FixedSink writes into a caller-provided array and never allocates. A value
// that does not fit is measured and rejected before any byte is written.
type FixedSink struct {
	buf []byte
	n   int
}

// NewFixedSink returns a sink whose capacity is len(buf)
func NewFixedSink(buf []byte) *FixedSink {
	return &FixedSink{buf: buf[:len(buf):len(buf)]}
}

func (s *FixedSink) Write(p []byte) (int, error) {
	if len(p) > s.Available() {
		return 0, ErrCapacityExceeded
	}
	n := copy(s.buf[s.n:], p)
	s.n += n
	return n, nil
}

// Available returns the free capacity
func (s *FixedSink) Available() int { return len(s.buf) - s.n }

// Bytes returns the bytes written so far
func (s *FixedSink) Bytes() []byte { return s.buf[:s.n] }

// Len returns the number of bytes written so far
func (s *FixedSink) Len() int { return s.n }

// Reset empties the sink
func (s *FixedSink) Reset() { s.n = 0 }

// Encoder renders values to their canonical wire form for one protocol
// generation. It never downgrades a RESP3 value to a RESP2 shape.
//
// An Encoder is not safe for concurrent use.
type Encoder struct {
	cfg     Config
	scratch []byte
}

// NewEncoder creates an encoder for cfg
func NewEncoder(cfg Config) *Encoder {
	return &Encoder{cfg: cfg.normalized()}
}

// Config returns the configuration the encoder was built with
func (e *Encoder) Config() Config {
	return e.cfg
}

// Encode writes v to sink. Nothing is written when an error is returned,
// except for errors reported by the sink itself.
func (e *Encoder) Encode(v Value, sink Sink) error {
	var (
		out []byte
		err error
	)

	switch s := sink.(type) {
	case *GrowableSink:
		n := len(s.buf)
		out, err = e.appendValue(s.buf, v, 0)
		if err != nil {
			s.buf = s.buf[:n]
			e.cfg.Stats.recordEncodeError()
			return err
		}
		s.buf = out
		e.cfg.Stats.recordEncoded(len(out) - n)
		return nil

	case *FixedSink:
		// sizing first keeps an oversized value off the heap
		n, err := e.encodedLen(v, 0)
		if err == nil && n > s.Available() {
			err = e.capacityError(n, s.Available())
		}
		if err != nil {
			e.cfg.Stats.recordEncodeError()
			return err
		}
		if _, err = e.appendValue(s.buf[s.n:s.n], v, 0); err != nil {
			e.cfg.Stats.recordEncodeError()
			return err
		}
		s.n += n
		e.cfg.Stats.recordEncoded(n)
		return nil
	}

	if avail := sink.Available(); avail >= 0 {
		n, err := e.encodedLen(v, 0)
		if err == nil && n > avail {
			err = e.capacityError(n, avail)
		}
		if err != nil {
			e.cfg.Stats.recordEncodeError()
			return err
		}
	}

	out, err = e.appendValue(e.scratch[:0], v, 0)
	e.scratch = out
	if err != nil {
		e.cfg.Stats.recordEncodeError()
		return err
	}
	if _, err := sink.Write(out); err != nil {
		return err
	}
	e.cfg.Stats.recordEncoded(len(out))
	return nil
}

// Append appends the encoding of v to dst
func (e *Encoder) Append(dst []byte, v Value) ([]byte, error) {
	n := len(dst)
	out, err := e.appendValue(dst, v, 0)
	if err != nil {
		e.cfg.Stats.recordEncodeError()
		return dst[:n], err
	}
	e.cfg.Stats.recordEncoded(len(out) - n)
	return out, nil
}

// AppendValue appends the encoding of v under cfg to dst
func AppendValue(dst []byte, v Value, cfg Config) ([]byte, error) {
	return NewEncoder(cfg).Append(dst, v)
}

// AppendCommand appends a request array of bulk strings to dst. It is valid
// under both protocol generations.
func AppendCommand(dst []byte, args ...[]byte) []byte {
	dst = appendHeader(dst, TypeArray, int64(len(args)))
	for _, arg := range args {
		dst = appendHeader(dst, TypeBulkString, int64(len(arg)))
		dst = append(dst, arg...)
		dst = append(dst, CRLF...)
	}
	return dst
}

func (e *Encoder) errorf(kind Kind, format string, args ...interface{}) error {
	return newError(e.cfg.PlainErrors, kind, -1, format, args...)
}

// capacityError does not allocate under PlainErrors
func (e *Encoder) capacityError(need, avail int) error {
	if e.cfg.PlainErrors {
		return ErrCapacityExceeded
	}
	return e.errorf(ErrCapacityExceeded, "value needs %d bytes, %d available", need, avail)
}

// check rejects values the active protocol cannot carry unchanged
func (e *Encoder) check(v Value) error {
	// null is the one RESP3 variant with a RESP2 form
	if v.Type.IsRESP3() && v.Type != TypeNull && e.cfg.Protocol < RESP3 {
		return e.errorf(ErrUnsupportedVariant, "%s cannot be encoded as %s", v.Type, e.cfg.Protocol)
	}
	if len(v.Attrs) > 0 && e.cfg.Protocol < RESP3 {
		return e.errorf(ErrUnsupportedVariant, "attributes cannot be encoded as %s", e.cfg.Protocol)
	}

	switch v.Type {
	case TypeSimpleString, TypeError:
		if bytes.IndexAny(v.Data, CRLF) >= 0 {
			return e.errorf(ErrMalformed, "%s contains CR or LF", v.Type)
		}
	case TypeBigNumber:
		if !validBigNumber(v.Data, true) {
			return e.errorf(ErrMalformed, "invalid big number: %q", v.Data)
		}
	case TypeVerbatimString:
		for _, c := range v.Format {
			if c == 0 || c == ':' || c == '\r' || c == '\n' {
				return e.errorf(ErrMalformed, "invalid verbatim format %q", string(v.Format[:]))
			}
		}
	case TypeAttribute:
		return e.errorf(ErrUnsupportedVariant, "a bare attribute is not a value")
	case TypeInteger, TypeBulkString, TypeArray, TypeNull, TypeBoolean, TypeDouble,
		TypeBulkError, TypeMap, TypeSet, TypePush:
	default:
		return e.errorf(ErrUnsupportedVariant, "unsupported value type: %s", v.Type)
	}
	return nil
}

func (e *Encoder) appendValue(dst []byte, v Value, depth int) ([]byte, error) {
	if err := e.check(v); err != nil {
		return dst, err
	}

	if len(v.Attrs) > 0 {
		var err error
		if dst, err = e.appendPairs(dst, TypeAttribute, v.Attrs, depth); err != nil {
			return dst, err
		}
	}

	switch v.Type {
	case TypeSimpleString, TypeError, TypeBigNumber:
		dst = append(dst, byte(v.Type))
		dst = append(dst, v.Data...)
		return append(dst, CRLF...), nil

	case TypeInteger:
		dst = append(dst, byte(TypeInteger))
		dst = strconv.AppendInt(dst, v.Integer, 10)
		return append(dst, CRLF...), nil

	case TypeBulkString:
		if v.IsNull {
			return e.appendNull(dst, nilBulk), nil
		}
		return appendBulk(dst, TypeBulkString, v.Data), nil

	case TypeArray:
		if v.IsNull {
			return e.appendNull(dst, nilArray), nil
		}
		return e.appendElems(dst, TypeArray, v.Array, depth)

	case TypeNull:
		return e.appendNull(dst, nilBulk), nil

	case TypeBoolean:
		if v.Bool {
			return append(dst, "#t\r\n"...), nil
		}
		return append(dst, "#f\r\n"...), nil

	case TypeDouble:
		dst = append(dst, byte(TypeDouble))
		dst = appendDouble(dst, v.Double)
		return append(dst, CRLF...), nil

	case TypeBulkError:
		return appendBulk(dst, TypeBulkError, v.Data), nil

	case TypeVerbatimString:
		dst = appendHeader(dst, TypeVerbatimString, int64(len(v.Data)+4))
		dst = append(dst, v.Format[:]...)
		dst = append(dst, ':')
		dst = append(dst, v.Data...)
		return append(dst, CRLF...), nil

	case TypeMap:
		return e.appendPairs(dst, TypeMap, v.Map, depth)

	default: // set, push
		return e.appendElems(dst, v.Type, v.Array, depth)
	}
}

// encodedLen returns the number of bytes appendValue would produce for v,
// failing the same way it would. It never allocates for a valid value.
func (e *Encoder) encodedLen(v Value, depth int) (int, error) {
	if err := e.check(v); err != nil {
		return 0, err
	}

	var n int
	if len(v.Attrs) > 0 {
		var err error
		if n, err = e.pairsLen(v.Attrs, depth); err != nil {
			return 0, err
		}
	}

	switch v.Type {
	case TypeSimpleString, TypeError, TypeBigNumber:
		return n + len(v.Data) + 3, nil

	case TypeInteger:
		return n + intLen(v.Integer) + 3, nil

	case TypeBulkString:
		if v.IsNull {
			return n + e.nullLen(nilBulk), nil
		}
		return n + bulkLen(v.Data), nil

	case TypeBulkError:
		return n + bulkLen(v.Data), nil

	case TypeArray:
		if v.IsNull {
			return n + e.nullLen(nilArray), nil
		}
		m, err := e.elemsLen(v.Array, depth)
		return n + m, err

	case TypeNull:
		return n + e.nullLen(nilBulk), nil

	case TypeBoolean:
		return n + 4, nil

	case TypeDouble:
		var tmp [32]byte
		return n + len(appendDouble(tmp[:0], v.Double)) + 3, nil

	case TypeVerbatimString:
		return n + headerLen(int64(len(v.Data)+4)) + len(v.Data) + 6, nil

	case TypeMap:
		m, err := e.pairsLen(v.Map, depth)
		return n + m, err

	default: // set, push
		m, err := e.elemsLen(v.Array, depth)
		return n + m, err
	}
}

func (e *Encoder) elemsLen(elems []Value, depth int) (int, error) {
	if depth >= e.cfg.MaxDepth {
		return 0, e.errorf(ErrNestingTooDeep, "nesting exceeds %d levels", e.cfg.MaxDepth)
	}
	n := headerLen(int64(len(elems)))
	for _, elem := range elems {
		m, err := e.encodedLen(elem, depth+1)
		if err != nil {
			return 0, err
		}
		n += m
	}
	return n, nil
}

func (e *Encoder) pairsLen(pairs []KeyValue, depth int) (int, error) {
	if depth >= e.cfg.MaxDepth {
		return 0, e.errorf(ErrNestingTooDeep, "nesting exceeds %d levels", e.cfg.MaxDepth)
	}
	n := headerLen(int64(len(pairs)))
	for _, kv := range pairs {
		k, err := e.encodedLen(kv.Key, depth+1)
		if err != nil {
			return 0, err
		}
		v, err := e.encodedLen(kv.Value, depth+1)
		if err != nil {
			return 0, err
		}
		n += k + v
	}
	return n, nil
}

func (e *Encoder) nullLen(resp2 []byte) int {
	if e.cfg.Protocol == RESP3 {
		return len(nullRESP3)
	}
	return len(resp2)
}

func bulkLen(data []byte) int {
	return headerLen(int64(len(data))) + len(data) + 2
}

// headerLen is the size of a marker, a decimal count and CRLF
func headerLen(n int64) int {
	return intLen(n) + 3
}

func intLen(n int64) int {
	u, l := uint64(n), 1
	if n < 0 {
		u, l = uint64(-n), 2
	}
	for u >= 10 {
		u /= 10
		l++
	}
	return l
}

func (e *Encoder) appendNull(dst []byte, resp2 []byte) []byte {
	if e.cfg.Protocol == RESP3 {
		return append(dst, nullRESP3...)
	}
	return append(dst, resp2...)
}

func (e *Encoder) appendElems(dst []byte, t ValueType, elems []Value, depth int) ([]byte, error) {
	if depth >= e.cfg.MaxDepth {
		return dst, e.errorf(ErrNestingTooDeep, "nesting exceeds %d levels", e.cfg.MaxDepth)
	}
	dst = appendHeader(dst, t, int64(len(elems)))
	var err error
	for _, elem := range elems {
		if dst, err = e.appendValue(dst, elem, depth+1); err != nil {
			return dst, err
		}
	}
	return dst, nil
}

func (e *Encoder) appendPairs(dst []byte, t ValueType, pairs []KeyValue, depth int) ([]byte, error) {
	if depth >= e.cfg.MaxDepth {
		return dst, e.errorf(ErrNestingTooDeep, "nesting exceeds %d levels", e.cfg.MaxDepth)
	}
	dst = appendHeader(dst, t, int64(len(pairs)))
	var err error
	for _, kv := range pairs {
		if dst, err = e.appendValue(dst, kv.Key, depth+1); err != nil {
			return dst, err
		}
		if dst, err = e.appendValue(dst, kv.Value, depth+1); err != nil {
			return dst, err
		}
	}
	return dst, nil
}

func appendHeader(dst []byte, t ValueType, n int64) []byte {
	dst = append(dst, byte(t))
	dst = strconv.AppendInt(dst, n, 10)
	return append(dst, CRLF...)
}

func appendBulk(dst []byte, t ValueType, data []byte) []byte {
	dst = appendHeader(dst, t, int64(len(data)))
	dst = append(dst, data...)
	return append(dst, CRLF...)
}
