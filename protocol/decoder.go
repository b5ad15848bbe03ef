package protocol

import "bytes"

// state is the position of the decoder within the element it is parsing.
// An element whose aggregate parent is still open is decoded while frames
// are on the stack, which is the ReadingChildren phase of the machine.
type state uint8

const (
	stateAwaitingType state = iota
	stateReadingHeader
	stateReadingBody
	stateFailed
)

// preallocLimit caps the capacity reserved for an aggregate before its
// children have actually arrived
const preallocLimit = 1024

// frame is an aggregate whose children are still being decoded
type frame struct {
	typ       ValueType
	remaining int64 // children still expected, two per map pair
	elems     []Value
	attrs     []KeyValue // attribute waiting for the next child
}

// Decoder is a resumable RESP parser. It turns a byte stream, delivered in
// arbitrary fragments, into one Value per successful DecodeNext call.
//
// When the input ends mid-value DecodeNext returns ErrIncomplete and leaves
// the buffer untouched. The decoder remembers how far it got, so the next
// call must present the same undecoded tail, optionally extended with newly
// arrived bytes.
//
// Aggregates are decoded with an explicit frame stack sized to MaxDepth at
// construction, never with call-stack recursion.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	cfg Config

	state   state
	pos     int // bytes of the current top-level value already parsed
	seen    int // input length examined by the previous incomplete call
	start   int // offset of the type marker of the element being parsed
	scan    int // where the next line-terminator search resumes
	typ     ValueType
	bodyLen int

	stack []frame
	attrs []KeyValue // attribute waiting for the next top-level value
	err   error
}

// NewDecoder creates a decoder for cfg. Zero limits take their defaults.
func NewDecoder(cfg Config) *Decoder {
	cfg = cfg.normalized()
	return &Decoder{
		cfg:   cfg,
		stack: make([]frame, 0, cfg.MaxDepth),
	}
}

// Config returns the configuration the decoder was built with
func (d *Decoder) Config() Config {
	return d.cfg
}

// Pending reports whether a partially decoded value is held
func (d *Decoder) Pending() bool {
	return d.pos > 0 || d.state == stateReadingHeader || d.state == stateReadingBody
}

// Reset discards any partial state, including a previous failure
func (d *Decoder) Reset() {
	for i := range d.stack {
		d.stack[i] = frame{}
	}
	d.stack = d.stack[:0]
	d.state = stateAwaitingType
	d.pos, d.seen, d.start, d.scan, d.bodyLen = 0, 0, 0, 0, 0
	d.attrs = nil
	d.err = nil
}

// DecodeNext decodes the next value from the unconsumed bytes of b.
//
// On success b is advanced past the value. On ErrIncomplete b is unchanged.
// Any other error is fatal: the decoder keeps returning it until Reset.
func (d *Decoder) DecodeNext(b *Buffer) (Value, error) {
	if d.state == stateFailed {
		return Value{}, d.err
	}

	in := b.Remaining()
	if len(in) < d.seen {
		return Value{}, d.fail(d.errorf(ErrOutOfBounds, len(in),
			"input shorter than the %d bytes already examined", d.seen))
	}

	v, err := d.run(in)
	if err != nil {
		if err == ErrIncomplete {
			d.seen = len(in)
			d.cfg.Stats.recordIncomplete()
			return Value{}, ErrIncomplete
		}
		return Value{}, d.fail(err)
	}

	n := d.pos
	d.Reset()
	_ = b.Advance(n)
	d.cfg.Stats.recordDecoded(n)
	return v, nil
}

func (d *Decoder) fail(err error) error {
	d.state = stateFailed
	d.err = err
	d.cfg.Stats.recordDecodeError()
	return err
}

func (d *Decoder) errorf(kind Kind, offset int, format string, args ...interface{}) error {
	return newError(d.cfg.PlainErrors, kind, offset, format, args...)
}

func (d *Decoder) run(in []byte) (Value, error) {
	for {
		var (
			v    Value
			done bool
			err  error
		)

		switch d.state {
		case stateAwaitingType:
			if d.pos >= len(in) {
				return Value{}, ErrIncomplete
			}
			if err := d.checkType(ValueType(in[d.pos])); err != nil {
				return Value{}, err
			}
			d.typ = ValueType(in[d.pos])
			d.start = d.pos
			d.scan = d.pos + 1
			d.state = stateReadingHeader
			continue

		case stateReadingHeader:
			var line []byte
			var next int
			line, next, err = d.readLine(in)
			if err != nil {
				return Value{}, err
			}
			v, done, err = d.header(line, next)

		case stateReadingBody:
			v, err = d.body(in)
			done = err == nil
		}

		if err != nil {
			return Value{}, err
		}
		if !done {
			continue
		}
		if v, ok := d.emit(v); ok {
			return v, nil
		}
	}
}

func (d *Decoder) checkType(t ValueType) error {
	if !t.Valid() {
		if t == 0 {
			return d.errorf(ErrMalformed, d.pos, "unknown RESP type: empty byte (connection may be closed)")
		}
		return d.errorf(ErrMalformed, d.pos, "unknown RESP type: %q (0x%02x)", byte(t), byte(t))
	}
	if t.IsRESP3() && d.cfg.Protocol == RESP2 && d.cfg.Strict {
		return d.errorf(ErrMalformed, d.pos, "%s is not allowed in RESP2", t)
	}
	return nil
}

// readLine finds the terminator of the line that follows the type marker.
// A CR with nothing after it yet is incomplete, never an error.
func (d *Decoder) readLine(in []byte) ([]byte, int, error) {
	lineStart := d.start + 1
	i := bytes.IndexByte(in[d.scan:], '\n')
	if i < 0 {
		// one extra byte leaves room for a trailing CR
		if len(in)-lineStart > d.cfg.MaxInlineLen+1 {
			return nil, 0, d.errorf(ErrLimitExceeded, d.start,
				"unterminated line exceeds %d bytes", d.cfg.MaxInlineLen)
		}
		d.scan = len(in)
		return nil, 0, ErrIncomplete
	}

	end := d.scan + i
	line := in[lineStart:end]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	} else if d.cfg.Strict {
		return nil, 0, d.errorf(ErrMalformed, end, "missing CR before LF")
	}
	if len(line) > d.cfg.MaxInlineLen {
		return nil, 0, d.errorf(ErrLimitExceeded, d.start,
			"line of %d bytes exceeds %d", len(line), d.cfg.MaxInlineLen)
	}
	if d.cfg.Strict && bytes.IndexByte(line, '\r') >= 0 {
		return nil, 0, d.errorf(ErrMalformed, d.start, "stray CR in line")
	}
	return line, end + 1, nil
}

// header interprets a complete line. It reports done when the line alone
// completed a value; otherwise the decoder moved to a body or into an
// aggregate.
func (d *Decoder) header(line []byte, next int) (Value, bool, error) {
	switch {
	case d.typ.isBulk():
		return d.bulkHeader(line, next)
	case d.typ.isAggregate():
		return d.aggregateHeader(line, next)
	}

	var v Value
	switch d.typ {
	case TypeSimpleString, TypeError:
		v = Value{Type: d.typ, Data: d.payload(line)}

	case TypeBigNumber:
		if !validBigNumber(line, d.cfg.Strict) {
			return Value{}, false, d.errorf(ErrMalformed, d.start, "invalid big number: %q", line)
		}
		v = Value{Type: d.typ, Data: d.payload(line)}

	case TypeInteger:
		n, ok := parseInt64(line, d.cfg.Strict)
		if !ok {
			return Value{}, false, d.errorf(ErrMalformed, d.start, "invalid integer: %q", line)
		}
		v = Value{Type: TypeInteger, Integer: n}

	case TypeNull:
		if len(line) != 0 {
			return Value{}, false, d.errorf(ErrMalformed, d.start, "null carries data: %q", line)
		}
		v = Value{Type: TypeNull}

	case TypeBoolean:
		switch {
		case len(line) == 1 && line[0] == 't', !d.cfg.Strict && len(line) == 1 && line[0] == 'T':
			v = Value{Type: TypeBoolean, Bool: true}
		case len(line) == 1 && line[0] == 'f', !d.cfg.Strict && len(line) == 1 && line[0] == 'F':
			v = Value{Type: TypeBoolean, Bool: false}
		default:
			return Value{}, false, d.errorf(ErrMalformed, d.start, "invalid boolean: %q", line)
		}

	case TypeDouble:
		f, ok := parseDouble(line, d.cfg.Strict)
		if !ok {
			return Value{}, false, d.errorf(ErrMalformed, d.start, "invalid double: %q", line)
		}
		v = Value{Type: TypeDouble, Double: f}
	}

	d.pos = next
	d.state = stateAwaitingType
	return v, true, nil
}

// bulkHeader reads a payload length and moves the decoder to the body
func (d *Decoder) bulkHeader(line []byte, next int) (Value, bool, error) {
	n, ok := parseInt64(line, d.cfg.Strict)
	if !ok {
		return Value{}, false, d.errorf(ErrMalformed, d.start, "invalid %s length: %q", d.typ, line)
	}
	if n == -1 && d.typ == TypeBulkString {
		d.pos = next
		d.state = stateAwaitingType
		return d.null(TypeBulkString), true, nil
	}
	if n < 0 {
		return Value{}, false, d.errorf(ErrMalformed, d.start, "invalid %s length: %d", d.typ, n)
	}
	if n > d.cfg.MaxBulkLen {
		return Value{}, false, d.errorf(ErrLimitExceeded, d.start,
			"%s length %d exceeds %d", d.typ, n, d.cfg.MaxBulkLen)
	}
	d.bodyLen = int(n)
	d.pos = next
	d.state = stateReadingBody
	return Value{}, false, nil
}

// aggregateHeader reads an element count and opens a frame for it. Empty
// aggregates complete immediately.
func (d *Decoder) aggregateHeader(line []byte, next int) (Value, bool, error) {
	n, ok := parseInt64(line, d.cfg.Strict)
	if !ok {
		return Value{}, false, d.errorf(ErrMalformed, d.start, "invalid %s length: %q", d.typ, line)
	}
	if n == -1 && d.typ == TypeArray {
		d.pos = next
		d.state = stateAwaitingType
		return d.null(TypeArray), true, nil
	}
	if n < 0 {
		return Value{}, false, d.errorf(ErrMalformed, d.start, "invalid %s length: %d", d.typ, n)
	}
	if n > d.cfg.MaxElements {
		return Value{}, false, d.errorf(ErrLimitExceeded, d.start,
			"%s length %d exceeds %d", d.typ, n, d.cfg.MaxElements)
	}
	if len(d.stack) >= d.cfg.MaxDepth {
		return Value{}, false, d.errorf(ErrNestingTooDeep, d.start,
			"nesting exceeds %d levels", d.cfg.MaxDepth)
	}

	children := n
	if d.typ == TypeMap || d.typ == TypeAttribute {
		children *= 2
	}
	d.pos = next
	d.state = stateAwaitingType
	f := frame{typ: d.typ, remaining: children}
	if children == 0 {
		return f.build(), true, nil
	}
	f.elems = make([]Value, 0, min(children, preallocLimit))
	d.stack = append(d.stack, f)
	return Value{}, false, nil
}

// null returns the null form for the configured protocol
func (d *Decoder) null(t ValueType) Value {
	if d.cfg.Protocol == RESP3 {
		return Value{Type: TypeNull}
	}
	return Value{Type: t, IsNull: true}
}

// body reads the payload of a bulk value and its trailer
func (d *Decoder) body(in []byte) (Value, error) {
	start := d.pos
	end := start + d.bodyLen
	if len(in) <= end {
		return Value{}, ErrIncomplete
	}

	var trailer int
	switch in[end] {
	case '\r':
		if len(in) < end+2 {
			return Value{}, ErrIncomplete
		}
		if in[end+1] != '\n' {
			return Value{}, d.errorf(ErrMalformed, end, "expected CRLF after %s payload, got [13, %d]", d.typ, in[end+1])
		}
		trailer = 2
	case '\n':
		if d.cfg.Strict {
			return Value{}, d.errorf(ErrMalformed, end, "missing CR after %s payload", d.typ)
		}
		trailer = 1
	default:
		return Value{}, d.errorf(ErrMalformed, end, "expected CRLF after %s payload, got [%d]", d.typ, in[end])
	}

	v := Value{Type: d.typ}
	data := in[start:end]
	if d.typ == TypeVerbatimString {
		if len(data) >= 4 && data[3] == ':' {
			copy(v.Format[:], data[:3])
			data = data[4:]
		} else if d.cfg.Strict {
			return Value{}, d.errorf(ErrMalformed, start, "verbatim string without format prefix")
		}
	}
	v.Data = d.payload(data)

	d.pos = end + trailer
	d.state = stateAwaitingType
	return v, nil
}

// emit hands a completed element to its parent aggregate, closing every
// aggregate it completes. It reports true when a top-level value is ready.
func (d *Decoder) emit(v Value) (Value, bool) {
	for {
		if v.Type == TypeAttribute {
			if n := len(d.stack); n > 0 {
				d.stack[n-1].attrs = v.Map
			} else {
				d.attrs = v.Map
			}
			return Value{}, false
		}

		n := len(d.stack)
		if n == 0 {
			if d.attrs != nil {
				v.Attrs = d.attrs
				d.attrs = nil
			}
			return v, true
		}

		top := &d.stack[n-1]
		if top.attrs != nil {
			v.Attrs = top.attrs
			top.attrs = nil
		}
		top.elems = append(top.elems, v)
		top.remaining--
		if top.remaining > 0 {
			return Value{}, false
		}

		v = top.build()
		d.stack[n-1] = frame{}
		d.stack = d.stack[:n-1]
	}
}

func (f *frame) build() Value {
	switch f.typ {
	case TypeMap, TypeAttribute:
		pairs := make([]KeyValue, len(f.elems)/2)
		for i := range pairs {
			pairs[i] = KeyValue{Key: f.elems[2*i], Value: f.elems[2*i+1]}
		}
		return Value{Type: f.typ, Map: pairs}
	default:
		elems := f.elems
		if elems == nil {
			elems = []Value{}
		}
		return Value{Type: f.typ, Array: elems}
	}
}

// payload returns b, or a private copy of it in owned mode
func (d *Decoder) payload(b []byte) []byte {
	if !d.cfg.OwnedPayloads {
		return b
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
