package protocol

import (
	"errors"
	"fmt"
)

// Kind classifies codec failures. A Kind is itself an error, so it can be
// returned without allocating on targets that cannot afford formatted
// messages.
type Kind uint8

const (
	// ErrIncomplete is not a failure: more bytes are needed. Retry with the
	// same (or an extended) tail.
	ErrIncomplete Kind = iota + 1

	// ErrMalformed is a grammar violation. The stream cannot be trusted past
	// this point.
	ErrMalformed

	// ErrLimitExceeded means a configured bound on inline length, bulk
	// length, element count or nesting depth was exceeded.
	ErrLimitExceeded

	// ErrNestingTooDeep is the nesting-depth flavour of ErrLimitExceeded.
	// errors.Is(ErrNestingTooDeep, ErrLimitExceeded) is true.
	ErrNestingTooDeep

	// ErrUnsupportedVariant is returned when encoding a value the active
	// protocol version cannot represent.
	ErrUnsupportedVariant

	// ErrCapacityExceeded is returned when a fixed-capacity sink is too small.
	ErrCapacityExceeded

	// ErrOutOfBounds is returned when a cursor would move past the data.
	ErrOutOfBounds
)

func (k Kind) Error() string {
	switch k {
	case ErrIncomplete:
		return "resp: incomplete"
	case ErrMalformed:
		return "resp: malformed"
	case ErrLimitExceeded:
		return "resp: limit exceeded"
	case ErrNestingTooDeep:
		return "resp: nesting too deep"
	case ErrUnsupportedVariant:
		return "resp: unsupported variant"
	case ErrCapacityExceeded:
		return "resp: capacity exceeded"
	case ErrOutOfBounds:
		return "resp: out of bounds"
	default:
		return "resp: unknown error"
	}
}

// Is makes a nesting failure match ErrLimitExceeded as well
func (k Kind) Is(target error) bool {
	t, ok := target.(Kind)
	if !ok {
		return false
	}
	return k == t || (k == ErrNestingTooDeep && t == ErrLimitExceeded)
}

// Error is the structured codec error used on hosted targets
type Error struct {
	Kind   Kind
	Offset int // byte offset within the value being decoded, -1 when encoding
	Msg    string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
	}
	return fmt.Sprintf("%s at offset %d: %s", e.Kind.Error(), e.Offset, e.Msg)
}

// Unwrap returns the error kind
func (e *Error) Unwrap() error {
	return e.Kind
}

// KindOf extracts the Kind of err, or 0 if err is not a codec error
func KindOf(err error) Kind {
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return 0
}

// ErrInvalidConfig indicates invalid codec configuration options
var ErrInvalidConfig = errors.New("resp: invalid configuration")

// newError builds the error reported for kind, honouring PlainErrors
func newError(plain bool, kind Kind, offset int, format string, args ...interface{}) error {
	if plain {
		return kind
	}
	return &Error{Kind: kind, Offset: offset, Msg: fmt.Sprintf(format, args...)}
}
