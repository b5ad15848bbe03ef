package protocol

import "fmt"

// Version selects the protocol generation
type Version uint8

const (
	RESP2 Version = 2
	RESP3 Version = 3
)

// String returns "RESP2" or "RESP3"
func (v Version) String() string {
	return fmt.Sprintf("RESP%d", uint8(v))
}

const (
	// DefaultMaxInlineLen bounds simple strings, errors, numbers and headers
	DefaultMaxInlineLen = 64 * 1024

	// DefaultMaxBulkLen matches the proto-max-bulk-len default of the server (512MB)
	DefaultMaxBulkLen = 512 * 1024 * 1024

	// DefaultMaxElements bounds the declared count of a single aggregate
	DefaultMaxElements = 1024 * 1024

	// DefaultMaxDepth bounds aggregate nesting
	DefaultMaxDepth = 64
)

// Config selects decoder and encoder behaviour. It is resolved once when a
// Decoder or Encoder is built and never consulted per call.
type Config struct {
	// Protocol is the generation emitted by the encoder and expected by the decoder
	Protocol Version

	// Strict rejects every deviation from the wire grammar
	Strict bool

	MaxInlineLen int
	MaxBulkLen   int64
	MaxElements  int64
	MaxDepth     int

	// OwnedPayloads makes the decoder copy payload bytes instead of
	// aliasing the input buffer
	OwnedPayloads bool

	// PlainErrors returns bare Kind values instead of *Error
	PlainErrors bool

	// Stats receives codec counters when non-nil
	Stats *Stats
}

// DefaultConfig returns the configuration selected by build tags:
// resp_strict turns on strict mode and resp3 selects RESP3.
func DefaultConfig() Config {
	return Config{
		Protocol:     defaultProtocol,
		Strict:       defaultStrict,
		MaxInlineLen: DefaultMaxInlineLen,
		MaxBulkLen:   DefaultMaxBulkLen,
		MaxElements:  DefaultMaxElements,
		MaxDepth:     DefaultMaxDepth,
	}
}

// Option represents a codec configuration option
type Option func(*Config) error

// NewConfig applies opts on top of DefaultConfig
func NewConfig(opts ...Option) (Config, error) {
	return DefaultConfig().With(opts...)
}

// With returns a copy of c with opts applied
func (c Config) With(opts ...Option) (Config, error) {
	for _, opt := range opts {
		if err := opt(&c); err != nil {
			return Config{}, err
		}
	}
	return c, nil
}

// normalized fills zero limits with defaults
func (c Config) normalized() Config {
	if c.Protocol == 0 {
		c.Protocol = defaultProtocol
	}
	if c.MaxInlineLen <= 0 {
		c.MaxInlineLen = DefaultMaxInlineLen
	}
	if c.MaxBulkLen <= 0 {
		c.MaxBulkLen = DefaultMaxBulkLen
	}
	if c.MaxElements <= 0 {
		c.MaxElements = DefaultMaxElements
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	return c
}

// WithProtocol selects RESP2 or RESP3
func WithProtocol(v Version) Option {
	return func(c *Config) error {
		if v != RESP2 && v != RESP3 {
			return fmt.Errorf("%w: unknown protocol version %d", ErrInvalidConfig, v)
		}
		c.Protocol = v
		return nil
	}
}

// WithStrict toggles strict grammar validation
func WithStrict(strict bool) Option {
	return func(c *Config) error {
		c.Strict = strict
		return nil
	}
}

// WithMaxInlineLen bounds the length of inline lines
func WithMaxInlineLen(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("%w: max inline length must be positive", ErrInvalidConfig)
		}
		c.MaxInlineLen = n
		return nil
	}
}

// WithMaxBulkLen bounds the declared length of bulk payloads
func WithMaxBulkLen(n int64) Option {
	return func(c *Config) error {
		if n <= 0 || n > maxInt {
			return fmt.Errorf("%w: max bulk length out of range", ErrInvalidConfig)
		}
		c.MaxBulkLen = n
		return nil
	}
}

// WithMaxElements bounds the declared count of an aggregate
func WithMaxElements(n int64) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("%w: max elements must be positive", ErrInvalidConfig)
		}
		c.MaxElements = n
		return nil
	}
}

// WithMaxDepth bounds aggregate nesting
func WithMaxDepth(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("%w: max depth must be positive", ErrInvalidConfig)
		}
		c.MaxDepth = n
		return nil
	}
}

// WithOwnedPayloads makes decoded values own their bytes
func WithOwnedPayloads() Option {
	return func(c *Config) error {
		c.OwnedPayloads = true
		return nil
	}
}

// WithPlainErrors returns bare error kinds without messages
func WithPlainErrors() Option {
	return func(c *Config) error {
		c.PlainErrors = true
		return nil
	}
}

// WithStats attaches a counter set
func WithStats(s *Stats) Option {
	return func(c *Config) error {
		c.Stats = s
		return nil
	}
}

const maxInt = int64(^uint(0) >> 1)
