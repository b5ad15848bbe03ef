package respwire

import (
	"crypto/tls"
	"time"

	"github.com/raniellyferreira/respwire/protocol"
)

// config holds the configuration for a Client
type config struct {
	// Connection settings
	addr     string
	username string
	password string
	tls      *tls.Config

	// Codec settings
	protocol    protocol.Version
	strict      bool
	maxBulkLen  int64
	maxElements int64
	maxDepth    int

	// Timeouts and limits
	connectTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	pushBuffer     int

	// Observability
	logger  Logger
	metrics MetricsCollector
}

// defaultConfig returns a configuration with sensible defaults
func defaultConfig() *config {
	codec := protocol.DefaultConfig()
	return &config{
		addr:           "localhost:6379",
		protocol:       protocol.RESP2,
		strict:         codec.Strict,
		maxBulkLen:     codec.MaxBulkLen,
		maxElements:    codec.MaxElements,
		maxDepth:       codec.MaxDepth,
		connectTimeout: 5 * time.Second,
		readTimeout:    30 * time.Second,
		writeTimeout:   10 * time.Second,
		pushBuffer:     64,
		logger:         &defaultLogger{},
	}
}

// codecConfig builds the decoder and encoder configuration for v
func (c *config) codecConfig(v protocol.Version, stats *protocol.Stats) (protocol.Config, error) {
	return protocol.NewConfig(
		protocol.WithProtocol(v),
		protocol.WithStrict(c.strict),
		protocol.WithMaxBulkLen(c.maxBulkLen),
		protocol.WithMaxElements(c.maxElements),
		protocol.WithMaxDepth(c.maxDepth),
		protocol.WithStats(stats),
	)
}

// Option represents a configuration option for a Client
type Option func(*config) error

// WithAddr sets the server address
//
// Example:
//
//	WithAddr("redis.example.com:6379")
func WithAddr(addr string) Option {
	return func(c *config) error {
		if addr == "" {
			return &ConnectionError{
				Addr: addr,
				Err:  ErrInvalidConfig,
			}
		}
		c.addr = addr
		return nil
	}
}

// WithPassword sets the password sent with AUTH, or with HELLO when RESP3
// is negotiated
func WithPassword(password string) Option {
	return func(c *config) error {
		c.password = password
		return nil
	}
}

// WithUsername sets the ACL user. The default user is assumed when unset.
func WithUsername(username string) Option {
	return func(c *config) error {
		c.username = username
		return nil
	}
}

// WithProtocol selects the protocol generation. RESP3 is negotiated with
// HELLO 3 right after connecting.
func WithProtocol(v protocol.Version) Option {
	return func(c *config) error {
		if v != protocol.RESP2 && v != protocol.RESP3 {
			return ErrInvalidConfig
		}
		c.protocol = v
		return nil
	}
}

// WithTLS configures TLS for the connection
//
// Example:
//
//	config := &tls.Config{
//	  ServerName: "redis.example.com",
//	}
//	WithTLS(config)
func WithTLS(tlsConfig *tls.Config) Option {
	return func(c *config) error {
		c.tls = tlsConfig
		return nil
	}
}

// WithSecureTLS configures TLS with certificate verification and TLS 1.2 as
// the minimum version
func WithSecureTLS(serverName string) Option {
	return func(c *config) error {
		if serverName == "" {
			return ErrInvalidConfig
		}
		c.tls = &tls.Config{
			ServerName: serverName,
			MinVersion: tls.VersionTLS12,
		}
		return nil
	}
}

// WithConnectTimeout sets the dial timeout
//
// Example:
//
//	WithConnectTimeout(10 * time.Second)
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return ErrInvalidConfig
		}
		c.connectTimeout = timeout
		return nil
	}
}

// WithReadTimeout sets how long Do waits for a reply
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return ErrInvalidConfig
		}
		c.readTimeout = timeout
		return nil
	}
}

// WithWriteTimeout sets how long Do may spend sending a request
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return ErrInvalidConfig
		}
		c.writeTimeout = timeout
		return nil
	}
}

// WithLogger sets a custom logger for the client
func WithLogger(logger Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return ErrInvalidConfig
		}
		c.logger = logger
		return nil
	}
}

// WithDebugLogging makes the default logger print Debug lines. It has no
// effect on a logger set with WithLogger.
func WithDebugLogging() Option {
	return func(c *config) error {
		if l, ok := c.logger.(*defaultLogger); ok {
			l.debug = true
		}
		return nil
	}
}

// WithMetrics enables metrics collection with the provided collector
func WithMetrics(collector MetricsCollector) Option {
	return func(c *config) error {
		c.metrics = collector
		return nil
	}
}

// WithStrict rejects replies that deviate from the wire grammar instead of
// tolerating common deviations
func WithStrict(strict bool) Option {
	return func(c *config) error {
		c.strict = strict
		return nil
	}
}

// WithLimits bounds the replies the client accepts. Zero keeps the default
// for that limit.
//
// Example:
//
//	WithLimits(16<<20, 100000, 16) // 16MB bulk strings, 100k elements, depth 16
func WithLimits(maxBulkLen, maxElements int64, maxDepth int) Option {
	return func(c *config) error {
		if maxBulkLen < 0 || maxElements < 0 || maxDepth < 0 {
			return ErrInvalidConfig
		}
		if maxBulkLen > 0 {
			c.maxBulkLen = maxBulkLen
		}
		if maxElements > 0 {
			c.maxElements = maxElements
		}
		if maxDepth > 0 {
			c.maxDepth = maxDepth
		}
		return nil
	}
}

// WithPushBuffer sets how many RESP3 push messages are kept for Pushes
// before new ones are dropped
func WithPushBuffer(n int) Option {
	return func(c *config) error {
		if n < 0 {
			return ErrInvalidConfig
		}
		c.pushBuffer = n
		return nil
	}
}
