package respwire

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raniellyferreira/respwire/protocol"
)

// Client is a single RESP connection. Requests are serialised: each Do
// writes one command and waits for its reply.
type Client struct {
	// Configuration
	config *config

	// Connection state
	mu      sync.Mutex // held for a whole request/reply cycle
	conn    net.Conn
	reader  *protocol.Reader
	writer  *protocol.Writer
	scratch []byte
	proto   protocol.Version
	broken  bool

	stats  *protocol.Stats
	pushes chan protocol.Value
	closed int32
}

// Dial connects to the server and performs the handshake: HELLO 3 when
// RESP3 is requested, AUTH when only a password is configured.
//
// Example:
//
//	client, err := respwire.Dial(ctx,
//		respwire.WithAddr("localhost:6379"),
//		respwire.WithProtocol(protocol.RESP3),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
func Dial(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := defaultConfig()

	// Apply options
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	stats := protocol.NewStats()
	codec, err := cfg.codecConfig(protocol.RESP2, stats)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	cfg.logger.Debug("Connecting", Field{"addr", cfg.addr})

	conn, err := dial(ctx, cfg)
	if err != nil {
		return nil, &ConnectionError{Addr: cfg.addr, Err: err}
	}

	c := &Client{
		config: cfg,
		conn:   conn,
		reader: protocol.NewReaderConfig(conn, codec),
		writer: protocol.NewWriterConfig(conn, codec),
		proto:  protocol.RESP2,
		stats:  stats,
		pushes: make(chan protocol.Value, cfg.pushBuffer),
	}

	if err := c.handshake(ctx); err != nil {
		c.Close()
		return nil, &ConnectionError{Addr: cfg.addr, Err: err}
	}

	cfg.logger.Info("Connected", Field{"addr", cfg.addr}, Field{"protocol", c.proto.String()})
	return c, nil
}

func dial(ctx context.Context, cfg *config) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout: cfg.connectTimeout,
	}

	if cfg.tls != nil {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: cfg.tls}
		return tlsDialer.DialContext(ctx, "tcp", cfg.addr)
	}
	return dialer.DialContext(ctx, "tcp", cfg.addr)
}

func (c *Client) handshake(ctx context.Context) error {
	if c.config.protocol == protocol.RESP3 {
		if _, err := c.Hello(ctx, protocol.RESP3); err != nil {
			return fmt.Errorf("protocol negotiation failed: %w", err)
		}
		return nil
	}

	if c.config.password != "" {
		args := []interface{}{"AUTH", c.config.password}
		if c.config.username != "" {
			args = []interface{}{"AUTH", c.config.username, c.config.password}
		}
		if _, err := c.Do(ctx, args...); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
	}
	return nil
}

// Hello negotiates protocol version v, authenticating in the same command
// when a password is configured, and switches the codec to it. The server
// information reply is returned.
func (c *Client) Hello(ctx context.Context, v protocol.Version) (protocol.Value, error) {
	if v != protocol.RESP2 && v != protocol.RESP3 {
		return protocol.Value{}, ErrInvalidConfig
	}

	args := []interface{}{"HELLO", int(v)}
	if c.config.password != "" {
		username := c.config.username
		if username == "" {
			username = "default"
		}
		args = append(args, "AUTH", username, c.config.password)
	}

	reply, err := c.do(ctx, args, v)
	if err != nil {
		return reply, err
	}

	c.config.logger.Debug("Protocol negotiated", Field{"protocol", v.String()})
	return reply, nil
}

// Do sends one command and returns its reply. Arguments may be strings,
// byte slices, integers, floats, booleans or fmt.Stringers.
//
// An error reply is returned both as the Value and as a *ReplyError. Push
// messages received while waiting are delivered to Pushes.
func (c *Client) Do(ctx context.Context, args ...interface{}) (protocol.Value, error) {
	return c.do(ctx, args, 0)
}

// do runs one request/reply cycle. A non-zero switchTo changes the codec
// protocol before the reply is read; it is restored if the reply is an error.
func (c *Client) do(ctx context.Context, args []interface{}, switchTo protocol.Version) (protocol.Value, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return protocol.Value{}, ErrClosed
	}
	if len(args) == 0 {
		return protocol.Value{}, ErrInvalidCommand
	}

	parts := make([][]byte, len(args))
	for i, arg := range args {
		b, err := argBytes(arg)
		if err != nil {
			return protocol.Value{}, err
		}
		parts[i] = b
	}
	name := strings.ToUpper(string(parts[0]))

	c.mu.Lock()
	defer c.mu.Unlock()

	if atomic.LoadInt32(&c.closed) == 1 {
		return protocol.Value{}, ErrClosed
	}
	if c.broken {
		return protocol.Value{}, ErrNotConnected
	}

	// cancellation interrupts blocked I/O
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	start := time.Now()
	before := c.stats.Snapshot().BytesDecoded

	c.scratch = protocol.AppendCommand(c.scratch[:0], parts...)
	c.conn.SetWriteDeadline(deadline(ctx, c.config.writeTimeout))
	if err := c.writer.WriteRaw(c.scratch); err != nil {
		return protocol.Value{}, c.fail(ctx, err)
	}
	if err := c.writer.Flush(); err != nil {
		return protocol.Value{}, c.fail(ctx, err)
	}

	previous := c.proto
	if switchTo != 0 {
		c.setProtocol(switchTo)
	}

	reply, err := c.readReply(ctx)
	if err != nil {
		return protocol.Value{}, c.fail(ctx, err)
	}

	if c.config.metrics != nil {
		received := c.stats.Snapshot().BytesDecoded - before
		c.config.metrics.RecordCommandProcessed(name, time.Since(start))
		c.config.metrics.RecordNetworkBytes(int64(len(c.scratch)) + int64(received))
	}

	if reply.IsError() {
		if switchTo != 0 {
			c.setProtocol(previous)
		}
		c.recordError("reply")
		return reply, &ReplyError{Message: reply.Error()}
	}
	return reply, nil
}

// readReply reads until a value that is not a push message arrives
func (c *Client) readReply(ctx context.Context) (protocol.Value, error) {
	for {
		c.conn.SetReadDeadline(deadline(ctx, c.config.readTimeout))
		v, err := c.reader.ReadNext()
		if err != nil {
			return protocol.Value{}, err
		}
		if v.Type != protocol.TypePush {
			return v, nil
		}

		select {
		case c.pushes <- v:
		default:
			c.config.logger.Debug("Push buffer full, dropping message", Field{"message", v.String()})
		}
	}
}

// fail marks the connection unusable and classifies err. The stream
// position is unknown after any I/O or decoding failure.
func (c *Client) fail(ctx context.Context, err error) error {
	c.broken = true
	c.conn.Close()

	if ctxErr := ctx.Err(); ctxErr != nil {
		c.recordError("timeout")
		return ctxErr
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.recordError("timeout")
		// the socket deadline may fire just before ctx notices its own
		if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
			return context.DeadlineExceeded
		}
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var perr *protocol.Error
	if errors.As(err, &perr) {
		c.recordError("protocol")
		c.config.logger.Error("Protocol error", Field{"error", err})
		return err
	}

	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClosed
	}
	c.recordError("network")
	c.config.logger.Error("Connection lost", Field{"addr", c.config.addr}, Field{"error", err})
	return fmt.Errorf("%w: %v", ErrNotConnected, err)
}

func (c *Client) setProtocol(v protocol.Version) {
	c.reader.SetProtocol(v)
	c.writer.SetProtocol(v)
	c.proto = v
}

func (c *Client) recordError(errorType string) {
	if c.config.metrics != nil {
		c.config.metrics.RecordError(errorType)
	}
}

// deadline returns the earlier of ctx's deadline and now+timeout
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

func argBytes(arg interface{}) ([]byte, error) {
	switch v := arg.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case int:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int64:
		return strconv.AppendInt(nil, v, 10), nil
	case int32:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case uint64:
		return strconv.AppendUint(nil, v, 10), nil
	case uint32:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case float64:
		return strconv.AppendFloat(nil, v, 'f', -1, 64), nil
	case bool:
		if v {
			return []byte("1"), nil
		}
		return []byte("0"), nil
	case fmt.Stringer:
		return []byte(v.String()), nil
	}
	return nil, fmt.Errorf("%w: unsupported argument type %T", ErrInvalidCommand, arg)
}

// Protocol returns the negotiated protocol generation
func (c *Client) Protocol() protocol.Version {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proto
}

// Pushes returns the channel receiving RESP3 push messages. Messages are
// only read while a Do is waiting for its reply. The channel is closed by
// Close.
func (c *Client) Pushes() <-chan protocol.Value {
	return c.pushes
}

// Stats returns the codec counters of this connection
func (c *Client) Stats() protocol.StatsSnapshot {
	return c.stats.Snapshot()
}

// Close closes the connection. A Do in progress fails with ErrClosed.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	err := c.conn.Close()

	// wait for a request in flight before closing the push channel
	c.mu.Lock()
	close(c.pushes)
	c.mu.Unlock()

	c.config.logger.Debug("Connection closed", Field{"addr", c.config.addr})
	return err
}
