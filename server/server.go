package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raniellyferreira/respwire/lua"
	"github.com/raniellyferreira/respwire/protocol"
)

const (
	// Version is reported in the HELLO reply
	Version = "1.0.0"

	// DefaultReadTimeout is how long a connection may stay idle between commands
	DefaultReadTimeout = 30 * time.Second
)

// Logger is the logging interface used by the server. Fields are passed as
// alternating keys and values.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// Request is one command addressed to a handler
type Request struct {
	Command *protocol.Command

	// Protocol is the generation the reply will be encoded with. Handlers
	// must not return RESP3-only values to RESP2 requests.
	Protocol protocol.Version

	// Script is true when the command was issued by redis.call
	Script bool
}

// HandlerFunc serves one command and returns its reply
type HandlerFunc func(ctx context.Context, req *Request) protocol.Value

// Server provides Redis protocol server functionality
type Server struct {
	addr        string
	password    string
	readTimeout time.Duration
	logger      Logger
	codec       protocol.Config

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	scripts  *lua.Engine

	// Connection management
	listener net.Listener
	clients  sync.Map // map[net.Conn]*Client
	nextID   int64

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	connCount    int64
	commandCount int64
	errorCount   int64
}

// Client represents a connected client
type Client struct {
	id     int64
	conn   net.Conn
	reader *protocol.Reader
	writer *protocol.Writer
	server *Server

	// Client state
	authenticated bool
	lastCmd       time.Time

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// New creates a server that will listen on addr. Connections start in RESP2
// and switch with HELLO.
func New(addr string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	codec := protocol.DefaultConfig()
	codec.Protocol = protocol.RESP2
	codec.Stats = protocol.NewStats()

	return &Server{
		addr:        addr,
		readTimeout: DefaultReadTimeout,
		logger:      nopLogger{},
		codec:       codec,
		handlers:    make(map[string]HandlerFunc),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Handle registers handler for the command name. Names are case-insensitive.
// Built-in commands cannot be overridden.
func (s *Server) Handle(name string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[strings.ToUpper(name)] = handler
}

// SetPassword sets the authentication password for the server
func (s *Server) SetPassword(password string) {
	s.password = password
}

// SetLogger sets the server logger
func (s *Server) SetLogger(logger Logger) {
	if logger == nil {
		logger = nopLogger{}
	}
	s.logger = logger
}

// SetReadTimeout sets the idle timeout between commands; zero disables it
func (s *Server) SetReadTimeout(d time.Duration) {
	s.readTimeout = d
}

// SetStrict selects strict decoding of client requests
func (s *Server) SetStrict(strict bool) {
	s.codec.Strict = strict
}

// SetScripting enables EVAL, EVALSHA and SCRIPT backed by engine. Engines
// built with NewCaller dispatch redis.call to this server's handlers.
func (s *Server) SetScripting(engine *lua.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts = engine
}

// NewCaller returns a script caller that dispatches to the server handlers
func (s *Server) NewCaller() lua.Caller {
	return lua.CallerFunc(func(ctx context.Context, args [][]byte) (protocol.Value, error) {
		cmd := &protocol.Command{Name: strings.ToUpper(string(args[0])), Args: args[1:]}
		switch cmd.Name {
		case "AUTH", "HELLO", "QUIT", "EVAL", "EVALSHA", "SCRIPT":
			return protocol.ErrorReply("ERR This Redis command is not allowed from script"), nil
		}
		req := &Request{Command: cmd, Protocol: protocol.RESP3, Script: true}
		return s.dispatch(ctx, req), nil
	})
}

// Start starts the server
func (s *Server) Start() error {
	var err error
	s.listener, err = net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.logger.Info("Server listening", "addr", s.listener.Addr().String())

	s.wg.Add(1)
	go s.acceptConnections()

	return nil
}

// Stop stops the server and closes every client connection
func (s *Server) Stop() error {
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	// Close all client connections
	s.clients.Range(func(key, value interface{}) bool {
		if client, ok := value.(*Client); ok {
			client.Close()
		}
		return true
	})

	s.wg.Wait()
	return nil
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stats returns server statistics
func (s *Server) Stats() map[string]interface{} {
	clientCount := 0
	s.clients.Range(func(key, value interface{}) bool {
		clientCount++
		return true
	})

	codec := s.codec.Stats.Snapshot()
	return map[string]interface{}{
		"connected_clients": clientCount,
		"total_commands":    atomic.LoadInt64(&s.commandCount),
		"total_errors":      atomic.LoadInt64(&s.errorCount),
		"total_connections": atomic.LoadInt64(&s.connCount),
		"values_decoded":    codec.ValuesDecoded,
		"values_encoded":    codec.ValuesEncoded,
		"bytes_decoded":     codec.BytesDecoded,
		"bytes_encoded":     codec.BytesEncoded,
		"decode_errors":     codec.DecodeErrors,
		"encode_errors":     codec.EncodeErrors,
	}
}

// acceptConnections accepts new client connections
func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return // Server is shutting down
			}
			s.logger.Error("Accept failed", "error", err)
			continue
		}

		s.handleNewClient(conn)
	}
}

// handleNewClient handles a new client connection
func (s *Server) handleNewClient(conn net.Conn) {
	atomic.AddInt64(&s.connCount, 1)

	ctx, cancel := context.WithCancel(s.ctx)
	client := &Client{
		id:            atomic.AddInt64(&s.nextID, 1),
		conn:          conn,
		reader:        protocol.NewReaderConfig(conn, s.codec),
		writer:        protocol.NewWriterConfig(conn, s.codec),
		server:        s,
		authenticated: s.password == "", // Auto-authenticated if no password
		lastCmd:       time.Now(),
		ctx:           ctx,
		cancel:        cancel,
	}

	s.clients.Store(conn, client)
	s.logger.Debug("Client connected", "id", client.id, "remote", conn.RemoteAddr().String())

	s.wg.Add(1)
	go client.handle()
}

// Close closes the client connection
func (c *Client) Close() {
	c.once.Do(func() {
		c.cancel()
		c.conn.Close()
		c.server.clients.Delete(c.conn)
	})
}

// handle reads and serves commands until the connection ends
func (c *Client) handle() {
	defer c.server.wg.Done()
	defer c.Close()

	for {
		if c.ctx.Err() != nil {
			return
		}

		if c.server.readTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.server.readTimeout))
		}

		value, err := c.reader.ReadNext()
		if err != nil {
			if c.ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) {
				c.server.logger.Debug("Client read ended", "id", c.id, "error", err)
				return
			}
			// the decoder stays failed, so the connection cannot recover
			c.server.logger.Error("Protocol error", "id", c.id, "error", err)
			c.writeError(fmt.Sprintf("ERR Protocol error: %v", err))
			return
		}

		cmd, err := protocol.ParseCommand(value)
		if err != nil {
			c.writeError(fmt.Sprintf("ERR Protocol error: %v", err))
			continue
		}

		c.lastCmd = time.Now()
		if !c.executeCommand(cmd) {
			return
		}
	}
}

// executeCommand serves one command and reports whether the connection
// stays open
func (c *Client) executeCommand(cmd *protocol.Command) bool {
	atomic.AddInt64(&c.server.commandCount, 1)

	// HELLO may carry its own AUTH
	if !c.authenticated && cmd.Name != "AUTH" && cmd.Name != "HELLO" && cmd.Name != "QUIT" {
		c.writeError("NOAUTH Authentication required.")
		return true
	}

	switch cmd.Name {
	case "AUTH":
		c.handleAuth(cmd)
	case "HELLO":
		c.handleHello(cmd)
	case "EVAL":
		c.handleEval(cmd)
	case "EVALSHA":
		c.handleEvalSHA(cmd)
	case "SCRIPT":
		c.handleScript(cmd)
	case "QUIT":
		c.writeValue(protocol.SimpleString("OK"))
		return false
	default:
		req := &Request{Command: cmd, Protocol: c.writer.Protocol()}
		c.writeValue(c.server.dispatch(c.ctx, req))
	}
	return true
}

// dispatch serves the commands shared by clients and scripts
func (s *Server) dispatch(ctx context.Context, req *Request) protocol.Value {
	cmd := req.Command
	switch cmd.Name {
	case "PING":
		switch len(cmd.Args) {
		case 0:
			return protocol.SimpleString("PONG")
		case 1:
			return protocol.Bulk(cmd.Args[0])
		}
		return wrongArgs("ping")
	case "ECHO":
		if len(cmd.Args) != 1 {
			return wrongArgs("echo")
		}
		return protocol.Bulk(cmd.Args[0])
	}

	s.mu.RLock()
	handler, ok := s.handlers[cmd.Name]
	s.mu.RUnlock()
	if !ok {
		return protocol.ErrorReply(fmt.Sprintf("ERR unknown command '%s'", strings.ToLower(cmd.Name)))
	}
	return handler(ctx, req)
}

func wrongArgs(name string) protocol.Value {
	return protocol.ErrorReply(fmt.Sprintf("ERR wrong number of arguments for '%s' command", name))
}

// Command handlers

func (c *Client) handleAuth(cmd *protocol.Command) {
	var password string
	switch len(cmd.Args) {
	case 1:
		password = string(cmd.Args[0])
	case 2:
		password = string(cmd.Args[1]) // AUTH username password
	default:
		c.writeValue(wrongArgs("auth"))
		return
	}

	if c.server.password == "" {
		c.writeError("ERR AUTH <password> called without any password configured for the default user. Are you sure your configuration is correct?")
		return
	}

	if password == c.server.password {
		c.authenticated = true
		c.writeValue(protocol.SimpleString("OK"))
	} else {
		c.writeError("WRONGPASS invalid username-password pair or user is disabled.")
	}
}

// handleHello implements HELLO [protover [AUTH username password] [SETNAME name]]
func (c *Client) handleHello(cmd *protocol.Command) {
	version := c.writer.Protocol()
	args := cmd.Args

	if len(args) > 0 {
		n, err := strconv.Atoi(string(args[0]))
		if err != nil {
			c.writeError("ERR Protocol version is not an integer or out of range")
			return
		}
		if n != 2 && n != 3 {
			c.writeError("NOPROTO unsupported protocol version")
			return
		}
		version = protocol.Version(n)
		args = args[1:]
	}

	for len(args) > 0 {
		switch strings.ToUpper(string(args[0])) {
		case "AUTH":
			if len(args) < 3 {
				c.writeError("ERR Syntax error in HELLO option 'auth'")
				return
			}
			if c.server.password != "" && string(args[2]) != c.server.password {
				c.writeError("WRONGPASS invalid username-password pair or user is disabled.")
				return
			}
			c.authenticated = true
			args = args[3:]
		case "SETNAME":
			if len(args) < 2 {
				c.writeError("ERR Syntax error in HELLO option 'setname'")
				return
			}
			args = args[2:]
		default:
			c.writeError(fmt.Sprintf("ERR Syntax error in HELLO option '%s'", args[0]))
			return
		}
	}

	if !c.authenticated {
		c.writeError("NOAUTH HELLO must be called with the client already authenticated, otherwise the HELLO <proto> AUTH <user> <pass> option can be used to authenticate the client and select the RESP protocol version at the same time")
		return
	}

	// the reply is already in the new protocol
	c.reader.SetProtocol(version)
	c.writer.SetProtocol(version)
	c.server.logger.Debug("Protocol negotiated", "id", c.id, "protocol", version.String())

	c.writeValue(helloReply(c.id, version))
}

func helloReply(id int64, version protocol.Version) protocol.Value {
	info := []protocol.KeyValue{
		protocol.Pair(protocol.BulkString("server"), protocol.BulkString("respwire")),
		protocol.Pair(protocol.BulkString("version"), protocol.BulkString(Version)),
		protocol.Pair(protocol.BulkString("proto"), protocol.Int(int64(version))),
		protocol.Pair(protocol.BulkString("id"), protocol.Int(id)),
		protocol.Pair(protocol.BulkString("mode"), protocol.BulkString("standalone")),
		protocol.Pair(protocol.BulkString("role"), protocol.BulkString("master")),
		protocol.Pair(protocol.BulkString("modules"), protocol.Array()),
	}
	if version == protocol.RESP3 {
		return protocol.Map(info...)
	}
	flat := make([]protocol.Value, 0, 2*len(info))
	for _, kv := range info {
		flat = append(flat, kv.Key, kv.Value)
	}
	return protocol.Array(flat...)
}

func (c *Client) engine() *lua.Engine {
	c.server.mu.RLock()
	defer c.server.mu.RUnlock()
	return c.server.scripts
}

// scriptArgs splits EVAL and EVALSHA arguments into keys and args
func scriptArgs(cmd *protocol.Command) (keys, args []string, reply *protocol.Value) {
	numKeys, err := strconv.Atoi(string(cmd.Args[1]))
	if err != nil {
		r := protocol.ErrorReply("ERR value is not an integer or out of range")
		return nil, nil, &r
	}

	if numKeys < 0 {
		r := protocol.ErrorReply("ERR Number of keys can't be negative")
		return nil, nil, &r
	}
	if len(cmd.Args) < 2+numKeys {
		r := protocol.ErrorReply("ERR Number of keys can't be greater than number of args")
		return nil, nil, &r
	}

	keys = make([]string, numKeys)
	for i := 0; i < numKeys; i++ {
		keys[i] = string(cmd.Args[2+i])
	}

	args = make([]string, len(cmd.Args)-2-numKeys)
	for i := 0; i < len(args); i++ {
		args[i] = string(cmd.Args[2+numKeys+i])
	}
	return keys, args, nil
}

func (c *Client) handleEval(cmd *protocol.Command) {
	c.evalScript(cmd, "eval", func(ctx context.Context, e *lua.Engine, keys, args []string) (protocol.Value, error) {
		return e.Eval(ctx, string(cmd.Args[0]), keys, args)
	})
}

func (c *Client) handleEvalSHA(cmd *protocol.Command) {
	c.evalScript(cmd, "evalsha", func(ctx context.Context, e *lua.Engine, keys, args []string) (protocol.Value, error) {
		return e.EvalSHA(ctx, string(cmd.Args[0]), keys, args)
	})
}

type evalFunc func(ctx context.Context, e *lua.Engine, keys, args []string) (protocol.Value, error)

func (c *Client) evalScript(cmd *protocol.Command, name string, run evalFunc) {
	engine := c.engine()
	if engine == nil {
		c.writeError(fmt.Sprintf("ERR unknown command '%s'", name))
		return
	}
	if len(cmd.Args) < 2 {
		c.writeValue(wrongArgs(name))
		return
	}

	keys, args, reply := scriptArgs(cmd)
	if reply != nil {
		c.writeValue(*reply)
		return
	}

	ctx := lua.ContextWithProtocol(c.ctx, c.writer.Protocol())
	result, err := run(ctx, engine, keys, args)
	if err != nil {
		if errors.Is(err, lua.ErrNoScript) {
			c.writeError(err.Error())
			return
		}
		c.writeError(fmt.Sprintf("ERR %v", err))
		return
	}

	c.writeValue(result)
}

func (c *Client) handleScript(cmd *protocol.Command) {
	engine := c.engine()
	if engine == nil {
		c.writeError("ERR unknown command 'script'")
		return
	}
	if len(cmd.Args) == 0 {
		c.writeValue(wrongArgs("script"))
		return
	}

	subCmd := strings.ToUpper(string(cmd.Args[0]))

	switch subCmd {
	case "LOAD":
		if len(cmd.Args) != 2 {
			c.writeValue(wrongArgs("script|load"))
			return
		}
		sha, err := engine.LoadScript(string(cmd.Args[1]))
		if err != nil {
			c.writeError(fmt.Sprintf("ERR %v", err))
			return
		}
		c.writeValue(protocol.BulkString(sha))

	case "EXISTS":
		if len(cmd.Args) < 2 {
			c.writeValue(wrongArgs("script|exists"))
			return
		}
		hashes := make([]string, len(cmd.Args)-1)
		for i := 1; i < len(cmd.Args); i++ {
			hashes[i-1] = string(cmd.Args[i])
		}

		results := engine.ScriptExists(hashes)
		values := make([]protocol.Value, len(results))
		for i, exists := range results {
			if exists {
				values[i] = protocol.Int(1)
			} else {
				values[i] = protocol.Int(0)
			}
		}
		c.writeValue(protocol.Array(values...))

	case "FLUSH":
		// ASYNC and SYNC behave the same
		if len(cmd.Args) > 2 {
			c.writeValue(wrongArgs("script|flush"))
			return
		}
		engine.ScriptFlush()
		c.writeValue(protocol.SimpleString("OK"))

	default:
		c.writeError(fmt.Sprintf("ERR unknown subcommand '%s'. Try SCRIPT HELP.", subCmd))
	}
}

// Response writers

// writeValue encodes v under the connection protocol. Values the protocol
// cannot carry are replaced by an error reply.
func (c *Client) writeValue(v protocol.Value) {
	if v.IsError() {
		atomic.AddInt64(&c.server.errorCount, 1)
	}
	if err := c.writer.WriteValue(v); err != nil {
		var perr *protocol.Error
		if !errors.As(err, &perr) {
			c.server.logger.Error("Write failed", "id", c.id, "error", err)
			c.Close()
			return
		}
		c.server.logger.Error("Reply encoding failed", "id", c.id, "error", err)
		c.writeError(fmt.Sprintf("ERR %v", err))
		return
	}
	if err := c.writer.Flush(); err != nil {
		c.server.logger.Debug("Flush failed", "id", c.id, "error", err)
		c.Close()
	}
}

func (c *Client) writeError(s string) {
	// Clean error message by removing internal newlines which can break RESP protocol
	cleanMsg := strings.ReplaceAll(s, "\n", " ")
	cleanMsg = strings.ReplaceAll(cleanMsg, "\r", " ")
	c.writeValue(protocol.ErrorReply(cleanMsg))
}
