package server

import (
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raniellyferreira/respwire/lua"
	"github.com/raniellyferreira/respwire/protocol"
)

// Simple RESP client for testing
type testClient struct {
	conn   net.Conn
	reader *protocol.Reader
	writer *protocol.Writer
}

func newTestClient(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	cfg := protocol.DefaultConfig()
	cfg.Protocol = protocol.RESP2
	return &testClient{
		conn:   conn,
		reader: protocol.NewReaderConfig(conn, cfg),
		writer: protocol.NewWriterConfig(conn, cfg),
	}
}

func (c *testClient) do(t *testing.T, cmd string, args ...string) protocol.Value {
	t.Helper()
	require.NoError(t, c.writer.WriteCommand(cmd, args...))
	require.NoError(t, c.writer.Flush())
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	v, err := c.reader.ReadNext()
	require.NoError(t, err)
	return v
}

// hello switches both ends to version
func (c *testClient) hello(t *testing.T, version protocol.Version, extra ...string) protocol.Value {
	t.Helper()
	c.reader.SetProtocol(version)
	c.writer.SetProtocol(version)
	return c.do(t, "HELLO", append([]string{strconv.Itoa(int(version))}, extra...)...)
}

// expectRaw sends request and compares the exact reply bytes
func expectRaw(t *testing.T, conn net.Conn, request, want string) {
	t.Helper()
	_, err := conn.Write([]byte(request))
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	got := make([]byte, len(want))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, want, string(got))
}

// memStore is a minimal keyspace behind the test handlers
type memStore struct {
	mu   sync.Mutex
	data map[string]string
	hash map[string]map[string]string
}

func startTestServer(t *testing.T, configure ...func(*Server)) *Server {
	t.Helper()

	store := &memStore{data: make(map[string]string), hash: make(map[string]map[string]string)}
	srv := New("127.0.0.1:0") // Use random port

	srv.Handle("get", func(ctx context.Context, req *Request) protocol.Value {
		if len(req.Command.Args) != 1 {
			return wrongArgs("get")
		}
		store.mu.Lock()
		defer store.mu.Unlock()
		v, ok := store.data[req.Command.Arg(0)]
		if !ok {
			return protocol.NullBulk()
		}
		return protocol.BulkString(v)
	})
	srv.Handle("set", func(ctx context.Context, req *Request) protocol.Value {
		if len(req.Command.Args) < 2 {
			return wrongArgs("set")
		}
		store.mu.Lock()
		defer store.mu.Unlock()
		store.data[req.Command.Arg(0)] = req.Command.Arg(1)
		return protocol.SimpleString("OK")
	})
	srv.Handle("hset", func(ctx context.Context, req *Request) protocol.Value {
		args := req.Command.Args
		if len(args) < 3 || len(args)%2 != 1 {
			return wrongArgs("hset")
		}
		store.mu.Lock()
		defer store.mu.Unlock()
		h := store.hash[string(args[0])]
		if h == nil {
			h = make(map[string]string)
			store.hash[string(args[0])] = h
		}
		var added int64
		for i := 1; i < len(args); i += 2 {
			if _, ok := h[string(args[i])]; !ok {
				added++
			}
			h[string(args[i])] = string(args[i+1])
		}
		return protocol.Int(added)
	})
	srv.Handle("hgetall", func(ctx context.Context, req *Request) protocol.Value {
		store.mu.Lock()
		defer store.mu.Unlock()
		h := store.hash[req.Command.Arg(0)]
		var pairs []protocol.KeyValue
		for k, v := range h {
			pairs = append(pairs, protocol.Pair(protocol.BulkString(k), protocol.BulkString(v)))
		}
		if req.Protocol == protocol.RESP3 {
			return protocol.Map(pairs...)
		}
		flat := make([]protocol.Value, 0, 2*len(pairs))
		for _, kv := range pairs {
			flat = append(flat, kv.Key, kv.Value)
		}
		return protocol.Array(flat...)
	})
	srv.Handle("score", func(ctx context.Context, req *Request) protocol.Value {
		if req.Protocol == protocol.RESP3 {
			return protocol.Double(1.5)
		}
		return protocol.BulkString("1.5")
	})
	// ignores the request protocol
	srv.Handle("rawmap", func(ctx context.Context, req *Request) protocol.Value {
		return protocol.Map(protocol.Pair(protocol.BulkString("a"), protocol.Int(1)))
	})

	srv.SetScripting(lua.NewEngine(srv.NewCaller()))
	for _, fn := range configure {
		fn(srv)
	}

	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func TestServer_BasicCommands(t *testing.T) {
	srv := startTestServer(t)
	client := newTestClient(t, srv.Addr())

	tests := []struct {
		cmd  string
		args []string
		want protocol.Value
	}{
		{"PING", nil, protocol.SimpleString("PONG")},
		{"PING", []string{"hello"}, protocol.BulkString("hello")},
		{"ECHO", []string{"echo me"}, protocol.BulkString("echo me")},
		{"SET", []string{"key1", "value1"}, protocol.SimpleString("OK")},
		{"GET", []string{"key1"}, protocol.BulkString("value1")},
		{"get", []string{"missing"}, protocol.NullBulk()},
		{"NOPE", nil, protocol.ErrorReply("ERR unknown command 'nope'")},
		{"ECHO", nil, protocol.ErrorReply("ERR wrong number of arguments for 'echo' command")},
	}

	for _, tt := range tests {
		got := client.do(t, tt.cmd, tt.args...)
		assert.True(t, protocol.Equal(tt.want, got), "%s %v: got %s", tt.cmd, tt.args, got)
	}
}

func TestServer_RawReplies(t *testing.T) {
	srv := startTestServer(t)

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	expectRaw(t, conn, "*1\r\n$4\r\nPING\r\n", "+PONG\r\n")
	expectRaw(t, conn, "*2\r\n$3\r\nGET\r\n$1\r\nx\r\n", "$-1\r\n")

	// switch to RESP3: the null is now "_"
	expectRaw(t, conn, "*2\r\n$5\r\nHELLO\r\n$1\r\n3\r\n", "%7\r\n")
	r := protocol.NewReaderConfig(conn, protocol.DefaultConfig())
	r.SetProtocol(protocol.RESP3)
	// drain the remaining seven map entries
	for i := 0; i < 14; i++ {
		_, err := r.ReadNext()
		require.NoError(t, err)
	}
	require.Zero(t, r.Buffered())

	expectRaw(t, conn, "*2\r\n$3\r\nGET\r\n$1\r\nx\r\n", "_\r\n")
}

func TestServer_Hello(t *testing.T) {
	srv := startTestServer(t)
	client := newTestClient(t, srv.Addr())

	reply := client.hello(t, protocol.RESP3)
	require.Equal(t, protocol.TypeMap, reply.Type)
	assert.Equal(t, "respwire", reply.Map[0].Value.String())
	assert.True(t, protocol.Equal(protocol.Int(3), reply.Map[2].Value))

	got := client.do(t, "HGETALL", "nothing")
	assert.Equal(t, protocol.TypeMap, got.Type)
	got = client.do(t, "SCORE")
	assert.True(t, protocol.Equal(protocol.Double(1.5), got))

	reply = client.hello(t, protocol.RESP2)
	require.Equal(t, protocol.TypeArray, reply.Type)
	assert.Len(t, reply.Array, 14)

	got = client.do(t, "SCORE")
	assert.True(t, protocol.Equal(protocol.BulkString("1.5"), got))

	got = client.do(t, "HELLO", "4")
	assert.True(t, strings.HasPrefix(got.Error(), "NOPROTO"), got.String())
}

func TestServer_EncodeFailureBecomesError(t *testing.T) {
	srv := startTestServer(t)
	client := newTestClient(t, srv.Addr())

	got := client.do(t, "RAWMAP")
	require.True(t, got.IsError())
	assert.Contains(t, got.Error(), "unsupported variant")

	// the connection is still usable
	got = client.do(t, "PING")
	assert.True(t, protocol.Equal(protocol.SimpleString("PONG"), got))

	client.hello(t, protocol.RESP3)
	got = client.do(t, "RAWMAP")
	assert.Equal(t, protocol.TypeMap, got.Type)
}

func TestServer_ProtocolErrorClosesConnection(t *testing.T) {
	srv := startTestServer(t)

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("*1\r\n$abc\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "-ERR Protocol error:"), string(data))
	assert.True(t, strings.HasSuffix(string(data), "\r\n"))
}

func TestServer_InvalidCommandShape(t *testing.T) {
	srv := startTestServer(t)

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	// an integer is a valid value but not a command
	_, err = conn.Write([]byte(":1\r\n"))
	require.NoError(t, err)
	r := protocol.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	v, err := r.ReadNext()
	require.NoError(t, err)
	assert.Contains(t, v.Error(), "Protocol error")

	expectRaw(t, conn, "*1\r\n$4\r\nPING\r\n", "+PONG\r\n")
}

func TestServer_Authentication(t *testing.T) {
	srv := startTestServer(t, func(s *Server) { s.SetPassword("secret") })
	client := newTestClient(t, srv.Addr())

	got := client.do(t, "GET", "k")
	assert.Equal(t, "NOAUTH Authentication required.", got.Error())

	got = client.do(t, "AUTH", "wrong")
	assert.True(t, strings.HasPrefix(got.Error(), "WRONGPASS"))

	got = client.do(t, "AUTH", "default", "secret")
	assert.True(t, protocol.Equal(protocol.SimpleString("OK"), got))

	got = client.do(t, "GET", "k")
	assert.False(t, got.IsError())
}

func TestServer_HelloAuth(t *testing.T) {
	srv := startTestServer(t, func(s *Server) { s.SetPassword("secret") })
	client := newTestClient(t, srv.Addr())

	got := client.do(t, "HELLO", "2")
	assert.True(t, strings.HasPrefix(got.Error(), "NOAUTH"))

	reply := client.hello(t, protocol.RESP3, "AUTH", "default", "secret")
	assert.Equal(t, protocol.TypeMap, reply.Type)
}

func TestServer_Quit(t *testing.T) {
	srv := startTestServer(t)

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	expectRaw(t, conn, "*1\r\n$4\r\nQUIT\r\n", "+OK\r\n")

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_LuaScripts(t *testing.T) {
	srv := startTestServer(t)
	client := newTestClient(t, srv.Addr())

	got := client.do(t, "EVAL", "return 'hello'", "0")
	assert.Equal(t, "hello", got.String())

	got = client.do(t, "EVAL", "redis.call('SET', KEYS[1], ARGV[1]); return redis.call('GET', KEYS[1])", "1", "lk", "lv")
	assert.Equal(t, "lv", got.String())

	got = client.do(t, "GET", "lk")
	assert.Equal(t, "lv", got.String())

	got = client.do(t, "SCRIPT", "LOAD", "return ARGV[1]")
	sha := got.String()
	assert.Len(t, sha, 40)

	got = client.do(t, "EVALSHA", sha, "0", "x")
	assert.Equal(t, "x", got.String())

	got = client.do(t, "SCRIPT", "EXISTS", sha, "0000000000000000000000000000000000000000")
	assert.True(t, protocol.Equal(protocol.Array(protocol.Int(1), protocol.Int(0)), got))

	got = client.do(t, "SCRIPT", "FLUSH")
	assert.Equal(t, "OK", got.String())

	got = client.do(t, "EVALSHA", sha, "0")
	assert.True(t, strings.HasPrefix(got.Error(), "NOSCRIPT"))

	got = client.do(t, "EVAL", "return 1", "2", "a")
	assert.True(t, got.IsError())

	got = client.do(t, "EVAL", "return redis.call('EVAL', 'return 1', '0')", "0")
	assert.Contains(t, got.Error(), "not allowed from script")

	got = client.do(t, "EVAL", "syntax error here", "0")
	assert.True(t, strings.HasPrefix(got.Error(), "ERR "))
}

func TestServer_LuaRepliesFollowClientProtocol(t *testing.T) {
	srv := startTestServer(t)
	client := newTestClient(t, srv.Addr())

	script := "redis.setresp(3); return redis.call('HGETALL', KEYS[1])"
	client.do(t, "HSET", "h", "f", "v")

	got := client.do(t, "EVAL", script, "1", "h")
	assert.True(t, protocol.Equal(protocol.Array(protocol.BulkString("f"), protocol.BulkString("v")), got), got.String())

	client.hello(t, protocol.RESP3)
	got = client.do(t, "EVAL", script, "1", "h")
	assert.True(t, protocol.Equal(protocol.Map(protocol.Pair(protocol.BulkString("f"), protocol.BulkString("v"))), got), got.String())

	got = client.do(t, "EVAL", "return true", "0")
	assert.True(t, protocol.Equal(protocol.Bool(true), got))
}

func TestServer_ScriptingDisabled(t *testing.T) {
	srv := New("127.0.0.1:0")
	require.NoError(t, srv.Start())
	defer srv.Stop()

	client := newTestClient(t, srv.Addr())
	got := client.do(t, "EVAL", "return 1", "0")
	assert.Equal(t, "ERR unknown command 'eval'", got.Error())
}

func TestServer_ReadTimeout(t *testing.T) {
	srv := New("127.0.0.1:0")
	srv.SetReadTimeout(50 * time.Millisecond)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_Stats(t *testing.T) {
	srv := startTestServer(t)
	client := newTestClient(t, srv.Addr())

	client.do(t, "PING")
	client.do(t, "NOPE")

	stats := srv.Stats()
	assert.Equal(t, 1, stats["connected_clients"])
	assert.Equal(t, int64(2), stats["total_commands"])
	assert.Equal(t, int64(1), stats["total_errors"])
	assert.Equal(t, int64(1), stats["total_connections"])
	assert.Equal(t, uint64(2), stats["values_decoded"])
	assert.Equal(t, uint64(2), stats["values_encoded"])
}

func TestServer_ConcurrentClients(t *testing.T) {
	srv := startTestServer(t)

	clients := make([]*testClient, 8)
	for i := range clients {
		clients[i] = newTestClient(t, srv.Addr())
	}

	var wg sync.WaitGroup
	for i, client := range clients {
		wg.Add(1)
		go func(i int, client *testClient) {
			defer wg.Done()
			key := "key" + strconv.Itoa(i)
			req := protocol.AppendCommand(nil, []byte("SET"), []byte(key), []byte(key))
			req = protocol.AppendCommand(req, []byte("GET"), []byte(key))
			if _, err := client.conn.Write(req); !assert.NoError(t, err) {
				return
			}
			client.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			for _, want := range []string{"OK", key} {
				got, err := client.reader.ReadNext()
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, want, got.String())
			}
		}(i, client)
	}
	wg.Wait()
}
