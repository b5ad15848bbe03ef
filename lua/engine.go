package lua

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/raniellyferreira/respwire/protocol"
)

// ErrNoScript is returned by EvalSHA for an unknown digest. Its text is the
// error reply a server sends for it.
var ErrNoScript = errors.New("NOSCRIPT No matching script. Please use EVAL.")

// Caller executes the commands a script issues through redis.call and
// redis.pcall. args[0] is the command name.
type Caller interface {
	Call(ctx context.Context, args [][]byte) (protocol.Value, error)
}

// CallerFunc adapts a function to the Caller interface
type CallerFunc func(ctx context.Context, args [][]byte) (protocol.Value, error)

// Call implements Caller
func (f CallerFunc) Call(ctx context.Context, args [][]byte) (protocol.Value, error) {
	return f(ctx, args)
}

// script is a compiled script shared by every evaluation
type script struct {
	source string
	proto  *lua.FunctionProto
}

// Engine provides Redis-compatible Lua script execution
type Engine struct {
	caller  Caller
	scripts sync.Map // map[string]*script - SHA1 -> compiled script
}

// NewEngine creates a new Lua execution engine. A nil caller makes every
// redis.call fail with an error reply.
func NewEngine(caller Caller) *Engine {
	return &Engine{
		caller: caller,
	}
}

type protocolKey struct{}

// ContextWithProtocol records the protocol generation of the client a
// script replies to. Scripts reply in RESP2 shapes when it is absent.
func ContextWithProtocol(ctx context.Context, v protocol.Version) context.Context {
	return context.WithValue(ctx, protocolKey{}, v)
}

// ProtocolFromContext returns the client protocol stored in ctx
func ProtocolFromContext(ctx context.Context) protocol.Version {
	if v, ok := ctx.Value(protocolKey{}).(protocol.Version); ok {
		return v
	}
	return protocol.RESP2
}

// Eval executes a Lua script with the given keys and arguments. The script
// is cached, so a later EvalSHA with its digest finds it.
//
// An error raised by redis.call and not caught by the script is returned as
// an error reply value, not as a Go error. The Go error is reserved for
// compilation failures, runtime errors and cancellation.
func (e *Engine) Eval(ctx context.Context, source string, keys, args []string) (protocol.Value, error) {
	s, err := e.load(source)
	if err != nil {
		return protocol.Value{}, err
	}
	return e.run(ctx, s, keys, args)
}

// EvalSHA executes a previously loaded script by its SHA1 hash
func (e *Engine) EvalSHA(ctx context.Context, sha string, keys, args []string) (protocol.Value, error) {
	s, exists := e.scripts.Load(strings.ToLower(sha))
	if !exists {
		return protocol.Value{}, ErrNoScript
	}
	return e.run(ctx, s.(*script), keys, args)
}

// LoadScript compiles a script, caches it and returns its SHA1 hash
func (e *Engine) LoadScript(source string) (string, error) {
	if _, err := e.load(source); err != nil {
		return "", err
	}
	return sha1Hex(source), nil
}

// ScriptExists checks if scripts with given SHA1 hashes exist
func (e *Engine) ScriptExists(hashes []string) []bool {
	results := make([]bool, len(hashes))
	for i, hash := range hashes {
		_, exists := e.scripts.Load(strings.ToLower(hash))
		results[i] = exists
	}
	return results
}

// ScriptFlush removes all cached scripts
func (e *Engine) ScriptFlush() {
	e.scripts.Range(func(key, value interface{}) bool {
		e.scripts.Delete(key)
		return true
	})
}

func (e *Engine) load(source string) (*script, error) {
	hash := sha1Hex(source)
	if s, ok := e.scripts.Load(hash); ok {
		return s.(*script), nil
	}

	chunk, err := parse.Parse(strings.NewReader(source), "@user_script")
	if err != nil {
		return nil, fmt.Errorf("script compilation error: %w", err)
	}
	proto, err := lua.Compile(chunk, "@user_script")
	if err != nil {
		return nil, fmt.Errorf("script compilation error: %w", err)
	}

	s, _ := e.scripts.LoadOrStore(hash, &script{source: source, proto: proto})
	return s.(*script), nil
}

func (e *Engine) run(ctx context.Context, s *script, keys, args []string) (protocol.Value, error) {
	L := newState()
	defer L.Close()
	L.SetContext(ctx)

	state := &evalState{
		engine: e,
		ctx:    ctx,
		resp:   protocol.RESP2,
		client: ProtocolFromContext(ctx),
	}
	state.setupRedisAPI(L, keys, args)

	top := L.GetTop()
	L.Push(L.NewFunctionFromProto(s.proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return protocol.Value{}, fmt.Errorf("script interrupted: %w", ctxErr)
		}
		// an error reply raised by redis.call is the script's reply
		var apiErr *lua.ApiError
		if errors.As(err, &apiErr) {
			if t, ok := apiErr.Object.(*lua.LTable); ok {
				if msg, ok := t.RawGetString("err").(lua.LString); ok {
					return protocol.ErrorReply(string(msg)), nil
				}
			}
		}
		return protocol.Value{}, fmt.Errorf("script execution error: %w", err)
	}

	ret := lua.LValue(lua.LNil)
	if L.GetTop() > top {
		ret = L.Get(top + 1)
	}
	reply, err := fromLua(ret, state.client, 0)
	if err != nil {
		return protocol.ErrorReply(err.Error()), nil
	}
	return reply, nil
}

// newState opens the libraries scripts may use; file and module loading
// are left out
func newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// evalState is the per-evaluation view of the redis library
type evalState struct {
	engine *Engine
	ctx    context.Context
	resp   protocol.Version // shape of redis.call replies, set by redis.setresp
	client protocol.Version // shape of the script reply
}

// setupRedisAPI configures the Lua state with Redis-compatible functions
func (s *evalState) setupRedisAPI(L *lua.LState, keys, args []string) {
	// Create KEYS table
	keysTable := L.NewTable()
	for i, key := range keys {
		keysTable.RawSetInt(i+1, lua.LString(key)) // Lua arrays are 1-indexed
	}
	L.SetGlobal("KEYS", keysTable)

	// Create ARGV table
	argvTable := L.NewTable()
	for i, arg := range args {
		argvTable.RawSetInt(i+1, lua.LString(arg))
	}
	L.SetGlobal("ARGV", argvTable)

	redisTable := L.NewTable()
	L.SetFuncs(redisTable, map[string]lua.LGFunction{
		"call":         s.redisCall,
		"pcall":        s.redisPCall,
		"status_reply": statusReply,
		"error_reply":  errorReply,
		"setresp":      s.setResp,
		"sha1hex":      sha1HexFunc,
	})
	L.SetGlobal("redis", redisTable)
}

// redisCall implements redis.call(): error replies are raised
func (s *evalState) redisCall(L *lua.LState) int {
	return s.dispatch(L, true)
}

// redisPCall implements redis.pcall(): error replies are returned as {err=...}
func (s *evalState) redisPCall(L *lua.LState) int {
	return s.dispatch(L, false)
}

func (s *evalState) dispatch(L *lua.LState, raise bool) int {
	args, err := commandArgs(L)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}

	reply := protocol.ErrorReply("ERR unknown command '" + string(args[0]) + "'")
	if s.engine.caller != nil {
		var callErr error
		reply, callErr = s.engine.caller.Call(s.ctx, args)
		if callErr != nil {
			reply = protocol.ErrorReply("ERR " + callErr.Error())
		}
	}

	if reply.IsError() {
		t := errorTable(L, reply.Error())
		if raise {
			L.Error(t, 1)
			return 0
		}
		L.Push(t)
		return 1
	}

	L.Push(toLua(L, reply, s.resp))
	return 1
}

// commandArgs collects the arguments of a redis.call invocation
func commandArgs(L *lua.LState) ([][]byte, error) {
	argc := L.GetTop()
	if argc == 0 {
		return nil, errors.New("Please specify at least one argument for this redis lib call")
	}

	args := make([][]byte, argc)
	for i := 1; i <= argc; i++ {
		switch v := L.Get(i).(type) {
		case lua.LString:
			args[i-1] = []byte(v)
		case lua.LNumber:
			args[i-1] = []byte(formatNumber(v))
		default:
			return nil, errors.New("Lua redis lib command arguments must be strings or integers")
		}
	}
	return args, nil
}

// setResp implements redis.setresp()
func (s *evalState) setResp(L *lua.LState) int {
	switch L.CheckInt(1) {
	case 2:
		s.resp = protocol.RESP2
	case 3:
		s.resp = protocol.RESP3
	default:
		L.RaiseError("RESP version must be 2 or 3.")
	}
	return 0
}

func statusReply(L *lua.LState) int {
	t := L.NewTable()
	t.RawSetString("ok", lua.LString(L.CheckString(1)))
	L.Push(t)
	return 1
}

func errorReply(L *lua.LState) int {
	L.Push(errorTable(L, L.CheckString(1)))
	return 1
}

func sha1HexFunc(L *lua.LState) int {
	L.Push(lua.LString(sha1Hex(L.CheckString(1))))
	return 1
}

func errorTable(L *lua.LState, msg string) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("err", lua.LString(msg))
	return t
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// formatNumber renders a Lua number the way Redis passes it to commands
func formatNumber(n lua.LNumber) string {
	f := float64(n)
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', 17, 64)
}
