package lua

import (
	"errors"
	"math"
	"sort"
	"strconv"

	lua "github.com/yuin/gopher-lua"

	"github.com/raniellyferreira/respwire/protocol"
)

// maxReplyDepth bounds table nesting when a script reply is converted.
// Deeper or cyclic tables become an error reply.
const maxReplyDepth = protocol.DefaultMaxDepth

// toLua converts a command reply for a script. resp is the shape selected
// with redis.setresp: under RESP2, RESP3-only replies are flattened the way
// the server renders them to RESP2 clients.
func toLua(L *lua.LState, v protocol.Value, resp protocol.Version) lua.LValue {
	if v.IsNil() {
		if resp == protocol.RESP3 {
			return lua.LNil
		}
		return lua.LFalse // Redis nil becomes false in Lua
	}

	switch v.Type {
	case protocol.TypeInteger:
		return lua.LNumber(v.Integer)

	case protocol.TypeBulkString:
		return lua.LString(v.Data)

	case protocol.TypeSimpleString:
		t := L.NewTable()
		t.RawSetString("ok", lua.LString(v.Data))
		return t

	case protocol.TypeError, protocol.TypeBulkError:
		return errorTable(L, string(v.Data))

	case protocol.TypeArray, protocol.TypePush:
		return arrayTable(L, v.Array, resp)

	case protocol.TypeSet:
		if resp != protocol.RESP3 {
			return arrayTable(L, v.Array, resp)
		}
		members := L.NewTable()
		for _, m := range v.Array {
			if key := toLua(L, m, resp); key != lua.LNil {
				members.RawSet(key, lua.LTrue)
			}
		}
		t := L.NewTable()
		t.RawSetString("set", members)
		return t

	case protocol.TypeMap:
		if resp != protocol.RESP3 {
			flat := make([]protocol.Value, 0, 2*len(v.Map))
			for _, kv := range v.Map {
				flat = append(flat, kv.Key, kv.Value)
			}
			return arrayTable(L, flat, resp)
		}
		entries := L.NewTable()
		for _, kv := range v.Map {
			if key := toLua(L, kv.Key, resp); key != lua.LNil {
				entries.RawSet(key, toLua(L, kv.Value, resp))
			}
		}
		t := L.NewTable()
		t.RawSetString("map", entries)
		return t

	case protocol.TypeBoolean:
		if resp != protocol.RESP3 {
			if v.Bool {
				return lua.LNumber(1)
			}
			return lua.LFalse
		}
		return lua.LBool(v.Bool)

	case protocol.TypeDouble:
		if resp != protocol.RESP3 {
			return lua.LString(formatDouble(v.Double))
		}
		t := L.NewTable()
		t.RawSetString("double", lua.LNumber(v.Double))
		return t

	case protocol.TypeBigNumber:
		if resp != protocol.RESP3 {
			return lua.LString(v.Data)
		}
		t := L.NewTable()
		t.RawSetString("big_number", lua.LString(v.Data))
		return t

	case protocol.TypeVerbatimString:
		if resp != protocol.RESP3 {
			return lua.LString(v.Data)
		}
		inner := L.NewTable()
		inner.RawSetString("format", lua.LString(v.FormatString()))
		inner.RawSetString("string", lua.LString(v.Data))
		t := L.NewTable()
		t.RawSetString("verbatim_string", inner)
		return t
	}

	return lua.LFalse
}

func arrayTable(L *lua.LState, elems []protocol.Value, resp protocol.Version) *lua.LTable {
	t := L.CreateTable(len(elems), 0)
	for i, e := range elems {
		t.RawSetInt(i+1, toLua(L, e, resp))
	}
	return t
}

// errReplyDepth is reported for tables nested deeper than maxReplyDepth
var errReplyDepth = errors.New("ERR reached lua stack limit")

// fromLua converts a script value into a reply for a client speaking proto
func fromLua(lv lua.LValue, proto protocol.Version, depth int) (protocol.Value, error) {
	if depth > maxReplyDepth {
		return protocol.Value{}, errReplyDepth
	}

	switch v := lv.(type) {
	case lua.LNumber:
		// Redis truncates numbers to integers
		return protocol.Int(int64(float64(v))), nil

	case lua.LString:
		return protocol.BulkString(string(v)), nil

	case lua.LBool:
		if proto == protocol.RESP3 {
			return protocol.Bool(bool(v)), nil
		}
		if v {
			return protocol.Int(1), nil
		}
		return protocol.NullBulk(), nil

	case *lua.LTable:
		return tableReply(v, proto, depth)
	}

	if proto == protocol.RESP3 {
		return protocol.Null(), nil
	}
	return protocol.NullBulk(), nil
}

func tableReply(t *lua.LTable, proto protocol.Version, depth int) (protocol.Value, error) {
	if msg, ok := t.RawGetString("err").(lua.LString); ok {
		return protocol.ErrorReply(string(msg)), nil
	}
	if msg, ok := t.RawGetString("ok").(lua.LString); ok {
		return protocol.SimpleString(string(msg)), nil
	}

	if n, ok := t.RawGetString("double").(lua.LNumber); ok {
		if proto == protocol.RESP3 {
			return protocol.Double(float64(n)), nil
		}
		return protocol.BulkString(formatDouble(float64(n))), nil
	}

	if s, ok := t.RawGetString("big_number").(lua.LString); ok {
		if proto == protocol.RESP3 {
			return protocol.BigNumber(string(s)), nil
		}
		return protocol.BulkString(string(s)), nil
	}

	if inner, ok := t.RawGetString("verbatim_string").(*lua.LTable); ok {
		text := lua.LVAsString(inner.RawGetString("string"))
		if proto == protocol.RESP3 {
			format := lua.LVAsString(inner.RawGetString("format"))
			if format == "" {
				format = "txt"
			}
			return protocol.Verbatim(format, text), nil
		}
		return protocol.BulkString(text), nil
	}

	if m, ok := t.RawGetString("map").(*lua.LTable); ok {
		var flat []protocol.Value
		for _, p := range sortedPairs(m) {
			k, err := fromLua(p.key, proto, depth+1)
			if err != nil {
				return protocol.Value{}, err
			}
			v, err := fromLua(p.value, proto, depth+1)
			if err != nil {
				return protocol.Value{}, err
			}
			flat = append(flat, k, v)
		}
		if proto != protocol.RESP3 {
			return protocol.Array(flat...), nil
		}
		kvs := make([]protocol.KeyValue, len(flat)/2)
		for i := range kvs {
			kvs[i] = protocol.Pair(flat[2*i], flat[2*i+1])
		}
		return protocol.Map(kvs...), nil
	}

	if s, ok := t.RawGetString("set").(*lua.LTable); ok {
		var members []protocol.Value
		for _, p := range sortedPairs(s) {
			m, err := fromLua(p.key, proto, depth+1)
			if err != nil {
				return protocol.Value{}, err
			}
			members = append(members, m)
		}
		if proto == protocol.RESP3 {
			return protocol.Set(members...), nil
		}
		return protocol.Array(members...), nil
	}

	// array part, up to the first nil
	var elems []protocol.Value
	for i := 1; ; i++ {
		lv := t.RawGetInt(i)
		if lv == lua.LNil {
			break
		}
		elem, err := fromLua(lv, proto, depth+1)
		if err != nil {
			return protocol.Value{}, err
		}
		elems = append(elems, elem)
	}
	return protocol.Array(elems...), nil
}

type luaPair struct {
	key   lua.LValue
	value lua.LValue
}

// sortedPairs returns the entries of t ordered by key so replies built from
// Lua hash tables are deterministic
func sortedPairs(t *lua.LTable) []luaPair {
	var pairs []luaPair
	t.ForEach(func(k, v lua.LValue) {
		pairs = append(pairs, luaPair{key: k, value: v})
	})
	sort.Slice(pairs, func(i, j int) bool {
		ki, kj := pairs[i].key, pairs[j].key
		if ki.Type() != kj.Type() {
			return ki.Type() < kj.Type()
		}
		if ni, ok := ki.(lua.LNumber); ok {
			return ni < kj.(lua.LNumber)
		}
		return ki.String() < kj.String()
	})
	return pairs
}

// formatDouble renders a double as RESP2 clients receive it
func formatDouble(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
