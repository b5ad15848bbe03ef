// Package server provides a RESP server that dispatches commands to
// registered handlers.
//
// Connections start in RESP2 and switch generation with HELLO; replies are
// encoded under the connection's protocol without downgrading, so a handler
// must look at Request.Protocol before returning RESP3-only values.
//
// The server is compatible with clients like github.com/redis/go-redis and
// supports:
//   - HELLO, AUTH, PING, ECHO and QUIT
//   - Lua script execution (EVAL, EVALSHA, SCRIPT LOAD, SCRIPT EXISTS, SCRIPT FLUSH)
//     when an engine is set with SetScripting
//   - Concurrent client handling
package server
