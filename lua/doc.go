// Package lua provides Redis-compatible Lua script execution over RESP values.
//
// Scripts see command replies converted with the Redis rules: integers
// become numbers, bulk strings become strings, status and error replies
// become {ok=...} and {err=...} tables, and nulls become false. After
// redis.setresp(3) RESP3 replies keep their shape as {map=...}, {set=...},
// {double=...}, {big_number=...} and {verbatim_string=...} tables.
//
// The value a script returns is converted back for the protocol generation
// of the calling client, taken from ContextWithProtocol.
//
// The Lua execution environment includes:
//   - redis.call() and redis.pcall(), dispatched to a Caller
//   - redis.status_reply(), redis.error_reply(), redis.setresp() and redis.sha1hex()
//   - Access to KEYS and ARGV arrays passed from the client
//
// Scripts run with the base, table, string and math libraries only.
package lua
