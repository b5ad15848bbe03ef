// Package protocol implements the Redis Serialization Protocol (RESP),
// generations 2 and 3, as a resumable decoder and a configurable encoder.
//
// The core works on caller-owned memory. A Decoder consumes a Buffer that
// may hold only part of a value; it returns ErrIncomplete and picks up where
// it stopped once the caller presents the same tail with more bytes:
//
//	dec := protocol.NewDecoder(protocol.DefaultConfig())
//	buf := protocol.NewBuffer(data)
//	v, err := dec.DecodeNext(buf)
//	switch {
//	case errors.Is(err, protocol.ErrIncomplete):
//		// read more, append to the undecoded tail, call again
//	case err != nil:
//		// the connection is desynchronized
//	}
//
// An Encoder writes values into a Sink. GrowableSink allocates as needed;
// FixedSink writes into a caller array and fails with ErrCapacityExceeded
// instead of growing.
//
// For io.Reader and io.Writer plumbing use Reader and Writer:
//
//	reader := protocol.NewReader(conn)
//	for {
//		value, err := reader.ReadNext()
//		if err != nil {
//			break
//		}
//		// Process value
//	}
//
// Behaviour is fixed by Config when a decoder or encoder is built. Build
// tags choose the defaults: resp_strict enables strict grammar checks, resp3
// selects RESP3, and resp_noatomic64 keeps Stats off 64-bit atomics.
//
// Supported types:
//   - RESP2: simple strings, errors, integers, bulk strings, arrays
//   - RESP3: null, booleans, doubles, big numbers, bulk errors, verbatim
//     strings, maps, sets, pushes and attributes
package protocol
