// Package respwire provides a RESP2/RESP3 client built on the protocol
// package's resumable codec.
//
// The client opens one connection, negotiates the protocol generation and
// runs request/reply cycles on it. Replies are protocol.Value trees; RESP3
// push messages that arrive while waiting for a reply are delivered on a
// separate channel.
//
// Basic usage:
//
//	client, err := respwire.Dial(ctx,
//		respwire.WithAddr("localhost:6379"),
//		respwire.WithProtocol(protocol.RESP3),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	reply, err := client.Do(ctx, "HGETALL", "user:1")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(reply) // {name: ada, role: admin}
//
// The library is organised as:
//
//   - protocol: the codec (Decoder, Encoder, sinks) and stream adapters
//   - server: a RESP server dispatching to registered handlers
//   - lua: Redis-compatible script execution over protocol values
//   - cmd/resp-diff: compares the replies of two servers
package respwire
