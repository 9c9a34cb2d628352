// Package protocol implements the SSCMA AT command engine.
//
// The edge device speaks a line-oriented text protocol. The host writes
// command lines:
//
//	AT+[<TAG>@]<CMD>[=<VALUE>|?]\r\n
//
// and the device answers with JSON frames delimited by "\r{" and "}\n",
// multiplexing three kinds of traffic on one stream:
//
//   - responses (type 0) that answer a command, echoing its name
//   - events (type 1) such as INVOKE and SAMPLE results
//   - logs (type 2), where sub-kind "AT" echoes a command and "LOG" is free text
//
// # Architecture
//
//	transport bytes → Framer → Client.dispatch ─┬→ pending request (response / AT log)
//	                                            └→ event worker → event & log handlers
//
// Responses are correlated with waiting callers by expected name on the
// receive goroutine. Events and log lines go through a bounded queue to a
// single worker, so a handler may issue blocking commands without
// stalling the receive path.
//
// # Thread Safety
//
// Client is safe for concurrent use. Writes are serialized so command
// lines never interleave on the wire.
//
// # Usage
//
//	client := protocol.NewClient(transport, protocol.Options{Logger: log})
//	transport.SetOnReceive(client.HandleBytes)
//
//	reply, err := client.Get(ctx, protocol.CmdID)
//	if errors.Is(err, protocol.ErrNoReply) {
//	    // device silent for TryCount attempts
//	}
package protocol
