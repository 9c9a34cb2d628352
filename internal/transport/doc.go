// Package transport carries AT command lines to an SSCMA device and
// delivers its output as raw bytes.
//
// Two transports are provided:
//
//   - Serial: a USB CDC or UART link opened with go.bug.st/serial
//   - MQTT: a bridge over a broker, using the firmware's topic convention
//     <prefix>/<client_id>/rx for commands and <prefix>/<client_id>/tx for output
//
// Both satisfy Transport. Inbound bytes are delivered to the callback set
// with SetOnReceive, normally protocol.Client.HandleBytes. Chunk
// boundaries carry no meaning; the protocol framer reassembles frames.
package transport
