// Package protocol owns the node-to-node wire contract and its codec primitives.
//
// Ownership boundary:
// - message type tags
// - fixed-order primitive encode/decode (Writer, Reader)
// - protocol violation errors
//
// Subpackages:
// - chunk: chunked payload staging
// - loopback: in-process write-then-read byte channel
// - frame: stream framing for socket transports
// - message: typed message variants, registry, dispatch
//
// Field order is the contract. A writer and a reader for one message variant
// process the same fields in the same order; anything else corrupts the rest
// of the stream and is reported as ErrProtocolViolation.
package protocol
