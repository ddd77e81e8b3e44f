// Package streamcodec provides resumable framing decoders for the three
// streaming wire formats spoken by LLM backends: Server-Sent-Events,
// incrementally-flushed JSON arrays, and newline-delimited JSON.
//
// A decoder holds only its accumulated parse buffer between calls, never
// connection state, so it can be driven incrementally as bytes arrive and
// unit-tested without a live connection. Feeding the same logical byte
// stream split at any boundary yields the same ordered event sequence.
package streamcodec

// Decoder turns raw byte fragments into complete event payloads.
// Feed returns zero or more complete raw events (one JSON document each);
// Finish drains whatever a well-formed tail the buffer still holds and must
// be called exactly once, after the last Feed.
type Decoder interface {
	Feed(p []byte) [][]byte
	Finish() [][]byte
}
