package streamcodec

import "bytes"

var (
	ssePrefix   = []byte("data:")
	doneMessage = []byte("[DONE]")
)

// SSEDecoder decodes line-delimited Server-Sent-Events framing: raw byte
// chunks are split on newlines, the "data: " prefix is stripped, blank
// lines, comment lines, and "event:" type lines are ignored, and the
// "[DONE]" sentinel terminates the event sequence. Each surviving line is
// one raw JSON event.
type SSEDecoder struct {
	buf  []byte
	done bool
}

// NewSSEDecoder returns a decoder for SSE-framed streams.
func NewSSEDecoder() *SSEDecoder {
	return &SSEDecoder{}
}

// Done reports whether the [DONE] sentinel has been seen.
func (d *SSEDecoder) Done() bool {
	return d.done
}

// Feed appends raw bytes and returns any complete events.
func (d *SSEDecoder) Feed(p []byte) [][]byte {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, p...)

	var events [][]byte
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := d.buf[:idx]
		d.buf = d.buf[idx+1:]

		ev, done := parseSSELine(line)
		if done {
			d.done = true
			d.buf = nil
			return events
		}
		if ev != nil {
			events = append(events, ev)
		}
	}
	return events
}

// Finish gives the leftover partial line one final parse attempt. Streams
// that end cleanly leave nothing behind; a connection cut mid-line may
// still hold one complete event without its trailing newline.
func (d *SSEDecoder) Finish() [][]byte {
	if d.done || len(d.buf) == 0 {
		return nil
	}
	line := d.buf
	d.buf = nil
	ev, done := parseSSELine(line)
	if done {
		d.done = true
		return nil
	}
	if ev == nil {
		return nil
	}
	return [][]byte{ev}
}

// parseSSELine extracts the payload of one SSE line. Returns (nil, false)
// for lines that carry no event and (nil, true) for the [DONE] sentinel.
func parseSSELine(line []byte) (event []byte, done bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, false
	}
	if !bytes.HasPrefix(line, ssePrefix) {
		// "event:" type lines, comments, and ids carry no payload
		return nil, false
	}
	payload := bytes.TrimSpace(line[len(ssePrefix):])
	if len(payload) == 0 {
		return nil, false
	}
	if bytes.Equal(payload, doneMessage) {
		return nil, true
	}
	// Return a copy: the caller may retain the event past the next Feed.
	return append([]byte(nil), payload...), false
}
