package streamcodec

import "bytes"

// NDJSONDecoder decodes newline-delimited JSON streams (Ollama and similar
// local-inference servers): each line is one complete JSON object. Partial
// lines split across chunk boundaries are buffered until a newline arrives.
type NDJSONDecoder struct {
	buf []byte
}

// NewNDJSONDecoder returns a decoder for NDJSON-framed streams.
func NewNDJSONDecoder() *NDJSONDecoder {
	return &NDJSONDecoder{}
}

// Feed appends raw bytes and returns every complete line now available.
func (d *NDJSONDecoder) Feed(p []byte) [][]byte {
	d.buf = append(d.buf, p...)

	var events [][]byte
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSpace(d.buf[:idx])
		d.buf = d.buf[idx+1:]
		if len(line) == 0 {
			continue
		}
		events = append(events, append([]byte(nil), line...))
	}
	return events
}

// Finish returns the trailing line if the stream ended without a newline.
func (d *NDJSONDecoder) Finish() [][]byte {
	line := bytes.TrimSpace(d.buf)
	d.buf = nil
	if len(line) == 0 {
		return nil
	}
	return [][]byte{append([]byte(nil), line...)}
}
