package providers

import (
	"io"
	"sync"

	"costgate/internal/core"
	"costgate/internal/providers/streamcodec"
)

// ParseFunc converts one raw wire event into a canonical chunk.
// Returning (nil, nil) skips the event; returning an error skips it too —
// a malformed fragment never aborts the stream.
type ParseFunc func(raw []byte) (*core.StreamingChunk, error)

// UsageReporter is implemented by streams that capture token usage from the
// final wire events, for ledger accounting after the stream is drained.
type UsageReporter interface {
	Usage() *core.Usage
}

// Stream drives a framing decoder over an HTTP response body and yields
// canonical chunks. Between Next calls it retains only the decoder's parse
// buffer and any already-decoded pending chunks; the body is released on
// Close or when the stream is exhausted.
type Stream struct {
	body     io.ReadCloser
	dec      streamcodec.Decoder
	parse    ParseFunc
	provider string

	pending  []*core.StreamingChunk
	usage    *core.Usage
	readBuf  []byte
	err      error
	finished bool

	closeOnce sync.Once
	closeErr  error
}

// NewStream wraps a response body with a framing decoder and event parser.
func NewStream(body io.ReadCloser, dec streamcodec.Decoder, parse ParseFunc, provider string) *Stream {
	return &Stream{
		body:     body,
		dec:      dec,
		parse:    parse,
		provider: provider,
		readBuf:  make([]byte, 4096),
	}
}

// Next returns the next canonical chunk, or io.EOF when the stream is
// exhausted. Chunks with no choices are filtered out, but their usage
// payload (the final usage-only event many backends send) is captured.
func (s *Stream) Next() (*core.StreamingChunk, error) {
	for {
		if len(s.pending) > 0 {
			chunk := s.pending[0]
			s.pending = s.pending[1:]
			if chunk.Provider == "" {
				chunk.Provider = s.provider
			}
			if chunk.Usage != nil {
				s.usage = chunk.Usage
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			return chunk, nil
		}

		if s.finished {
			if s.err != nil {
				return nil, s.err
			}
			return nil, io.EOF
		}

		n, err := s.body.Read(s.readBuf)
		if n > 0 {
			s.ingest(s.dec.Feed(s.readBuf[:n]))
		}
		switch {
		case err == io.EOF:
			s.ingest(s.dec.Finish())
			s.finished = true
			_ = s.Close()
		case err != nil:
			// Connection failure terminates the sequence after pending
			// chunks are drained.
			s.ingest(s.dec.Finish())
			s.finished = true
			s.err = core.NewNetworkError(s.provider, "stream read failed: "+err.Error(), err)
			_ = s.Close()
		}
	}
}

// ingest parses raw events into pending chunks, skipping malformed ones.
func (s *Stream) ingest(events [][]byte) {
	for _, raw := range events {
		chunk, err := s.parse(raw)
		if err != nil || chunk == nil {
			continue
		}
		s.pending = append(s.pending, chunk)
	}
}

// Usage returns token usage captured from the stream's final events, or nil
// if the backend reported none.
func (s *Stream) Usage() *core.Usage {
	return s.usage
}

// Close releases the underlying connection. Safe to call multiple times and
// safe to call before the stream is drained (early cancellation).
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
