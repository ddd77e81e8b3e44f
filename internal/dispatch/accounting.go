package dispatch

import (
	"context"
	"io"
	"sync"

	"costgate/internal/core"
)

// accountingStream settles usage for a streamed request exactly once, on
// whichever of drain-to-EOF or Close happens first. Early cancellation
// still produces a ledger entry with whatever usage the backend reported
// before the stream was dropped.
type accountingStream struct {
	core.ChunkStream
	d        *Dispatcher
	ctx      context.Context
	provider string
	model    string
	once     sync.Once
}

func (d *Dispatcher) withAccounting(ctx context.Context, stream core.ChunkStream, provider, model string) core.ChunkStream {
	return &accountingStream{
		ChunkStream: stream,
		d:           d,
		ctx:         ctx,
		provider:    provider,
		model:       model,
	}
}

func (s *accountingStream) Next() (*core.StreamingChunk, error) {
	chunk, err := s.ChunkStream.Next()
	if err == io.EOF {
		s.settleOnce()
	}
	return chunk, err
}

func (s *accountingStream) Close() error {
	err := s.ChunkStream.Close()
	s.settleOnce()
	return err
}

func (s *accountingStream) settleOnce() {
	s.once.Do(func() {
		var usage *core.Usage
		if reporter, ok := s.ChunkStream.(interface{ Usage() *core.Usage }); ok {
			usage = reporter.Usage()
		}
		s.d.settle(s.ctx, s.provider, s.model, usage, true)
	})
}
