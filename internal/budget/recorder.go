package budget

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// RecorderConfig tunes the async ledger writer.
type RecorderConfig struct {
	BufferSize     int           `yaml:"buffer_size"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	BatchThreshold int           `yaml:"batch_threshold"`
}

// Recorder writes ledger entries asynchronously so accounting never sits
// on the request path. Entries are batched and flushed either when the
// batch fills or on a timer. When the buffer is full the entry is dropped
// with a warning; spend tracking degrades before request latency does.
type Recorder struct {
	store  LedgerStore
	buffer chan *CostInfo
	done   chan struct{}
	wg     sync.WaitGroup
	writes sync.WaitGroup
	closed atomic.Bool

	flushInterval  time.Duration
	batchThreshold int
}

// NewRecorder starts the flush goroutine and returns the recorder.
func NewRecorder(store LedgerStore, cfg RecorderConfig) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.BatchThreshold <= 0 {
		cfg.BatchThreshold = 50
	}

	r := &Recorder{
		store:          store,
		buffer:         make(chan *CostInfo, cfg.BufferSize),
		done:           make(chan struct{}),
		flushInterval:  cfg.FlushInterval,
		batchThreshold: cfg.BatchThreshold,
	}

	r.wg.Add(1)
	go r.flushLoop()

	return r
}

// Record queues a ledger entry. Non-blocking; a missing ID or timestamp is
// filled in here.
func (r *Recorder) Record(entry *CostInfo) {
	if entry == nil {
		return
	}
	if r.closed.Load() {
		return
	}

	// Track the in-flight send so Close cannot close the buffer under it.
	r.writes.Add(1)
	defer r.writes.Done()
	if r.closed.Load() {
		return
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	select {
	case r.buffer <- entry:
	default:
		slog.Warn("cost ledger buffer full, dropping entry",
			"request_id", entry.RequestID,
			"provider", entry.Provider,
			"model", entry.Model,
		)
	}
}

// Close flushes remaining entries and closes the store. Idempotent.
func (r *Recorder) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.writes.Wait()
	close(r.done)
	r.wg.Wait()
	return r.store.Close()
}

func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]*CostInfo, 0, r.batchThreshold)

	for {
		select {
		case entry := <-r.buffer:
			batch = append(batch, entry)
			if len(batch) >= r.batchThreshold {
				r.flushBatch(batch)
				batch = make([]*CostInfo, 0, r.batchThreshold)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				r.flushBatch(batch)
				batch = make([]*CostInfo, 0, r.batchThreshold)
			}

		case <-r.done:
			// closed is already set, no new sends can start
			close(r.buffer)
			for entry := range r.buffer {
				batch = append(batch, entry)
			}
			if len(batch) > 0 {
				r.flushBatch(batch)
			}
			return
		}
	}
}

func (r *Recorder) flushBatch(batch []*CostInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.store.AppendBatch(ctx, batch); err != nil {
		slog.Error("failed to flush cost ledger batch", "error", err, "entries", len(batch))
	}
}
