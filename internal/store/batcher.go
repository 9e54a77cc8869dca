package store

import (
	"context"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/oriys/capsule/internal/logging"
)

const (
	defaultBatchSize     = 100
	defaultBufferSize    = 1000
	defaultFlushInterval = 500 * time.Millisecond
	defaultFlushTimeout  = 5 * time.Second
	defaultMaxRetries    = 3
	defaultRetryInterval = 100 * time.Millisecond
	defaultMaxRetryWait  = 3 * time.Second
	flushPipelineDepth   = 2
)

// BatcherConfig tunes the async invocation record writer.
type BatcherConfig struct {
	BatchSize     int
	BufferSize    int
	FlushInterval time.Duration
	FlushTimeout  time.Duration
	MaxRetries    int
	RetryInterval time.Duration
	MaxRetryWait  time.Duration
}

// RecordSink abstracts the destination for batched invocation records, so
// the batcher can write through something other than a live Postgres store
// in tests (or a future alternate backend) without changing its logic.
type RecordSink interface {
	SaveInvocationRecords(ctx context.Context, recs []*InvocationRecord) error
}

// Batcher buffers invocation records off the call's hot path. A collector
// goroutine groups records into batches on a size or time trigger and hands
// each batch to a separate persist goroutine over a small buffered
// pipeline, so a batch stuck retrying against a slow sink does not stall
// accumulation of the next one.
type Batcher struct {
	sink          RecordSink
	logger        *slog.Logger
	records       chan *InvocationRecord
	flushCh       chan []*InvocationRecord
	batchSize     int
	flushInterval time.Duration
	flushTimeout  time.Duration
	maxRetries    int
	retryInterval time.Duration
	maxRetryWait  time.Duration
	dropped       atomic.Int64
	done          chan struct{}
}

// NewBatcher starts the collector and persist goroutines immediately.
func NewBatcher(sink RecordSink, cfg BatcherConfig) *Batcher {
	b := &Batcher{
		sink:          sink,
		logger:        logging.Op(),
		records:       make(chan *InvocationRecord, orDefault(cfg.BufferSize, defaultBufferSize)),
		flushCh:       make(chan []*InvocationRecord, flushPipelineDepth),
		batchSize:     orDefault(cfg.BatchSize, defaultBatchSize),
		flushInterval: orDefaultDuration(cfg.FlushInterval, defaultFlushInterval),
		flushTimeout:  orDefaultDuration(cfg.FlushTimeout, defaultFlushTimeout),
		maxRetries:    orDefault(cfg.MaxRetries, defaultMaxRetries),
		retryInterval: orDefaultDuration(cfg.RetryInterval, defaultRetryInterval),
		maxRetryWait:  orDefaultDuration(cfg.MaxRetryWait, defaultMaxRetryWait),
		done:          make(chan struct{}),
	}
	persistDone := make(chan struct{})
	go b.persistLoop(persistDone)
	go b.collectLoop(persistDone)
	return b
}

// Enqueue hands rec to the batcher. If the buffer is full the record is
// dropped and logged rather than blocking the invocation path.
func (b *Batcher) Enqueue(rec *InvocationRecord) {
	select {
	case b.records <- rec:
	default:
		b.dropped.Add(1)
		b.logger.Warn("dropping invocation record due to full buffer", "request_id", rec.RequestID, "profile_key", rec.ProfileKey)
	}
}

// Dropped returns the number of records discarded so far because the
// buffer was full when Enqueue was called.
func (b *Batcher) Dropped() int64 {
	return b.dropped.Load()
}

// Shutdown stops accepting new records, waits for the collector to flush
// whatever it has buffered and for the persist goroutine to drain the
// pipeline, up to timeout.
func (b *Batcher) Shutdown(timeout time.Duration) {
	close(b.records)
	select {
	case <-b.done:
	case <-time.After(timeout):
		b.logger.Warn("timeout waiting for invocation record batcher shutdown", "timeout", timeout)
	}
}

// collectLoop groups incoming records into batches and forwards each
// completed batch to the persist goroutine over flushCh. It never touches
// the sink directly, so a slow flush never delays accepting the next record.
func (b *Batcher) collectLoop(persistDone chan struct{}) {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	batch := make([]*InvocationRecord, 0, b.batchSize)
	handoff := func() {
		if len(batch) == 0 {
			return
		}
		b.flushCh <- batch
		batch = make([]*InvocationRecord, 0, b.batchSize)
	}

	for {
		select {
		case rec, ok := <-b.records:
			if !ok {
				handoff()
				close(b.flushCh)
				<-persistDone
				close(b.done)
				return
			}
			batch = append(batch, rec)
			if len(batch) >= b.batchSize {
				handoff()
			}
		case <-ticker.C:
			handoff()
		}
	}
}

// persistLoop drains flushCh, writing each batch to the sink with capped
// exponential backoff and jitter between retries so a cluster of batchers
// retrying a shared, struggling sink doesn't retry in lockstep.
func (b *Batcher) persistLoop(done chan struct{}) {
	defer close(done)
	for batch := range b.flushCh {
		b.persistWithRetry(batch)
	}
}

func (b *Batcher) persistWithRetry(batch []*InvocationRecord) {
	var lastErr error
	for attempt := 0; attempt < b.maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), b.flushTimeout)
		lastErr = b.sink.SaveInvocationRecords(ctx, batch)
		cancel()
		if lastErr == nil {
			return
		}
		wait := b.backoff(attempt)
		b.logger.Warn("failed to persist invocation records, retrying", "error", lastErr, "count", len(batch), "attempt", attempt+1, "wait", wait)
		time.Sleep(wait)
	}
	b.logger.Error("permanently failed to persist invocation records after retries", "error", lastErr, "count", len(batch))
}

// backoff returns a jittered delay for the given retry attempt (0-based),
// doubling the base interval each attempt and capping at maxRetryWait so a
// sink outage doesn't stretch retries out indefinitely.
func (b *Batcher) backoff(attempt int) time.Duration {
	base := b.retryInterval << uint(attempt)
	if base <= 0 || base > b.maxRetryWait {
		base = b.maxRetryWait
	}
	jitter := time.Duration(rand.Int63n(int64(base)/2 + 1))
	return base/2 + jitter
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
