package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeSink struct {
	mu       sync.Mutex
	batches  [][]*InvocationRecord
	failNext int
}

func (f *fakeSink) SaveInvocationRecords(ctx context.Context, recs []*InvocationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return fmt.Errorf("injected failure")
	}
	cp := append([]*InvocationRecord(nil), recs...)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeSink) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestBatcherFlushesOnSize(t *testing.T) {
	sink := &fakeSink{}
	b := NewBatcher(sink, BatcherConfig{BatchSize: 3, FlushInterval: time.Hour, RetryInterval: time.Millisecond})
	for i := 0; i < 3; i++ {
		b.Enqueue(&InvocationRecord{RequestID: fmt.Sprintf("r%d", i)})
	}
	deadline := time.Now().Add(2 * time.Second)
	for sink.total() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.total() != 3 {
		t.Fatalf("expected 3 records flushed by size trigger, got %d", sink.total())
	}
	b.Shutdown(time.Second)
}

func TestBatcherFlushesOnTimer(t *testing.T) {
	sink := &fakeSink{}
	b := NewBatcher(sink, BatcherConfig{BatchSize: 100, FlushInterval: 20 * time.Millisecond, RetryInterval: time.Millisecond})
	b.Enqueue(&InvocationRecord{RequestID: "solo"})
	deadline := time.Now().Add(2 * time.Second)
	for sink.total() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.total() != 1 {
		t.Fatalf("expected 1 record flushed by timer, got %d", sink.total())
	}
	b.Shutdown(time.Second)
}

func TestBatcherRetriesOnFailure(t *testing.T) {
	sink := &fakeSink{failNext: 2}
	b := NewBatcher(sink, BatcherConfig{BatchSize: 1, FlushInterval: time.Hour, MaxRetries: 5, RetryInterval: time.Millisecond})
	b.Enqueue(&InvocationRecord{RequestID: "retried"})
	deadline := time.Now().Add(2 * time.Second)
	for sink.total() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.total() != 1 {
		t.Fatalf("expected eventual success after retries, got %d records", sink.total())
	}
	b.Shutdown(time.Second)
}

func TestBatcherShutdownFlushesRemainder(t *testing.T) {
	sink := &fakeSink{}
	b := NewBatcher(sink, BatcherConfig{BatchSize: 100, FlushInterval: time.Hour, RetryInterval: time.Millisecond})
	b.Enqueue(&InvocationRecord{RequestID: "pending"})
	b.Shutdown(time.Second)
	if sink.total() != 1 {
		t.Fatalf("expected shutdown to flush the pending record, got %d", sink.total())
	}
}
