// Package emit batches graph writes. Records are accumulated and flushed to
// a sink when the batch is full or the flush timer fires; failed flushes are
// retried with exponential backoff.
package emit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Sink writes one batch. Returning backoff.Permanent stops retries.
type Sink[T any] func(ctx context.Context, batch []T) error

type Emitter[T any] struct {
	name       string
	sink       Sink[T]
	batchMax   int
	flushEvery time.Duration
	maxElapsed time.Duration

	mu      sync.Mutex
	acc     []T
	flushed int
	err     error
}

func NewEmitter[T any](name string, sink Sink[T], batchMax int, flushEvery, maxElapsed time.Duration) *Emitter[T] {
	if batchMax <= 0 {
		batchMax = 500
	}
	if flushEvery <= 0 {
		flushEvery = 2 * time.Second
	}
	return &Emitter[T]{name: name, sink: sink, batchMax: batchMax, flushEvery: flushEvery, maxElapsed: maxElapsed}
}

// Run consumes in until it is closed or ctx is done. Call Drain afterwards
// to write what is left.
func (e *Emitter[T]) Run(ctx context.Context, in <-chan T, log *zap.SugaredLogger) {
	t := time.NewTimer(e.flushEvery)
	defer t.Stop()
	for {
		select {
		case rec, ok := <-in:
			if !ok {
				return
			}
			if e.append(rec) >= e.batchMax {
				e.flush(ctx, log)
				if !t.Stop() {
					select {
					case <-t.C:
					default:
					}
				}
				t.Reset(e.flushEvery)
			}
		case <-t.C:
			e.flush(ctx, log)
			t.Reset(e.flushEvery)
		case <-ctx.Done():
			return
		}
	}
}

// Add queues one record without a running loop; full batches are flushed
// inline.
func (e *Emitter[T]) Add(ctx context.Context, rec T, log *zap.SugaredLogger) {
	if e.append(rec) >= e.batchMax {
		e.flush(ctx, log)
	}
}

func (e *Emitter[T]) append(rec T) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.acc = append(e.acc, rec)
	return len(e.acc)
}

func (e *Emitter[T]) flush(ctx context.Context, log *zap.SugaredLogger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.acc) == 0 {
		return
	}
	batch := e.acc
	e.acc = nil
	if e.err != nil {
		// the store already failed; later batches would only repeat it
		return
	}

	op := func() error { return e.sink(ctx, batch) }
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = e.maxElapsed
	if bo.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = 30 * time.Second
	}
	notify := func(err error, wait time.Duration) {
		log.Warnw("write failed, retrying", "emitter", e.name, "batch", len(batch), "wait", wait, "err", err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		log.Errorw("write failed", "emitter", e.name, "batch", len(batch), "err", err)
		e.err = fmt.Errorf("%s: write batch of %d: %w", e.name, len(batch), err)
		return
	}
	e.flushed += len(batch)
	log.Debugw("batch written", "emitter", e.name, "batch", len(batch))
}

// Drain writes the remaining records and returns the first write failure.
func (e *Emitter[T]) Drain(ctx context.Context, log *zap.SugaredLogger) (int, error) {
	e.flush(ctx, log)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushed, e.err
}
