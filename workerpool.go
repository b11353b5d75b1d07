package outbound

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/portgw/npac-outbound/internal/queuedb"
)

// WorkerPool is a bounded set of workers that drive claimed records through
// the delivery policy and then the consumer policy. The pool size bounds how
// many pushes block on the downstream transport at once.
type WorkerPool struct {
	sem         *semaphore.Weighted
	size        int64
	acquireWait time.Duration
	log         zerolog.Logger
}

func NewWorkerPool(maxWorkers int, acquireWait time.Duration, log zerolog.Logger) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{
		sem:         semaphore.NewWeighted(int64(maxWorkers)),
		size:        int64(maxWorkers),
		acquireWait: acquireWait,
		log:         log.With().Str("component", "worker-pool").Logger(),
	}
}

// BatchResult summarizes one processed batch so the poller can decide
// between draining further and backing off.
type BatchResult struct {
	Dispatched int
	Delivered  int
	// ConnectivityDown counts pushes that failed because the downstream was
	// unreachable, as opposed to per-record errors.
	ConnectivityDown int
}

// Process drains the queue view and waits for the batch to finish. When the
// pool is saturated the caller blocks up to the configured acquire wait
// before giving up on the cycle; unprocessed claims become eligible again
// once their lease expires.
func (p *WorkerPool) Process(ctx context.Context, q *Queue, delivery DeliveryPolicy, policy ConsumerPolicy) (BatchResult, error) {
	var wg sync.WaitGroup
	var delivered, connDown atomic.Int64
	dispatched := 0

	result := func() BatchResult {
		return BatchResult{
			Dispatched:       dispatched,
			Delivered:        int(delivered.Load()),
			ConnectivityDown: int(connDown.Load()),
		}
	}

	for {
		rec, ok := q.Next()
		if !ok {
			break
		}

		if err := p.acquire(ctx); err != nil {
			wg.Wait()
			return result(), unexpectedError("worker-acquire", err)
		}

		dispatched++
		wg.Add(1)
		go func(rec queuedb.Record) {
			defer wg.Done()
			ok, down := p.work(ctx, rec, q, delivery, policy)
			if ok {
				delivered.Add(1)
			}
			if down {
				connDown.Add(1)
			}
		}(rec)
	}

	wg.Wait()
	return result(), nil
}

func (p *WorkerPool) acquire(ctx context.Context) error {
	if p.acquireWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.acquireWait)
		defer cancel()
	}
	return p.sem.Acquire(ctx, 1)
}

// work runs one record through delivery and bookkeeping, reporting whether
// the push was accepted downstream and whether a failure was a connectivity
// loss rather than a per-record error.
func (p *WorkerPool) work(ctx context.Context, rec queuedb.Record, q *Queue, delivery DeliveryPolicy, policy ConsumerPolicy) (delivered, connDown bool) {
	defer p.sem.Release(1)

	receipt, err := p.push(ctx, rec, delivery)
	if err != nil {
		p.applyPolicy(rec, "handle-error", func() error {
			return policy.HandleError(ctx, err, rec, q)
		})
		return false, IsConnectivityDown(err)
	}

	if receipt != nil {
		p.log.Debug().Str("id", rec.ID).Str("receipt", receipt.ID).Msg("delivery acknowledged")
	}
	p.applyPolicy(rec, "handle-success", func() error {
		return policy.HandleSuccess(ctx, rec, q)
	})
	return true, false
}

// push isolates the delivery attempt: a panicking transport or a malformed
// record must never take down the worker, only fail this record.
func (p *WorkerPool) push(ctx context.Context, rec queuedb.Record, delivery DeliveryPolicy) (receipt *Receipt, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("id", rec.ID).Interface("panic", r).Msg("delivery panicked")
			err = unexpectedError("push", fmt.Errorf("panic during delivery of %s: %v", rec.ID, r))
		}
	}()

	return delivery.Push(ctx, rec)
}

// applyPolicy logs and swallows post-processing failures so a single
// record's bookkeeping error cannot abort the rest of the batch.
func (p *WorkerPool) applyPolicy(rec queuedb.Record, op string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("id", rec.ID).Str("op", op).Interface("panic", r).Msg("consumer policy panicked")
		}
	}()

	if err := fn(); err != nil {
		p.log.Error().Str("id", rec.ID).Str("op", op).Err(err).Msg("consumer policy failed")
	}
}

// Shutdown blocks until in-flight workers finish or ctx expires.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, p.size); err != nil {
		return err
	}
	p.sem.Release(p.size)
	return nil
}
