package outbound

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/portgw/npac-outbound/internal/queuedb"
)

type PollerState int32

const (
	PollerIdle PollerState = iota
	PollerPolling
	PollerDispatching
	PollerGated
	PollerShuttingDown
)

func (s PollerState) String() string {
	switch s {
	case PollerPolling:
		return "polling"
	case PollerDispatching:
		return "dispatching"
	case PollerGated:
		return "gated"
	case PollerShuttingDown:
		return "shutting-down"
	default:
		return "idle"
	}
}

const pollerShutdownWait = 30 * time.Second

// Poller is the per-partition driver loop: each cycle it checks the recovery
// gate, rebinds dequeue criteria, asks the consumer for available work and
// hands it to the worker pool, or sleeps when idle. A failed cycle is logged
// and the next cycle proceeds; nothing short of shutdown stops the loop.
type Poller struct {
	name        string
	messageType string
	partition   *Partition
	filter      queuedb.PartitionFilter

	consumer *Consumer
	delivery DeliveryPolicy
	policy   ConsumerPolicy
	pool     *WorkerPool
	gates    *GateStore

	clock    clockwork.Clock
	interval time.Duration
	log      zerolog.Logger

	alive atomic.Bool
	state atomic.Int32
	wake  chan struct{}
	done  chan struct{}
}

func newPoller(name, messageType string, partition *Partition, filter queuedb.PartitionFilter,
	consumer *Consumer, pool *WorkerPool, gates *GateStore,
	clock clockwork.Clock, interval time.Duration, log zerolog.Logger) (*Poller, error) {

	delivery, err := consumer.DeliveryService(messageType)
	if err != nil {
		return nil, err
	}
	policy, err := consumer.ConsumerPolicy(messageType)
	if err != nil {
		return nil, err
	}

	p := &Poller{
		name:        name,
		messageType: messageType,
		partition:   partition,
		filter:      filter,
		consumer:    consumer,
		delivery:    delivery,
		policy:      policy,
		pool:        pool,
		gates:       gates,
		clock:       clock,
		interval:    interval,
		log:         log.With().Str("component", "poller").Str("poller", name).Logger(),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	p.alive.Store(true)

	return p, nil
}

func (p *Poller) Name() string {
	return p.name
}

func (p *Poller) State() PollerState {
	return PollerState(p.state.Load())
}

// Run loops until Shutdown is called or ctx is cancelled. Intended to run on
// its own goroutine, one per partition.
func (p *Poller) Run(ctx context.Context) {
	defer close(p.done)
	p.log.Info().Str("type", p.messageType).Msg("poller started")

	for p.alive.Load() && ctx.Err() == nil {
		p.cycle(ctx)
	}

	p.state.Store(int32(PollerShuttingDown))

	drainCtx, cancel := context.WithTimeout(context.Background(), pollerShutdownWait)
	defer cancel()
	if err := p.pool.Shutdown(drainCtx); err != nil {
		p.log.Warn().Err(err).Msg("worker pool did not drain before deadline")
	}
	p.log.Info().Msg("poller stopped")
}

func (p *Poller) cycle(ctx context.Context) {
	defer func() {
		// A single bad cycle must not terminate the poller.
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("poll cycle panicked")
		}
	}()

	if p.partition != nil && !p.gates.Satisfied(ctx, *p.partition) {
		p.state.Store(int32(PollerGated))
		p.sleep(ctx)
		return
	}

	p.state.Store(int32(PollerPolling))
	if err := p.consumer.SetDequeueCriteria(p.messageType, p.filter); err != nil {
		p.log.Error().Err(err).Msg("unable to bind dequeue criteria")
		p.sleep(ctx)
		return
	}

	queue := p.consumer.Queue()
	more, err := queue.HasNext(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("dequeue failed, retrying next cycle")
		p.sleep(ctx)
		return
	}

	if more {
		p.state.Store(int32(PollerDispatching))
		result, err := p.pool.Process(ctx, queue, p.delivery, p.policy)
		if err != nil {
			p.log.Warn().Err(err).Msg("dispatch incomplete")
		}
		if result.Delivered > 0 || result.ConnectivityDown == 0 {
			// Loop immediately while progress is being made. Per-record
			// failures also loop: those records moved to RETRY or FAILED, so
			// the next cycle sees fresh work, not the same stuck batch.
			return
		}
		// The batch stalled on an unreachable downstream; back off instead
		// of hammering it.
		p.state.Store(int32(PollerIdle))
		p.sleep(ctx)
		return
	}

	p.state.Store(int32(PollerIdle))
	p.sleep(ctx)
}

// sleep waits out the polling interval. A wake signal or context
// cancellation ends the sleep early; both are benign.
func (p *Poller) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-p.wake:
	case <-p.clock.After(p.interval):
	}
}

// Wake nudges a sleeping poller into an immediate re-poll.
func (p *Poller) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Shutdown stops the loop and waits for it to exit, bounded by ctx.
func (p *Poller) Shutdown(ctx context.Context) error {
	p.alive.Store(false)
	p.Wake()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
