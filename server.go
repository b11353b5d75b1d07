package outbound

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/portgw/npac-outbound/internal/queuedb"
)

// PollerServer builds one poller per (provider, active region) combination,
// a catch-all poller for records whose partition key is absent or unmatched,
// and one priority-ordered poller for the SOA family. It owns their
// lifecycle and the shared gate store.
type PollerServer struct {
	conf     *Config
	gates    *GateStore
	clock    clockwork.Clock
	log      zerolog.Logger
	instance string

	pollers []*Poller

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPollerServer(conf *Config, db queuedb.QueueDB, transport Transport, probe RecoveryProbe,
	clock clockwork.Clock, log zerolog.Logger) (*PollerServer, error) {

	s := &PollerServer{
		conf:     conf,
		gates:    NewGateStore(probe, log),
		clock:    clock,
		log:      log.With().Str("component", "poller-server").Logger(),
		instance: uuid.NewString(),
	}

	// The catch-all complement is the set of (spid, region) pairs that get a
	// dedicated poller below. Anything outside it, including records stamped
	// with a configured provider but an unserved region, must fall through to
	// the catch-all or it would be visible to no poller at all.
	var knownPairs [][]string
	for _, provider := range conf.Providers {
		if provider.SPID == "" {
			continue
		}
		for _, region := range provider.Regions {
			if region.Active && region.Name != "" {
				knownPairs = append(knownPairs, []string{provider.SPID, region.Name})
			}
		}
	}

	for _, provider := range conf.Providers {
		// A bad provider spec skips that partition, never server startup.
		if provider.SPID == "" {
			s.log.Error().Msg("provider spec missing spid, skipping partition")
			continue
		}
		for _, region := range provider.Regions {
			if !region.Active {
				continue
			}
			if region.Name == "" {
				s.log.Error().Str("spid", provider.SPID).Msg("region spec missing name, skipping partition")
				continue
			}

			partition := Partition{SPID: provider.SPID, Region: region.Name}
			filter := queuedb.PartitionFilter{SPID: partition.SPID, Region: partition.Region}
			if err := s.addPoller("npac/"+partition.Key(), MessageTypeNpac, &partition, filter, db, transport); err != nil {
				s.log.Error().Str("partition", partition.Key()).Err(err).Msg("unable to build poller, skipping partition")
			}
		}
	}

	// Catch-all covers records enqueued before partitioning existed or
	// stamped with a pair no dedicated poller serves.
	catchAll := queuedb.PartitionFilter{CatchAll: true, KnownPartitions: knownPairs}
	if err := s.addPoller("npac/catch-all", MessageTypeNpac, nil, catchAll, db, transport); err != nil {
		return nil, err
	}

	// The SOA family is unpartitioned and drained by a single poller in
	// priority order.
	if err := s.addPoller("soa", MessageTypeSoa, nil, queuedb.PartitionFilter{}, db, transport); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *PollerServer) addPoller(name, messageType string, partition *Partition, filter queuedb.PartitionFilter,
	db queuedb.QueueDB, transport Transport) error {

	// Criteria are per-consumer mutable state, so every poller gets its own
	// consumer and worker pool.
	consumer := NewConsumer(db, s.conf, s.clock, transport, s.instance+"/"+name, s.log)
	pool := NewWorkerPool(s.conf.MaxWorkers, s.conf.WorkerAcquireWait, s.log)

	poller, err := newPoller(name, messageType, partition, filter, consumer, pool, s.gates, s.clock, s.conf.PollInterval, s.log)
	if err != nil {
		return err
	}

	s.pollers = append(s.pollers, poller)
	return nil
}

// Run starts every poller on its own goroutine.
func (s *PollerServer) Run() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, poller := range s.pollers {
		s.wg.Add(1)
		go func(p *Poller) {
			defer s.wg.Done()
			p.Run(ctx)
		}(poller)
	}

	s.log.Info().Int("pollers", len(s.pollers)).Str("instance", s.instance).Msg("poller server running")
}

// Shutdown stops every poller and waits for their loops to exit, bounded
// by ctx.
func (s *PollerServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	var firstErr error
	for _, poller := range s.pollers {
		if err := poller.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.wg.Wait()

	s.log.Info().Msg("poller server stopped")
	return firstErr
}

// Pollers exposes the built pollers, mainly for observability.
func (s *PollerServer) Pollers() []*Poller {
	return s.pollers
}

// Gates exposes the shared gate store so the surrounding system can re-arm
// a partition after a session loss.
func (s *PollerServer) Gates() *GateStore {
	return s.gates
}
