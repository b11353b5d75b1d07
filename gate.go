package outbound

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

//go:generate mockgen -source=gate.go -destination=mocks/gate_mock.go -package=mock_outbound

type GateState int32

const (
	GateUnknown GateState = iota
	GateDown
	GateOpen
)

func (s GateState) String() string {
	switch s {
	case GateDown:
		return "down"
	case GateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// RecoveryProbe reports whether a partition's downstream association has
// been confirmed up, or recovered into a known-empty state. The check may be
// expensive; the gate store caches a positive result.
type RecoveryProbe interface {
	Recovered(ctx context.Context, partition Partition) (bool, error)
}

// GateStore holds per-partition recovery gate state. It is owned by the
// poller server and shared by reference with every poller; entries are
// updated atomically. A nil probe means no gating applies.
type GateStore struct {
	mu     sync.Mutex
	states map[string]*gateEntry
	probe  RecoveryProbe
	log    zerolog.Logger
}

type gateEntry struct {
	state atomic.Int32
}

func NewGateStore(probe RecoveryProbe, log zerolog.Logger) *GateStore {
	return &GateStore{
		states: make(map[string]*gateEntry),
		probe:  probe,
		log:    log.With().Str("component", "gate-store").Logger(),
	}
}

// Satisfied reports whether the partition may be drained. Once a partition's
// gate opens the result is cached and the probe never runs again for it;
// while the gate is down the probe runs once per call, i.e. once per poll
// cycle of the still-down partition.
func (g *GateStore) Satisfied(ctx context.Context, partition Partition) bool {
	if g.probe == nil {
		return true
	}

	entry := g.entry(partition.Key())
	if GateState(entry.state.Load()) == GateOpen {
		return true
	}

	recovered, err := g.probe.Recovered(ctx, partition)
	if err != nil {
		g.log.Warn().Str("partition", partition.Key()).Err(err).Msg("recovery probe failed")
		entry.state.Store(int32(GateDown))
		return false
	}
	if !recovered {
		entry.state.Store(int32(GateDown))
		return false
	}

	entry.state.Store(int32(GateOpen))
	g.log.Info().Str("partition", partition.Key()).Msg("recovery gate opened")

	return true
}

// State exposes the cached gate state for a partition key.
func (g *GateStore) State(key string) GateState {
	g.mu.Lock()
	entry, ok := g.states[key]
	g.mu.Unlock()
	if !ok {
		return GateUnknown
	}
	return GateState(entry.state.Load())
}

// Reset re-arms the gate for a partition, forcing the probe to run again.
// Called when the surrounding system observes a session loss.
func (g *GateStore) Reset(partition Partition) {
	g.entry(partition.Key()).state.Store(int32(GateUnknown))
}

func (g *GateStore) entry(key string) *gateEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.states[key]
	if !ok {
		entry = &gateEntry{}
		g.states[key] = entry
	}
	return entry
}
