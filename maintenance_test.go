package outbound_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	outbound "github.com/portgw/npac-outbound"
	"github.com/portgw/npac-outbound/internal/queuedb"
)

func everyMinuteConfig() *outbound.Config {
	return outbound.NewConfig(func(c *outbound.Config) {
		c.SweepSchedule = "* * * * *"
		c.CleanupSchedule = "* * * * *"
	})
}

func TestMaintenanceRunsScheduledJobs(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := newFakeStore(clock)
	conf := everyMinuteConfig()

	// A record stuck in Sent past the stale cutoff, due to be swept back.
	stuck := testRecord(clock, "01A", outbound.MessageTypeNpac)
	stuck.Status = queuedb.Sent
	sentAt := clock.Now().UTC().Add(-conf.StaleSentCutoff - time.Hour)
	stuck.SentAt = &sentAt
	require.NoError(t, store.Insert(ctx, stuck))

	processor := outbound.NewMaintenanceProcessor(conf, store, clock, zerolog.Nop())
	processor.SetUp()
	processor.Start()
	defer processor.Close()

	// Wait for the orchestrator to park on its schedule, then cross the next
	// minute boundary.
	blockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(blockCtx, 1))
	clock.Advance(61 * time.Second)

	assert.Eventually(t, func() bool {
		sweeps, cleanups := store.maintenanceCalls()
		return sweeps >= 1 && cleanups >= 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		rec, ok := store.get("01A")
		return ok && rec.Status == queuedb.Retry
	}, 5*time.Second, 10*time.Millisecond, "stuck sent record is reset for redelivery")
}

type signalJob struct {
	fired chan struct{}
}

func (j *signalJob) Handle(context.Context) error {
	select {
	case j.fired <- struct{}{}:
	default:
	}
	return nil
}

func (j *signalJob) PeriodicSchedule() string { return "* * * * *" }
func (j *signalJob) Name() string             { return "Signal" }

func TestMaintenanceRegisterAcceptsCustomJobs(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newFakeStore(clock)

	processor := outbound.NewMaintenanceProcessor(everyMinuteConfig(), store, clock, zerolog.Nop())
	job := &signalJob{fired: make(chan struct{}, 1)}
	processor.Register(job)
	processor.Start()
	defer processor.Close()

	blockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(blockCtx, 1))
	clock.Advance(61 * time.Second)

	select {
	case <-job.fired:
	case <-time.After(5 * time.Second):
		t.Fatal("registered job never ran")
	}
}

func TestMaintenanceRunsRepeatedly(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newFakeStore(clock)

	processor := outbound.NewMaintenanceProcessor(everyMinuteConfig(), store, clock, zerolog.Nop())
	processor.SetUp()
	processor.Start()
	defer processor.Close()

	for fired := 1; fired <= 3; fired++ {
		blockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		require.NoError(t, clock.BlockUntilContext(blockCtx, 1))
		cancel()
		clock.Advance(61 * time.Second)

		want := fired
		assert.Eventually(t, func() bool {
			sweeps, _ := store.maintenanceCalls()
			return sweeps >= want
		}, 5*time.Second, 10*time.Millisecond)
	}
}
