package outbound

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/portgw/npac-outbound/internal/queuedb"
)

var (
	_ JobHandler = &staleSentSweepHandler{}
	_ JobHandler = &sentCleanUpHandler{}
)

type baseJobHandler struct {
	conf  *Config
	db    queuedb.QueueMaintenanceDB
	clock clockwork.Clock
	log   zerolog.Logger
}

// staleSentSweepHandler bulk-resets Sent records that have aged past the
// "still sent but might be stuck" cutoff back to Retry, so a recovery
// restart redelivers them.
type staleSentSweepHandler struct {
	baseJobHandler
}

func newStaleSentSweep(conf *Config, db queuedb.QueueMaintenanceDB, clock clockwork.Clock, log zerolog.Logger) *staleSentSweepHandler {
	return &staleSentSweepHandler{
		baseJobHandler: baseJobHandler{conf: conf, db: db, clock: clock, log: log},
	}
}

func (s *staleSentSweepHandler) Handle(ctx context.Context) error {
	cutoff := s.clock.Now().UTC().Add(-s.conf.StaleSentCutoff)
	n, err := s.db.ResetStaleSent(ctx, MessageTypeNpac, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info().Int("records", n).Msg("stale sent records reset to retry")
	}
	return nil
}

func (s *staleSentSweepHandler) PeriodicSchedule() string {
	return s.conf.SweepSchedule
}

func (s *staleSentSweepHandler) Name() string {
	return "Stale Sent Sweep"
}

// sentCleanUpHandler deletes delivered records past the retention window.
// The SOA family deletes on success, so only the NPAC table accumulates.
type sentCleanUpHandler struct {
	baseJobHandler
}

func newSentCleanUp(conf *Config, db queuedb.QueueMaintenanceDB, clock clockwork.Clock, log zerolog.Logger) *sentCleanUpHandler {
	return &sentCleanUpHandler{
		baseJobHandler: baseJobHandler{conf: conf, db: db, clock: clock, log: log},
	}
}

func (c *sentCleanUpHandler) Handle(ctx context.Context) error {
	cutoff := c.clock.Now().UTC().Add(-c.conf.SentRetention)
	n, err := c.db.DeleteSentBefore(ctx, MessageTypeNpac, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		c.log.Info().Int("records", n).Msg("delivered records cleaned up")
	}
	return nil
}

func (c *sentCleanUpHandler) PeriodicSchedule() string {
	return c.conf.CleanupSchedule
}

func (c *sentCleanUpHandler) Name() string {
	return "Sent Clean Up"
}
