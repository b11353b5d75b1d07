package outbound

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/portgw/npac-outbound/internal/queuedb"
)

const maxLastErrorLen = 1024

// ConsumerPolicy decides a record's next status after a delivery attempt.
// It is the only component allowed to transition statuses. Both methods run
// exactly once per dequeued record per attempt, driven by the worker pool.
type ConsumerPolicy interface {
	// HandleSuccess marks the record delivered: Sent for most families,
	// outright deletion for families that opt into it. The update is keyed
	// on the record's immutable id, so re-running it after a crash
	// mid-update settles on the same state.
	HandleSuccess(ctx context.Context, rec queuedb.Record, q *Queue) error

	// HandleError updates failure bookkeeping. A connectivity-down cause
	// records last_error but leaves error_count and status untouched, so a
	// deliverable message is never abandoned because the far side was down.
	// Anything else increments error_count and moves the record to Retry,
	// or Failed once the configured threshold is exceeded.
	HandleError(ctx context.Context, cause error, rec queuedb.Record, q *Queue) error
}

var _ ConsumerPolicy = &statusPolicy{}

type statusPolicy struct {
	db        queuedb.QueueDB
	family    family
	maxErrors int
	log       zerolog.Logger
}

func newStatusPolicy(db queuedb.QueueDB, f family, maxErrors int, log zerolog.Logger) *statusPolicy {
	return &statusPolicy{
		db:        db,
		family:    f,
		maxErrors: maxErrors,
		log:       log.With().Str("component", "consumer-policy").Str("type", f.messageType).Logger(),
	}
}

func (p *statusPolicy) HandleSuccess(ctx context.Context, rec queuedb.Record, q *Queue) error {
	if p.family.deleteOnSuccess {
		if err := p.db.Delete(ctx, rec.ID); err != nil {
			return unexpectedError("handle-success", err)
		}
		p.log.Debug().Str("id", rec.ID).Msg("record delivered and deleted")
		return nil
	}

	if err := p.db.MarkSent(ctx, rec.ID); err != nil {
		return unexpectedError("handle-success", err)
	}
	p.log.Debug().Str("id", rec.ID).Msg("record delivered")

	return nil
}

func (p *statusPolicy) HandleError(ctx context.Context, cause error, rec queuedb.Record, q *Queue) error {
	reason := truncateError(cause)

	if IsConnectivityDown(cause) {
		if err := p.db.RecordConnectivityFailure(ctx, rec.ID, reason); err != nil {
			return unexpectedError("handle-error", err)
		}
		p.log.Info().
			Str("id", rec.ID).
			Str("partition", rec.PartitionKey()).
			Msg("delivery deferred, downstream connectivity down")
		return nil
	}

	status := queuedb.Retry
	if p.maxErrors > 0 && rec.ErrorCount+1 >= p.maxErrors {
		status = queuedb.Failed
	}

	if err := p.db.MarkFailure(ctx, rec.ID, reason, status); err != nil {
		return unexpectedError("handle-error", err)
	}

	evt := p.log.Warn().Str("id", rec.ID).Int("error_count", rec.ErrorCount+1).Err(cause)
	if status == queuedb.Failed {
		evt.Msg("record exceeded error threshold, marked failed")
	} else {
		evt.Msg("delivery failed, record queued for retry")
	}

	return nil
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxLastErrorLen {
		return msg[:maxLastErrorLen]
	}
	return msg
}
