package outbound

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/portgw/npac-outbound/internal/queuedb"
)

// DeliveryPolicy hands one dequeued record to the external transport.
// Exactly one attempt per invocation; retry happens by re-dequeue on a later
// poll cycle. Every failure is classified as connectivity-down, permanent,
// or unexpected before it leaves this component.
type DeliveryPolicy interface {
	Push(ctx context.Context, rec queuedb.Record) (*Receipt, error)
}

type pushDelivery struct {
	family    family
	transport Transport
	timeout   time.Duration
	log       zerolog.Logger
}

func newPushDelivery(f family, transport Transport, timeout time.Duration, log zerolog.Logger) DeliveryPolicy {
	return &pushDelivery{
		family:    f,
		transport: transport,
		timeout:   timeout,
		log:       log.With().Str("component", "delivery").Str("type", f.messageType).Logger(),
	}
}

func (d *pushDelivery) Push(ctx context.Context, rec queuedb.Record) (*Receipt, error) {
	if err := validateRecord(rec); err != nil {
		return nil, err
	}

	destination := d.family.destination(rec)

	pushCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		pushCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	receipt, err := d.transport.Send(pushCtx, destination, rec.Payload)
	if err != nil {
		return nil, d.classify(destination, err)
	}

	d.log.Debug().Str("id", rec.ID).Str("destination", destination).Msg("record pushed")

	return receipt, nil
}

func (d *pushDelivery) classify(destination string, err error) error {
	var qerr *QueueError
	if errors.As(err, &qerr) {
		return err
	}

	var connErr *ConnectivityError
	switch {
	case errors.As(err, &connErr), errors.Is(err, ErrNoSession):
		return connectivityError("push", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		// A timed-out or interrupted push says nothing about the message
		// itself, so it is handled like a connectivity failure.
		return connectivityError("push", err)
	default:
		d.log.Warn().Str("destination", destination).Err(err).Msg("transport rejected record")
		return permanentError("push", err)
	}
}
