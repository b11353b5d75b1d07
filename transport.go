package outbound

import (
	"context"
	"errors"
	"fmt"
	"time"
)

//go:generate mockgen -source=transport.go -destination=mocks/transport_mock.go -package=mock_outbound

// Receipt is the downstream acknowledgement for one accepted message.
type Receipt struct {
	ID         string
	AcceptedAt time.Time
}

// Transport hands a serialized payload to a downstream system. The queue
// treats it as opaque: it either returns a receipt, fails with a
// connectivity error, or fails permanently for this message.
//
// Implementations wrap the actual RPC/session client. A failure should be a
// *ConnectivityError (or wrap ErrNoSession) when the destination itself is
// unreachable, and any other error when the message was rejected.
type Transport interface {
	Send(ctx context.Context, destination string, payload []byte) (*Receipt, error)
}

// ErrNoSession signals that no active session exists for the destination,
// e.g. the regional NPAC association has not been established.
var ErrNoSession = errors.New("no active session for destination")

// ConnectivityError marks a transport failure as partition-scoped and
// transient rather than message-specific.
type ConnectivityError struct {
	Destination string
	Cause       error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("destination %s unreachable: %v", e.Destination, e.Cause)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Cause
}

// Envelope exposes the few well-known correlation fields the queue reads
// from a payload. Everything else stays opaque.
type Envelope struct {
	// Kind discriminates replies from requests, e.g. "reply", "ack",
	// "recovery-reply", "query-reply".
	Kind string

	SPID       string
	Region     string
	TrackingID string
}

// Serializer converts between the wire/storage payload and the envelope
// fields. The full message model is owned by the surrounding system.
type Serializer interface {
	Decode(payload []byte) (*Envelope, error)
}
