package outbound

import (
	"errors"
	"fmt"
)

// Kind classifies a queue-domain failure. Upstream callers only ever need to
// distinguish connectivity-down from everything else.
type Kind int

const (
	// KindUnexpected is the safety net for unclassified failures. Treated as
	// permanent-error-equivalent for bookkeeping.
	KindUnexpected Kind = iota

	// KindConnectivity means the downstream system or session is currently
	// unreachable. Does not increment a record's error count.
	KindConnectivity

	// KindPermanent means this specific message cannot be delivered as-is
	// (malformed payload, protocol rejection).
	KindPermanent

	// KindConfig marks a startup configuration failure for one partition.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindPermanent:
		return "permanent"
	case KindConfig:
		return "config"
	default:
		return "unexpected"
	}
}

// ErrConnectivityDown is the sentinel every connectivity-classified failure
// matches via errors.Is.
var ErrConnectivityDown = errors.New("downstream connectivity down")

// QueueError wraps storage, transport and policy failures before they cross
// component boundaries.
type QueueError struct {
	Kind  Kind
	Op    string
	cause error
}

func (e *QueueError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("outbound %s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("outbound %s: %s error: %s", e.Op, e.Kind, e.cause.Error())
}

func (e *QueueError) Unwrap() error {
	return e.cause
}

func (e *QueueError) Is(target error) bool {
	return target == ErrConnectivityDown && e.Kind == KindConnectivity
}

func newQueueError(kind Kind, op string, cause error) *QueueError {
	return &QueueError{Kind: kind, Op: op, cause: cause}
}

func connectivityError(op string, cause error) *QueueError {
	return newQueueError(KindConnectivity, op, cause)
}

func permanentError(op string, cause error) *QueueError {
	return newQueueError(KindPermanent, op, cause)
}

func unexpectedError(op string, cause error) *QueueError {
	return newQueueError(KindUnexpected, op, cause)
}

// IsConnectivityDown reports whether err, anywhere in its chain, signals that
// the downstream system is unreachable rather than the message being bad.
func IsConnectivityDown(err error) bool {
	return errors.Is(err, ErrConnectivityDown)
}
