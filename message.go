package outbound

import (
	"errors"
	"fmt"

	"github.com/portgw/npac-outbound/internal/queuedb"
)

const (
	// MessageTypeNpac is the family of outbound subscription/version
	// messages delivered to the regional NPAC systems.
	MessageTypeNpac = "npac"

	// MessageTypeSoa is the family of internal messages delivered to the
	// SOA processing tier.
	MessageTypeSoa = "soa"
)

const (
	// DefaultPriority is assigned unless the payload warrants elevation.
	// Lower numbers dequeue first.
	DefaultPriority = 7

	// ReplyPriority elevates reply/acknowledgment messages ahead of the
	// default. Recovery and query replies keep DefaultPriority.
	ReplyPriority = 3
)

// Partition is the (provider, region) pair owning a slice of the queue.
type Partition struct {
	SPID   string
	Region string
}

func (p Partition) Key() string {
	return p.SPID + "/" + p.Region
}

// Message is the unit handed to the Producer.
type Message struct {
	Type       string
	Payload    []byte
	Partition  *Partition
	TrackingID string
}

func (m Message) isValidMessage() error {
	if _, ok := familyFor(m.Type); !ok {
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	if len(m.Payload) == 0 {
		return errors.New("payload cant be empty")
	}
	if m.Partition != nil && (m.Partition.SPID == "" || m.Partition.Region == "") {
		return errors.New("partition needs both spid and region")
	}
	return nil
}

// family describes the per-type behavior the consumer layer resolves by the
// message_type discriminator. The set is closed at compile time.
type family struct {
	messageType string

	// byPriority prepends priority to the dequeue order.
	byPriority bool

	// deleteOnSuccess removes the record after confirmed delivery instead
	// of marking it Sent.
	deleteOnSuccess bool

	// partitioned families are drained by per-(provider, region) pollers
	// plus a catch-all; unpartitioned ones by a single poller.
	partitioned bool

	destination func(rec queuedb.Record) string
}

var families = map[string]family{
	MessageTypeNpac: {
		messageType: MessageTypeNpac,
		partitioned: true,
		destination: npacDestination,
	},
	MessageTypeSoa: {
		messageType:     MessageTypeSoa,
		byPriority:      true,
		deleteOnSuccess: true,
		destination: func(queuedb.Record) string {
			return "soa"
		},
	},
}

func familyFor(messageType string) (family, bool) {
	f, ok := families[messageType]
	return f, ok
}

func npacDestination(rec queuedb.Record) string {
	if rec.SPID == nil || rec.Region == nil {
		return "npac"
	}
	return "npac/" + *rec.Region + "/" + *rec.SPID
}

// validateRecord rejects a dequeued record that cannot be handed to the
// transport. This is the permanent-error path: it must reach the consumer
// policy, never retry internally.
func validateRecord(rec queuedb.Record) error {
	if len(rec.Payload) == 0 {
		return permanentError("validate", fmt.Errorf("record %s has no payload", rec.ID))
	}
	if _, ok := familyFor(rec.MessageType); !ok {
		return permanentError("validate", fmt.Errorf("record %s has unknown type %q", rec.ID, rec.MessageType))
	}
	return nil
}
