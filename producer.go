package outbound

import (
	"context"
	"crypto/rand"
	"io"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/portgw/npac-outbound/internal/queuedb"
)

type EnqueueOption func(o *enqueueOptions)

type enqueueOptions struct {
	priority *int
}

// WithPriority overrides the computed priority for this record.
func WithPriority(priority int) EnqueueOption {
	return func(o *enqueueOptions) {
		o.priority = &priority
	}
}

// Producer inserts new records with initial status Pending and a computed
// priority. No retries happen at this layer; storage errors propagate.
type Producer struct {
	db         queuedb.QueueDB
	serializer Serializer
	clock      clockwork.Clock
	log        zerolog.Logger

	mu      sync.Mutex
	entropy io.Reader
}

func NewProducer(db queuedb.QueueDB, serializer Serializer, clock clockwork.Clock, log zerolog.Logger) *Producer {
	return &Producer{
		db:         db,
		serializer: serializer,
		clock:      clock,
		log:        log.With().Str("component", "producer").Logger(),
		entropy:    ulid.Monotonic(rand.Reader, 0),
	}
}

// Enqueue stores one record and returns its id. The id is a ULID: unique,
// stable, and sortable in assignment order, which is the dequeue tiebreak.
func (p *Producer) Enqueue(ctx context.Context, msg Message, opts ...EnqueueOption) (string, error) {
	if err := msg.isValidMessage(); err != nil {
		return "", permanentError("enqueue", err)
	}

	var o enqueueOptions
	for _, opt := range opts {
		opt(&o)
	}

	f, _ := familyFor(msg.Type)
	env := p.decodeEnvelope(msg.Payload)

	priority := p.computePriority(f, env)
	if o.priority != nil {
		priority = *o.priority
	}

	partition := msg.Partition
	if partition == nil && f.partitioned && env != nil && env.SPID != "" && env.Region != "" {
		partition = &Partition{SPID: env.SPID, Region: env.Region}
	}

	trackingID := msg.TrackingID
	if trackingID == "" && env != nil {
		trackingID = env.TrackingID
	}

	now := p.clock.Now().UTC()
	record := &queuedb.Record{
		ID:          p.newID(),
		MessageType: msg.Type,
		Status:      queuedb.Pending,
		Priority:    priority,
		Payload:     msg.Payload,
		ArrivedAt:   now,
		UpdatedAt:   now,
	}
	if partition != nil {
		record.SPID = &partition.SPID
		record.Region = &partition.Region
	}
	if trackingID != "" {
		record.TrackingID = &trackingID
	}

	if err := p.db.Insert(ctx, record); err != nil {
		return "", unexpectedError("enqueue", err)
	}

	p.log.Debug().
		Str("id", record.ID).
		Str("type", record.MessageType).
		Int("priority", record.Priority).
		Str("partition", record.PartitionKey()).
		Msg("record enqueued")

	return record.ID, nil
}

// computePriority elevates replies and acknowledgments so they are dequeued
// ahead of regular traffic. Recovery and query replies stay at the default:
// they answer bulk recovery queries and must not starve live replies.
func (p *Producer) computePriority(f family, env *Envelope) int {
	if !f.byPriority || env == nil {
		return DefaultPriority
	}

	switch env.Kind {
	case "reply", "ack":
		return ReplyPriority
	default:
		return DefaultPriority
	}
}

func (p *Producer) decodeEnvelope(payload []byte) *Envelope {
	if p.serializer == nil {
		return nil
	}
	env, err := p.serializer.Decode(payload)
	if err != nil {
		// The payload stays opaque to the queue. An undecodable envelope
		// just means no correlation fields are available.
		return nil
	}
	return env
}

func (p *Producer) newID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(p.clock.Now()), p.entropy).String()
}
