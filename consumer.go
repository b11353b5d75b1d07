package outbound

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/portgw/npac-outbound/internal/queuedb"
)

// Consumer translates a logical (message type, partition filter) into a
// dequeue descriptor and exposes the resulting queue view. Policies and
// delivery services are resolved once per consumer, not per record.
type Consumer struct {
	db    queuedb.QueueDB
	conf  *Config
	clock clockwork.Clock
	owner string

	criteria queuedb.Criteria

	policies   map[string]ConsumerPolicy
	deliveries map[string]DeliveryPolicy
}

func NewConsumer(db queuedb.QueueDB, conf *Config, clock clockwork.Clock, transport Transport, owner string, log zerolog.Logger) *Consumer {
	c := &Consumer{
		db:         db,
		conf:       conf,
		clock:      clock,
		owner:      owner,
		policies:   make(map[string]ConsumerPolicy),
		deliveries: make(map[string]DeliveryPolicy),
	}

	for messageType, f := range families {
		c.policies[messageType] = newStatusPolicy(db, f, conf.MaxErrorCount, log)
		c.deliveries[messageType] = newPushDelivery(f, transport, conf.PushTimeout, log)
	}

	return c
}

// SetDequeueCriteria rebinds the criteria for the next poll cycle. It must
// run every cycle: the age and lease cutoffs are relative to now.
func (c *Consumer) SetDequeueCriteria(messageType string, partition queuedb.PartitionFilter) error {
	f, ok := familyFor(messageType)
	if !ok {
		return newQueueError(KindConfig, "criteria", fmt.Errorf("unknown message type %q", messageType))
	}

	now := c.clock.Now().UTC()
	c.criteria = queuedb.Criteria{
		MessageType:   messageType,
		Partition:     partition,
		Extra:         c.conf.ExtraPredicate,
		OldestArrival: now.Add(-c.conf.MaxMessageAge),
		LeaseExpiry:   now.Add(-c.conf.ClaimLease),
		ByPriority:    f.byPriority,
		Limit:         c.conf.FetchLimit,
	}

	return nil
}

// Queue returns a queue view bound to the current criteria. Iterating it
// performs the actual row fetch and claim.
func (c *Consumer) Queue() *Queue {
	return &Queue{
		db:       c.db,
		criteria: c.criteria,
		owner:    c.owner,
	}
}

func (c *Consumer) ConsumerPolicy(messageType string) (ConsumerPolicy, error) {
	p, ok := c.policies[messageType]
	if !ok {
		return nil, newQueueError(KindConfig, "policy", fmt.Errorf("no consumer policy for type %q", messageType))
	}
	return p, nil
}

func (c *Consumer) DeliveryService(messageType string) (DeliveryPolicy, error) {
	d, ok := c.deliveries[messageType]
	if !ok {
		return nil, newQueueError(KindConfig, "delivery", fmt.Errorf("no delivery service for type %q", messageType))
	}
	return d, nil
}

// Queue is a cursor over one claimed batch. HasNext performs the claim on
// first use; Next walks the claimed records.
type Queue struct {
	db       queuedb.QueueDB
	criteria queuedb.Criteria
	owner    string

	batch   []queuedb.Record
	idx     int
	claimed bool
}

func (q *Queue) HasNext(ctx context.Context) (bool, error) {
	if !q.claimed {
		batch, err := q.db.Claim(ctx, q.criteria, q.owner)
		if err != nil {
			return false, unexpectedError("dequeue", err)
		}
		q.batch = batch
		q.claimed = true
	}

	return q.idx < len(q.batch), nil
}

func (q *Queue) Next() (queuedb.Record, bool) {
	if !q.claimed || q.idx >= len(q.batch) {
		return queuedb.Record{}, false
	}
	rec := q.batch[q.idx]
	q.idx++
	return rec, true
}

// Size reports how many claimed records remain unconsumed.
func (q *Queue) Size() int {
	if !q.claimed {
		return 0
	}
	return len(q.batch) - q.idx
}
