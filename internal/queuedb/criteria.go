package queuedb

import (
	"time"

	"github.com/uptrace/bun"
)

// PartitionFilter selects which slice of the queue a dequeue query may see.
// Exactly one of the three modes applies:
//
//   - SPID/Region set: rows stamped with that provider and region.
//   - CatchAll set: rows whose (spid, region) pair has no dedicated poller,
//     including rows with no partition stamp at all (backward compatibility
//     for records enqueued before partitioning).
//   - neither: no partition predicate (the SOA family, which is unpartitioned).
type PartitionFilter struct {
	SPID     string
	Region   string
	CatchAll bool
	// KnownPartitions lists the (spid, region) pairs that have dedicated
	// pollers; the catch-all claims the complement. The complement must be
	// computed over pairs, not providers: a record stamped with a configured
	// provider but an unserved region belongs to the catch-all, otherwise no
	// poller would ever see it.
	KnownPartitions [][]string
}

// Criteria is the dequeue descriptor rebuilt before every poll cycle: the
// age cutoff is relative to "now", so a cached instance goes stale.
type Criteria struct {
	MessageType string
	Partition   PartitionFilter

	// Extra is an optional free-form SQL predicate appended verbatim.
	Extra string

	// OldestArrival bounds how far back the poller looks; rows that arrived
	// earlier are left for the cleanup job.
	OldestArrival time.Time

	// LeaseExpiry makes rows claimed before this instant eligible again, so
	// a crashed worker's claims are reclaimed.
	LeaseExpiry time.Time

	// ByPriority prepends priority to the order-by. Ties always break on id.
	ByPriority bool

	Limit int
}

func (c Criteria) apply(q *bun.SelectQuery) *bun.SelectQuery {
	q = q.Where("m.message_type = ?", c.MessageType).
		Where("m.status IN (?)", bun.In([]string{Pending, Retry})).
		Where("m.claimed_at IS NULL OR m.claimed_at < ?", c.LeaseExpiry)

	switch {
	case c.Partition.CatchAll:
		// With no served pairs the complement is the whole family. A half
		// NULL stamp would make the tuple NOT IN evaluate to NULL, so those
		// rows are matched explicitly.
		if len(c.Partition.KnownPartitions) > 0 {
			q = q.Where("m.spid IS NULL OR m.region IS NULL OR (m.spid, m.region) NOT IN (?)",
				bun.In(c.Partition.KnownPartitions))
		}
	case c.Partition.SPID != "":
		q = q.Where("m.spid = ?", c.Partition.SPID).
			Where("m.region = ?", c.Partition.Region)
	}

	if !c.OldestArrival.IsZero() {
		q = q.Where("m.arrived_at >= ?", c.OldestArrival)
	}
	if c.Extra != "" {
		q = q.Where(c.Extra)
	}

	if c.ByPriority {
		q = q.Order("m.priority ASC")
	}
	q = q.Order("m.id ASC")

	if c.Limit > 0 {
		q = q.Limit(c.Limit)
	}
	return q
}
