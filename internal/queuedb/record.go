package queuedb

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

type Status = string

const (
	Pending Status = "PENDING"
	Sent    Status = "SENT"
	Retry   Status = "RETRY"
	Failed  Status = "FAILED"
)

// Record is one row of the outbound queue table. Both message families share
// the same column set; tracking_id is only populated for SOA records.
type Record struct {
	bun.BaseModel `bun:"table:outbound_messages,alias:m"`

	ID          string     `bun:"id,pk"`
	MessageType string     `bun:"message_type,notnull"`
	Status      Status     `bun:"status,notnull"`
	Priority    int        `bun:"priority,notnull"`
	SPID        *string    `bun:"spid"`
	Region      *string    `bun:"region"`
	Payload     []byte     `bun:"payload"`
	TrackingID  *string    `bun:"tracking_id"`
	ErrorCount  int        `bun:"error_count,notnull"`
	LastError   *string    `bun:"last_error"`
	ArrivedAt   time.Time  `bun:"arrived_at,notnull"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull"`
	SentAt      *time.Time `bun:"sent_at"`
	ClaimedBy   *string    `bun:"claimed_by"`
	ClaimedAt   *time.Time `bun:"claimed_at"`
}

func (r *Record) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.InsertQuery:
		now := time.Now().UTC()
		if r.ArrivedAt.IsZero() {
			r.ArrivedAt = now
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = now
		}
	}
	return nil
}

// PartitionKey returns the spid/region pair or "" when the record was
// enqueued without one.
func (r *Record) PartitionKey() string {
	if r.SPID == nil || r.Region == nil {
		return ""
	}
	return *r.SPID + "/" + *r.Region
}
