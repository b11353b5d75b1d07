package queuedb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/uptrace/bun"
)

const NoRowsAffected = 0

type QueueDB interface {
	// Insert stores a new record. The caller assigns the id.
	Insert(ctx context.Context, record *Record) error

	// Claim fetches the next batch of eligible records for the given
	// criteria and leases them to owner. Two pollers can never claim the
	// same row: the subselect locks candidate rows with SKIP LOCKED and the
	// criteria of distinct partitions are disjoint by construction.
	Claim(ctx context.Context, c Criteria, owner string) ([]Record, error)

	// MarkSent transitions a record to Sent, keyed on its immutable id.
	// Safe to re-run after a crash mid-update.
	MarkSent(ctx context.Context, id string) error

	// MarkFailure increments error_count, records the failure message and
	// moves the record to the given status (Retry or Failed).
	MarkFailure(ctx context.Context, id string, lastError string, status Status) error

	// RecordConnectivityFailure notes the failure message and releases the
	// claim without touching status or error_count, so a transiently
	// undeliverable record is redelivered unpenalized.
	RecordConnectivityFailure(ctx context.Context, id string, lastError string) error

	// Delete removes a record outright, for families that opt into deletion
	// after confirmed delivery.
	Delete(ctx context.Context, id string) error
}

type QueueMaintenanceDB interface {
	// ResetStaleSent bulk-resets Sent records older than cutoff back to
	// Retry, covering recovery restarts where a "sent" record is stuck.
	ResetStaleSent(ctx context.Context, messageType string, cutoff time.Time) (int, error)

	// DeleteSentBefore removes delivered records past the retention window.
	DeleteSentBefore(ctx context.Context, messageType string, cutoff time.Time) (int, error)
}

type queueDB struct {
	db *bun.DB
}

func NewQueueDB(db *bun.DB) QueueDB {
	return &queueDB{db: db}
}

func NewQueueMaintainer(db *bun.DB) QueueMaintenanceDB {
	return &queueDB{db: db}
}

func (r *queueDB) Insert(ctx context.Context, record *Record) error {
	res, err := r.db.NewInsert().Model(record).Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == NoRowsAffected {
		return fmt.Errorf("inserting record failed for id %s type %s", record.ID, record.MessageType)
	}
	return nil
}

func (r *queueDB) Claim(ctx context.Context, c Criteria, owner string) ([]Record, error) {
	var records []Record
	sub := c.apply(r.db.NewSelect().
		TableExpr("outbound_messages as m").
		Column("m.id")).
		For("UPDATE SKIP LOCKED")

	err := r.db.NewUpdate().
		TableExpr("outbound_messages as m").
		TableExpr("(?) as sub", sub).
		Set("claimed_by = (?)", owner).
		Set("claimed_at = (?)", time.Now().UTC()).
		Set("updated_at = (?)", time.Now().UTC()).
		Where("sub.id = m.id").
		Returning("m.*").
		Scan(ctx, &records)
	if err != nil {
		return nil, err
	}

	// The subselect's ORDER BY picks which rows get claimed, but the UPDATE's
	// RETURNING set comes back in no particular order.
	sort.Slice(records, func(i, j int) bool {
		if c.ByPriority && records[i].Priority != records[j].Priority {
			return records[i].Priority < records[j].Priority
		}
		return records[i].ID < records[j].ID
	})

	return records, nil
}

func (r *queueDB) MarkSent(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := r.db.NewUpdate().
		TableExpr("outbound_messages").
		Set("status = (?)", Sent).
		Set("sent_at = (?)", now).
		Set("updated_at = (?)", now).
		Set("last_error = NULL").
		Set("claimed_by = NULL").
		Set("claimed_at = NULL").
		Where("id = (?)", id).
		Exec(ctx)

	return err
}

func (r *queueDB) MarkFailure(ctx context.Context, id string, lastError string, status Status) error {
	now := time.Now().UTC()
	res, err := r.db.NewUpdate().
		TableExpr("outbound_messages").
		Set("error_count = error_count + (?)", 1).
		Set("last_error = (?)", lastError).
		Set("status = (?)", status).
		Set("updated_at = (?)", now).
		Set("claimed_by = NULL").
		Set("claimed_at = NULL").
		Where("id = (?)", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == NoRowsAffected {
		return fmt.Errorf("updating record failed for id %s status %s", id, status)
	}

	return nil
}

func (r *queueDB) RecordConnectivityFailure(ctx context.Context, id string, lastError string) error {
	_, err := r.db.NewUpdate().
		TableExpr("outbound_messages").
		Set("last_error = (?)", lastError).
		Set("updated_at = (?)", time.Now().UTC()).
		Set("claimed_by = NULL").
		Set("claimed_at = NULL").
		Where("id = (?)", id).
		Exec(ctx)

	return err
}

func (r *queueDB) Delete(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().
		TableExpr("outbound_messages").
		Where("id = (?)", id).
		Exec(ctx)

	return err
}

func (r *queueDB) ResetStaleSent(ctx context.Context, messageType string, cutoff time.Time) (int, error) {
	res, err := r.db.NewUpdate().
		TableExpr("outbound_messages").
		Set("status = (?)", Retry).
		Set("sent_at = NULL").
		Set("updated_at = (?)", time.Now().UTC()).
		Where("message_type = (?)", messageType).
		Where("status = (?)", Sent).
		Where("sent_at < (?)", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(rows), nil
}

func (r *queueDB) DeleteSentBefore(ctx context.Context, messageType string, cutoff time.Time) (int, error) {
	res, err := r.db.NewDelete().
		TableExpr("outbound_messages").
		Where("message_type = (?)", messageType).
		Where("status = (?)", Sent).
		Where("sent_at < (?)", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(rows), nil
}
