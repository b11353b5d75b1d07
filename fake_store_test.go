package outbound_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/portgw/npac-outbound/internal/queuedb"
)

// fakeStore is an in-memory stand-in for the Postgres-backed store. It keeps
// the same visible semantics: status transitions keyed on id, claim leasing,
// partition filtering and dequeue ordering.
type fakeStore struct {
	clock clockwork.Clock

	mu         sync.Mutex
	records    map[string]*queuedb.Record
	claimCalls int
	claimErr   error

	lastCriteria queuedb.Criteria
	sweepCalls   int
	cleanupCalls int
	lastCutoff   time.Time
}

var (
	_ queuedb.QueueDB            = &fakeStore{}
	_ queuedb.QueueMaintenanceDB = &fakeStore{}
)

func newFakeStore(clock clockwork.Clock) *fakeStore {
	return &fakeStore{
		clock:   clock,
		records: make(map[string]*queuedb.Record),
	}
}

func (f *fakeStore) Insert(_ context.Context, record *queuedb.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[record.ID]; ok {
		return fmt.Errorf("duplicate id %s", record.ID)
	}
	cp := *record
	f.records[record.ID] = &cp
	return nil
}

func (f *fakeStore) Claim(_ context.Context, c queuedb.Criteria, owner string) ([]queuedb.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.claimCalls++
	f.lastCriteria = c
	if f.claimErr != nil {
		return nil, f.claimErr
	}

	var eligible []*queuedb.Record
	for _, rec := range f.records {
		if f.matches(rec, c) {
			eligible = append(eligible, rec)
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		if c.ByPriority && eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority < eligible[j].Priority
		}
		return eligible[i].ID < eligible[j].ID
	})

	if c.Limit > 0 && len(eligible) > c.Limit {
		eligible = eligible[:c.Limit]
	}

	now := f.clock.Now().UTC()
	batch := make([]queuedb.Record, 0, len(eligible))
	for _, rec := range eligible {
		rec.ClaimedBy = &owner
		rec.ClaimedAt = &now
		rec.UpdatedAt = now
		batch = append(batch, *rec)
	}

	return batch, nil
}

func (f *fakeStore) matches(rec *queuedb.Record, c queuedb.Criteria) bool {
	if rec.MessageType != c.MessageType {
		return false
	}
	if rec.Status != queuedb.Pending && rec.Status != queuedb.Retry {
		return false
	}
	if rec.ClaimedAt != nil && !rec.ClaimedAt.Before(c.LeaseExpiry) {
		return false
	}

	switch {
	case c.Partition.CatchAll:
		if rec.SPID != nil && rec.Region != nil {
			for _, pair := range c.Partition.KnownPartitions {
				if *rec.SPID == pair[0] && *rec.Region == pair[1] {
					return false
				}
			}
		}
	case c.Partition.SPID != "":
		if rec.SPID == nil || rec.Region == nil {
			return false
		}
		if *rec.SPID != c.Partition.SPID || *rec.Region != c.Partition.Region {
			return false
		}
	}

	if !c.OldestArrival.IsZero() && rec.ArrivedAt.Before(c.OldestArrival) {
		return false
	}
	return true
}

func (f *fakeStore) MarkSent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[id]
	if !ok {
		// Zero rows updated is not an error; the call is idempotent.
		return nil
	}
	now := f.clock.Now().UTC()
	rec.Status = queuedb.Sent
	rec.SentAt = &now
	rec.UpdatedAt = now
	rec.LastError = nil
	rec.ClaimedBy = nil
	rec.ClaimedAt = nil
	return nil
}

func (f *fakeStore) MarkFailure(_ context.Context, id string, lastError string, status queuedb.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[id]
	if !ok {
		return fmt.Errorf("updating record failed for id %s status %s", id, status)
	}
	rec.ErrorCount++
	rec.LastError = &lastError
	rec.Status = status
	rec.UpdatedAt = f.clock.Now().UTC()
	rec.ClaimedBy = nil
	rec.ClaimedAt = nil
	return nil
}

func (f *fakeStore) RecordConnectivityFailure(_ context.Context, id string, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[id]
	if !ok {
		return nil
	}
	rec.LastError = &lastError
	rec.UpdatedAt = f.clock.Now().UTC()
	rec.ClaimedBy = nil
	rec.ClaimedAt = nil
	return nil
}

func (f *fakeStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	return nil
}

func (f *fakeStore) ResetStaleSent(_ context.Context, messageType string, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sweepCalls++
	f.lastCutoff = cutoff
	n := 0
	for _, rec := range f.records {
		if rec.MessageType == messageType && rec.Status == queuedb.Sent &&
			rec.SentAt != nil && rec.SentAt.Before(cutoff) {
			rec.Status = queuedb.Retry
			rec.SentAt = nil
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) DeleteSentBefore(_ context.Context, messageType string, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cleanupCalls++
	n := 0
	for id, rec := range f.records {
		if rec.MessageType == messageType && rec.Status == queuedb.Sent &&
			rec.SentAt != nil && rec.SentAt.Before(cutoff) {
			delete(f.records, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) get(id string) (queuedb.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return queuedb.Record{}, false
	}
	return *rec, true
}

func (f *fakeStore) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func (f *fakeStore) claims() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claimCalls
}

func (f *fakeStore) criteria() queuedb.Criteria {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastCriteria
}

func (f *fakeStore) maintenanceCalls() (sweeps, cleanups int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweepCalls, f.cleanupCalls
}

func strPtr(s string) *string {
	return &s
}

func testRecord(clock clockwork.Clock, id, messageType string) *queuedb.Record {
	now := clock.Now().UTC()
	return &queuedb.Record{
		ID:          id,
		MessageType: messageType,
		Status:      queuedb.Pending,
		Priority:    7,
		Payload:     []byte(`{"kind":"create"}`),
		ArrivedAt:   now,
		UpdatedAt:   now,
	}
}
