package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iconidentify/tubeconv/internal/domain"
)

// InMemoryLedger implements Ledger using in-memory storage.
// Records do not survive a restart.
type InMemoryLedger struct {
	mu      sync.RWMutex
	schema  domain.Schema
	records map[domain.RecordID]*domain.ConversionRecord
	now     func() time.Time
}

// NewInMemoryLedger creates an in-memory ledger for the given schema variant.
func NewInMemoryLedger(schema domain.Schema) *InMemoryLedger {
	return &InMemoryLedger{
		schema:  schema,
		records: make(map[domain.RecordID]*domain.ConversionRecord),
		now:     time.Now,
	}
}

// Insert assigns the record ID and creation time and stores a copy.
func (l *InMemoryLedger) Insert(ctx context.Context, rec *domain.ConversionRecord) error {
	if !l.schema.Accepts(rec.Kind) {
		return domain.ErrSchemaMismatch
	}

	rec.ID = newRecordID()
	rec.CreatedAt = l.now().UTC()

	stored := *rec

	l.mu.Lock()
	l.records[rec.ID] = &stored
	l.mu.Unlock()

	return nil
}

// PurgeExpired removes records created before cutoff, oldest first.
func (l *InMemoryLedger) PurgeExpired(ctx context.Context, cutoff time.Time, fn func(*domain.ConversionRecord)) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var expired []*domain.ConversionRecord
	for _, rec := range l.records {
		if rec.CreatedAt.Before(cutoff) {
			expired = append(expired, rec)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].CreatedAt.Before(expired[j].CreatedAt)
	})

	for _, rec := range expired {
		if fn != nil {
			cp := *rec
			fn(&cp)
		}
		delete(l.records, rec.ID)
	}

	return len(expired), nil
}

// Count returns the number of stored records.
func (l *InMemoryLedger) Count(ctx context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records), nil
}

// Schema returns the record shape this ledger accepts.
func (l *InMemoryLedger) Schema() domain.Schema {
	return l.schema
}

// Ping always succeeds.
func (l *InMemoryLedger) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (l *InMemoryLedger) Close() error {
	return nil
}

// Records returns a snapshot of all stored records, oldest first.
func (l *InMemoryLedger) Records() []domain.ConversionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.ConversionRecord, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Clear removes all records (useful for testing).
func (l *InMemoryLedger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = make(map[domain.RecordID]*domain.ConversionRecord)
}
