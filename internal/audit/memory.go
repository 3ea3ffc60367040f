package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"invoiceflow/internal/models"
)

// MemoryLog keeps entries in process memory. Used by tests and by setups that
// run without a database.
type MemoryLog struct {
	mu      sync.Mutex
	entries []models.AuditEntry
	nextSeq int64
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{nextSeq: 1}
}

func (l *MemoryLog) Append(_ context.Context, _ *sql.Tx, entry *models.AuditEntry) (int64, error) {
	if !entry.Kind.IsValid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidKind, entry.Kind)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Seq = l.nextSeq
	l.nextSeq++
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	l.entries = append(l.entries, *entry)
	return entry.Seq, nil
}

func (l *MemoryLog) Query(_ context.Context, filter Filter) ([]models.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []models.AuditEntry
	for _, e := range l.entries {
		if filter.InvoiceID != "" && e.InvoiceID != filter.InvoiceID {
			continue
		}
		if !filter.matchesKind(e.Kind) {
			continue
		}
		if !filter.From.IsZero() && e.Timestamp.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && e.Timestamp.After(filter.To) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}
