// Package audit provides the append-only, globally sequence-ordered record of
// every attempted action. Entries are immutable once written; the log alone
// owns sequence numbering.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"invoiceflow/internal/models"
)

// ErrInvalidKind is returned when an entry carries an unrecognized audit kind
var ErrInvalidKind = errors.New("audit: invalid entry kind")

// Filter narrows a query. Zero values mean "no constraint".
type Filter struct {
	InvoiceID string
	Kinds     []models.AuditKind
	From      time.Time
	To        time.Time
	Limit     int
}

func (f Filter) matchesKind(kind models.AuditKind) bool {
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Log is the append-only audit contract. There is deliberately no update or
// delete operation. The tx argument lets the orchestrator pair the append
// with the invoice write in one transaction; implementations without
// transactional storage ignore it.
type Log interface {
	// Append writes the entry, assigns its sequence number, and returns it
	Append(ctx context.Context, tx *sql.Tx, entry *models.AuditEntry) (int64, error)

	// Query returns matching entries in ascending sequence order
	Query(ctx context.Context, filter Filter) ([]models.AuditEntry, error)
}
