// Package repository persists invoices and their transition history.
package repository

import (
	"context"
	"database/sql"
	"errors"

	"invoiceflow/internal/lifecycle"
	"invoiceflow/internal/models"
)

// ErrNotFound is returned when no invoice exists under the requested ID
var ErrNotFound = errors.New("repository: invoice not found")

// ErrDuplicateID is returned when creating an invoice whose ID already exists
var ErrDuplicateID = errors.New("repository: invoice id already exists")

// InvoiceRepository stores invoices. Save takes an optional transaction so
// the orchestrator can commit the invoice row, its history, and the audit
// entry atomically; a nil tx writes directly.
type InvoiceRepository interface {
	// Create inserts a new invoice, failing on duplicate IDs
	Create(ctx context.Context, inv *models.Invoice) error

	// Load returns the invoice with its full transition history, or
	// ErrNotFound
	Load(ctx context.Context, invoiceID string) (*models.Invoice, error)

	// Save writes the invoice's current row and appends any history records
	// not yet persisted
	Save(ctx context.Context, tx *sql.Tx, inv *models.Invoice) error

	// ListActiveByCustomer returns the customer's non-terminal invoices
	ListActiveByCustomer(ctx context.Context, customerID string) ([]*models.Invoice, error)

	// ListByState returns all invoices currently in the given state
	ListByState(ctx context.Context, state lifecycle.State) ([]*models.Invoice, error)
}
