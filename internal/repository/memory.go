package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"invoiceflow/internal/lifecycle"
	"invoiceflow/internal/models"
)

// MemoryInvoiceRepository keeps invoices in a map. It copies on the way in
// and out so callers never share a stored instance.
type MemoryInvoiceRepository struct {
	mu       sync.RWMutex
	invoices map[string]*models.Invoice
}

func NewMemoryInvoiceRepository() *MemoryInvoiceRepository {
	return &MemoryInvoiceRepository{invoices: make(map[string]*models.Invoice)}
}

func (r *MemoryInvoiceRepository) Create(_ context.Context, inv *models.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.invoices[inv.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, inv.ID)
	}
	r.invoices[inv.ID] = copyInvoice(inv)
	return nil
}

func (r *MemoryInvoiceRepository) Load(_ context.Context, invoiceID string) (*models.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.invoices[invoiceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, invoiceID)
	}
	if !inv.State.IsValid() {
		return nil, fmt.Errorf("invoice %s has corrupt state %q", inv.ID, inv.State)
	}
	return copyInvoice(inv), nil
}

func (r *MemoryInvoiceRepository) Save(_ context.Context, _ *sql.Tx, inv *models.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.invoices[inv.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, inv.ID)
	}
	r.invoices[inv.ID] = copyInvoice(inv)
	return nil
}

func (r *MemoryInvoiceRepository) ListActiveByCustomer(_ context.Context, customerID string) ([]*models.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Invoice
	for _, inv := range r.invoices {
		if inv.CustomerID == customerID && inv.IsActive() {
			out = append(out, copyInvoice(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryInvoiceRepository) ListByState(_ context.Context, state lifecycle.State) ([]*models.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Invoice
	for _, inv := range r.invoices {
		if inv.State == state {
			out = append(out, copyInvoice(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func copyInvoice(inv *models.Invoice) *models.Invoice {
	cp := *inv
	cp.History = append([]lifecycle.TransitionRecord(nil), inv.History...)
	if inv.ClosedAt != nil {
		ts := *inv.ClosedAt
		cp.ClosedAt = &ts
	}
	return &cp
}
