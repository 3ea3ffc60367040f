package models

import (
	"fmt"
	"math"
	"time"

	"invoiceflow/internal/lifecycle"
)

// Invoice is the aggregate the lifecycle state machine governs. The State
// field is only ever changed through lifecycle.Machine.Apply; History is
// append-only and owned by the invoice.
type Invoice struct {
	ID          string          `json:"id"`
	CustomerID  string          `json:"customer_id"`
	State       lifecycle.State `json:"state"`
	NetAmount   float64         `json:"net_amount"`
	VATRate     float64         `json:"vat_rate"`
	GrossAmount float64         `json:"gross_amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description,omitempty"`
	DueDate     time.Time       `json:"due_date"`

	// Written by tool mutations
	ApproverID       string `json:"approver_id,omitempty"`
	RejectionReason  string `json:"rejection_reason,omitempty"`
	DisputeReason    string `json:"dispute_reason,omitempty"`
	PaymentReference string `json:"payment_reference,omitempty"`
	PaymentMethod    string `json:"payment_method,omitempty"`

	History   []lifecycle.TransitionRecord `json:"history,omitempty"`
	CreatedAt time.Time                    `json:"created_at"`
	UpdatedAt time.Time                    `json:"updated_at"`
	ClosedAt  *time.Time                   `json:"closed_at,omitempty"`
}

// NewInvoice creates an invoice in the initial state. The gross amount is
// derived from the net amount and VAT rate exactly once, here; mutations
// never silently recompute it.
func NewInvoice(id, customerID string, netAmount, vatRate float64, currency string, dueDate time.Time) (*Invoice, error) {
	if id == "" {
		return nil, fmt.Errorf("invoice id is required")
	}
	if netAmount < 0 {
		return nil, fmt.Errorf("net amount must not be negative: %f", netAmount)
	}
	if vatRate < 0 || vatRate > 1 {
		return nil, fmt.Errorf("vat rate must be a fraction between 0 and 1: %f", vatRate)
	}
	if currency == "" {
		currency = "USD"
	}
	if len(currency) != 3 {
		return nil, fmt.Errorf("currency must be a 3-letter code: %q", currency)
	}

	now := time.Now().UTC()
	return &Invoice{
		ID:          id,
		CustomerID:  customerID,
		State:       lifecycle.StateNew,
		NetAmount:   netAmount,
		VATRate:     vatRate,
		GrossAmount: roundMoney(netAmount * (1 + vatRate)),
		Currency:    currency,
		DueDate:     dueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Machine rebuilds a lifecycle machine from the invoice's persisted state
func (inv *Invoice) Machine() (*lifecycle.Machine, error) {
	return lifecycle.Restore(inv.ID, inv.State, inv.History)
}

// ApplyTransition records a completed machine transition on the invoice
func (inv *Invoice) ApplyTransition(rec lifecycle.TransitionRecord) {
	inv.State = rec.To
	inv.History = append(inv.History, rec)
	inv.UpdatedAt = rec.Timestamp
	if rec.To == lifecycle.StateClosed {
		ts := rec.Timestamp
		inv.ClosedAt = &ts
	}
}

// IsActive returns true if the invoice has not reached a terminal state
func (inv *Invoice) IsActive() bool {
	return !inv.State.IsTerminal()
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
