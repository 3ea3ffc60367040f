// Package events defines the domain events emitted after lifecycle
// transitions commit, and the bus that delivers them to subscribers.
package events

import (
	"time"

	"github.com/google/uuid"

	"invoiceflow/internal/lifecycle"
)

// Type identifies a domain event. The set is closed; events outside it are
// never published.
type Type string

const (
	InvoiceCreated    Type = "invoice_created"
	InvoiceSent       Type = "invoice_sent"
	ApprovalRequested Type = "approval_requested"
	InvoiceApproved   Type = "invoice_approved"
	InvoiceRejected   Type = "invoice_rejected"
	PaymentRequested  Type = "payment_requested"
	InvoicePaid       Type = "invoice_paid"
	InvoiceDisputed   Type = "invoice_disputed"
	DisputeResolved   Type = "dispute_resolved"
	InvoiceClosed     Type = "invoice_closed"
	PaymentReminder   Type = "payment_reminder"
)

// IsValid returns true if the type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case InvoiceCreated, InvoiceSent, ApprovalRequested, InvoiceApproved,
		InvoiceRejected, PaymentRequested, InvoicePaid, InvoiceDisputed,
		DisputeResolved, InvoiceClosed, PaymentReminder:
		return true
	default:
		return false
	}
}

func (t Type) String() string {
	return string(t)
}

// transitionEvents maps each lifecycle trigger to the event published once
// the transition has been persisted.
var transitionEvents = map[lifecycle.Trigger]Type{
	lifecycle.TriggerSendInvoice:     InvoiceSent,
	lifecycle.TriggerRequestApproval: ApprovalRequested,
	lifecycle.TriggerApprove:         InvoiceApproved,
	lifecycle.TriggerReject:          InvoiceRejected,
	lifecycle.TriggerRequestPayment:  PaymentRequested,
	lifecycle.TriggerConfirmPayment:  InvoicePaid,
	lifecycle.TriggerDispute:         InvoiceDisputed,
	lifecycle.TriggerResolveDispute:  DisputeResolved,
	lifecycle.TriggerClose:           InvoiceClosed,
}

// ForTrigger returns the event type published for a trigger
func ForTrigger(trigger lifecycle.Trigger) (Type, bool) {
	t, ok := transitionEvents[trigger]
	return t, ok
}

// Event is a single immutable domain event
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	InvoiceID string         `json:"invoice_id"`
	Actor     string         `json:"actor,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent builds an event with a fresh ID and the current time
func NewEvent(t Type, invoiceID, actor string, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		InvoiceID: invoiceID,
		Actor:     actor,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}
