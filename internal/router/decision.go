// Package router is the boundary between natural-language classification and
// the deterministic core. Providers produce a Decision from untrusted input;
// every field of a Decision stays advisory until the guard validator clears it.
package router

import (
	"encoding/json"
	"fmt"

	"invoiceflow/internal/tool"
)

// Intent classifies what the requester wants
type Intent string

const (
	IntentInvoiceQuestion     Intent = "invoice_question"
	IntentListInvoices        Intent = "list_invoices"
	IntentInvoiceApproval     Intent = "invoice_approval"
	IntentInvoiceRejection    Intent = "invoice_rejection"
	IntentPaymentConfirmation Intent = "payment_confirmation"
	IntentInvoiceDispute      Intent = "invoice_dispute"
	IntentRequestInvoiceCopy  Intent = "request_invoice_copy"
	IntentGeneralQuestion     Intent = "general_question"
	IntentUnknown             Intent = "unknown"
)

var validIntents = map[Intent]bool{
	IntentInvoiceQuestion:     true,
	IntentListInvoices:        true,
	IntentInvoiceApproval:     true,
	IntentInvoiceRejection:    true,
	IntentPaymentConfirmation: true,
	IntentInvoiceDispute:      true,
	IntentRequestInvoiceCopy:  true,
	IntentGeneralQuestion:     true,
	IntentUnknown:             true,
}

// IsValid returns true if the intent is one of the defined constants
func (i Intent) IsValid() bool {
	return validIntents[i]
}

// Confidence expresses how sure the provider is about a decision
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// IsValid returns true if the confidence level is known
func (c Confidence) IsValid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	default:
		return false
	}
}

// Arguments carries the tool arguments a provider extracted from the message
type Arguments struct {
	InvoiceID        string `json:"invoice_id,omitempty"`
	Reason           string `json:"reason,omitempty"`
	Resolution       string `json:"resolution,omitempty"`
	ApproverID       string `json:"approver_id,omitempty"`
	PaymentReference string `json:"payment_reference,omitempty"`
	PaymentMethod    string `json:"payment_method,omitempty"`
}

// Get returns a named argument value; used by the validator's required-arg check
func (a Arguments) Get(name string) string {
	switch name {
	case "invoice_id":
		return a.InvoiceID
	case "reason":
		return a.Reason
	case "resolution":
		return a.Resolution
	case "approver_id":
		return a.ApproverID
	case "payment_reference":
		return a.PaymentReference
	case "payment_method":
		return a.PaymentMethod
	default:
		return ""
	}
}

// Decision is the provider's routing recommendation. It never executes
// anything; the validator decides whether it is safe to act on.
type Decision struct {
	Intent                Intent     `json:"intent"`
	Tool                  tool.Tool  `json:"tool"`
	Arguments             Arguments  `json:"arguments"`
	Confidence            Confidence `json:"confidence"`
	Reasoning             string     `json:"reasoning,omitempty"`
	RequiresClarification bool       `json:"requires_clarification"`
	ClarificationPrompt   string     `json:"clarification_prompt,omitempty"`
	Warnings              []string   `json:"warnings,omitempty"`
}

// HasWarning reports whether a warning with the given code was attached
func (d *Decision) HasWarning(code string) bool {
	for _, w := range d.Warnings {
		if w == code {
			return true
		}
	}
	return false
}

// Warning codes providers attach for the validator
const (
	WarningFuturePayment = "future_payment_intent"
)

// ParseDecision parses raw provider output into a Decision. Unknown intents,
// tools, or confidence levels collapse to their conservative defaults rather
// than failing: a malformed decision must degrade to "ask for clarification",
// never to a guessed action.
func ParseDecision(raw []byte) (*Decision, error) {
	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("malformed decision payload: %w", err)
	}

	if !d.Intent.IsValid() {
		d.Intent = IntentUnknown
	}
	if !d.Tool.IsValid() {
		d.Tool = tool.None
	}
	if !d.Confidence.IsValid() {
		d.Confidence = ConfidenceLow
	}
	if d.Intent == IntentUnknown {
		d.Tool = tool.None
		d.RequiresClarification = true
		if d.ClarificationPrompt == "" {
			d.ClarificationPrompt = defaultClarificationPrompt
		}
	}

	return &d, nil
}

const defaultClarificationPrompt = "I'm not sure what you'd like to do. " +
	"Would you like to check invoice status, approve, reject, or something else?"

// FallbackDecision is the deterministic classification used when the provider
// is unreachable or keeps failing. It always routes to clarification.
func FallbackDecision(reason string) *Decision {
	return &Decision{
		Intent:                IntentUnknown,
		Tool:                  tool.None,
		Confidence:            ConfidenceLow,
		Reasoning:             reason,
		RequiresClarification: true,
		ClarificationPrompt:   defaultClarificationPrompt,
	}
}
