// Package tool defines the closed set of actions the orchestrator can
// execute. Adding a tool means adding a constant here plus a handler arm in
// the orchestrator's switch, so new tools are a compile-time-visible change.
package tool

import (
	"invoiceflow/internal/lifecycle"
)

// Tool identifies an executable action
type Tool string

const (
	GetInvoiceStatus Tool = "get_invoice_status"
	ListInvoices     Tool = "list_invoices"
	SendInvoice      Tool = "send_invoice"
	RequestApproval  Tool = "request_approval"
	ApproveInvoice   Tool = "approve_invoice"
	RejectInvoice    Tool = "reject_invoice"
	RequestPayment   Tool = "request_payment"
	ConfirmPayment   Tool = "confirm_payment"
	ResendInvoice    Tool = "resend_invoice"
	CreateDispute    Tool = "create_dispute"
	ResolveDispute   Tool = "resolve_dispute"
	CloseInvoice     Tool = "close_invoice"
	None             Tool = "none"
)

// spec describes the static rules for one tool
type spec struct {
	trigger      lifecycle.Trigger // empty for non-mutating tools
	anyState     bool
	states       []lifecycle.State
	requiredArgs []string
	needsInvoice bool
}

var specs = map[Tool]spec{
	GetInvoiceStatus: {anyState: true, needsInvoice: true},
	ListInvoices:     {anyState: true},
	SendInvoice: {
		trigger:      lifecycle.TriggerSendInvoice,
		states:       []lifecycle.State{lifecycle.StateNew},
		needsInvoice: true,
	},
	RequestApproval: {
		trigger:      lifecycle.TriggerRequestApproval,
		states:       []lifecycle.State{lifecycle.StateInvoiceSent},
		needsInvoice: true,
	},
	ApproveInvoice: {
		trigger:      lifecycle.TriggerApprove,
		states:       []lifecycle.State{lifecycle.StateAwaitingApproval},
		needsInvoice: true,
	},
	RejectInvoice: {
		trigger:      lifecycle.TriggerReject,
		states:       []lifecycle.State{lifecycle.StateAwaitingApproval},
		requiredArgs: []string{"reason"},
		needsInvoice: true,
	},
	RequestPayment: {
		trigger:      lifecycle.TriggerRequestPayment,
		states:       []lifecycle.State{lifecycle.StateApproved},
		needsInvoice: true,
	},
	ConfirmPayment: {
		trigger:      lifecycle.TriggerConfirmPayment,
		states:       []lifecycle.State{lifecycle.StatePaymentPending},
		needsInvoice: true,
	},
	ResendInvoice: {
		states: []lifecycle.State{
			lifecycle.StateInvoiceSent,
			lifecycle.StateAwaitingApproval,
			lifecycle.StateApproved,
			lifecycle.StatePaymentPending,
		},
		needsInvoice: true,
	},
	CreateDispute: {
		trigger: lifecycle.TriggerDispute,
		states: []lifecycle.State{
			lifecycle.StateApproved,
			lifecycle.StatePaymentPending,
			lifecycle.StatePaid,
		},
		requiredArgs: []string{"reason"},
		needsInvoice: true,
	},
	ResolveDispute: {
		trigger:      lifecycle.TriggerResolveDispute,
		states:       []lifecycle.State{lifecycle.StateDisputed},
		requiredArgs: []string{"resolution"},
		needsInvoice: true,
	},
	CloseInvoice: {
		trigger:      lifecycle.TriggerClose,
		states:       []lifecycle.State{lifecycle.StatePaid, lifecycle.StateRejected},
		needsInvoice: true,
	},
	None: {anyState: true},
}

// All returns every tool in a stable order
func All() []Tool {
	return []Tool{
		GetInvoiceStatus,
		ListInvoices,
		SendInvoice,
		RequestApproval,
		ApproveInvoice,
		RejectInvoice,
		RequestPayment,
		ConfirmPayment,
		ResendInvoice,
		CreateDispute,
		ResolveDispute,
		CloseInvoice,
		None,
	}
}

// IsValid returns true if the tool is part of the closed set
func (t Tool) IsValid() bool {
	_, ok := specs[t]
	return ok
}

// String returns the string representation of the tool
func (t Tool) String() string {
	return string(t)
}

// Trigger returns the lifecycle trigger the tool maps to, or false if the
// tool does not mutate state.
func (t Tool) Trigger() (lifecycle.Trigger, bool) {
	s := specs[t]
	return s.trigger, s.trigger != ""
}

// Mutating returns true if executing the tool changes invoice state
func (t Tool) Mutating() bool {
	_, ok := t.Trigger()
	return ok
}

// NeedsInvoice returns true if the tool operates on a single invoice
func (t Tool) NeedsInvoice() bool {
	return specs[t].needsInvoice
}

// RequiredArgs returns argument names that must be present for execution
func (t Tool) RequiredArgs() []string {
	return specs[t].requiredArgs
}

// RequiredStates returns the states the tool may run from; nil means any state
func (t Tool) RequiredStates() []lifecycle.State {
	s := specs[t]
	if s.anyState {
		return nil
	}
	out := make([]lifecycle.State, len(s.states))
	copy(out, s.states)
	return out
}

// AllowedIn returns true if the tool may run while the invoice is in state
func (t Tool) AllowedIn(state lifecycle.State) bool {
	s, ok := specs[t]
	if !ok {
		return false
	}
	if s.anyState {
		return true
	}
	for _, allowed := range s.states {
		if allowed == state {
			return true
		}
	}
	return false
}

// TriggerTool maps a lifecycle trigger back to its executing tool. Used by
// the direct-trigger entry point so programmatic calls flow through the same
// validation and handler table as routed decisions.
func TriggerTool(trigger lifecycle.Trigger) (Tool, bool) {
	for _, t := range All() {
		if tr, ok := t.Trigger(); ok && tr == trigger {
			return t, true
		}
	}
	return None, false
}
