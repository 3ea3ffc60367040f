// Package guard validates untrusted routing decisions against the state
// machine and the requester's known invoices. A ValidatedAction can only be
// built here; nothing downstream accepts a raw decision.
package guard

import (
	"fmt"
	"strings"

	"invoiceflow/internal/lifecycle"
	"invoiceflow/internal/router"
	"invoiceflow/internal/tool"
)

// Outcome classifies the validator's verdict
type Outcome string

const (
	// OutcomeExecute means the action is safe to hand to the orchestrator
	OutcomeExecute Outcome = "execute"
	// OutcomeClarification means the request is ambiguous or incomplete
	OutcomeClarification Outcome = "clarification"
	// OutcomeBlocked means valid input, illegal timing: the tool cannot run
	// from the invoice's current state
	OutcomeBlocked Outcome = "blocked"
	// OutcomeInquiry means the request was reclassified as a non-mutating
	// question (e.g. future payment intent)
	OutcomeInquiry Outcome = "inquiry"
	// OutcomeUnknownInvoice means the decision referenced an invoice id
	// outside the known set
	OutcomeUnknownInvoice Outcome = "unknown_invoice"
)

// InvoiceRef is the validator's view of one known invoice
type InvoiceRef struct {
	ID    string
	State lifecycle.State
}

// ValidatedAction is a decision that passed every guard rail. Its fields are
// unexported so the only way to obtain one is through the validator.
type ValidatedAction struct {
	tool      tool.Tool
	invoiceID string
	args      router.Arguments
	actor     string
}

// Tool returns the action's tool
func (a *ValidatedAction) Tool() tool.Tool { return a.tool }

// InvoiceID returns the bound invoice id
func (a *ValidatedAction) InvoiceID() string { return a.invoiceID }

// Args returns the sanitized arguments
func (a *ValidatedAction) Args() router.Arguments { return a.args }

// Actor returns who requested the action
func (a *ValidatedAction) Actor() string { return a.actor }

// Result is the validator's verdict. Action is non-nil only for OutcomeExecute.
type Result struct {
	Outcome             Outcome
	Action              *ValidatedAction
	Reason              string
	ClarificationPrompt string
	CurrentState        lifecycle.State
	RequiredStates      []lifecycle.State
}

// Validator applies the guard rails. It is pure and performs no I/O.
type Validator struct{}

// NewValidator creates a validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the decision against the requester's known invoices and the
// tool's state requirements. Rules run in fixed order; the first one that
// fires decides the outcome, and any unresolved ambiguity defaults to
// clarification with no mutation.
func (v *Validator) Validate(d *router.Decision, actor string, known []InvoiceRef) Result {
	t := d.Tool
	if !t.IsValid() {
		t = tool.None
	}

	// Rule 1: a referenced invoice must exist in the known set.
	ref, found := findInvoice(known, d.Arguments.InvoiceID)
	if d.Arguments.InvoiceID != "" && !found {
		return Result{
			Outcome: OutcomeUnknownInvoice,
			Reason:  fmt.Sprintf("invoice %q is not known for this party", d.Arguments.InvoiceID),
		}
	}

	// Rule 2: bind a missing invoice id only when it is unambiguous.
	if d.Arguments.InvoiceID == "" && t.NeedsInvoice() {
		active := activeInvoices(known)
		switch len(active) {
		case 1:
			ref = active[0]
			found = true
		case 0:
			return Result{
				Outcome:             OutcomeClarification,
				Reason:              "no active invoice to bind the request to",
				ClarificationPrompt: "There is no open invoice on file. Which invoice did you mean?",
			}
		default:
			return Result{
				Outcome:             OutcomeClarification,
				Reason:              fmt.Sprintf("%d active invoices, cannot bind without an id", len(active)),
				ClarificationPrompt: ambiguousInvoicePrompt(active),
			}
		}
	}

	// Rule 5 runs before the state check so a future-dated payment is
	// answered as an inquiry even when the state would have allowed the
	// mutation.
	if t == tool.ConfirmPayment && d.HasWarning(router.WarningFuturePayment) {
		return Result{
			Outcome:      OutcomeInquiry,
			Reason:       "message expresses future payment intent, not a completed payment",
			CurrentState: ref.State,
		}
	}

	// Rule 6 (provider-flagged ambiguity): clarification requested upstream
	// always wins over execution.
	if d.RequiresClarification || d.Intent == router.IntentUnknown {
		prompt := d.ClarificationPrompt
		if prompt == "" {
			prompt = "Could you clarify what you'd like to do with the invoice?"
		}
		return Result{
			Outcome:             OutcomeClarification,
			Reason:              "provider requested clarification",
			ClarificationPrompt: prompt,
		}
	}

	if t == tool.None {
		return Result{
			Outcome:             OutcomeClarification,
			Reason:              "no actionable tool for this request",
			ClarificationPrompt: "Could you clarify what you'd like to do with the invoice?",
		}
	}

	// Rule 3: the tool must be legal in the invoice's current state.
	if t.NeedsInvoice() && !t.AllowedIn(ref.State) {
		return Result{
			Outcome:        OutcomeBlocked,
			Reason:         fmt.Sprintf("%s is not allowed while the invoice is %s", t, ref.State),
			CurrentState:   ref.State,
			RequiredStates: t.RequiredStates(),
		}
	}

	// Rule 4: tool-specific required arguments, no defaults substituted.
	for _, arg := range t.RequiredArgs() {
		if strings.TrimSpace(d.Arguments.Get(arg)) == "" {
			return Result{
				Outcome:             OutcomeClarification,
				Reason:              fmt.Sprintf("required argument %q is missing", arg),
				ClarificationPrompt: missingArgPrompt(t, arg),
				CurrentState:        ref.State,
			}
		}
	}

	// Rule 5 (confidence): a low-confidence mutation is never executed.
	if t.Mutating() && d.Confidence == router.ConfidenceLow {
		return Result{
			Outcome:             OutcomeClarification,
			Reason:              "confidence too low to execute a mutation",
			ClarificationPrompt: fmt.Sprintf("Just to confirm: would you like me to %s?", strings.ReplaceAll(t.String(), "_", " ")),
			CurrentState:        ref.State,
		}
	}

	args := d.Arguments
	args.InvoiceID = ref.ID

	return Result{
		Outcome:      OutcomeExecute,
		CurrentState: ref.State,
		Action: &ValidatedAction{
			tool:      t,
			invoiceID: ref.ID,
			args:      args,
			actor:     actor,
		},
	}
}

// ValidateDirect builds a validated action for the programmatic trigger entry
// point. It applies the same state guard as routed decisions so bypassing
// natural-language routing never bypasses the rails.
func (v *Validator) ValidateDirect(trigger lifecycle.Trigger, actor, reason string, ref InvoiceRef) (Result, error) {
	t, ok := tool.TriggerTool(trigger)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", lifecycle.ErrInvalidTrigger, trigger)
	}

	d := &router.Decision{
		Intent:     router.IntentGeneralQuestion,
		Tool:       t,
		Confidence: router.ConfidenceHigh,
		Arguments: router.Arguments{
			InvoiceID:  ref.ID,
			Reason:     reason,
			Resolution: reason,
		},
	}
	return v.Validate(d, actor, []InvoiceRef{ref}), nil
}

func findInvoice(known []InvoiceRef, id string) (InvoiceRef, bool) {
	for _, ref := range known {
		if ref.ID == id {
			return ref, true
		}
	}
	return InvoiceRef{}, false
}

func activeInvoices(known []InvoiceRef) []InvoiceRef {
	var active []InvoiceRef
	for _, ref := range known {
		if !ref.State.IsTerminal() {
			active = append(active, ref)
		}
	}
	return active
}

func ambiguousInvoicePrompt(active []InvoiceRef) string {
	ids := make([]string, len(active))
	for i, ref := range active {
		ids[i] = ref.ID
	}
	return fmt.Sprintf("You have %d open invoices (%s). Which one did you mean?",
		len(active), strings.Join(ids, ", "))
}

func missingArgPrompt(t tool.Tool, arg string) string {
	switch {
	case t == tool.RejectInvoice:
		return "To reject this invoice, please provide a reason for the rejection."
	case t == tool.CreateDispute:
		return "To dispute this invoice, please describe the issue."
	case t == tool.ResolveDispute:
		return "Please describe how the dispute was resolved."
	default:
		return fmt.Sprintf("Please provide %s for this action.", strings.ReplaceAll(arg, "_", " "))
	}
}
