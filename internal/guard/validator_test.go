package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoiceflow/internal/lifecycle"
	"invoiceflow/internal/router"
	"invoiceflow/internal/tool"
)

func decision(t tool.Tool, intent router.Intent, args router.Arguments) *router.Decision {
	return &router.Decision{
		Intent:     intent,
		Tool:       t,
		Arguments:  args,
		Confidence: router.ConfidenceHigh,
	}
}

func TestValidate_UnknownInvoiceNeverExecutes(t *testing.T) {
	v := NewValidator()
	known := []InvoiceRef{{ID: "INV-001", State: lifecycle.StateAwaitingApproval}}

	res := v.Validate(
		decision(tool.ApproveInvoice, router.IntentInvoiceApproval, router.Arguments{InvoiceID: "INV-999"}),
		"customer-1", known)

	assert.Equal(t, OutcomeUnknownInvoice, res.Outcome)
	assert.Nil(t, res.Action)
}

func TestValidate_BindsSingleActiveInvoice(t *testing.T) {
	v := NewValidator()
	known := []InvoiceRef{
		{ID: "INV-001", State: lifecycle.StateAwaitingApproval},
		{ID: "INV-000", State: lifecycle.StateClosed},
	}

	res := v.Validate(
		decision(tool.ApproveInvoice, router.IntentInvoiceApproval, router.Arguments{}),
		"customer-1", known)

	require.Equal(t, OutcomeExecute, res.Outcome)
	require.NotNil(t, res.Action)
	assert.Equal(t, "INV-001", res.Action.InvoiceID())
	assert.Equal(t, tool.ApproveInvoice, res.Action.Tool())
}

func TestValidate_TwoActiveInvoicesRequireClarification(t *testing.T) {
	v := NewValidator()
	known := []InvoiceRef{
		{ID: "INV-001", State: lifecycle.StateAwaitingApproval},
		{ID: "INV-002", State: lifecycle.StatePaymentPending},
	}

	res := v.Validate(
		decision(tool.ApproveInvoice, router.IntentInvoiceApproval, router.Arguments{}),
		"customer-1", known)

	assert.Equal(t, OutcomeClarification, res.Outcome)
	assert.Nil(t, res.Action)
	assert.Contains(t, res.ClarificationPrompt, "INV-001")
	assert.Contains(t, res.ClarificationPrompt, "INV-002")
}

func TestValidate_NoActiveInvoiceRequiresClarification(t *testing.T) {
	v := NewValidator()
	known := []InvoiceRef{{ID: "INV-000", State: lifecycle.StateClosed}}

	res := v.Validate(
		decision(tool.ApproveInvoice, router.IntentInvoiceApproval, router.Arguments{}),
		"customer-1", known)

	assert.Equal(t, OutcomeClarification, res.Outcome)
	assert.Nil(t, res.Action)
}

func TestValidate_WrongStateIsBlockedWithContext(t *testing.T) {
	v := NewValidator()
	known := []InvoiceRef{{ID: "INV-001", State: lifecycle.StateNew}}

	res := v.Validate(
		decision(tool.ApproveInvoice, router.IntentInvoiceApproval, router.Arguments{InvoiceID: "INV-001"}),
		"customer-1", known)

	assert.Equal(t, OutcomeBlocked, res.Outcome)
	assert.Nil(t, res.Action)
	assert.Equal(t, lifecycle.StateNew, res.CurrentState)
	assert.Equal(t, []lifecycle.State{lifecycle.StateAwaitingApproval}, res.RequiredStates)
}

func TestValidate_RejectWithoutReasonRequiresClarification(t *testing.T) {
	v := NewValidator()
	known := []InvoiceRef{{ID: "INV-001", State: lifecycle.StateAwaitingApproval}}

	res := v.Validate(
		decision(tool.RejectInvoice, router.IntentInvoiceRejection, router.Arguments{InvoiceID: "INV-001"}),
		"customer-1", known)

	assert.Equal(t, OutcomeClarification, res.Outcome)
	assert.Nil(t, res.Action)
	assert.Contains(t, res.ClarificationPrompt, "reason")
}

func TestValidate_DisputeWithoutReasonRequiresClarification(t *testing.T) {
	v := NewValidator()
	known := []InvoiceRef{{ID: "INV-001", State: lifecycle.StatePaid}}

	res := v.Validate(
		decision(tool.CreateDispute, router.IntentInvoiceDispute, router.Arguments{InvoiceID: "INV-001"}),
		"customer-1", known)

	assert.Equal(t, OutcomeClarification, res.Outcome)
	assert.Nil(t, res.Action)
}

func TestValidate_FuturePaymentBecomesInquiry(t *testing.T) {
	v := NewValidator()
	known := []InvoiceRef{{ID: "INV-001", State: lifecycle.StatePaymentPending}}

	d := decision(tool.ConfirmPayment, router.IntentPaymentConfirmation,
		router.Arguments{InvoiceID: "INV-001"})
	d.Warnings = []string{router.WarningFuturePayment}

	res := v.Validate(d, "customer-1", known)

	assert.Equal(t, OutcomeInquiry, res.Outcome)
	assert.Nil(t, res.Action)
}

func TestValidate_LowConfidenceMutationRequiresClarification(t *testing.T) {
	v := NewValidator()
	known := []InvoiceRef{{ID: "INV-001", State: lifecycle.StateAwaitingApproval}}

	d := decision(tool.ApproveInvoice, router.IntentInvoiceApproval,
		router.Arguments{InvoiceID: "INV-001"})
	d.Confidence = router.ConfidenceLow

	res := v.Validate(d, "customer-1", known)

	assert.Equal(t, OutcomeClarification, res.Outcome)
	assert.Nil(t, res.Action)
}

func TestValidate_ProviderClarificationWins(t *testing.T) {
	v := NewValidator()
	known := []InvoiceRef{{ID: "INV-001", State: lifecycle.StateAwaitingApproval}}

	d := decision(tool.ApproveInvoice, router.IntentInvoiceApproval,
		router.Arguments{InvoiceID: "INV-001"})
	d.RequiresClarification = true
	d.ClarificationPrompt = "Did you mean INV-001?"

	res := v.Validate(d, "customer-1", known)

	assert.Equal(t, OutcomeClarification, res.Outcome)
	assert.Equal(t, "Did you mean INV-001?", res.ClarificationPrompt)
}

func TestValidate_ReadOnlyToolAllowedInTerminalState(t *testing.T) {
	v := NewValidator()
	known := []InvoiceRef{{ID: "INV-001", State: lifecycle.StateClosed}}

	res := v.Validate(
		decision(tool.GetInvoiceStatus, router.IntentInvoiceQuestion, router.Arguments{InvoiceID: "INV-001"}),
		"customer-1", known)

	require.Equal(t, OutcomeExecute, res.Outcome)
	assert.Equal(t, tool.GetInvoiceStatus, res.Action.Tool())
}

func TestValidateDirect_AppliesSameStateGuard(t *testing.T) {
	v := NewValidator()

	res, err := v.ValidateDirect(lifecycle.TriggerApprove, "admin", "",
		InvoiceRef{ID: "INV-001", State: lifecycle.StateNew})
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, res.Outcome)

	res, err = v.ValidateDirect(lifecycle.TriggerApprove, "admin", "",
		InvoiceRef{ID: "INV-001", State: lifecycle.StateAwaitingApproval})
	require.NoError(t, err)
	require.Equal(t, OutcomeExecute, res.Outcome)
	assert.Equal(t, "admin", res.Action.Actor())
}

func TestValidateDirect_RejectTriggerStillNeedsReason(t *testing.T) {
	v := NewValidator()

	res, err := v.ValidateDirect(lifecycle.TriggerReject, "admin", "",
		InvoiceRef{ID: "INV-001", State: lifecycle.StateAwaitingApproval})
	require.NoError(t, err)
	assert.Equal(t, OutcomeClarification, res.Outcome)

	res, err = v.ValidateDirect(lifecycle.TriggerReject, "admin", "price disputed by finance",
		InvoiceRef{ID: "INV-001", State: lifecycle.StateAwaitingApproval})
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecute, res.Outcome)
}

func TestValidateDirect_UnknownTrigger(t *testing.T) {
	v := NewValidator()

	_, err := v.ValidateDirect(lifecycle.Trigger("teleport"), "admin", "",
		InvoiceRef{ID: "INV-001", State: lifecycle.StateNew})
	assert.Error(t, err)
}
