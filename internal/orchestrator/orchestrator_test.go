package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"invoiceflow/internal/audit"
	"invoiceflow/internal/events"
	"invoiceflow/internal/lifecycle"
	"invoiceflow/internal/models"
	"invoiceflow/internal/repository"
	"invoiceflow/internal/router"
	"invoiceflow/internal/tool"
)

// stubProvider returns a canned decision without any network traffic
type stubProvider struct {
	decision *router.Decision
}

func (p *stubProvider) Classify(context.Context, router.Request) (*router.Decision, error) {
	return p.decision, nil
}

type fixture struct {
	orch     *Orchestrator
	repo     *repository.MemoryInvoiceRepository
	auditLog *audit.MemoryLog
	bus      *events.Bus
	provider *stubProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     repository.NewMemoryInvoiceRepository(),
		auditLog: audit.NewMemoryLog(),
		bus:      events.NewBus(zap.NewNop()),
		provider: &stubProvider{},
	}
	f.orch = New(f.repo, f.auditLog, f.bus, f.provider, NoTx{}, zap.NewNop())
	t.Cleanup(f.bus.Close)
	return f
}

func (f *fixture) createInvoice(t *testing.T, id, customerID string) *models.Invoice {
	t.Helper()
	inv, err := f.orch.CreateInvoice(context.Background(), CreateInvoiceParams{
		InvoiceID:  id,
		CustomerID: customerID,
		NetAmount:  100,
		VATRate:    0.19,
		Currency:   "EUR",
		DueDate:    time.Now().Add(14 * 24 * time.Hour),
	})
	require.NoError(t, err)
	return inv
}

func (f *fixture) advance(t *testing.T, invoiceID string, triggers ...lifecycle.Trigger) {
	t.Helper()
	for _, trigger := range triggers {
		res, err := f.orch.TriggerDirect(context.Background(), invoiceID, trigger, "system", "test setup")
		require.NoError(t, err)
		require.True(t, res.Success, "trigger %s failed: %s", trigger, res.Message)
	}
}

func (f *fixture) auditEntries(t *testing.T, invoiceID string) []models.AuditEntry {
	t.Helper()
	entries, err := f.auditLog.Query(context.Background(), audit.Filter{InvoiceID: invoiceID})
	require.NoError(t, err)
	return entries
}

func TestCreateInvoiceAuditsAndStartsNew(t *testing.T) {
	f := newFixture(t)
	inv := f.createInvoice(t, "inv-1", "cust-1")

	assert.Equal(t, lifecycle.StateNew, inv.State)
	assert.Equal(t, 119.0, inv.GrossAmount)

	entries := f.auditEntries(t, "inv-1")
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditApplied, entries[0].Kind)
}

func TestTriggerDirectHappyPathToClosed(t *testing.T) {
	f := newFixture(t)
	f.createInvoice(t, "inv-1", "cust-1")

	f.advance(t, "inv-1",
		lifecycle.TriggerSendInvoice,
		lifecycle.TriggerRequestApproval,
		lifecycle.TriggerApprove,
		lifecycle.TriggerRequestPayment,
		lifecycle.TriggerConfirmPayment,
		lifecycle.TriggerClose,
	)

	inv, err := f.orch.GetInvoice(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateClosed, inv.State)
	assert.NotNil(t, inv.ClosedAt)
	assert.Len(t, inv.History, 6)
}

func TestBlockedTriggerLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	f.createInvoice(t, "inv-1", "cust-1")

	// approve is not legal from new
	res, err := f.orch.TriggerDirect(context.Background(), "inv-1", lifecycle.TriggerApprove, "alice", "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, models.ErrCodeInvalidState, res.ErrorCode)

	inv, err := f.orch.GetInvoice(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateNew, inv.State)
	assert.Empty(t, inv.History)

	entries := f.auditEntries(t, "inv-1")
	require.Len(t, entries, 2) // creation + blocked attempt
	assert.Equal(t, models.AuditBlocked, entries[1].Kind)
}

func TestTerminalInvoiceRejectsEverything(t *testing.T) {
	f := newFixture(t)
	f.createInvoice(t, "inv-1", "cust-1")
	f.advance(t, "inv-1",
		lifecycle.TriggerSendInvoice,
		lifecycle.TriggerRequestApproval,
		lifecycle.TriggerApprove,
		lifecycle.TriggerRequestPayment,
		lifecycle.TriggerConfirmPayment,
		lifecycle.TriggerClose,
	)

	for _, trigger := range []lifecycle.Trigger{
		lifecycle.TriggerSendInvoice,
		lifecycle.TriggerApprove,
		lifecycle.TriggerDispute,
		lifecycle.TriggerClose,
	} {
		res, err := f.orch.TriggerDirect(context.Background(), "inv-1", trigger, "alice", "reason")
		require.NoError(t, err)
		assert.False(t, res.Success, "trigger %s succeeded on a closed invoice", trigger)
	}

	inv, err := f.orch.GetInvoice(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateClosed, inv.State)
}

func TestSubmitDecisionExecutesApproval(t *testing.T) {
	f := newFixture(t)
	f.createInvoice(t, "inv-1", "cust-1")
	f.advance(t, "inv-1", lifecycle.TriggerSendInvoice, lifecycle.TriggerRequestApproval)

	decision := &router.Decision{
		Intent:     router.IntentInvoiceApproval,
		Tool:       tool.ApproveInvoice,
		Confidence: router.ConfidenceHigh,
		Arguments:  router.Arguments{InvoiceID: "inv-1", ApproverID: "mgr-7"},
	}
	res, err := f.orch.SubmitDecision(context.Background(), "cust-1", "alice", decision)
	require.NoError(t, err)
	assert.True(t, res.Success)

	inv, err := f.orch.GetInvoice(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateApproved, inv.State)
	assert.Equal(t, "mgr-7", inv.ApproverID)
}

func TestSubmitDecisionBindsSingleActiveInvoice(t *testing.T) {
	f := newFixture(t)
	f.createInvoice(t, "inv-1", "cust-1")

	decision := &router.Decision{
		Intent:     router.IntentInvoiceQuestion,
		Tool:       tool.SendInvoice,
		Confidence: router.ConfidenceHigh,
	}
	res, err := f.orch.SubmitDecision(context.Background(), "cust-1", "alice", decision)
	require.NoError(t, err)
	assert.True(t, res.Success)

	inv, err := f.orch.GetInvoice(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateInvoiceSent, inv.State)
}

func TestSubmitDecisionUnknownInvoiceNeverFabricates(t *testing.T) {
	f := newFixture(t)
	f.createInvoice(t, "inv-1", "cust-1")

	decision := &router.Decision{
		Intent:     router.IntentInvoiceApproval,
		Tool:       tool.ApproveInvoice,
		Confidence: router.ConfidenceHigh,
		Arguments:  router.Arguments{InvoiceID: "inv-999"},
	}
	res, err := f.orch.SubmitDecision(context.Background(), "cust-1", "alice", decision)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, models.ErrCodeInvoiceNotFound, res.ErrorCode)

	entries := f.auditEntries(t, "inv-999")
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditBlocked, entries[0].Kind)
}

func TestSubmitDecisionRejectWithoutReasonAsksForIt(t *testing.T) {
	f := newFixture(t)
	f.createInvoice(t, "inv-1", "cust-1")
	f.advance(t, "inv-1", lifecycle.TriggerSendInvoice, lifecycle.TriggerRequestApproval)

	decision := &router.Decision{
		Intent:     router.IntentInvoiceRejection,
		Tool:       tool.RejectInvoice,
		Confidence: router.ConfidenceHigh,
		Arguments:  router.Arguments{InvoiceID: "inv-1"},
	}
	res, err := f.orch.SubmitDecision(context.Background(), "cust-1", "alice", decision)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, models.ErrCodeClarificationNeeded, res.ErrorCode)
	assert.Contains(t, res.Message, "reason")

	inv, err := f.orch.GetInvoice(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateAwaitingApproval, inv.State)
}

func TestSubmitDecisionFuturePaymentAnsweredAsInquiry(t *testing.T) {
	f := newFixture(t)
	f.createInvoice(t, "inv-1", "cust-1")
	f.advance(t, "inv-1",
		lifecycle.TriggerSendInvoice,
		lifecycle.TriggerRequestApproval,
		lifecycle.TriggerApprove,
		lifecycle.TriggerRequestPayment,
	)

	decision := &router.Decision{
		Intent:     router.IntentPaymentConfirmation,
		Tool:       tool.ConfirmPayment,
		Confidence: router.ConfidenceHigh,
		Arguments:  router.Arguments{InvoiceID: "inv-1"},
		Warnings:   []string{router.WarningFuturePayment},
	}
	res, err := f.orch.SubmitDecision(context.Background(), "cust-1", "alice", decision)
	require.NoError(t, err)
	assert.True(t, res.Success)

	inv, err := f.orch.GetInvoice(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatePaymentPending, inv.State, "future payment must not mark the invoice paid")

	entries := f.auditEntries(t, "inv-1")
	last := entries[len(entries)-1]
	assert.Equal(t, models.AuditAttempted, last.Kind)
}

func TestSubmitDecisionClosedInvoiceIsBlockedNotUnknown(t *testing.T) {
	f := newFixture(t)
	f.createInvoice(t, "inv-1", "cust-1")
	f.advance(t, "inv-1",
		lifecycle.TriggerSendInvoice,
		lifecycle.TriggerRequestApproval,
		lifecycle.TriggerApprove,
		lifecycle.TriggerRequestPayment,
		lifecycle.TriggerConfirmPayment,
		lifecycle.TriggerClose,
	)

	decision := &router.Decision{
		Intent:     router.IntentInvoiceApproval,
		Tool:       tool.ApproveInvoice,
		Confidence: router.ConfidenceHigh,
		Arguments:  router.Arguments{InvoiceID: "inv-1"},
	}
	res, err := f.orch.SubmitDecision(context.Background(), "cust-1", "alice", decision)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, models.ErrCodeInvalidState, res.ErrorCode)
}

func TestProcessMessageRoutesThroughProvider(t *testing.T) {
	f := newFixture(t)
	f.createInvoice(t, "inv-1", "cust-1")
	f.advance(t, "inv-1", lifecycle.TriggerSendInvoice, lifecycle.TriggerRequestApproval)

	f.provider.decision = &router.Decision{
		Intent:     router.IntentInvoiceApproval,
		Tool:       tool.ApproveInvoice,
		Confidence: router.ConfidenceHigh,
		Arguments:  router.Arguments{InvoiceID: "inv-1"},
	}
	res, err := f.orch.ProcessMessage(context.Background(), "cust-1", "alice", "looks good, approve it")
	require.NoError(t, err)
	assert.True(t, res.Success)

	inv, err := f.orch.GetInvoice(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateApproved, inv.State)
	assert.Equal(t, "alice", inv.ApproverID)
}

func TestExactlyOneAuditEntryPerCall(t *testing.T) {
	f := newFixture(t)
	f.createInvoice(t, "inv-1", "cust-1")
	before := len(f.auditEntries(t, "inv-1"))

	// applied path
	f.advance(t, "inv-1", lifecycle.TriggerSendInvoice)
	assert.Len(t, f.auditEntries(t, "inv-1"), before+1)

	// blocked path
	res, err := f.orch.TriggerDirect(context.Background(), "inv-1", lifecycle.TriggerConfirmPayment, "alice", "")
	require.NoError(t, err)
	require.False(t, res.Success)
	assert.Len(t, f.auditEntries(t, "inv-1"), before+2)
}

func TestConcurrentTriggersOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	f.createInvoice(t, "inv-1", "cust-1")
	f.advance(t, "inv-1", lifecycle.TriggerSendInvoice, lifecycle.TriggerRequestApproval)

	results := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		go func() {
			res, err := f.orch.TriggerDirect(context.Background(), "inv-1", lifecycle.TriggerApprove, "alice", "")
			if err != nil {
				results <- false
				return
			}
			results <- res.Success
		}()
	}

	wins := 0
	for i := 0; i < 2; i++ {
		if <-results {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one of two racing approvals must win")

	inv, err := f.orch.GetInvoice(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateApproved, inv.State)
	require.Len(t, inv.History, 3)
}

func TestDisputeResolutionReopensApprovalFlow(t *testing.T) {
	f := newFixture(t)
	f.createInvoice(t, "inv-1", "cust-1")
	f.advance(t, "inv-1",
		lifecycle.TriggerSendInvoice,
		lifecycle.TriggerRequestApproval,
		lifecycle.TriggerApprove,
		lifecycle.TriggerRequestPayment,
		lifecycle.TriggerConfirmPayment,
	)

	res, err := f.orch.TriggerDirect(context.Background(), "inv-1", lifecycle.TriggerDispute, "alice", "amount is wrong")
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = f.orch.TriggerDirect(context.Background(), "inv-1", lifecycle.TriggerResolveDispute, "system", "issued corrected invoice")
	require.NoError(t, err)
	require.True(t, res.Success)

	inv, err := f.orch.GetInvoice(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateAwaitingApproval, inv.State)
	assert.Empty(t, inv.DisputeReason, "resolving a dispute clears the recorded reason")
}

func TestTransitionsPublishEvents(t *testing.T) {
	f := newFixture(t)

	var received []events.Type
	done := make(chan struct{})
	f.bus.Subscribe("recorder", nil, func(e events.Event) {
		received = append(received, e.Type)
		if e.Type == events.InvoiceApproved {
			close(done)
		}
	})

	f.createInvoice(t, "inv-1", "cust-1")
	f.advance(t, "inv-1",
		lifecycle.TriggerSendInvoice,
		lifecycle.TriggerRequestApproval,
		lifecycle.TriggerApprove,
	)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events")
	}

	assert.Equal(t, []events.Type{
		events.InvoiceCreated,
		events.InvoiceSent,
		events.ApprovalRequested,
		events.InvoiceApproved,
	}, received)
}
