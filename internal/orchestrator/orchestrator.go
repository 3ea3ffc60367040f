// Package orchestrator executes validated actions against invoices. It is the
// only component that mutates invoice state: every path in, whether routed
// from natural language or triggered programmatically, passes the guard
// validator first, holds the invoice's lock while mutating, and leaves
// exactly one audit entry behind.
package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"invoiceflow/internal/audit"
	"invoiceflow/internal/events"
	"invoiceflow/internal/guard"
	"invoiceflow/internal/lifecycle"
	"invoiceflow/internal/models"
	"invoiceflow/internal/repository"
	"invoiceflow/internal/router"
	"invoiceflow/internal/tool"
)

// TxRunner runs a function inside a storage transaction. database.DB
// satisfies it; NoTx serves memory-backed setups.
type TxRunner interface {
	WithTransaction(fn func(*sql.Tx) error) error
}

// NoTx is a TxRunner for storage without transactions. The callback runs with
// a nil tx, which the memory repository and log accept.
type NoTx struct{}

func (NoTx) WithTransaction(fn func(*sql.Tx) error) error {
	return fn(nil)
}

// CreateInvoiceParams carries everything needed to open a new invoice
type CreateInvoiceParams struct {
	InvoiceID   string
	CustomerID  string
	NetAmount   float64
	VATRate     float64
	Currency    string
	Description string
	DueDate     time.Time
}

// Orchestrator coordinates routing, validation, execution, persistence,
// auditing, and event publication.
type Orchestrator struct {
	repo      repository.InvoiceRepository
	auditLog  audit.Log
	bus       *events.Bus
	validator *guard.Validator
	provider  router.Provider
	tx        TxRunner
	locks     *invoiceLocks
	logger    *zap.Logger
}

func New(repo repository.InvoiceRepository, auditLog audit.Log, bus *events.Bus,
	provider router.Provider, tx TxRunner, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		repo:      repo,
		auditLog:  auditLog,
		bus:       bus,
		validator: guard.NewValidator(),
		provider:  provider,
		tx:        tx,
		locks:     newInvoiceLocks(),
		logger:    logger,
	}
}

// CreateInvoice opens a new invoice in the initial state, audits the
// creation, and publishes invoice_created.
func (o *Orchestrator) CreateInvoice(ctx context.Context, params CreateInvoiceParams) (*models.Invoice, error) {
	if params.InvoiceID == "" {
		params.InvoiceID = "inv-" + uuid.NewString()
	}
	inv, err := models.NewInvoice(params.InvoiceID, params.CustomerID,
		params.NetAmount, params.VATRate, params.Currency, params.DueDate)
	if err != nil {
		return nil, err
	}
	inv.Description = params.Description

	if err := o.repo.Create(ctx, inv); err != nil {
		return nil, err
	}
	o.appendAudit(ctx, nil, &models.AuditEntry{
		InvoiceID: inv.ID,
		Kind:      models.AuditApplied,
		Actor:     "system",
		Detail:    "invoice created",
		Payload:   map[string]any{"gross_amount": inv.GrossAmount, "currency": inv.Currency},
		Timestamp: time.Now().UTC(),
	})
	o.bus.Publish(events.NewEvent(events.InvoiceCreated, inv.ID, "system", map[string]any{
		"customer_id":  inv.CustomerID,
		"gross_amount": inv.GrossAmount,
	}))

	o.logger.Info("invoice created",
		zap.String("invoice_id", inv.ID),
		zap.String("customer_id", inv.CustomerID))
	return inv, nil
}

// ProcessMessage routes a natural-language message through the decision
// provider, then validates and executes the resulting decision. The provider
// call happens before any lock is taken; a slow or failing provider never
// blocks other work on the invoice.
func (o *Orchestrator) ProcessMessage(ctx context.Context, customerID, actor, message string) (*models.ToolResult, error) {
	known, err := o.knownInvoices(ctx, customerID, "")
	if err != nil {
		return nil, err
	}

	req := router.Request{Message: message}
	if len(known) == 1 {
		req.InvoiceID = known[0].ID
		req.State = known[0].State
	}
	decision, err := o.provider.Classify(ctx, req)
	if err != nil {
		// The retrying provider falls back internally; a hard error here
		// means a misconfigured provider.
		return nil, fmt.Errorf("classify message: %w", err)
	}

	return o.SubmitDecision(ctx, customerID, actor, decision)
}

// SubmitDecision validates an untrusted routing decision and executes it if
// every guard rail passes. Exactly one audit entry is written no matter which
// path the decision takes.
func (o *Orchestrator) SubmitDecision(ctx context.Context, customerID, actor string, decision *router.Decision) (*models.ToolResult, error) {
	known, err := o.knownInvoices(ctx, customerID, decision.Arguments.InvoiceID)
	if err != nil {
		return nil, err
	}

	result := o.validator.Validate(decision, actor, known)
	switch result.Outcome {
	case guard.OutcomeExecute:
		if result.Action.Tool() == tool.ListInvoices {
			return o.ListInvoices(ctx, customerID, actor)
		}
		return o.execute(ctx, result.Action)

	case guard.OutcomeUnknownInvoice:
		o.appendAudit(ctx, nil, &models.AuditEntry{
			InvoiceID: decision.Arguments.InvoiceID,
			Kind:      models.AuditBlocked,
			Tool:      decision.Tool.String(),
			Actor:     actor,
			Detail:    result.Reason,
			Timestamp: time.Now().UTC(),
		})
		return models.Fail("I can't find that invoice. Please check the invoice number.",
			models.ErrCodeInvoiceNotFound, nil), nil

	case guard.OutcomeBlocked:
		o.appendAudit(ctx, nil, &models.AuditEntry{
			InvoiceID: decision.Arguments.InvoiceID,
			Kind:      models.AuditBlocked,
			Tool:      decision.Tool.String(),
			Actor:     actor,
			Detail:    result.Reason,
			Payload: map[string]any{
				"current_state":   string(result.CurrentState),
				"required_states": stateStrings(result.RequiredStates),
			},
			Timestamp: time.Now().UTC(),
		})
		return models.Fail(result.Reason, models.ErrCodeInvalidState, map[string]any{
			"current_state":   string(result.CurrentState),
			"required_states": stateStrings(result.RequiredStates),
		}), nil

	case guard.OutcomeInquiry:
		o.appendAudit(ctx, nil, &models.AuditEntry{
			InvoiceID: decision.Arguments.InvoiceID,
			Kind:      models.AuditAttempted,
			Tool:      decision.Tool.String(),
			Actor:     actor,
			Detail:    result.Reason,
			Timestamp: time.Now().UTC(),
		})
		return models.OK("Noted. I haven't marked the invoice as paid; let me know once the payment has gone out.",
			map[string]any{"current_state": string(result.CurrentState)}), nil

	default: // clarification
		o.appendAudit(ctx, nil, &models.AuditEntry{
			InvoiceID: decision.Arguments.InvoiceID,
			Kind:      models.AuditBlocked,
			Tool:      decision.Tool.String(),
			Actor:     actor,
			Detail:    result.Reason,
			Timestamp: time.Now().UTC(),
		})
		return models.Fail(result.ClarificationPrompt, models.ErrCodeClarificationNeeded, nil), nil
	}
}

// TriggerDirect fires a lifecycle trigger programmatically. It goes through
// the same validation and execution path as routed decisions.
func (o *Orchestrator) TriggerDirect(ctx context.Context, invoiceID string, trigger lifecycle.Trigger, actor, reason string) (*models.ToolResult, error) {
	inv, err := o.repo.Load(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			o.appendAudit(ctx, nil, &models.AuditEntry{
				InvoiceID: invoiceID,
				Kind:      models.AuditBlocked,
				Trigger:   trigger.String(),
				Actor:     actor,
				Detail:    "invoice not found",
				Timestamp: time.Now().UTC(),
			})
			return models.Fail("invoice not found", models.ErrCodeInvoiceNotFound, nil), nil
		}
		return nil, err
	}

	ref := guard.InvoiceRef{ID: inv.ID, State: inv.State}
	result, err := o.validator.ValidateDirect(trigger, actor, reason, ref)
	if err != nil {
		return nil, err
	}
	if result.Outcome != guard.OutcomeExecute {
		o.appendAudit(ctx, nil, &models.AuditEntry{
			InvoiceID: invoiceID,
			Kind:      models.AuditBlocked,
			Trigger:   trigger.String(),
			Actor:     actor,
			Detail:    result.Reason,
			Payload: map[string]any{
				"current_state": string(result.CurrentState),
			},
			Timestamp: time.Now().UTC(),
		})
		code := models.ErrCodeInvalidState
		if result.Outcome == guard.OutcomeClarification {
			code = models.ErrCodeMissingArgument
		}
		message := result.Reason
		if message == "" {
			message = result.ClarificationPrompt
		}
		var permitted []string
		if machine, merr := inv.Machine(); merr == nil {
			for _, t := range machine.PermittedTriggers() {
				permitted = append(permitted, t.String())
			}
		}
		return models.Fail(message, code, map[string]any{
			"current_state":      string(inv.State),
			"permitted_triggers": permitted,
		}), nil
	}

	return o.execute(ctx, result.Action)
}

// GetInvoice returns the invoice without touching the audit log. Reads
// through the HTTP API are audited at the tool layer, not here.
func (o *Orchestrator) GetInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	return o.repo.Load(ctx, invoiceID)
}

// execute runs a validated action. Read-only tools answer directly; mutating
// tools take the invoice lock, re-validate against fresh state, and commit
// the transition, its history, and the audit entry in one transaction.
func (o *Orchestrator) execute(ctx context.Context, action *guard.ValidatedAction) (*models.ToolResult, error) {
	if !action.Tool().Mutating() {
		return o.executeReadOnly(ctx, action)
	}

	trigger, ok := action.Tool().Trigger()
	if !ok {
		return nil, fmt.Errorf("tool %s has no lifecycle trigger", action.Tool())
	}

	mu := o.locks.lock(action.InvoiceID())
	defer mu.Unlock()

	inv, err := o.repo.Load(ctx, action.InvoiceID())
	if err != nil {
		return nil, err
	}

	machine, err := inv.Machine()
	if err != nil {
		return nil, err
	}
	if !machine.CanTrigger(trigger) {
		// Validation saw an older state; someone else won the race.
		o.appendAudit(ctx, nil, &models.AuditEntry{
			InvoiceID: inv.ID,
			Kind:      models.AuditBlocked,
			Tool:      action.Tool().String(),
			Trigger:   trigger.String(),
			Actor:     action.Actor(),
			Detail:    fmt.Sprintf("state changed to %s before execution", inv.State),
			Timestamp: time.Now().UTC(),
		})
		return models.Fail(
			fmt.Sprintf("the invoice state changed to %s while your request was being processed", inv.State),
			models.ErrCodeConcurrencyConflict, nil), nil
	}

	applyToolArguments(inv, action)

	rec, err := machine.Apply(trigger, action.Actor(), transitionReason(action))
	if err != nil {
		return nil, err
	}
	inv.ApplyTransition(rec)

	err = o.tx.WithTransaction(func(tx *sql.Tx) error {
		if err := o.repo.Save(ctx, tx, inv); err != nil {
			return err
		}
		_, err := o.auditLog.Append(ctx, tx, &models.AuditEntry{
			InvoiceID: inv.ID,
			Kind:      models.AuditApplied,
			Tool:      action.Tool().String(),
			Trigger:   trigger.String(),
			Actor:     action.Actor(),
			Detail:    fmt.Sprintf("%s -> %s", rec.From, rec.To),
			Payload: map[string]any{
				"from": string(rec.From),
				"to":   string(rec.To),
			},
			Timestamp: rec.Timestamp,
		})
		return err
	})
	if err != nil {
		o.appendAudit(ctx, nil, &models.AuditEntry{
			InvoiceID: inv.ID,
			Kind:      models.AuditError,
			Tool:      action.Tool().String(),
			Trigger:   trigger.String(),
			Actor:     action.Actor(),
			Detail:    err.Error(),
			Timestamp: time.Now().UTC(),
		})
		o.logger.Error("transition commit failed",
			zap.String("invoice_id", inv.ID),
			zap.String("tool", action.Tool().String()),
			zap.Error(err))
		return models.Fail("the action could not be completed", models.ErrCodeExecutionFailure, nil), nil
	}

	// Publish only after the transaction committed
	if eventType, ok := events.ForTrigger(trigger); ok {
		o.bus.Publish(events.NewEvent(eventType, inv.ID, action.Actor(), map[string]any{
			"from": string(rec.From),
			"to":   string(rec.To),
		}))
	}

	o.logger.Info("transition applied",
		zap.String("invoice_id", inv.ID),
		zap.String("trigger", trigger.String()),
		zap.String("from", string(rec.From)),
		zap.String("to", string(rec.To)),
		zap.String("actor", action.Actor()))

	return models.OK(
		fmt.Sprintf("Done. Invoice %s is now %s.", inv.ID, inv.State),
		map[string]any{"invoice_id": inv.ID, "state": string(inv.State)}), nil
}

func (o *Orchestrator) executeReadOnly(ctx context.Context, action *guard.ValidatedAction) (*models.ToolResult, error) {
	switch action.Tool() {
	case tool.GetInvoiceStatus:
		inv, err := o.repo.Load(ctx, action.InvoiceID())
		if err != nil {
			return nil, err
		}
		o.appendAudit(ctx, nil, &models.AuditEntry{
			InvoiceID: inv.ID,
			Kind:      models.AuditAttempted,
			Tool:      action.Tool().String(),
			Actor:     action.Actor(),
			Detail:    "status requested",
			Timestamp: time.Now().UTC(),
		})
		return models.OK(
			fmt.Sprintf("Invoice %s is %s (%.2f %s, due %s).",
				inv.ID, inv.State, inv.GrossAmount, inv.Currency, inv.DueDate.Format("2006-01-02")),
			map[string]any{"invoice_id": inv.ID, "state": string(inv.State)}), nil

	case tool.ResendInvoice:
		inv, err := o.repo.Load(ctx, action.InvoiceID())
		if err != nil {
			return nil, err
		}
		o.appendAudit(ctx, nil, &models.AuditEntry{
			InvoiceID: inv.ID,
			Kind:      models.AuditAttempted,
			Tool:      action.Tool().String(),
			Actor:     action.Actor(),
			Detail:    "invoice re-sent",
			Timestamp: time.Now().UTC(),
		})
		return models.OK(
			fmt.Sprintf("Invoice %s has been re-sent. Its state is unchanged (%s).", inv.ID, inv.State),
			map[string]any{"invoice_id": inv.ID, "state": string(inv.State)}), nil

	default:
		return nil, fmt.Errorf("unexpected read-only tool %s", action.Tool())
	}
}

// ListInvoices answers the list_invoices tool for a customer
func (o *Orchestrator) ListInvoices(ctx context.Context, customerID, actor string) (*models.ToolResult, error) {
	invoices, err := o.repo.ListActiveByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	o.appendAudit(ctx, nil, &models.AuditEntry{
		Kind:      models.AuditAttempted,
		Tool:      tool.ListInvoices.String(),
		Actor:     actor,
		Detail:    fmt.Sprintf("listed %d invoices for %s", len(invoices), customerID),
		Timestamp: time.Now().UTC(),
	})

	summaries := make([]map[string]any, len(invoices))
	for i, inv := range invoices {
		summaries[i] = map[string]any{
			"invoice_id":   inv.ID,
			"state":        string(inv.State),
			"gross_amount": inv.GrossAmount,
			"currency":     inv.Currency,
		}
	}
	return models.OK(fmt.Sprintf("You have %d open invoices.", len(invoices)),
		map[string]any{"invoices": summaries}), nil
}

// knownInvoices builds the validator's known set: the customer's active
// invoices plus, if the decision names a specific id, that invoice even when
// terminal, so a closed invoice is reported as blocked rather than unknown.
func (o *Orchestrator) knownInvoices(ctx context.Context, customerID, referencedID string) ([]guard.InvoiceRef, error) {
	invoices, err := o.repo.ListActiveByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	refs := make([]guard.InvoiceRef, 0, len(invoices)+1)
	seen := false
	for _, inv := range invoices {
		refs = append(refs, guard.InvoiceRef{ID: inv.ID, State: inv.State})
		if inv.ID == referencedID {
			seen = true
		}
	}
	if referencedID != "" && !seen {
		inv, err := o.repo.Load(ctx, referencedID)
		if err == nil && inv.CustomerID == customerID {
			refs = append(refs, guard.InvoiceRef{ID: inv.ID, State: inv.State})
		} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	return refs, nil
}

// appendAudit writes a non-transactional audit entry. Audit failures are
// logged, never propagated: losing one entry must not fail the request that
// already resolved.
func (o *Orchestrator) appendAudit(ctx context.Context, tx *sql.Tx, entry *models.AuditEntry) {
	if _, err := o.auditLog.Append(ctx, tx, entry); err != nil {
		o.logger.Error("audit append failed",
			zap.String("invoice_id", entry.InvoiceID),
			zap.String("kind", string(entry.Kind)),
			zap.Error(err))
	}
}

func applyToolArguments(inv *models.Invoice, action *guard.ValidatedAction) {
	args := action.Args()
	switch action.Tool() {
	case tool.ApproveInvoice:
		if args.ApproverID != "" {
			inv.ApproverID = args.ApproverID
		} else {
			inv.ApproverID = action.Actor()
		}
	case tool.RejectInvoice:
		inv.RejectionReason = args.Reason
	case tool.CreateDispute:
		inv.DisputeReason = args.Reason
	case tool.ResolveDispute:
		inv.DisputeReason = ""
	case tool.ConfirmPayment:
		inv.PaymentReference = args.PaymentReference
		inv.PaymentMethod = args.PaymentMethod
	}
}

func transitionReason(action *guard.ValidatedAction) string {
	args := action.Args()
	switch action.Tool() {
	case tool.ResolveDispute:
		return args.Resolution
	default:
		return args.Reason
	}
}

func stateStrings(states []lifecycle.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
