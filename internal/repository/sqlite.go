package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"invoiceflow/internal/lifecycle"
	"invoiceflow/internal/models"
	"invoiceflow/pkg/database"
)

const invoiceColumns = `invoice_id, customer_id, state, net_amount, vat_rate, gross_amount,
	currency, description, due_date, approver_id, rejection_reason, dispute_reason,
	payment_reference, payment_method, created_at, updated_at, closed_at`

// SQLiteInvoiceRepository stores invoices in the invoices and invoice_history
// tables. History rows are append-only; Save only inserts records past the
// persisted count.
type SQLiteInvoiceRepository struct {
	db *database.DB
}

func NewSQLiteInvoiceRepository(db *database.DB) *SQLiteInvoiceRepository {
	return &SQLiteInvoiceRepository{db: db}
}

func (r *SQLiteInvoiceRepository) Create(ctx context.Context, inv *models.Invoice) error {
	query := fmt.Sprintf(`INSERT INTO invoices (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, invoiceColumns)
	_, err := r.db.ExecContext(ctx, query, invoiceArgs(inv)...)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicateID, inv.ID)
		}
		return fmt.Errorf("create invoice %s: %w", inv.ID, err)
	}
	return nil
}

func (r *SQLiteInvoiceRepository) Load(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	query := fmt.Sprintf(`SELECT %s FROM invoices WHERE invoice_id = ?`, invoiceColumns)
	inv, err := scanInvoice(r.db.QueryRowContext(ctx, query, invoiceID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, invoiceID)
	}
	if err != nil {
		return nil, fmt.Errorf("load invoice %s: %w", invoiceID, err)
	}

	history, err := r.loadHistory(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	inv.History = history
	return inv, nil
}

func (r *SQLiteInvoiceRepository) loadHistory(ctx context.Context, invoiceID string) ([]lifecycle.TransitionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT from_state, to_state, trigger_name, actor, reason, created_at
		FROM invoice_history
		WHERE invoice_id = ?
		ORDER BY id ASC`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", invoiceID, err)
	}
	defer rows.Close()

	var history []lifecycle.TransitionRecord
	for rows.Next() {
		var (
			rec           lifecycle.TransitionRecord
			from, to, trg string
			actor, reason sql.NullString
		)
		if err := rows.Scan(&from, &to, &trg, &actor, &reason, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history for %s: %w", invoiceID, err)
		}
		rec.From = lifecycle.State(from)
		rec.To = lifecycle.State(to)
		rec.Trigger = lifecycle.Trigger(trg)
		rec.Actor = actor.String
		rec.Reason = reason.String
		history = append(history, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history for %s: %w", invoiceID, err)
	}
	return history, nil
}

func (r *SQLiteInvoiceRepository) Save(ctx context.Context, tx *sql.Tx, inv *models.Invoice) error {
	exec := r.db.ExecContext
	queryRow := r.db.QueryRowContext
	if tx != nil {
		exec = tx.ExecContext
		queryRow = tx.QueryRowContext
	}

	query := `
		UPDATE invoices SET
			state = ?, approver_id = ?, rejection_reason = ?, dispute_reason = ?,
			payment_reference = ?, payment_method = ?, updated_at = ?, closed_at = ?
		WHERE invoice_id = ?`
	res, err := exec(ctx, query,
		string(inv.State), nullable(inv.ApproverID), nullable(inv.RejectionReason),
		nullable(inv.DisputeReason), nullable(inv.PaymentReference), nullable(inv.PaymentMethod),
		inv.UpdatedAt, inv.ClosedAt, inv.ID)
	if err != nil {
		return fmt.Errorf("save invoice %s: %w", inv.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save invoice %s: %w", inv.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, inv.ID)
	}

	// Append history rows beyond what is already persisted
	var persisted int
	if err := queryRow(ctx, `SELECT COUNT(*) FROM invoice_history WHERE invoice_id = ?`, inv.ID).Scan(&persisted); err != nil {
		return fmt.Errorf("count history for %s: %w", inv.ID, err)
	}
	for _, rec := range inv.History[persisted:] {
		_, err := exec(ctx, `
			INSERT INTO invoice_history (invoice_id, from_state, to_state, trigger_name, actor, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			inv.ID, string(rec.From), string(rec.To), string(rec.Trigger),
			rec.Actor, nullable(rec.Reason), rec.Timestamp)
		if err != nil {
			return fmt.Errorf("append history for %s: %w", inv.ID, err)
		}
	}
	return nil
}

func (r *SQLiteInvoiceRepository) ListActiveByCustomer(ctx context.Context, customerID string) ([]*models.Invoice, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM invoices
		WHERE customer_id = ? AND state != ?
		ORDER BY created_at ASC`, invoiceColumns)
	return r.list(ctx, query, customerID, string(lifecycle.StateClosed))
}

func (r *SQLiteInvoiceRepository) ListByState(ctx context.Context, state lifecycle.State) ([]*models.Invoice, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM invoices
		WHERE state = ?
		ORDER BY due_date ASC`, invoiceColumns)
	return r.list(ctx, query, string(state))
}

func (r *SQLiteInvoiceRepository) list(ctx context.Context, query string, args ...any) ([]*models.Invoice, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoices: %w", err)
	}
	return invoices, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*models.Invoice, error) {
	var (
		inv   models.Invoice
		state string

		description, approverID, rejectionReason sql.NullString
		disputeReason, paymentRef, paymentMethod sql.NullString
		dueDate, closedAt                        sql.NullTime
	)
	err := row.Scan(&inv.ID, &inv.CustomerID, &state, &inv.NetAmount, &inv.VATRate,
		&inv.GrossAmount, &inv.Currency, &description, &dueDate,
		&approverID, &rejectionReason, &disputeReason, &paymentRef, &paymentMethod,
		&inv.CreatedAt, &inv.UpdatedAt, &closedAt)
	if err != nil {
		return nil, err
	}

	inv.State = lifecycle.State(state)
	if !inv.State.IsValid() {
		return nil, fmt.Errorf("invoice %s has corrupt state %q", inv.ID, state)
	}
	inv.Description = description.String
	inv.ApproverID = approverID.String
	inv.RejectionReason = rejectionReason.String
	inv.DisputeReason = disputeReason.String
	inv.PaymentReference = paymentRef.String
	inv.PaymentMethod = paymentMethod.String
	if dueDate.Valid {
		inv.DueDate = dueDate.Time
	}
	if closedAt.Valid {
		ts := closedAt.Time
		inv.ClosedAt = &ts
	}
	return &inv, nil
}

func invoiceArgs(inv *models.Invoice) []any {
	var dueDate any
	if !inv.DueDate.IsZero() {
		dueDate = inv.DueDate
	}
	var closedAt any
	if inv.ClosedAt != nil {
		closedAt = *inv.ClosedAt
	}
	return []any{
		inv.ID, inv.CustomerID, string(inv.State), inv.NetAmount, inv.VATRate,
		inv.GrossAmount, inv.Currency, nullable(inv.Description), dueDate,
		nullable(inv.ApproverID), nullable(inv.RejectionReason), nullable(inv.DisputeReason),
		nullable(inv.PaymentReference), nullable(inv.PaymentMethod),
		inv.CreatedAt, inv.UpdatedAt, closedAt,
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
