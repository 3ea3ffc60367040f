package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"invoiceflow/internal/models"
	"invoiceflow/pkg/database"
)

// SQLiteLog persists entries in the audit_log table. The AUTOINCREMENT
// sequence column guarantees gapless-enough, strictly increasing numbering
// without the log holding its own counter.
type SQLiteLog struct {
	db *database.DB
}

func NewSQLiteLog(db *database.DB) *SQLiteLog {
	return &SQLiteLog{db: db}
}

func (l *SQLiteLog) Append(ctx context.Context, tx *sql.Tx, entry *models.AuditEntry) (int64, error) {
	if !entry.Kind.IsValid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidKind, entry.Kind)
	}
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	var payload any
	if len(entry.Payload) > 0 {
		raw, err := json.Marshal(entry.Payload)
		if err != nil {
			return 0, fmt.Errorf("marshal audit payload: %w", err)
		}
		payload = string(raw)
	}

	query := `
		INSERT INTO audit_log (entry_id, invoice_id, kind, tool, trigger_name, actor, detail, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	args := []any{
		entry.EntryID, entry.InvoiceID, string(entry.Kind),
		entry.Tool, entry.Trigger, entry.Actor, entry.Detail,
		payload, entry.Timestamp,
	}

	var (
		res sql.Result
		err error
	)
	if tx != nil {
		res, err = tx.ExecContext(ctx, query, args...)
	} else {
		res, err = l.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return 0, fmt.Errorf("append audit entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read audit sequence: %w", err)
	}
	entry.Seq = seq
	return seq, nil
}

func (l *SQLiteLog) Query(ctx context.Context, filter Filter) ([]models.AuditEntry, error) {
	query := `
		SELECT seq, entry_id, invoice_id, kind, tool, trigger_name, actor, detail, payload, created_at
		FROM audit_log`

	var (
		conds []string
		args  []any
	)
	if filter.InvoiceID != "" {
		conds = append(conds, "invoice_id = ?")
		args = append(args, filter.InvoiceID)
	}
	if len(filter.Kinds) > 0 {
		placeholders := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			placeholders[i] = "?"
			args = append(args, string(k))
		}
		conds = append(conds, "kind IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !filter.From.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, filter.To)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY seq ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var (
			e       models.AuditEntry
			kind    string
			payload sql.NullString
		)
		if err := rows.Scan(&e.Seq, &e.EntryID, &e.InvoiceID, &kind,
			&e.Tool, &e.Trigger, &e.Actor, &e.Detail, &payload, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Kind = models.AuditKind(kind)
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal audit payload seq %d: %w", e.Seq, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return entries, nil
}
