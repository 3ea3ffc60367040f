package database

import (
	"fmt"

	"go.uber.org/zap"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// schemaMigrations is the ordered, built-in schema. New schema changes append
// a new version; applied versions are never edited.
var schemaMigrations = []Migration{
	{
		Version: 1,
		Name:    "create_invoices",
		SQL: `
			CREATE TABLE IF NOT EXISTS invoices (
				invoice_id        TEXT PRIMARY KEY,
				customer_id       TEXT NOT NULL,
				state             TEXT NOT NULL DEFAULT 'new',
				net_amount        REAL NOT NULL,
				vat_rate          REAL NOT NULL,
				gross_amount      REAL NOT NULL,
				currency          TEXT NOT NULL DEFAULT 'USD',
				description       TEXT,
				due_date          DATETIME,
				approver_id       TEXT,
				rejection_reason  TEXT,
				dispute_reason    TEXT,
				payment_reference TEXT,
				payment_method    TEXT,
				created_at        DATETIME NOT NULL,
				updated_at        DATETIME NOT NULL,
				closed_at         DATETIME
			);
			CREATE INDEX IF NOT EXISTS idx_invoices_customer ON invoices(customer_id);
			CREATE INDEX IF NOT EXISTS idx_invoices_state ON invoices(state);
		`,
	},
	{
		Version: 2,
		Name:    "create_invoice_history",
		SQL: `
			CREATE TABLE IF NOT EXISTS invoice_history (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				invoice_id  TEXT NOT NULL REFERENCES invoices(invoice_id),
				from_state   TEXT NOT NULL,
				to_state     TEXT NOT NULL,
				trigger_name TEXT NOT NULL,
				actor       TEXT,
				reason      TEXT,
				created_at  DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_history_invoice ON invoice_history(invoice_id);
		`,
	},
	{
		Version: 3,
		Name:    "create_audit_log",
		SQL: `
			CREATE TABLE IF NOT EXISTS audit_log (
				seq        INTEGER PRIMARY KEY AUTOINCREMENT,
				entry_id   TEXT NOT NULL UNIQUE,
				invoice_id TEXT NOT NULL,
				kind       TEXT NOT NULL,
				tool         TEXT,
				trigger_name TEXT,
				actor      TEXT,
				detail     TEXT,
				payload    TEXT,
				created_at DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_audit_invoice ON audit_log(invoice_id);
			CREATE INDEX IF NOT EXISTS idx_audit_kind ON audit_log(kind);
			CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);
		`,
	},
}

// Migrator handles database migrations
type Migrator struct {
	db     *DB
	logger *zap.Logger
}

// NewMigrator creates a new migrator
func NewMigrator(db *DB, logger *zap.Logger) *Migrator {
	return &Migrator{
		db:     db,
		logger: logger,
	}
}

func (m *Migrator) createMigrationsTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`
	_, err := m.db.Exec(query)
	return err
}

func (m *Migrator) getAppliedMigrations() (map[int]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// RunMigrations applies all pending built-in migrations
func (m *Migrator) RunMigrations() error {
	m.logger.Info("Starting database migrations")

	if err := m.createMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := m.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range schemaMigrations {
		if applied[migration.Version] {
			continue
		}

		m.logger.Info("Applying migration",
			zap.Int("version", migration.Version),
			zap.String("name", migration.Name))

		if _, err := m.db.Exec(migration.SQL); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}

		if _, err := m.db.Exec(
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			migration.Version, migration.Name,
		); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
	}

	m.logger.Info("Database migrations complete")
	return nil
}
