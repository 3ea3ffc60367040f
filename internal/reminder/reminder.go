// Package reminder watches for overdue invoices and nudges their payers.
package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"invoiceflow/internal/audit"
	"invoiceflow/internal/events"
	"invoiceflow/internal/lifecycle"
	"invoiceflow/internal/models"
	"invoiceflow/internal/repository"
)

// Scanner periodically scans payment_pending invoices whose due date has
// passed and publishes a payment_reminder event for each. Reminders never
// change invoice state; they only notify and leave an audit trail.
type Scanner struct {
	repo     repository.InvoiceRepository
	auditLog audit.Log
	bus      *events.Bus
	logger   *zap.Logger

	scanInterval time.Duration
	cooldown     time.Duration

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
	lastNotify map[string]time.Time
}

// Option configures the scanner
type Option func(*Scanner)

// WithScanInterval overrides how often the scanner wakes up
func WithScanInterval(d time.Duration) Option {
	return func(s *Scanner) { s.scanInterval = d }
}

// WithCooldown overrides the minimum gap between reminders for one invoice
func WithCooldown(d time.Duration) Option {
	return func(s *Scanner) { s.cooldown = d }
}

func NewScanner(repo repository.InvoiceRepository, auditLog audit.Log, bus *events.Bus,
	logger *zap.Logger, opts ...Option) *Scanner {
	s := &Scanner{
		repo:         repo,
		auditLog:     auditLog,
		bus:          bus,
		logger:       logger,
		scanInterval: time.Hour,
		cooldown:     24 * time.Hour,
		lastNotify:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scanner) Name() string {
	return "ReminderScanner"
}

// Start launches the scan loop
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("reminder scanner is already running")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)

	s.logger.Info("reminder scanner started",
		zap.Duration("scan_interval", s.scanInterval),
		zap.Duration("cooldown", s.cooldown))
	return nil
}

// Stop halts the scan loop and blocks until it has exited, so no scan can
// still be publishing after Stop returns. Safe to call when not running.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	done := s.done
	s.mu.Unlock()

	// An in-flight scan takes s.mu in shouldNotify, so wait unlocked.
	<-done
	s.logger.Info("reminder scanner stopped")
}

func (s *Scanner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.scanInterval)
	defer ticker.Stop()

	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("reminder scan failed", zap.Error(err))
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("reminder scan failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single scan and returns how many reminders went out. It
// is also the entry point for the manual trigger endpoint.
func (s *Scanner) RunOnce(ctx context.Context) (int, error) {
	pending, err := s.repo.ListByState(ctx, lifecycle.StatePaymentPending)
	if err != nil {
		return 0, fmt.Errorf("scan pending invoices: %w", err)
	}

	now := time.Now().UTC()
	sent := 0
	for _, inv := range pending {
		if inv.DueDate.IsZero() || inv.DueDate.After(now) {
			continue
		}
		if !s.shouldNotify(inv.ID, now) {
			continue
		}
		s.remind(ctx, inv, now)
		sent++
	}

	if sent > 0 {
		s.logger.Info("payment reminders sent",
			zap.Int("count", sent),
			zap.Int("overdue_scanned", len(pending)))
	}
	return sent, nil
}

func (s *Scanner) shouldNotify(invoiceID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastNotify[invoiceID]; ok && now.Sub(last) < s.cooldown {
		return false
	}
	s.lastNotify[invoiceID] = now
	return true
}

func (s *Scanner) remind(ctx context.Context, inv *models.Invoice, now time.Time) {
	overdue := now.Sub(inv.DueDate)

	s.publishAudit(ctx, inv, overdue, now)
	s.bus.Publish(events.NewEvent(events.PaymentReminder, inv.ID, "system", map[string]any{
		"customer_id":  inv.CustomerID,
		"gross_amount": inv.GrossAmount,
		"currency":     inv.Currency,
		"overdue_days": int(overdue.Hours() / 24),
	}))
}

func (s *Scanner) publishAudit(ctx context.Context, inv *models.Invoice, overdue time.Duration, now time.Time) {
	_, err := s.auditLog.Append(ctx, nil, &models.AuditEntry{
		InvoiceID: inv.ID,
		Kind:      models.AuditAttempted,
		Actor:     "system",
		Detail:    fmt.Sprintf("payment reminder, %d days overdue", int(overdue.Hours()/24)),
		Timestamp: now,
	})
	if err != nil {
		s.logger.Error("reminder audit failed",
			zap.String("invoice_id", inv.ID),
			zap.Error(err))
	}
}
