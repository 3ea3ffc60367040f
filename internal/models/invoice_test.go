package models

import (
	"testing"
	"time"

	"invoiceflow/internal/lifecycle"
)

func TestNewInvoiceComputesGrossOnce(t *testing.T) {
	tests := []struct {
		name      string
		net       float64
		vat       float64
		wantGross float64
	}{
		{"standard vat", 100.00, 0.19, 119.00},
		{"zero vat", 250.00, 0, 250.00},
		{"rounding up", 33.33, 0.07, 35.66},
		{"zero amount", 0, 0.19, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := NewInvoice("inv-1", "cust-1", tt.net, tt.vat, "EUR", time.Now())
			if err != nil {
				t.Fatalf("NewInvoice: %v", err)
			}
			if inv.GrossAmount != tt.wantGross {
				t.Errorf("gross = %v, want %v", inv.GrossAmount, tt.wantGross)
			}
			if inv.State != lifecycle.StateNew {
				t.Errorf("state = %v, want %v", inv.State, lifecycle.StateNew)
			}
		})
	}
}

func TestNewInvoiceRejectsBadInput(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		net      float64
		vat      float64
		currency string
	}{
		{"empty id", "", 100, 0.19, "EUR"},
		{"negative amount", "inv-1", -5, 0.19, "EUR"},
		{"vat above one", "inv-1", 100, 1.5, "EUR"},
		{"negative vat", "inv-1", 100, -0.1, "EUR"},
		{"bad currency", "inv-1", 100, 0.19, "EURO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewInvoice(tt.id, "cust-1", tt.net, tt.vat, tt.currency, time.Now()); err == nil {
				t.Error("expected an error, got none")
			}
		})
	}
}

func TestNewInvoiceDefaultsCurrency(t *testing.T) {
	inv, err := NewInvoice("inv-1", "cust-1", 100, 0.19, "", time.Now())
	if err != nil {
		t.Fatalf("NewInvoice: %v", err)
	}
	if inv.Currency != "USD" {
		t.Errorf("currency = %q, want USD", inv.Currency)
	}
}

func TestApplyTransitionTracksStateAndClosure(t *testing.T) {
	inv, err := NewInvoice("inv-1", "cust-1", 100, 0.19, "EUR", time.Now())
	if err != nil {
		t.Fatalf("NewInvoice: %v", err)
	}

	machine, err := inv.Machine()
	if err != nil {
		t.Fatalf("Machine: %v", err)
	}
	rec, err := machine.Apply(lifecycle.TriggerSendInvoice, "system", "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	inv.ApplyTransition(rec)

	if inv.State != lifecycle.StateInvoiceSent {
		t.Errorf("state = %v, want %v", inv.State, lifecycle.StateInvoiceSent)
	}
	if len(inv.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(inv.History))
	}
	if inv.ClosedAt != nil {
		t.Error("ClosedAt set before the invoice closed")
	}
	if !inv.IsActive() {
		t.Error("sent invoice should be active")
	}
}

func TestApplyTransitionSetsClosedAt(t *testing.T) {
	inv, err := NewInvoice("inv-1", "cust-1", 100, 0.19, "EUR", time.Now())
	if err != nil {
		t.Fatalf("NewInvoice: %v", err)
	}

	inv.ApplyTransition(lifecycle.TransitionRecord{
		From:      lifecycle.StatePaid,
		To:        lifecycle.StateClosed,
		Trigger:   lifecycle.TriggerClose,
		Actor:     "system",
		Timestamp: time.Now(),
	})

	if inv.ClosedAt == nil {
		t.Fatal("ClosedAt not set on close")
	}
	if inv.IsActive() {
		t.Error("closed invoice reported active")
	}
}
