package lifecycle

import (
	"fmt"
	"time"
)

// transitionTable is the canonical trigger table: trigger -> allowed source -> target.
// closed is terminal and has no entries.
var transitionTable = map[Trigger]map[State]State{
	TriggerSendInvoice: {
		StateNew: StateInvoiceSent,
	},
	TriggerRequestApproval: {
		StateInvoiceSent: StateAwaitingApproval,
	},
	TriggerApprove: {
		StateAwaitingApproval: StateApproved,
	},
	TriggerReject: {
		StateAwaitingApproval: StateRejected,
	},
	TriggerRequestPayment: {
		StateApproved: StatePaymentPending,
	},
	TriggerConfirmPayment: {
		StatePaymentPending: StatePaid,
	},
	TriggerDispute: {
		StateApproved:       StateDisputed,
		StatePaymentPending: StateDisputed,
		StatePaid:           StateDisputed,
	},
	// Resolving a dispute reopens the approval flow.
	TriggerResolveDispute: {
		StateDisputed: StateAwaitingApproval,
	},
	TriggerClose: {
		StatePaid:     StateClosed,
		StateRejected: StateClosed,
	},
}

// TransitionRecord is one entry in an invoice's append-only transition history
type TransitionRecord struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Trigger   Trigger   `json:"trigger"`
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Machine tracks the current lifecycle state of a single invoice and
// validates transitions against the canonical table.
type Machine struct {
	invoiceID string
	current   State
	history   []TransitionRecord
}

// New creates a machine for a freshly created invoice in the initial state
func New(invoiceID string) *Machine {
	return &Machine{
		invoiceID: invoiceID,
		current:   StateNew,
	}
}

// Restore rebuilds a machine from persisted state. A state outside the
// lifecycle enum means the stored record is corrupt and is rejected.
func Restore(invoiceID string, state State, history []TransitionRecord) (*Machine, error) {
	if !state.IsValid() {
		return nil, fmt.Errorf("%w: %q (invoice %s)", ErrInvalidState, state, invoiceID)
	}
	return &Machine{
		invoiceID: invoiceID,
		current:   state,
		history:   history,
	}, nil
}

// InvoiceID returns the invoice this machine belongs to
func (m *Machine) InvoiceID() string {
	return m.invoiceID
}

// State returns the current state
func (m *Machine) State() State {
	return m.current
}

// IsTerminal returns true if the machine is in a terminal state
func (m *Machine) IsTerminal() bool {
	return m.current.IsTerminal()
}

// CanTrigger returns true if the trigger is permitted in the current state.
// It is pure and never mutates the machine.
func (m *Machine) CanTrigger(trigger Trigger) bool {
	sources, ok := transitionTable[trigger]
	if !ok {
		return false
	}
	_, ok = sources[m.current]
	return ok
}

// allTriggersOrdered keeps PermittedTriggers deterministic
var allTriggersOrdered = []Trigger{
	TriggerSendInvoice,
	TriggerRequestApproval,
	TriggerApprove,
	TriggerReject,
	TriggerRequestPayment,
	TriggerConfirmPayment,
	TriggerDispute,
	TriggerResolveDispute,
	TriggerClose,
}

// PermittedTriggers returns all triggers that may fire from the current state
func (m *Machine) PermittedTriggers() []Trigger {
	var permitted []Trigger
	for _, t := range allTriggersOrdered {
		if m.CanTrigger(t) {
			permitted = append(permitted, t)
		}
	}
	return permitted
}

// Apply executes the trigger, moving to the target state and appending exactly
// one transition record. A blocked trigger leaves the machine untouched and is
// a terminal outcome for the request: Apply is never retried internally.
func (m *Machine) Apply(trigger Trigger, actor, reason string) (TransitionRecord, error) {
	if !trigger.IsValid() {
		return TransitionRecord{}, fmt.Errorf("%w: %q", ErrInvalidTrigger, trigger)
	}

	target, ok := transitionTable[trigger][m.current]
	if !ok {
		return TransitionRecord{}, &InvalidTransitionError{
			InvoiceID: m.invoiceID,
			Current:   m.current,
			Trigger:   trigger,
			Permitted: m.PermittedTriggers(),
		}
	}

	now := time.Now().UTC()
	if n := len(m.history); n > 0 && now.Before(m.history[n-1].Timestamp) {
		// Clock went backwards; keep history timestamps non-decreasing.
		now = m.history[n-1].Timestamp
	}

	record := TransitionRecord{
		From:      m.current,
		To:        target,
		Trigger:   trigger,
		Actor:     actor,
		Reason:    reason,
		Timestamp: now,
	}

	m.current = target
	m.history = append(m.history, record)

	return record, nil
}

// History returns a copy of the append-only transition history
func (m *Machine) History() []TransitionRecord {
	out := make([]TransitionRecord, len(m.history))
	copy(out, m.history)
	return out
}
