package lifecycle

// Trigger represents a named action attempting a state transition
type Trigger string

const (
	TriggerSendInvoice     Trigger = "send_invoice"
	TriggerRequestApproval Trigger = "request_approval"
	TriggerApprove         Trigger = "approve"
	TriggerReject          Trigger = "reject"
	TriggerRequestPayment  Trigger = "request_payment"
	TriggerConfirmPayment  Trigger = "confirm_payment"
	TriggerDispute         Trigger = "dispute"
	TriggerResolveDispute  Trigger = "resolve_dispute"
	TriggerClose           Trigger = "close"
)

var validTriggers = map[Trigger]bool{
	TriggerSendInvoice:     true,
	TriggerRequestApproval: true,
	TriggerApprove:         true,
	TriggerReject:          true,
	TriggerRequestPayment:  true,
	TriggerConfirmPayment:  true,
	TriggerDispute:         true,
	TriggerResolveDispute:  true,
	TriggerClose:           true,
}

// IsValid returns true if the trigger is a known lifecycle trigger
func (t Trigger) IsValid() bool {
	return validTriggers[t]
}

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
