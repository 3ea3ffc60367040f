package router

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"invoiceflow/internal/tool"
)

// RuleProvider is a deterministic, rule-based classifier. It serves as the
// no-API-key fallback and as the provider of choice in tests, so the whole
// pipeline stays runnable without network access.
type RuleProvider struct{}

// NewRuleProvider creates the rule-based provider
func NewRuleProvider() *RuleProvider {
	return &RuleProvider{}
}

var intentPatterns = map[Intent][]*regexp.Regexp{
	IntentListInvoices: {
		regexp.MustCompile(`(?i)\b(all|my|show|list)\s+(active\s+)?invoices\b`),
		regexp.MustCompile(`(?i)\bwhich\s+invoices\b`),
		regexp.MustCompile(`(?i)\binvoices\s+(do\s+)?i\s+have\b`),
		regexp.MustCompile(`(?i)\b(open|pending|active)\s+invoices\b`),
	},
	IntentInvoiceApproval: {
		regexp.MustCompile(`(?i)\bapprove\b`),
		regexp.MustCompile(`(?i)\baccept\b`),
		regexp.MustCompile(`(?i)\blooks\s+good\b`),
		regexp.MustCompile(`(?i)\bproceed\b`),
	},
	IntentInvoiceRejection: {
		regexp.MustCompile(`(?i)\breject\b`),
		regexp.MustCompile(`(?i)\bdecline\b`),
		regexp.MustCompile(`(?i)\brefuse\b`),
		regexp.MustCompile(`(?i)\bnot\s+accept\b`),
	},
	IntentPaymentConfirmation: {
		regexp.MustCompile(`(?i)\b(have\s+)?paid\b`),
		regexp.MustCompile(`(?i)\bpayment\s+(sent|made|completed|done)\b`),
		regexp.MustCompile(`(?i)\btransferred\b`),
		regexp.MustCompile(`(?i)\bsent\s+(the\s+)?money\b`),
	},
	IntentInvoiceDispute: {
		regexp.MustCompile(`(?i)\bdispute\b`),
		regexp.MustCompile(`(?i)\bcontest\b`),
		regexp.MustCompile(`(?i)\bincorrect\b`),
		regexp.MustCompile(`(?i)\bwrong\s+amount\b`),
	},
	IntentRequestInvoiceCopy: {
		regexp.MustCompile(`(?i)\bresend\b`),
		regexp.MustCompile(`(?i)\bsend\s+(me\s+)?(a\s+)?copy\b`),
		regexp.MustCompile(`(?i)\bneed\s+(a\s+)?copy\b`),
	},
	IntentInvoiceQuestion: {
		regexp.MustCompile(`(?i)\bstatus\b`),
		regexp.MustCompile(`(?i)\bhow\s+much\b`),
		regexp.MustCompile(`(?i)\bdue\s+date\b`),
		regexp.MustCompile(`(?i)\bdetails?\b`),
	},
}

// futurePaymentPatterns detect intent to pay later, which must never be
// classified as a completed payment.
var futurePaymentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bwill\s+pay\b`),
	regexp.MustCompile(`(?i)\bgoing\s+to\s+pay\b`),
	regexp.MustCompile(`(?i)\bplan\s+to\s+pay\b`),
	regexp.MustCompile(`(?i)\bi'?ll\s+pay\b`),
	regexp.MustCompile(`(?i)\bpay\s+(you\s+)?(tomorrow|later|soon|next)\b`),
}

var invoiceIDPattern = regexp.MustCompile(`(?i)\bINV-?(\d{3,})\b|(?:invoice\s+#?)(\d{3,})\b`)

var intentTools = map[Intent]tool.Tool{
	IntentInvoiceQuestion:     tool.GetInvoiceStatus,
	IntentListInvoices:        tool.ListInvoices,
	IntentInvoiceApproval:     tool.ApproveInvoice,
	IntentInvoiceRejection:    tool.RejectInvoice,
	IntentPaymentConfirmation: tool.ConfirmPayment,
	IntentInvoiceDispute:      tool.CreateDispute,
	IntentRequestInvoiceCopy:  tool.ResendInvoice,
	IntentGeneralQuestion:     tool.None,
	IntentUnknown:             tool.None,
}

// Classify applies the keyword rules. It never fails.
func (p *RuleProvider) Classify(_ context.Context, req Request) (*Decision, error) {
	message := req.Message
	intent := detectIntent(message)

	// Future-payment wording always downgrades to an inquiry, even when no
	// completed-payment keyword matched at all.
	var warnings []string
	if isFuturePayment(message) {
		intent = IntentGeneralQuestion
		warnings = append(warnings, WarningFuturePayment)
	}

	d := &Decision{
		Intent:     intent,
		Tool:       intentTools[intent],
		Confidence: ConfidenceHigh,
		Reasoning:  fmt.Sprintf("detected %s intent", intent),
		Warnings:   warnings,
	}

	if id := extractInvoiceID(message); id != "" {
		d.Arguments.InvoiceID = id
	} else if req.InvoiceID != "" {
		d.Arguments.InvoiceID = req.InvoiceID
	}

	switch intent {
	case IntentInvoiceRejection:
		d.Arguments.Reason = extractReason(message)
		if d.Arguments.Reason == "" {
			d.RequiresClarification = true
			d.ClarificationPrompt = "Please provide a reason for the rejection."
			d.Confidence = ConfidenceMedium
		}
	case IntentInvoiceDispute:
		d.Arguments.Reason = extractReason(message)
		if d.Arguments.Reason == "" {
			d.RequiresClarification = true
			d.ClarificationPrompt = "Please describe the issue with the invoice."
			d.Confidence = ConfidenceMedium
		}
	case IntentUnknown:
		d.Confidence = ConfidenceLow
		d.RequiresClarification = true
		d.ClarificationPrompt = defaultClarificationPrompt
		d.Reasoning = "message is ambiguous or unclear"
	}

	return d, nil
}

func detectIntent(message string) Intent {
	scores := map[Intent]int{}
	for intent, patterns := range intentPatterns {
		for _, p := range patterns {
			if p.MatchString(message) {
				scores[intent]++
			}
		}
	}

	if len(scores) == 0 {
		if len(strings.Fields(message)) <= 3 {
			return IntentUnknown
		}
		return IntentGeneralQuestion
	}

	best := IntentUnknown
	bestScore := 0
	// Iterate in a fixed order so ties resolve deterministically.
	for _, intent := range []Intent{
		IntentListInvoices,
		IntentInvoiceRejection,
		IntentInvoiceDispute,
		IntentPaymentConfirmation,
		IntentRequestInvoiceCopy,
		IntentInvoiceApproval,
		IntentInvoiceQuestion,
	} {
		if scores[intent] > bestScore {
			best = intent
			bestScore = scores[intent]
		}
	}
	return best
}

func isFuturePayment(message string) bool {
	for _, p := range futurePaymentPatterns {
		if p.MatchString(message) {
			return true
		}
	}
	return false
}

func extractInvoiceID(message string) string {
	m := invoiceIDPattern.FindStringSubmatch(message)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return "INV-" + m[1]
	}
	if m[2] != "" {
		return "INV-" + m[2]
	}
	return ""
}

// extractReason pulls the clause after "because", "since" or a colon.
// Short bare commands carry no reason.
func extractReason(message string) string {
	lower := strings.ToLower(message)
	for _, marker := range []string{"because", "since", ":", " - "} {
		if idx := strings.Index(lower, marker); idx >= 0 {
			reason := strings.TrimSpace(message[idx+len(marker):])
			if reason != "" {
				return reason
			}
		}
	}
	if len(strings.Fields(message)) >= 6 {
		return strings.TrimSpace(message)
	}
	return ""
}
