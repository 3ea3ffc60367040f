package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const classifySystemPrompt = `You are a routing classifier for an invoice automation system.
Given a customer message and the invoice's current lifecycle state, respond with a single JSON object:
{
  "intent": one of [invoice_question, list_invoices, invoice_approval, invoice_rejection, payment_confirmation, invoice_dispute, request_invoice_copy, general_question, unknown],
  "tool": one of [get_invoice_status, list_invoices, approve_invoice, reject_invoice, confirm_payment, resend_invoice, create_dispute, resolve_dispute, close_invoice, none],
  "arguments": {"invoice_id": "...", "reason": "...", "resolution": "...", "payment_reference": "...", "payment_method": "..."},
  "confidence": one of [high, medium, low],
  "reasoning": "...",
  "requires_clarification": bool,
  "clarification_prompt": "...",
  "warnings": ["..."]
}
Rules:
- Never invent an invoice id. Omit it if the message does not contain one.
- "I will pay" / "paying tomorrow" is NOT a payment confirmation; classify it as general_question and add the warning "future_payment_intent".
- A rejection or dispute without a stated reason requires clarification.
- When unsure, use intent "unknown" with requires_clarification true.
Respond with JSON only.`

// OpenAIProvider classifies messages through the OpenAI chat completion API
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *zap.Logger
}

// OpenAIConfig holds provider settings
type OpenAIConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
}

// NewOpenAIProvider creates a provider backed by the OpenAI API
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	return &OpenAIProvider{
		client:      openai.NewClient(cfg.APIKey),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
	}, nil
}

// Classify sends the message and state context to the model and parses the
// structured decision out of the response.
func (p *OpenAIProvider) Classify(ctx context.Context, req Request) (*Decision, error) {
	prompt := p.buildPrompt(req)

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrProviderTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty completion", ErrProviderUnavailable)
	}

	content := resp.Choices[0].Message.Content
	decision, err := ParseDecision([]byte(extractJSON(content)))
	if err != nil {
		p.logger.Warn("failed to parse provider response",
			zap.Error(err),
			zap.String("content", content))
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	p.logger.Debug("message classified",
		zap.String("intent", string(decision.Intent)),
		zap.String("tool", decision.Tool.String()),
		zap.String("confidence", string(decision.Confidence)))

	return decision, nil
}

func (p *OpenAIProvider) buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current invoice state: %s\n", req.State)
	if req.InvoiceID != "" {
		fmt.Fprintf(&b, "Invoice id in context: %s\n", req.InvoiceID)
	}
	if len(req.History) > 0 {
		b.WriteString("Recent transitions:\n")
		for _, rec := range req.History {
			fmt.Fprintf(&b, "- %s: %s -> %s\n", rec.Trigger, rec.From, rec.To)
		}
	}
	fmt.Fprintf(&b, "\nCustomer message:\n%s\n", req.Message)
	return b.String()
}

// extractJSON strips markdown code fences the model sometimes wraps around
// its JSON payload.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "```json"); start >= 0 {
		content = content[start+len("```json"):]
		if end := strings.Index(content, "```"); end >= 0 {
			content = content[:end]
		}
		return strings.TrimSpace(content)
	}
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
		if end := strings.Index(content, "```"); end >= 0 {
			content = content[:end]
		}
	}
	return strings.TrimSpace(content)
}
