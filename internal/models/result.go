package models

// Error codes surfaced on ToolResult
const (
	ErrCodeInvoiceNotFound     = "INVOICE_NOT_FOUND"
	ErrCodeInvalidState        = "INVALID_STATE"
	ErrCodeMissingArgument     = "MISSING_ARGUMENT"
	ErrCodeClarificationNeeded = "CLARIFICATION_NEEDED"
	ErrCodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	ErrCodeExecutionFailure    = "EXECUTION_FAILURE"
)

// ToolResult is the outward-facing outcome of a requested action
type ToolResult struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
}

// OK builds a successful result
func OK(message string, data map[string]any) *ToolResult {
	return &ToolResult{Success: true, Message: message, Data: data}
}

// Fail builds a failed result with an error code
func Fail(message, code string, data map[string]any) *ToolResult {
	return &ToolResult{Success: false, Message: message, ErrorCode: code, Data: data}
}
