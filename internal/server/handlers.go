package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"invoiceflow/internal/audit"
	"invoiceflow/internal/lifecycle"
	"invoiceflow/internal/models"
	"invoiceflow/internal/orchestrator"
	"invoiceflow/internal/reminder"
	"invoiceflow/internal/repository"
	"invoiceflow/internal/router"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	orch     *orchestrator.Orchestrator
	auditLog audit.Log
	scanner  *reminder.Scanner
	logger   *zap.Logger
}

func NewHandlers(orch *orchestrator.Orchestrator, auditLog audit.Log, scanner *reminder.Scanner, logger *zap.Logger) *Handlers {
	return &Handlers{
		orch:     orch,
		auditLog: auditLog,
		scanner:  scanner,
		logger:   logger,
	}
}

// Response is the standard JSON envelope
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthCheck reports service liveness
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type createInvoiceRequest struct {
	InvoiceID   string  `json:"invoice_id"`
	CustomerID  string  `json:"customer_id" binding:"required"`
	NetAmount   float64 `json:"net_amount" binding:"required"`
	VATRate     float64 `json:"vat_rate"`
	Currency    string  `json:"currency"`
	Description string  `json:"description"`
	DueDate     string  `json:"due_date"`
}

// CreateInvoice opens a new invoice
func (h *Handlers) CreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: err.Error()})
		return
	}

	var dueDate time.Time
	if req.DueDate != "" {
		parsed, err := time.Parse("2006-01-02", req.DueDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, Response{Error: "due_date must be YYYY-MM-DD"})
			return
		}
		dueDate = parsed
	}

	inv, err := h.orch.CreateInvoice(c.Request.Context(), orchestrator.CreateInvoiceParams{
		InvoiceID:   req.InvoiceID,
		CustomerID:  req.CustomerID,
		NetAmount:   req.NetAmount,
		VATRate:     req.VATRate,
		Currency:    req.Currency,
		Description: req.Description,
		DueDate:     dueDate,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateID) {
			c.JSON(http.StatusConflict, Response{Error: err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, Response{Error: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: inv})
}

// GetInvoice returns one invoice with its transition history
func (h *Handlers) GetInvoice(c *gin.Context) {
	inv, err := h.orch.GetInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, Response{Error: "invoice not found"})
			return
		}
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: inv})
}

type triggerRequest struct {
	Actor  string `json:"actor" binding:"required"`
	Reason string `json:"reason"`
}

// FireTrigger fires a lifecycle trigger directly, bypassing natural-language
// routing but not the guard rails.
func (h *Handlers) FireTrigger(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: err.Error()})
		return
	}

	trigger := lifecycle.Trigger(c.Param("trigger"))
	if !trigger.IsValid() {
		c.JSON(http.StatusBadRequest, Response{Error: "unknown trigger: " + c.Param("trigger")})
		return
	}

	result, err := h.orch.TriggerDirect(c.Request.Context(), c.Param("id"), trigger, req.Actor, req.Reason)
	if err != nil {
		h.internalError(c, err)
		return
	}
	h.writeToolResult(c, result)
}

type messageRequest struct {
	CustomerID string `json:"customer_id" binding:"required"`
	Actor      string `json:"actor" binding:"required"`
	Message    string `json:"message" binding:"required"`
}

// ProcessMessage routes a natural-language message to a tool execution
func (h *Handlers) ProcessMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: err.Error()})
		return
	}

	result, err := h.orch.ProcessMessage(c.Request.Context(), req.CustomerID, req.Actor, req.Message)
	if err != nil {
		h.internalError(c, err)
		return
	}
	h.writeToolResult(c, result)
}

type decisionRequest struct {
	CustomerID string          `json:"customer_id" binding:"required"`
	Actor      string          `json:"actor" binding:"required"`
	Decision   router.Decision `json:"decision" binding:"required"`
}

// SubmitDecision accepts a pre-built routing decision. The decision is
// treated as untrusted and passes the full guard validation.
func (h *Handlers) SubmitDecision(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: err.Error()})
		return
	}

	result, err := h.orch.SubmitDecision(c.Request.Context(), req.CustomerID, req.Actor, &req.Decision)
	if err != nil {
		h.internalError(c, err)
		return
	}
	h.writeToolResult(c, result)
}

// QueryAudit returns audit entries, optionally filtered by invoice, kind and
// time range. from/to take RFC 3339 timestamps.
func (h *Handlers) QueryAudit(c *gin.Context) {
	filter := audit.Filter{InvoiceID: c.Query("invoice_id")}
	if kind := c.Query("kind"); kind != "" {
		k := models.AuditKind(kind)
		if !k.IsValid() {
			c.JSON(http.StatusBadRequest, Response{Error: "unknown audit kind: " + kind})
			return
		}
		filter.Kinds = []models.AuditKind{k}
	}
	if from := c.Query("from"); from != "" {
		parsed, err := time.Parse(time.RFC3339, from)
		if err != nil {
			c.JSON(http.StatusBadRequest, Response{Error: "from must be RFC 3339"})
			return
		}
		filter.From = parsed
	}
	if to := c.Query("to"); to != "" {
		parsed, err := time.Parse(time.RFC3339, to)
		if err != nil {
			c.JSON(http.StatusBadRequest, Response{Error: "to must be RFC 3339"})
			return
		}
		filter.To = parsed
	}

	entries, err := h.auditLog.Query(c.Request.Context(), filter)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: entries})
}

// RunReminders triggers one reminder scan immediately
func (h *Handlers) RunReminders(c *gin.Context) {
	sent, err := h.scanner.RunOnce(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"reminders_sent": sent}})
}

// writeToolResult maps a tool result onto an HTTP status. Guard refusals are
// normal responses, not server errors.
func (h *Handlers) writeToolResult(c *gin.Context, result *models.ToolResult) {
	status := http.StatusOK
	if !result.Success {
		switch result.ErrorCode {
		case models.ErrCodeInvoiceNotFound:
			status = http.StatusNotFound
		case models.ErrCodeConcurrencyConflict:
			status = http.StatusConflict
		case models.ErrCodeExecutionFailure:
			status = http.StatusInternalServerError
		default:
			status = http.StatusUnprocessableEntity
		}
	}
	c.JSON(status, result)
}

func (h *Handlers) internalError(c *gin.Context, err error) {
	h.logger.Error("request failed",
		zap.String("path", c.Request.URL.Path),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, Response{Error: "internal error"})
}
