package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"voucherpoint/fulfillment"
	"voucherpoint/ledger"
	"voucherpoint/logging"
	"voucherpoint/models"
	"voucherpoint/store"
)

// StoreHandler handles HTTP requests for the store terminal
type StoreHandler struct {
	terminal    *store.Terminal
	fulfillment *fulfillment.Service
}

// NewStoreHandler creates a new store terminal handler
func NewStoreHandler(terminal *store.Terminal, fulfillmentService *fulfillment.Service) *StoreHandler {
	return &StoreHandler{
		terminal:    terminal,
		fulfillment: fulfillmentService,
	}
}

type checkoutRequest struct {
	VendorName string            `json:"vendor_name"`
	Items      []models.LineItem `json:"items" binding:"required,min=1"`
	StoreID    string            `json:"store_id"`
	ProgramID  string            `json:"program_id"`
}

// Checkout handles the cashier's complete-sale action
func (h *StoreHandler) Checkout(c *gin.Context) {
	span := trace.SpanFromContext(c.Request.Context())

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	txn, err := h.terminal.CompleteSale(req.VendorName, req.Items, req.StoreID, req.ProgramID)
	if err != nil {
		logger := logging.WithTraceContext(span)
		logger.Error("Checkout send failed",
			zap.Error(err),
			zap.String("transaction_id", txn.ID),
		)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "transaction": txn})
		return
	}

	span.AddEvent("checkout_request_sent")
	c.JSON(http.StatusCreated, txn)
}

// GetTransaction returns one transaction by id
func (h *StoreHandler) GetTransaction(c *gin.Context) {
	txn, err := h.terminal.Transaction(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		return
	}
	c.JSON(http.StatusOK, txn)
}

// ListTransactions returns all transactions this terminal created
func (h *StoreHandler) ListTransactions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.terminal.Transactions()})
}

// Fulfill handles the server-side card-charge fulfillment path
func (h *StoreHandler) Fulfill(c *gin.Context) {
	span := trace.SpanFromContext(c.Request.Context())

	var req fulfillment.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.fulfillment.Fulfill(c.Request.Context(), req)
	if err != nil {
		logger := logging.WithTraceContext(span)
		logger.Error("Fulfillment failed",
			zap.Error(err),
			zap.String("payment_intent_id", req.PaymentIntentID),
		)
		switch {
		case errors.Is(err, fulfillment.ErrMissingIntent):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, fulfillment.ErrInFlight):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, ledger.ErrNoValidDestination):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
		return
	}

	span.AddEvent("fulfillment_settled")
	c.JSON(http.StatusOK, result)
}

// HealthCheck handles health check requests
func (h *StoreHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
