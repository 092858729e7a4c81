package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"voucherpoint/terminal"
)

// TerminalHandler handles HTTP requests for the payment terminal
type TerminalHandler struct {
	terminal *terminal.Terminal
}

// NewTerminalHandler creates a new payment terminal handler
func NewTerminalHandler(t *terminal.Terminal) *TerminalHandler {
	return &TerminalHandler{terminal: t}
}

// State returns the operator-visible terminal snapshot
func (h *TerminalHandler) State(c *gin.Context) {
	c.JSON(http.StatusOK, h.terminal.Snapshot())
}

// StartVerification runs one capture-and-identify attempt. The request
// blocks for the duration; the snapshot carries the outcome either way.
func (h *TerminalHandler) StartVerification(c *gin.Context) {
	h.runVerification(c, h.terminal.StartVerification)
}

// RetryVerification is the explicit operator gesture after a blocked camera
// start
func (h *TerminalHandler) RetryVerification(c *gin.Context) {
	h.runVerification(c, h.terminal.RetryVerification)
}

func (h *TerminalHandler) runVerification(c *gin.Context, run func(ctx context.Context) error) {
	err := run(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, h.terminal.Snapshot())
	case errors.Is(err, terminal.ErrNoActiveCheckout):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, terminal.ErrVerificationRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		// Failure details are in the snapshot's last_error
		c.JSON(http.StatusOK, h.terminal.Snapshot())
	}
}

// Confirm sends the payment authorization for the verified wallet
func (h *TerminalHandler) Confirm(c *gin.Context) {
	err := h.terminal.ConfirmPayment()
	switch {
	case err == nil:
		c.JSON(http.StatusOK, h.terminal.Snapshot())
	case errors.Is(err, terminal.ErrNotConfirmed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "state": h.terminal.Snapshot()})
	}
}

// HealthCheck handles health check requests
func (h *TerminalHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
