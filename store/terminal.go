package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"voucherpoint/messaging"
	"voucherpoint/models"
	"voucherpoint/monitoring"
	"voucherpoint/redemption"
)

// ErrUnknownTransaction is returned by Transaction for an id this terminal
// never created
var ErrUnknownTransaction = errors.New("unknown transaction")

// Terminal is the cashier-facing side of the protocol. It creates
// transactions, sends checkout requests once the payment terminal is ready
// and settles authorizations through the redemption service.
type Terminal struct {
	mu           sync.Mutex
	channel      messaging.Channel
	redeemer     redemption.Redeemer
	logger       *zap.Logger
	currency     string
	transactions map[string]*models.Transaction
	queued       []models.Envelope
	ready        bool
}

// New creates a store terminal bound to a channel and redemption service
func New(channel messaging.Channel, redeemer redemption.Redeemer, currency string, logger *zap.Logger) *Terminal {
	t := &Terminal{
		channel:      channel,
		redeemer:     redeemer,
		logger:       logger,
		currency:     currency,
		transactions: make(map[string]*models.Transaction),
	}
	channel.OnMessage(t.handleMessage)
	return t
}

// CompleteSale creates a pending transaction and sends its checkout request.
// If the payment terminal has not announced readiness yet the request is held
// and sent on terminal_ready; the channel itself never buffers.
func (t *Terminal) CompleteSale(vendorName string, items []models.LineItem, storeID, programID string) (*models.Transaction, error) {
	txn := &models.Transaction{
		ID:         uuid.NewString(),
		VendorName: vendorName,
		Items:      items,
		Total:      models.ComputeTotal(items),
		StoreID:    storeID,
		ProgramID:  programID,
		Status:     models.StatusPending,
	}

	env := models.NewCheckoutRequest(*txn)

	t.mu.Lock()
	t.transactions[txn.ID] = txn
	ready := t.ready
	if !ready {
		t.queued = append(t.queued, env)
	}
	t.mu.Unlock()

	monitoring.CheckoutCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("status", models.StatusPending)),
	)

	if !ready {
		t.logger.Info("Payment terminal not ready, holding checkout request",
			zap.String("transaction_id", txn.ID),
		)
		return txn, nil
	}

	if err := t.channel.Send(env); err != nil {
		t.logger.Error("Failed to send checkout request",
			zap.Error(err),
			zap.String("transaction_id", txn.ID),
		)
		return txn, err
	}
	t.logger.Info("Checkout request sent",
		zap.String("transaction_id", txn.ID),
		zap.Float64("total", txn.Total),
	)
	return txn, nil
}

// Transaction returns a copy of the transaction with the given id
func (t *Terminal) Transaction(id string) (models.Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	txn, ok := t.transactions[id]
	if !ok {
		return models.Transaction{}, ErrUnknownTransaction
	}
	return *txn, nil
}

// Transactions returns copies of all transactions this terminal created
func (t *Terminal) Transactions() []models.Transaction {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Transaction, 0, len(t.transactions))
	for _, txn := range t.transactions {
		out = append(out, *txn)
	}
	return out
}

func (t *Terminal) handleMessage(env models.Envelope) {
	switch env.Type {
	case models.TypeTerminalReady:
		t.onTerminalReady()
	case models.TypePaymentAuthorized:
		t.onPaymentAuthorized(env)
	default:
		// checkout_request and payment_processed originate here; receiving
		// one back is stale traffic
	}
}

// onTerminalReady marks the counterpart addressable and flushes any checkout
// requests held since CompleteSale
func (t *Terminal) onTerminalReady() {
	t.mu.Lock()
	t.ready = true
	queued := t.queued
	t.queued = nil
	t.mu.Unlock()

	t.logger.Info("Payment terminal ready", zap.Int("queued_checkouts", len(queued)))
	for _, env := range queued {
		if err := t.channel.Send(env); err != nil {
			t.logger.Error("Failed to send held checkout request", zap.Error(err))
		}
	}
}

// onPaymentAuthorized moves a matching pending transaction to processing and
// invokes the redemption service. Authorizations for unknown or non-pending
// transactions are no-ops, which also absorbs duplicate deliveries.
func (t *Terminal) onPaymentAuthorized(env models.Envelope) {
	auth := *env.Payload

	t.mu.Lock()
	txn, ok := t.transactions[env.TransactionID]
	if !ok || txn.Status != models.StatusPending {
		t.mu.Unlock()
		t.logger.Warn("Ignoring authorization for unknown or non-pending transaction",
			zap.String("transaction_id", env.TransactionID),
		)
		return
	}
	txn.Status = models.StatusProcessing
	t.mu.Unlock()

	t.logger.Info("Payment authorized, invoking redemption",
		zap.String("transaction_id", auth.TransactionID),
		zap.String("voucher_id", auth.VoucherID),
		zap.Int64("amount_minor", auth.AmountMinor),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := t.redeemer.Redeem(ctx, auth); err != nil {
		t.finish(txn, models.StatusFailed)
		t.logger.Error("Redemption failed",
			zap.Error(err),
			zap.String("transaction_id", auth.TransactionID),
		)
		if sendErr := t.channel.Send(models.NewPaymentProcessed(auth.TransactionID, models.ReplyError, err.Error())); sendErr != nil {
			t.logger.Error("Failed to report redemption error", zap.Error(sendErr))
		}
		return
	}

	t.finish(txn, models.StatusCompleted)
	monitoring.AuthorizationAmount.Record(ctx, float64(auth.AmountMinor)/100,
		metric.WithAttributes(attribute.String("currency", auth.Currency)),
	)
	t.logger.Info("Transaction completed", zap.String("transaction_id", auth.TransactionID))
	if err := t.channel.Send(models.NewPaymentProcessed(auth.TransactionID, models.ReplySuccess, "")); err != nil {
		t.logger.Error("Failed to report redemption success", zap.Error(err))
	}
}

func (t *Terminal) finish(txn *models.Transaction, status string) {
	t.mu.Lock()
	txn.Status = status
	t.mu.Unlock()
	monitoring.CheckoutCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// Close abandons any in-flight transaction and tears down the channel
func (t *Terminal) Close() error {
	return t.channel.Close()
}
