package terminal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"voucherpoint/biometric"
	"voucherpoint/messaging"
	"voucherpoint/models"
	"voucherpoint/monitoring"
	"voucherpoint/wallet"
)

// State is the payment terminal's visible step
type State string

const (
	StateIdle         State = "idle"
	StateCheckout     State = "checkout"
	StateVerification State = "verification"
	StateWallet       State = "wallet"
	StateProcessing   State = "processing"
	StateAccepted     State = "accepted"
)

// Fallback identifiers used when the checkout snapshot carries none
const (
	fallbackStoreID   = "store_001"
	fallbackProgramID = "general_aid"
)

var (
	ErrNoActiveCheckout    = errors.New("no active checkout request")
	ErrVerificationRunning = errors.New("verification already in progress")
	ErrNotConfirmed        = errors.New("wallet check has not succeeded")
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
)

// Snapshot is the operator-visible view of the terminal
type Snapshot struct {
	State       State                   `json:"state"`
	Transaction *models.CheckoutRequest `json:"transaction,omitempty"`
	Wallet      *models.WalletSnapshot  `json:"wallet,omitempty"`
	Progress    int                     `json:"progress"`
	LastError   string                  `json:"last_error,omitempty"`
}

// Terminal is the customer-facing side of the protocol: it verifies the
// recipient biometrically, gates on wallet balance and authorizes payment.
// Any failure returns to checkout so the operator can retry without the
// store terminal resending the checkout request.
type Terminal struct {
	mu         sync.Mutex
	state      State
	snapshot   models.CheckoutRequest
	wallet     models.WalletSnapshot
	auth       *models.PaymentAuthorization
	progress   int
	lastError  string
	cameraHeld bool
	resetTimer *time.Timer

	channel    messaging.Channel
	camera     biometric.FrameSource
	verifier   biometric.Verifier
	balances   wallet.BalanceFetcher
	currency   string
	resetDelay time.Duration
	logger     *zap.Logger
}

// New wires a payment terminal to its channel and collaborators and
// announces readiness to the counterpart that opened it.
func New(channel messaging.Channel, camera biometric.FrameSource, verifier biometric.Verifier,
	balances wallet.BalanceFetcher, currency string, resetDelay time.Duration, logger *zap.Logger) *Terminal {

	t := &Terminal{
		state:      StateIdle,
		channel:    channel,
		camera:     camera,
		verifier:   verifier,
		balances:   balances,
		currency:   currency,
		resetDelay: resetDelay,
		logger:     logger,
	}
	channel.OnMessage(t.handleMessage)

	if err := channel.Send(models.NewTerminalReady()); err != nil {
		logger.Error("Failed to announce terminal readiness", zap.Error(err))
	} else {
		logger.Info("Terminal ready announced")
	}
	return t
}

// Snapshot returns the operator-visible state
func (t *Terminal) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Snapshot{State: t.state, Progress: t.progress, LastError: t.lastError}
	if t.state != StateIdle {
		snap := t.snapshot
		s.Transaction = &snap
	}
	if t.state == StateWallet || t.state == StateProcessing || t.state == StateAccepted {
		w := t.wallet
		s.Wallet = &w
	}
	return s
}

func (t *Terminal) handleMessage(env models.Envelope) {
	switch env.Type {
	case models.TypeCheckoutRequest:
		t.onCheckoutRequest(env)
	case models.TypePaymentProcessed:
		t.onPaymentProcessed(env)
	}
}

func (t *Terminal) onCheckoutRequest(env models.Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateIdle {
		t.logger.Warn("Ignoring checkout request while busy",
			zap.String("state", string(t.state)),
			zap.String("transaction_id", env.Transaction.ID),
		)
		return
	}
	t.snapshot = *env.Transaction
	t.auth = nil
	t.lastError = ""
	t.progress = 0
	t.state = StateCheckout
	t.logger.Info("Checkout request received",
		zap.String("transaction_id", t.snapshot.ID),
		zap.Float64("total", t.snapshot.Total),
	)
}

// StartVerification runs one capture-and-identify attempt. Camera errors and
// verification failures return the terminal to checkout with a distinct
// operator-facing reason; a blocked camera start is never retried
// automatically.
func (t *Terminal) StartVerification(ctx context.Context) error {
	t.mu.Lock()
	if t.state != StateCheckout {
		state := t.state
		t.mu.Unlock()
		if state == StateVerification {
			return ErrVerificationRunning
		}
		return ErrNoActiveCheckout
	}
	t.state = StateVerification
	t.lastError = ""
	t.progress = 0
	txn := t.snapshot
	t.mu.Unlock()

	if err := t.camera.Acquire(ctx); err != nil {
		t.failVerification(cameraMessage(err))
		return err
	}
	t.mu.Lock()
	t.cameraHeld = true
	t.mu.Unlock()
	defer t.releaseCamera()

	frames, err := biometric.CaptureBurst(ctx, t.camera, t.setProgress)
	if err != nil {
		t.failVerification("No frames captured. Check the camera and try again.")
		return err
	}

	start := time.Now()
	result, err := t.verifier.Identify(ctx, frames)
	monitoring.VerificationDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.Bool("success", err == nil && result.Success)),
	)
	t.setProgress(100)

	if err != nil {
		t.failVerification("Verification service unreachable. Try again.")
		return err
	}
	if !result.Success {
		t.failVerification("No matching recipient found.")
		return nil
	}

	// Exactly one balance lookup per successful verification; this is the
	// hard gate in front of authorization.
	balance, err := t.balances.BalanceUSD(ctx, result.PublicKey)
	if err != nil {
		t.failVerification("Unable to check wallet balance. Try again.")
		return err
	}
	if balance < txn.Total {
		msg := fmt.Sprintf("Insufficient wallet balance. Available: $%.2f, Required: $%.2f", balance, txn.Total)
		t.failVerification(msg)
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, msg)
	}

	t.mu.Lock()
	t.wallet = models.WalletSnapshot{
		RecipientID:      result.RecipientID,
		PublicKey:        result.PublicKey,
		BalanceUSD:       balance,
		RemainingBalance: balance - txn.Total,
	}
	t.state = StateWallet
	t.mu.Unlock()

	t.logger.Info("Wallet check passed",
		zap.String("recipient_id", result.RecipientID),
		zap.Float64("balance_usd", balance),
		zap.Float64("required", txn.Total),
	)
	return nil
}

// RetryVerification is the explicit operator gesture required after a
// blocked camera start
func (t *Terminal) RetryVerification(ctx context.Context) error {
	return t.StartVerification(ctx)
}

// ConfirmPayment builds and sends the authorization. The authorization for a
// transaction is built once; an explicit retry after an error reply resends
// the identical payload so the redemption idempotency key is unchanged.
func (t *Terminal) ConfirmPayment() error {
	t.mu.Lock()
	if t.state != StateWallet {
		t.mu.Unlock()
		return ErrNotConfirmed
	}
	if t.auth == nil {
		storeID := t.snapshot.StoreID
		if storeID == "" {
			storeID = fallbackStoreID
		}
		programID := t.snapshot.ProgramID
		if programID == "" {
			programID = fallbackProgramID
		}
		t.auth = &models.PaymentAuthorization{
			VoucherID:     t.snapshot.ID,
			TransactionID: t.snapshot.ID,
			StoreID:       storeID,
			ProgramID:     programID,
			AmountMinor:   models.AmountToMinor(t.snapshot.Total),
			Currency:      t.currency,
			RecipientID:   t.wallet.RecipientID,
		}
	}
	auth := *t.auth
	t.state = StateProcessing
	t.lastError = ""
	t.mu.Unlock()

	if err := t.channel.Send(models.NewPaymentAuthorized(auth)); err != nil {
		// A dead channel must fail loudly; the operator restarts checkout
		// from the store terminal.
		t.mu.Lock()
		t.state = StateWallet
		t.lastError = "Cannot reach the store terminal. Restart checkout from the store terminal."
		t.mu.Unlock()
		t.logger.Error("Failed to send payment authorization",
			zap.Error(err),
			zap.String("transaction_id", auth.TransactionID),
		)
		return err
	}

	t.logger.Info("Payment authorization sent",
		zap.String("transaction_id", auth.TransactionID),
		zap.Int64("amount_minor", auth.AmountMinor),
	)
	return nil
}

// onPaymentProcessed resolves the processing state. There is no timeout on
// processing; only this reply (or closing the terminal) ends it.
func (t *Terminal) onPaymentProcessed(env models.Envelope) {
	t.mu.Lock()
	if t.state != StateProcessing || env.TransactionID != t.snapshot.ID {
		t.mu.Unlock()
		t.logger.Warn("Ignoring stale payment_processed",
			zap.String("transaction_id", env.TransactionID),
		)
		return
	}

	if env.Status == models.ReplySuccess {
		t.state = StateAccepted
		t.resetTimer = time.AfterFunc(t.resetDelay, t.reset)
		t.mu.Unlock()
		t.logger.Info("Payment accepted",
			zap.String("transaction_id", env.TransactionID),
			zap.Duration("reset_in", t.resetDelay),
		)
		return
	}

	// Error reply: back to wallet so the operator can retry the confirm
	// step without re-running verification
	t.state = StateWallet
	t.lastError = env.Error
	t.mu.Unlock()
	t.logger.Warn("Payment processing failed on store terminal",
		zap.String("transaction_id", env.TransactionID),
		zap.String("error", env.Error),
	)
}

func (t *Terminal) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateIdle
	t.snapshot = models.CheckoutRequest{}
	t.wallet = models.WalletSnapshot{}
	t.auth = nil
	t.progress = 0
	t.lastError = ""
	t.logger.Info("Terminal reset to idle")
}

func (t *Terminal) failVerification(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateCheckout
	t.lastError = msg
	t.logger.Warn("Verification failed", zap.String("reason", msg))
}

func (t *Terminal) releaseCamera() {
	t.mu.Lock()
	held := t.cameraHeld
	t.cameraHeld = false
	t.mu.Unlock()
	if held {
		t.camera.Release()
	}
}

func (t *Terminal) setProgress(pct int) {
	t.mu.Lock()
	t.progress = pct
	t.mu.Unlock()
}

// Close abandons any in-flight work, releases the camera and tears down the
// channel; no compensating message is sent.
func (t *Terminal) Close() error {
	t.mu.Lock()
	if t.resetTimer != nil {
		t.resetTimer.Stop()
	}
	t.mu.Unlock()
	t.releaseCamera()
	return t.channel.Close()
}

func cameraMessage(err error) string {
	switch {
	case errors.Is(err, biometric.ErrPermissionDenied):
		return "Camera permission denied. Grant camera access and try again."
	case errors.Is(err, biometric.ErrNoDevice):
		return "No camera device found. Connect a camera and try again."
	case errors.Is(err, biometric.ErrStartBlocked):
		return "Camera start was blocked. Press retry to start verification."
	default:
		return "Camera error: " + err.Error()
	}
}
