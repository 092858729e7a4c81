package fulfillment

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"voucherpoint/ledger"
)

var (
	// ErrMissingIntent rejects fulfillment without an idempotency key. The
	// key is mandatory; callers are not trusted to coordinate retries.
	ErrMissingIntent = errors.New("payment_intent_id is required")
	// ErrInFlight rejects a concurrent fulfillment of the same intent
	ErrInFlight = errors.New("fulfillment for this payment intent is already in flight")
)

// Settler submits exactly one settlement attempt per call
type Settler interface {
	SubmitPayment(ctx context.Context, destination string, amountUSD float64) (*ledger.Settlement, error)
}

// Request is a card-charge fulfillment: the charge already succeeded
// elsewhere; ledger funds now move to the recipient's program wallet.
type Request struct {
	PaymentIntentID string  `json:"payment_intent_id"`
	Destination     string  `json:"destination"`
	AmountUSD       float64 `json:"amount_usd"`
	VoucherID       string  `json:"voucher_id,omitempty"`
}

// Result reports the settlement for an intent. Idempotent marks a replay
// answered from the completed-intent record instead of a new submission.
type Result struct {
	PaymentIntentID string             `json:"payment_intent_id"`
	Settlement      *ledger.Settlement `json:"settlement"`
	Idempotent      bool               `json:"idempotent"`
}

// Unconfigured is installed when no funding wallet is available; every
// settlement attempt fails with a configuration error.
type Unconfigured struct{}

func (Unconfigured) SubmitPayment(ctx context.Context, destination string, amountUSD float64) (*ledger.Settlement, error) {
	return nil, errors.New("ledger settlement is not configured: missing funding wallet seed")
}

// Service enforces at-most-one settlement per payment intent on the server
// side
type Service struct {
	mu        sync.Mutex
	settler   Settler
	logger    *zap.Logger
	completed map[string]*ledger.Settlement
	inflight  map[string]bool
}

// NewService creates a fulfillment service around a settlement client
func NewService(settler Settler, logger *zap.Logger) *Service {
	return &Service{
		settler:   settler,
		logger:    logger,
		completed: make(map[string]*ledger.Settlement),
		inflight:  make(map[string]bool),
	}
}

// Fulfill settles one payment intent. A completed intent returns its
// recorded settlement; a concurrent attempt is rejected.
func (s *Service) Fulfill(ctx context.Context, req Request) (*Result, error) {
	if req.PaymentIntentID == "" {
		return nil, ErrMissingIntent
	}

	s.mu.Lock()
	if settlement, ok := s.completed[req.PaymentIntentID]; ok {
		s.mu.Unlock()
		s.logger.Info("Fulfillment replayed from completed intent",
			zap.String("payment_intent_id", req.PaymentIntentID),
			zap.String("hash", settlement.Hash),
		)
		return &Result{PaymentIntentID: req.PaymentIntentID, Settlement: settlement, Idempotent: true}, nil
	}
	if s.inflight[req.PaymentIntentID] {
		s.mu.Unlock()
		return nil, ErrInFlight
	}
	s.inflight[req.PaymentIntentID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, req.PaymentIntentID)
		s.mu.Unlock()
	}()

	settlement, err := s.settler.SubmitPayment(ctx, req.Destination, req.AmountUSD)
	if err != nil {
		s.logger.Error("Fulfillment settlement failed",
			zap.Error(err),
			zap.String("payment_intent_id", req.PaymentIntentID),
		)
		return nil, err
	}

	s.mu.Lock()
	s.completed[req.PaymentIntentID] = settlement
	s.mu.Unlock()

	s.logger.Info("Fulfillment settled",
		zap.String("payment_intent_id", req.PaymentIntentID),
		zap.String("hash", settlement.Hash),
		zap.String("transport", settlement.Transport),
	)
	return &Result{PaymentIntentID: req.PaymentIntentID, Settlement: settlement}, nil
}
