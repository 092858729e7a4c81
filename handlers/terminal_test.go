package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"voucherpoint/messaging"
	"voucherpoint/models"
	"voucherpoint/terminal"
)

type stubCamera struct {
	mu    sync.Mutex
	frame []byte
}

func (s *stubCamera) Acquire(ctx context.Context) error { return nil }

func (s *stubCamera) Capture(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, nil
}

func (s *stubCamera) Release() {}

type stubVerifier struct {
	result models.VerificationResult
}

func (s *stubVerifier) Identify(ctx context.Context, frames [][]byte) (models.VerificationResult, error) {
	return s.result, nil
}

type stubBalances struct {
	balance float64
}

func (s *stubBalances) BalanceUSD(ctx context.Context, publicKey string) (float64, error) {
	return s.balance, nil
}

func newTerminalRouter(t *testing.T, balance float64) (*gin.Engine, messaging.Channel) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	termEnd, peerEnd := messaging.Pipe()
	verifier := &stubVerifier{result: models.VerificationResult{
		Success:     true,
		RecipientID: "rec_42",
		PublicKey:   "ED0102",
	}}
	term := terminal.New(termEnd, &stubCamera{frame: []byte("jpg")}, verifier,
		&stubBalances{balance: balance}, "USD", time.Minute, zap.NewNop())
	t.Cleanup(func() { term.Close() })

	h := NewTerminalHandler(term)
	r := gin.New()
	r.GET("/api/state", h.State)
	r.POST("/api/verification/start", h.StartVerification)
	r.POST("/api/verification/retry", h.RetryVerification)
	r.POST("/api/confirm", h.Confirm)
	r.GET("/health", h.HealthCheck)
	return r, peerEnd
}

func sendCheckout(t *testing.T, r *gin.Engine, peerEnd messaging.Channel) {
	t.Helper()
	require.NoError(t, peerEnd.Send(models.NewCheckoutRequest(models.Transaction{
		ID:    "txn_1",
		Items: []models.LineItem{{ID: "i1", Name: "Rice 5kg", UnitPrice: 50, Quantity: 1}},
		Total: 50,
	})))
	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/state", nil))
		var snap terminal.Snapshot
		return json.Unmarshal(w.Body.Bytes(), &snap) == nil && snap.State == terminal.StateCheckout
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStateStartsIdle(t *testing.T) {
	r, _ := newTerminalRouter(t, 100)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/state", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var snap terminal.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, terminal.StateIdle, snap.State)
	assert.Nil(t, snap.Transaction)
}

func TestStartVerificationWithoutCheckoutConflicts(t *testing.T) {
	r, _ := newTerminalRouter(t, 100)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/verification/start", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestVerificationFlowOverHTTP(t *testing.T) {
	r, peerEnd := newTerminalRouter(t, 100)
	sendCheckout(t, r, peerEnd)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/verification/start", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var snap terminal.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, terminal.StateWallet, snap.State)
	require.NotNil(t, snap.Wallet)
	assert.InDelta(t, 50.0, snap.Wallet.RemainingBalance, 1e-9)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/confirm", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, terminal.StateProcessing, snap.State)
}

// A failed attempt is not a transport error: the reply is 200 with the
// refusal in last_error, and confirm stays blocked.
func TestInsufficientBalanceSurfacesInSnapshot(t *testing.T) {
	r, peerEnd := newTerminalRouter(t, 30)
	sendCheckout(t, r, peerEnd)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/verification/start", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var snap terminal.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, terminal.StateCheckout, snap.State)
	assert.Equal(t, "Insufficient wallet balance. Available: $30.00, Required: $50.00", snap.LastError)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/confirm", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestConfirmWithoutWalletConflicts(t *testing.T) {
	r, _ := newTerminalRouter(t, 100)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/confirm", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
}
