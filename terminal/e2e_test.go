package terminal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"voucherpoint/messaging"
	"voucherpoint/models"
	"voucherpoint/store"
)

type recordingRedeemer struct {
	mu    sync.Mutex
	calls []models.PaymentAuthorization
}

func (r *recordingRedeemer) Redeem(ctx context.Context, auth models.PaymentAuthorization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, auth)
	return nil
}

func (r *recordingRedeemer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Full happy path across both terminals: checkout, verification, wallet gate,
// authorization, redemption, acceptance and auto-reset.
func TestPaymentFlowEndToEnd(t *testing.T) {
	storeEnd, termEnd := messaging.Pipe()

	redeemer := &recordingRedeemer{}
	storeTerm := store.New(storeEnd, redeemer, "USD", zap.NewNop())
	defer storeTerm.Close()

	payTerm := New(termEnd, &fakeCamera{frame: []byte("jpg")}, matchedVerifier(),
		&fakeBalances{balance: 120}, "USD", 50*time.Millisecond, zap.NewNop())
	defer payTerm.Close()

	txn, err := storeTerm.CompleteSale("Hope Grocery", []models.LineItem{
		{ID: "i1", Name: "Rice 5kg", UnitPrice: 25, Quantity: 2},
	}, "store_001", "general_aid")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap := payTerm.Snapshot()
		return snap.State == StateCheckout && snap.Transaction != nil && snap.Transaction.ID == txn.ID
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, payTerm.StartVerification(context.Background()))
	require.Equal(t, StateWallet, payTerm.Snapshot().State)

	require.NoError(t, payTerm.ConfirmPayment())

	require.Eventually(t, func() bool {
		got, err := storeTerm.Transaction(txn.ID)
		return err == nil && got.Status == models.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, 1, redeemer.callCount())
	auth := redeemer.calls[0]
	assert.Equal(t, txn.ID, auth.TransactionID)
	assert.Equal(t, txn.ID, auth.VoucherID)
	assert.Equal(t, models.AmountToMinor(txn.Total), auth.AmountMinor)
	assert.Equal(t, "rec_42", auth.RecipientID)

	require.Eventually(t, func() bool {
		return payTerm.Snapshot().State == StateAccepted || payTerm.Snapshot().State == StateIdle
	}, 2*time.Second, 10*time.Millisecond)

	// Auto-reset brings the terminal back for the next customer
	require.Eventually(t, func() bool {
		return payTerm.Snapshot().State == StateIdle
	}, 2*time.Second, 10*time.Millisecond)
}

// Insufficient balance keeps everything on the payment terminal: the store
// terminal never hears about the failed attempt and the transaction stays
// pending.
func TestInsufficientBalanceNeverReachesStore(t *testing.T) {
	storeEnd, termEnd := messaging.Pipe()

	redeemer := &recordingRedeemer{}
	storeTerm := store.New(storeEnd, redeemer, "USD", zap.NewNop())
	defer storeTerm.Close()

	payTerm := New(termEnd, &fakeCamera{frame: []byte("jpg")}, matchedVerifier(),
		&fakeBalances{balance: 30}, "USD", 50*time.Millisecond, zap.NewNop())
	defer payTerm.Close()

	txn, err := storeTerm.CompleteSale("Hope Grocery", []models.LineItem{
		{ID: "i1", Name: "Rice 5kg", UnitPrice: 25, Quantity: 2},
	}, "store_001", "general_aid")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return payTerm.Snapshot().State == StateCheckout
	}, 2*time.Second, 10*time.Millisecond)

	require.ErrorIs(t, payTerm.StartVerification(context.Background()), ErrInsufficientBalance)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, redeemer.callCount())
	got, err := storeTerm.Transaction(txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}
