package redemption

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voucherpoint/models"
)

func testAuth() models.PaymentAuthorization {
	return models.PaymentAuthorization{
		VoucherID:     "vch_1",
		TransactionID: "txn_1",
		StoreID:       "store_001",
		ProgramID:     "general_aid",
		AmountMinor:   5000,
		Currency:      "USD",
		RecipientID:   "rec_42",
	}
}

func TestRedeemSendsAuthorizedFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/redeem", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "vch_1", req["voucher_id"])
		assert.Equal(t, "store_001", req["store_id"])
		assert.Equal(t, "rec_42", req["recipient_id"])
		assert.Equal(t, "general_aid", req["program_id"])
		assert.Equal(t, float64(5000), req["amount_minor"])
		assert.Equal(t, "USD", req["currency"])

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	assert.NoError(t, NewClient(srv.URL).Redeem(context.Background(), testAuth()))
}

func TestRedeemSurfacesDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"detail":"voucher already redeemed"}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Redeem(context.Background(), testAuth())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "voucher already redeemed")
}

func TestRedeemPlainFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Redeem(context.Background(), testAuth())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
