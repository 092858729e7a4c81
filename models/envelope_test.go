package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{
			name:    "missing scope rejected",
			input:   `{"type":"terminal_ready"}`,
			wantErr: ErrWrongScope,
		},
		{
			name:    "foreign scope rejected",
			input:   `{"scope":"chat-widget","type":"terminal_ready"}`,
			wantErr: ErrWrongScope,
		},
		{
			name:    "unknown type rejected",
			input:   `{"scope":"payment-terminal","type":"refund_request"}`,
			wantErr: ErrUnknownType,
		},
		{
			name:    "checkout without transaction rejected",
			input:   `{"scope":"payment-terminal","type":"checkout_request"}`,
			wantErr: ErrMissingPayload,
		},
		{
			name:    "authorization without payload rejected",
			input:   `{"scope":"payment-terminal","type":"payment_authorized","transactionId":"txn_1"}`,
			wantErr: ErrMissingPayload,
		},
		{
			name:    "processed with bad status rejected",
			input:   `{"scope":"payment-terminal","type":"payment_processed","transactionId":"txn_1","status":"maybe"}`,
			wantErr: ErrMissingPayload,
		},
		{
			name:  "terminal_ready accepted",
			input: `{"scope":"payment-terminal","type":"terminal_ready"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(tt.input))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecodeEnvelopeRoundTrip(t *testing.T) {
	auth := PaymentAuthorization{
		VoucherID:     "txn_1",
		TransactionID: "txn_1",
		StoreID:       "store_001",
		ProgramID:     "general_aid",
		AmountMinor:   5000,
		Currency:      "USD",
		RecipientID:   "rec_9",
	}
	data, err := json.Marshal(NewPaymentAuthorized(auth))
	require.NoError(t, err)

	env, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, TypePaymentAuthorized, env.Type)
	assert.Equal(t, "txn_1", env.TransactionID)
	require.NotNil(t, env.Payload)
	assert.Equal(t, auth, *env.Payload)
}

func TestDecodeEnvelopeMalformedJSON(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"scope":`))
	assert.Error(t, err)
}
