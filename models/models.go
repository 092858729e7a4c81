package models

import "math"

// Transaction statuses as tracked by the store terminal
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// LineItem is a single cart entry
type LineItem struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
}

// Transaction represents one checkout on the store terminal. It is created
// and mutated only by the store terminal.
type Transaction struct {
	ID         string     `json:"transactionId"`
	VendorName string     `json:"vendorName"`
	Items      []LineItem `json:"items"`
	Total      float64    `json:"total"`
	StoreID    string     `json:"storeId"`
	ProgramID  string     `json:"programId"`
	Status     string     `json:"status"`
}

// ComputeTotal derives the transaction total from its line items
func ComputeTotal(items []LineItem) float64 {
	var total float64
	for _, it := range items {
		total += it.UnitPrice * float64(it.Quantity)
	}
	return total
}

// CheckoutRequest is the immutable transaction snapshot sent to the payment
// terminal. A value copy keeps the payment terminal from mutating the store
// terminal's record.
type CheckoutRequest struct {
	Transaction
}

// VerificationResult is the outcome of one biometric verification attempt
type VerificationResult struct {
	Success     bool   `json:"success"`
	RecipientID string `json:"recipient_id,omitempty"`
	PublicKey   string `json:"public_key,omitempty"`
}

// WalletSnapshot is computed after a successful verification. It must not be
// surfaced when RemainingBalance is negative.
type WalletSnapshot struct {
	RecipientID      string  `json:"recipient_id"`
	PublicKey        string  `json:"public_key"`
	BalanceUSD       float64 `json:"balance_usd"`
	RemainingBalance float64 `json:"remaining_balance"`
}

// PaymentAuthorization is sent exactly once per confirmed wallet check
type PaymentAuthorization struct {
	VoucherID     string `json:"voucherId"`
	TransactionID string `json:"transactionId"`
	StoreID       string `json:"storeId"`
	ProgramID     string `json:"programId"`
	AmountMinor   int64  `json:"amountMinor"`
	Currency      string `json:"currency"`
	RecipientID   string `json:"recipientId"`
}

// AmountToMinor converts a decimal major-unit amount to integer minor units
func AmountToMinor(total float64) int64 {
	return int64(math.Round(total * 100))
}
