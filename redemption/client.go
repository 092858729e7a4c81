package redemption

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"voucherpoint/models"
)

// Redeemer debits the recipient's wallet and pays the store. The service is
// idempotent per voucher id; a duplicate call for the same voucher must not
// settle twice.
type Redeemer interface {
	Redeem(ctx context.Context, auth models.PaymentAuthorization) error
}

// Client calls the redemption service
type Client struct {
	h    *http.Client
	base string
}

// NewClient creates a redemption client
func NewClient(baseURL string) *Client {
	return &Client{
		h: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
		base: baseURL,
	}
}

type redeemRequest struct {
	VoucherID   string `json:"voucher_id"`
	StoreID     string `json:"store_id"`
	RecipientID string `json:"recipient_id"`
	ProgramID   string `json:"program_id"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Redeem submits the authorized payment. On a non-2xx reply the response
// body's detail field, when present, becomes the surfaced error text.
func (c *Client) Redeem(ctx context.Context, auth models.PaymentAuthorization) error {
	payload, err := json.Marshal(redeemRequest{
		VoucherID:   auth.VoucherID,
		StoreID:     auth.StoreID,
		RecipientID: auth.RecipientID,
		ProgramID:   auth.ProgramID,
		AmountMinor: auth.AmountMinor,
		Currency:    auth.Currency,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/redeem", c.base), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.h.Do(req)
	if err != nil {
		return fmt.Errorf("redemption call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Detail != "" {
		return fmt.Errorf("redemption rejected: %s", er.Detail)
	}
	return fmt.Errorf("redemption service returned %d", resp.StatusCode)
}
