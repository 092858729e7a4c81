package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// BalanceFetcher looks up a recipient's ledger wallet balance in USD
type BalanceFetcher interface {
	BalanceUSD(ctx context.Context, publicKey string) (float64, error)
}

// Client calls the wallet balance service
type Client struct {
	h    *http.Client
	base string
}

// NewClient creates a wallet balance client
func NewClient(baseURL string) *Client {
	return &Client{
		h: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   15 * time.Second,
		},
		base: baseURL,
	}
}

type balanceRequest struct {
	PublicKey string `json:"public_key"`
}

type balanceResponse struct {
	BalanceUSD float64 `json:"balance_usd"`
	Address    string  `json:"address,omitempty"`
}

// BalanceUSD fetches the wallet balance behind the given public key
func (c *Client) BalanceUSD(ctx context.Context, publicKey string) (float64, error) {
	payload, err := json.Marshal(balanceRequest{PublicKey: publicKey})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/wallets/balance-usd", c.base), bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.h.Do(req)
	if err != nil {
		return 0, fmt.Errorf("balance lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("balance service returned %d: %s", resp.StatusCode, string(b))
	}

	var out balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.BalanceUSD, nil
}
