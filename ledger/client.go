package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"voucherpoint/monitoring"
)

const (
	dropsPerUnit = 1_000_000
	// minFeeDrops is the safe default when the fee endpoint omits one
	minFeeDrops = 10
	// ledgerWindow bounds how many ledgers a signed transaction stays valid
	ledgerWindow = 20
)

// ErrNoTransactionHash marks a submission whose response carried no hash.
// Such a response is always a failure, whatever the engine result claims.
var ErrNoTransactionHash = errors.New("submission returned no transaction hash")

// Settlement is the outcome of one successful submission attempt
type Settlement struct {
	Hash         string `json:"hash"`
	EngineResult string `json:"engine_result"`
	Transport    string `json:"transport"`
}

// Client submits payments to the distributed ledger, trying the streaming
// transport first and the stateless RPC transport only if the streaming
// attempt threw. One call is exactly one settlement attempt; retries are the
// caller's decision.
type Client struct {
	wsURL   string
	rpcURL  string
	wallet  *Wallet
	usdRate float64
	logger  *zap.Logger
}

// NewClient builds a settlement client funded by the given family seed
func NewClient(wsURL, rpcURL, fundingSeed string, usdRate float64, logger *zap.Logger) (*Client, error) {
	wallet, err := WalletFromSeed(fundingSeed)
	if err != nil {
		return nil, fmt.Errorf("funding wallet: %w", err)
	}
	return &Client{
		wsURL:   wsURL,
		rpcURL:  rpcURL,
		wallet:  wallet,
		usdRate: usdRate,
		logger:  logger,
	}, nil
}

// USDToDrops converts a USD amount to ledger drops at the configured rate,
// truncating toward zero
func (c *Client) USDToDrops(usd float64) uint64 {
	return uint64(math.Floor(usd / c.usdRate * dropsPerUnit))
}

// DropsToUSD converts drops back to USD, truncated to cents
func (c *Client) DropsToUSD(drops uint64) float64 {
	return math.Floor(float64(drops)/dropsPerUnit*c.usdRate*100) / 100
}

// SubmitPayment normalizes the destination and submits one payment of the
// given USD amount. The fallback transport runs only when the primary threw;
// once the primary has produced a hash the fallback must not run, even if
// validation was slow.
func (c *Client) SubmitPayment(ctx context.Context, destination string, amountUSD float64) (*Settlement, error) {
	classic, tag, ok := NormalizeDestination(destination)
	if !ok {
		return nil, fmt.Errorf("%w: tried classic, extended and public-key forms for %q",
			ErrNoValidDestination, destination)
	}
	drops := c.USDToDrops(amountUSD)

	settlement, hash, primaryErr := c.submitStreaming(ctx, classic, tag, drops)
	if primaryErr == nil {
		c.recordSettlement(ctx, "streaming", "success")
		return settlement, nil
	}
	c.recordSettlement(ctx, "streaming", "error")
	if hash != "" {
		// The primary got a transaction onto the wire; falling back now
		// could settle twice.
		return nil, fmt.Errorf("streaming submission of %s unresolved, not falling back: %w", hash, primaryErr)
	}
	c.logger.Warn("Streaming transport failed, trying RPC fallback",
		zap.Error(primaryErr),
		zap.String("destination", classic),
	)

	settlement, fallbackErr := c.submitRPC(ctx, classic, tag, drops)
	if fallbackErr == nil {
		c.recordSettlement(ctx, "rpc", "success")
		return settlement, nil
	}
	c.recordSettlement(ctx, "rpc", "error")

	return nil, fmt.Errorf(
		"ledger settlement failed for destination %q (classic %s), amount $%.2f: streaming: %v; rpc: %v",
		destination, classic, amountUSD, primaryErr, fallbackErr)
}

func (c *Client) recordSettlement(ctx context.Context, transport, status string) {
	monitoring.SettlementCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("transport", transport),
			attribute.String("status", status),
		),
	)
}

// submitStreaming opens the persistent connection, derives sequence and fee,
// signs, submits and waits for ledger validation. The returned hash is
// non-empty whenever a submission reached the wire, so the caller can refuse
// to fall back.
func (c *Client) submitStreaming(ctx context.Context, destination string, tag *uint32, drops uint64) (*Settlement, string, error) {
	stream, err := dialStream(ctx, c.wsURL)
	if err != nil {
		return nil, "", err
	}
	defer stream.close()

	tx, err := c.assemble(ctx, stream, destination, tag, drops)
	if err != nil {
		return nil, "", err
	}

	blob, localHash, err := signPayment(tx, c.wallet)
	if err != nil {
		return nil, "", err
	}

	raw, err := stream.call(ctx, "submit", map[string]any{"tx_blob": blob})
	if err != nil {
		return nil, "", err
	}
	// From here on the transaction may have reached the wire: report the
	// locally computed hash with any error so no fallback is attempted.
	engineResult, hash, err := parseSubmitResult(raw)
	if err != nil {
		return nil, localHash, err
	}
	if hash == "" {
		return nil, localHash, fmt.Errorf("%w (engine result %q)", ErrNoTransactionHash, engineResult)
	}

	validatedResult, err := stream.waitValidated(ctx, hash, tx.LastLedgerSequence)
	if err != nil {
		return nil, hash, err
	}
	if validatedResult != "" {
		engineResult = validatedResult
	}

	c.logger.Info("Payment validated via streaming transport",
		zap.String("hash", hash),
		zap.String("engine_result", engineResult),
	)
	return &Settlement{Hash: hash, EngineResult: engineResult, Transport: "streaming"}, hash, nil
}

// submitRPC is the stateless fallback: sequence, fee and validated ledger
// index are fetched with independent calls, the transaction is signed
// locally and submitted once. A response without a hash fails regardless of
// the reported engine result.
func (c *Client) submitRPC(ctx context.Context, destination string, tag *uint32, drops uint64) (*Settlement, error) {
	caller := newHTTPCaller(c.rpcURL)

	tx, err := c.assemble(ctx, caller, destination, tag, drops)
	if err != nil {
		return nil, err
	}

	blob, _, err := signPayment(tx, c.wallet)
	if err != nil {
		return nil, err
	}

	raw, err := caller.call(ctx, "submit", map[string]any{"tx_blob": blob})
	if err != nil {
		return nil, err
	}
	engineResult, hash, err := parseSubmitResult(raw)
	if err != nil {
		return nil, err
	}
	if hash == "" {
		return nil, fmt.Errorf("%w (engine result %q)", ErrNoTransactionHash, engineResult)
	}

	c.logger.Info("Payment submitted via RPC fallback",
		zap.String("hash", hash),
		zap.String("engine_result", engineResult),
	)
	return &Settlement{Hash: hash, EngineResult: engineResult, Transport: "rpc"}, nil
}

// assemble fetches sequence, fee and the validity window, then builds the
// unsigned payment
func (c *Client) assemble(ctx context.Context, caller rpcCaller, destination string, tag *uint32, drops uint64) (*paymentTx, error) {
	raw, err := caller.call(ctx, "account_info", map[string]any{
		"account":      c.wallet.Address(),
		"ledger_index": "current",
		"strict":       true,
	})
	if err != nil {
		return nil, err
	}
	var accountInfo struct {
		AccountData struct {
			Sequence uint32 `json:"Sequence"`
		} `json:"account_data"`
	}
	if err := json.Unmarshal(raw, &accountInfo); err != nil {
		return nil, fmt.Errorf("account_info malformed: %w", err)
	}

	fee, err := c.fetchFee(ctx, caller)
	if err != nil {
		return nil, err
	}

	validated, err := c.fetchValidatedLedger(ctx, caller)
	if err != nil {
		return nil, err
	}

	return &paymentTx{
		Account:            c.wallet.Address(),
		Destination:        destination,
		DestinationTag:     tag,
		AmountDrops:        drops,
		FeeDrops:           fee,
		Sequence:           accountInfo.AccountData.Sequence,
		LastLedgerSequence: validated + ledgerWindow,
	}, nil
}

func (c *Client) fetchFee(ctx context.Context, caller rpcCaller) (uint64, error) {
	raw, err := caller.call(ctx, "fee", nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		Drops struct {
			OpenLedgerFee string `json:"open_ledger_fee"`
		} `json:"drops"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("fee malformed: %w", err)
	}
	fee, err := strconv.ParseUint(out.Drops.OpenLedgerFee, 10, 64)
	if err != nil || fee < minFeeDrops {
		return minFeeDrops, nil
	}
	return fee, nil
}

// fetchValidatedLedger reads the current validated ledger index, falling
// back to the tail of complete_ledgers when server_info omits it
func (c *Client) fetchValidatedLedger(ctx context.Context, caller rpcCaller) (uint32, error) {
	raw, err := caller.call(ctx, "server_info", nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		Info struct {
			ValidatedLedger struct {
				Seq uint32 `json:"seq"`
			} `json:"validated_ledger"`
			CompleteLedgers string `json:"complete_ledgers"`
		} `json:"info"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("server_info malformed: %w", err)
	}
	if out.Info.ValidatedLedger.Seq > 0 {
		return out.Info.ValidatedLedger.Seq, nil
	}
	if seq, ok := parseCompleteLedgers(out.Info.CompleteLedgers); ok {
		return seq, nil
	}
	return 0, fmt.Errorf("server_info carries no validated ledger index")
}

// parseCompleteLedgers extracts the newest ledger from ranges like
// "32570-62894" or "2-100,32570-62894"
func parseCompleteLedgers(ranges string) (uint32, bool) {
	ranges = strings.TrimSpace(ranges)
	if ranges == "" || ranges == "empty" {
		return 0, false
	}
	parts := strings.Split(ranges, ",")
	last := parts[len(parts)-1]
	if i := strings.LastIndex(last, "-"); i >= 0 {
		last = last[i+1:]
	}
	seq, err := strconv.ParseUint(strings.TrimSpace(last), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(seq), true
}

func parseSubmitResult(raw json.RawMessage) (engineResult, hash string, err error) {
	var out struct {
		EngineResult string `json:"engine_result"`
		TxJSON       struct {
			Hash string `json:"hash"`
		} `json:"tx_json"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", "", fmt.Errorf("submit response malformed: %w", err)
	}
	return out.EngineResult, out.TxJSON.Hash, nil
}
