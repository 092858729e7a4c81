package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// streamCaller is the primary transport: one persistent websocket connection
// carrying correlated request/response pairs. Unsolicited stream messages
// arriving between responses are skipped.
type streamCaller struct {
	conn   *websocket.Conn
	nextID int
}

func dialStream(ctx context.Context, url string) (*streamCaller, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial ledger stream %s: %w", url, err)
	}
	return &streamCaller{conn: conn}, nil
}

type streamResponse struct {
	ID     int             `json:"id"`
	Type   string          `json:"type"`
	Status string          `json:"status"`
	Error  string          `json:"error"`
	Result json.RawMessage `json:"result"`
}

func (s *streamCaller) call(ctx context.Context, command string, params map[string]any) (json.RawMessage, error) {
	s.nextID++
	id := s.nextID

	req := map[string]any{"id": id, "command": command}
	for k, v := range params {
		req[k] = v
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
		_ = s.conn.SetReadDeadline(deadline)
	}
	if err := s.conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("%s write failed: %w", command, err)
	}

	for {
		var resp streamResponse
		if err := s.conn.ReadJSON(&resp); err != nil {
			return nil, fmt.Errorf("%s read failed: %w", command, err)
		}
		if resp.Type != "response" || resp.ID != id {
			// ledgerClosed and other stream events are not ours to handle here
			continue
		}
		if resp.Status != "success" {
			msg := resp.Error
			if msg == "" {
				msg = resp.Status
			}
			return nil, fmt.Errorf("%s rejected: %s", command, msg)
		}
		return resp.Result, nil
	}
}

func (s *streamCaller) close() error {
	return s.conn.Close()
}

// waitValidated polls the transaction over the open stream until the ledger
// validates it or the transaction can no longer make it into a ledger.
func (s *streamCaller) waitValidated(ctx context.Context, hash string, lastLedgerSequence uint32) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("validation wait aborted: %w", ctx.Err())
		case <-time.After(time.Second):
		}

		raw, err := s.call(ctx, "tx", map[string]any{"transaction": hash})
		if err == nil {
			var tx struct {
				Validated bool `json:"validated"`
				Meta      struct {
					TransactionResult string `json:"TransactionResult"`
				} `json:"meta"`
			}
			if err := json.Unmarshal(raw, &tx); err != nil {
				return "", err
			}
			if tx.Validated {
				return tx.Meta.TransactionResult, nil
			}
		}

		// Not found or not yet validated: check whether the window closed
		current, err := s.validatedLedgerIndex(ctx)
		if err != nil {
			return "", err
		}
		if current > lastLedgerSequence {
			return "", fmt.Errorf("transaction %s expired after ledger %d without validation", hash, lastLedgerSequence)
		}
	}
}

func (s *streamCaller) validatedLedgerIndex(ctx context.Context) (uint32, error) {
	raw, err := s.call(ctx, "ledger", map[string]any{"ledger_index": "validated"})
	if err != nil {
		return 0, err
	}
	var out struct {
		LedgerIndex uint32 `json:"ledger_index"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, err
	}
	return out.LedgerIndex, nil
}
