package ledger

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

// rpcCaller issues one ledger API call and returns the raw result object
type rpcCaller interface {
	call(ctx context.Context, command string, params map[string]any) (json.RawMessage, error)
}

// httpCaller is the stateless fallback transport: one JSON-RPC POST per call
type httpCaller struct {
	h    *http.Client
	base string
}

func newHTTPCaller(baseURL string) *httpCaller {
	return &httpCaller{
		h: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   20 * time.Second,
		},
		base: baseURL,
	}
}

type jsonRPCRequest struct {
	Method string           `json:"method"`
	Params []map[string]any `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
}

func (c *httpCaller) call(ctx context.Context, command string, params map[string]any) (json.RawMessage, error) {
	reqBody := jsonRPCRequest{Method: command}
	if params != nil {
		reqBody.Params = []map[string]any{params}
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.h.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", command, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s returned %d: %s", command, resp.StatusCode, string(b))
	}

	var out jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s response malformed: %w", command, err)
	}
	if err := checkResultStatus(command, out.Result); err != nil {
		return nil, err
	}
	return out.Result, nil
}

// checkResultStatus rejects results whose embedded status reports an error
func checkResultStatus(command string, result json.RawMessage) error {
	var probe struct {
		Status       string `json:"status"`
		ErrorMessage string `json:"error_message"`
		Error        string `json:"error"`
	}
	if err := json.Unmarshal(result, &probe); err != nil {
		return fmt.Errorf("%s result malformed: %w", command, err)
	}
	if probe.Status == "error" || probe.Error != "" {
		msg := probe.ErrorMessage
		if msg == "" {
			msg = probe.Error
		}
		return fmt.Errorf("%s rejected: %s", command, msg)
	}
	return nil
}
