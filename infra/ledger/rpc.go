package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	coreledger "github.com/reliefops/aidchain/core/ledger"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is a ledger-reported failure. It is not a transport error and is
// never retried.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("ledger rpc error %d: %s", e.Code, e.Message)
}

var revertRe = regexp.MustCompile(`revert(?:ed)?[:\s]+(.+)`)

// classify maps a gateway error onto the core taxonomy. Revert-reason
// extraction is best effort: a payload without the expected pattern becomes
// a rejection with reason "unknown" rather than a decoding failure.
func classify(err *rpcError) error {
	msg := strings.ToLower(err.Message + " " + err.Data)
	switch {
	case strings.Contains(msg, "insufficient funds"), strings.Contains(msg, "insufficient balance"):
		return coreledger.ErrInsufficientFunds
	case strings.Contains(msg, "revert"):
		if m := revertRe.FindStringSubmatch(err.Message + " " + err.Data); len(m) == 2 {
			return coreledger.Rejected(strings.TrimSpace(m[1]))
		}
		return coreledger.Rejected("unknown")
	case strings.Contains(msg, "not found"):
		return coreledger.ErrNotFound
	default:
		return err
	}
}

var rpcID atomic.Int64

// call performs one JSON-RPC request. Transport failures are retried a
// bounded number of times with fixed backoff, then surfaced as
// ErrLedgerUnreachable. Gateway errors pass through classify exactly once.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      rpcID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff):
			}
		}
		resp, err := c.post(ctx, body)
		if err != nil {
			lastErr = err
			c.log.Warnf("rpc %s attempt %d failed: %v", method, attempt+1, err)
			continue
		}
		if resp.Error != nil {
			return classify(resp.Error)
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(resp.Result, out)
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", coreledger.ErrLedgerUnreachable, method, c.maxRetries+1, lastErr)
}

func (c *Client) post(ctx context.Context, body []byte) (*rpcResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.auth != nil {
		if err := c.auth.setAuthHeader(ctx, req); err != nil {
			return nil, err
		}
	}
	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway status %d", httpResp.StatusCode)
	}
	var resp rpcResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}
