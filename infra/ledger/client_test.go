package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	coreledger "github.com/reliefops/aidchain/core/ledger"
	"github.com/reliefops/aidchain/infra/logger"
)

// fakeGateway is a JSON-RPC 2.0 endpoint whose method behavior is set per
// test.
type fakeGateway struct {
	mu      sync.Mutex
	handler map[string]func(params json.RawMessage) (any, *rpcError)
	calls   map[string]int
	srv     *httptest.Server
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{
		handler: make(map[string]func(json.RawMessage) (any, *rpcError)),
		calls:   make(map[string]int),
	}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		var raw struct {
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		req.ID, req.Method = raw.ID, raw.Method

		g.mu.Lock()
		g.calls[req.Method]++
		h, ok := g.handler[req.Method]
		g.mu.Unlock()
		require.True(t, ok, "unexpected rpc method %s", req.Method)

		result, rpcErr := h(raw.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) on(method string, h func(json.RawMessage) (any, *rpcError)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handler[method] = h
}

func (g *fakeGateway) count(method string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[method]
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	cli, err := New(Config{
		Endpoint:       endpoint,
		BackoffMS:      1,
		PollIntervalMS: 1,
		Contracts:      map[string]string{"Allocation": "0xA110C"},
	}, logger.NopLogger{})
	require.NoError(t, err)
	return cli
}

func withSubmitPath(g *fakeGateway, balance uint64) {
	g.on("signer.resolve", func(json.RawMessage) (any, *rpcError) {
		return map[string]string{"address": "0xFE11"}, nil
	})
	g.on("fee.estimate", func(json.RawMessage) (any, *rpcError) {
		return map[string]uint64{"units": 100}, nil
	})
	g.on("fee.price", func(json.RawMessage) (any, *rpcError) {
		return map[string]uint64{"per_unit": 2}, nil
	})
	g.on("account.balance", func(json.RawMessage) (any, *rpcError) {
		return map[string]uint64{"balance": balance}, nil
	})
}

func TestSubmitAppliesFeeMargin(t *testing.T) {
	g := newFakeGateway(t)
	withSubmitPath(g, 1_000_000)

	var got struct {
		Contract string `json:"contract"`
		FeeLimit uint64 `json:"fee_limit"`
		FeePrice uint64 `json:"fee_price"`
		Signer   string `json:"signer"`
	}
	g.on("contract.submit", func(params json.RawMessage) (any, *rpcError) {
		require.NoError(t, json.Unmarshal(params, &got))
		return map[string]string{"tx_hash": "0xbeef"}, nil
	})

	cli := newTestClient(t, g.srv.URL)
	tx, err := cli.Submit(context.Background(), "Allocation", "allocateResources", []any{"disaster-1"}, "relief-ops")
	require.NoError(t, err)
	require.Equal(t, "0xbeef", tx.Hash)
	require.Equal(t, "Allocation", tx.Contract)
	// 100 estimated units with the default 20% margin.
	require.Equal(t, uint64(120), got.FeeLimit)
	require.Equal(t, uint64(2), got.FeePrice)
	require.Equal(t, "0xA110C", got.Contract)
	require.Equal(t, "0xFE11", got.Signer)
}

func TestSubmitSignerCached(t *testing.T) {
	g := newFakeGateway(t)
	withSubmitPath(g, 1_000_000)
	g.on("contract.submit", func(json.RawMessage) (any, *rpcError) {
		return map[string]string{"tx_hash": "0x1"}, nil
	})

	cli := newTestClient(t, g.srv.URL)
	for i := 0; i < 3; i++ {
		_, err := cli.Submit(context.Background(), "Allocation", "allocateResources", nil, "relief-ops")
		require.NoError(t, err)
	}
	require.Equal(t, 1, g.count("signer.resolve"))
}

func TestSubmitInsufficientFunds(t *testing.T) {
	g := newFakeGateway(t)
	withSubmitPath(g, 10) // well below 120 units * 2 per unit

	cli := newTestClient(t, g.srv.URL)
	_, err := cli.Submit(context.Background(), "Allocation", "allocateResources", nil, "relief-ops")
	require.ErrorIs(t, err, coreledger.ErrInsufficientFunds)
	require.Zero(t, g.count("contract.submit"))
}

func TestSubmitRevertReason(t *testing.T) {
	g := newFakeGateway(t)
	withSubmitPath(g, 1_000_000)
	g.on("contract.submit", func(json.RawMessage) (any, *rpcError) {
		return nil, &rpcError{Code: -32000, Message: "execution reverted: resource already allocated"}
	})

	cli := newTestClient(t, g.srv.URL)
	_, err := cli.Submit(context.Background(), "Allocation", "allocateResources", nil, "relief-ops")
	var rej *coreledger.ContractRejectedError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, "resource already allocated", rej.Reason)
}

func TestSubmitRevertWithoutReason(t *testing.T) {
	g := newFakeGateway(t)
	withSubmitPath(g, 1_000_000)
	g.on("contract.submit", func(json.RawMessage) (any, *rpcError) {
		return nil, &rpcError{Code: -32000, Message: "execution reverted"}
	})

	cli := newTestClient(t, g.srv.URL)
	_, err := cli.Submit(context.Background(), "Allocation", "allocateResources", nil, "relief-ops")
	var rej *coreledger.ContractRejectedError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, "unknown", rej.Reason)
}

func TestCallRetriesThenUnreachable(t *testing.T) {
	g := newFakeGateway(t)
	cli := newTestClient(t, g.srv.URL)
	g.srv.Close()

	_, err := cli.Query(context.Background(), "Allocation", "getResourceStatus", []any{"res-1"})
	require.ErrorIs(t, err, coreledger.ErrLedgerUnreachable)
}

func TestAwaitInclusionPollsUntilReceipt(t *testing.T) {
	g := newFakeGateway(t)
	polls := 0
	g.on("tx.receipt", func(json.RawMessage) (any, *rpcError) {
		polls++
		if polls < 3 {
			return nil, &rpcError{Code: -32001, Message: "transaction not found"}
		}
		return map[string]uint64{"status": 1, "block_number": 42, "fee_used": 90}, nil
	})

	cli := newTestClient(t, g.srv.URL)
	rec, err := cli.AwaitInclusion(context.Background(), coreledger.TxHandle{Hash: "0xbeef"})
	require.NoError(t, err)
	require.Equal(t, uint64(42), rec.BlockNumber)
	require.Equal(t, uint64(90), rec.FeeUsed)
	require.Equal(t, 3, polls)
}

func TestAwaitInclusionRevertedTx(t *testing.T) {
	g := newFakeGateway(t)
	g.on("tx.receipt", func(json.RawMessage) (any, *rpcError) {
		return map[string]uint64{"status": 0, "block_number": 42}, nil
	})

	cli := newTestClient(t, g.srv.URL)
	_, err := cli.AwaitInclusion(context.Background(), coreledger.TxHandle{Hash: "0xdead"})
	require.ErrorIs(t, err, coreledger.ErrTransactionFailed)
}

func TestAwaitInclusionContextCancel(t *testing.T) {
	g := newFakeGateway(t)
	g.on("tx.receipt", func(json.RawMessage) (any, *rpcError) {
		return nil, &rpcError{Code: -32001, Message: "transaction not found"}
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cli := newTestClient(t, g.srv.URL)
	_, err := cli.AwaitInclusion(ctx, coreledger.TxHandle{Hash: "0x1"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueryNotFound(t *testing.T) {
	g := newFakeGateway(t)
	g.on("contract.call", func(json.RawMessage) (any, *rpcError) {
		return nil, &rpcError{Code: -32002, Message: "resource not found"}
	})

	cli := newTestClient(t, g.srv.URL)
	_, err := cli.Query(context.Background(), "Allocation", "getResourceStatus", []any{"missing"})
	require.ErrorIs(t, err, coreledger.ErrNotFound)
}

func TestEventPollingOrderAndCursor(t *testing.T) {
	g := newFakeGateway(t)
	var fromBlocks []uint64
	g.on("logs.range", func(params json.RawMessage) (any, *rpcError) {
		var p struct {
			FromBlock uint64 `json:"from_block"`
		}
		require.NoError(t, json.Unmarshal(params, &p))
		fromBlocks = append(fromBlocks, p.FromBlock)
		if p.FromBlock > 6 {
			return []any{}, nil
		}
		return []map[string]any{
			{"tx_hash": "0x1", "block_number": 5, "event_name": "ResourcesAllocated", "args": json.RawMessage(`{"resourceId":"res-1"}`)},
			{"tx_hash": "0x2", "block_number": 6, "event_name": "ResourcesAllocated", "args": json.RawMessage(`{"resourceId":"res-2"}`)},
			{"tx_hash": "0x3", "block_number": 6, "event_name": "DeliveryStatusUpdated", "args": json.RawMessage(`{}`)},
		}, nil
	})

	cli := newTestClient(t, g.srv.URL)
	var seen []coreledger.Event
	require.NoError(t, cli.Subscribe("Allocation", "ResourcesAllocated", func(ev coreledger.Event) {
		seen = append(seen, ev)
	}))

	cli.pollOnce(context.Background())
	cli.pollOnce(context.Background())

	require.Len(t, seen, 2)
	require.Equal(t, uint64(5), seen[0].BlockNumber)
	require.Equal(t, uint64(6), seen[1].BlockNumber)
	// The cursor advanced past the delivered blocks on the second poll.
	require.Equal(t, []uint64{0, 7}, fromBlocks)
}

func TestEventDeliveryFiltersByName(t *testing.T) {
	g := newFakeGateway(t)
	g.on("logs.range", func(json.RawMessage) (any, *rpcError) {
		return []map[string]any{
			{"tx_hash": "0x9", "block_number": 3, "event_name": "DeliveryStatusUpdated", "args": json.RawMessage(`{}`)},
		}, nil
	})

	cli := newTestClient(t, g.srv.URL)
	allocated := 0
	delivered := 0
	require.NoError(t, cli.Subscribe("Allocation", "ResourcesAllocated", func(coreledger.Event) { allocated++ }))
	require.NoError(t, cli.Subscribe("Allocation", "DeliveryStatusUpdated", func(coreledger.Event) { delivered++ }))

	cli.pollOnce(context.Background())
	require.Zero(t, allocated)
	require.Equal(t, 1, delivered)
}

func TestConfigValidate(t *testing.T) {
	_, err := New(Config{}, logger.NopLogger{})
	require.ErrorContains(t, err, "endpoint")
}
