package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	coreledger "github.com/reliefops/aidchain/core/ledger"
	"github.com/reliefops/aidchain/core/logger"
)

// Config holds the gateway connection settings.
type Config struct {
	Endpoint       string            `json:"endpoint"`
	FeeMarginPct   int               `json:"fee_margin_pct"`
	MaxRetries     int               `json:"max_retries"`
	BackoffMS      int               `json:"backoff_ms"`
	PollIntervalMS int               `json:"poll_interval_ms"`
	Contracts      map[string]string `json:"contracts"`
	Auth           AuthConfig        `json:"auth"`
}

func (c *Config) SetDefaults() {
	if c.FeeMarginPct == 0 {
		c.FeeMarginPct = 20
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS == 0 {
		c.BackoffMS = 200
	}
	if c.PollIntervalMS == 0 {
		c.PollIntervalMS = 500
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("ledger endpoint is required")
	}
	return nil
}

// signer is the gateway-side signing identity resolved for a wallet address.
// Resolutions are cached for the lifetime of the client; the cache is
// unbounded because the set of operator identities is small and fixed.
type signer struct {
	Identity string
	Address  string `json:"address"`
}

// Client talks to a ledger contract gateway over JSON-RPC 2.0 and implements
// coreledger.Client.
type Client struct {
	endpoint     string
	http         *http.Client
	feeMarginPct uint64
	maxRetries   int
	backoff      time.Duration
	pollInterval time.Duration
	contracts    map[string]string
	auth         *clientCred
	log          logger.Logger

	mu      sync.Mutex
	signers map[string]*signer
	subs    []*subscription
	cursors map[string]uint64
}

func New(cfg Config, log logger.Logger) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var auth *clientCred
	if cfg.Auth.Enabled() {
		auth = newClientCred(cfg.Auth)
	}
	return &Client{
		endpoint:     cfg.Endpoint,
		auth:         auth,
		http:         &http.Client{Timeout: 10 * time.Second},
		feeMarginPct: uint64(cfg.FeeMarginPct),
		maxRetries:   cfg.MaxRetries,
		backoff:      time.Duration(cfg.BackoffMS) * time.Millisecond,
		pollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		contracts:    cfg.Contracts,
		log:          log,
		signers:      make(map[string]*signer),
		cursors:      make(map[string]uint64),
	}, nil
}

func (c *Client) contractAddress(name string) string {
	if addr, ok := c.contracts[name]; ok {
		return addr
	}
	return name
}

func (c *Client) signerFor(ctx context.Context, identity string) (*signer, error) {
	c.mu.Lock()
	if s, ok := c.signers[identity]; ok {
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	s := &signer{Identity: identity}
	err := c.call(ctx, "signer.resolve", map[string]any{"identity": identity}, s)
	if err != nil {
		return nil, fmt.Errorf("resolve signer %s: %w", identity, err)
	}

	c.mu.Lock()
	c.signers[identity] = s
	c.mu.Unlock()
	return s, nil
}

// Submit estimates the fee for the call, applies the safety margin, verifies
// the signer can cover it, and hands the transaction to the gateway.
func (c *Client) Submit(ctx context.Context, contract, method string, args []any, signerIdentity string) (coreledger.TxHandle, error) {
	var zero coreledger.TxHandle
	s, err := c.signerFor(ctx, signerIdentity)
	if err != nil {
		return zero, err
	}
	addr := c.contractAddress(contract)

	var est struct {
		Units uint64 `json:"units"`
	}
	if err := c.call(ctx, "fee.estimate", map[string]any{
		"contract": addr, "method": method, "args": args, "signer": s.Address,
	}, &est); err != nil {
		return zero, fmt.Errorf("estimate fee: %w", err)
	}
	feeLimit := est.Units * (100 + c.feeMarginPct) / 100

	var price struct {
		PerUnit uint64 `json:"per_unit"`
	}
	if err := c.call(ctx, "fee.price", nil, &price); err != nil {
		return zero, fmt.Errorf("fee price: %w", err)
	}

	var bal struct {
		Balance uint64 `json:"balance"`
	}
	if err := c.call(ctx, "account.balance", map[string]any{"address": s.Address}, &bal); err != nil {
		return zero, fmt.Errorf("account balance: %w", err)
	}
	if bal.Balance < feeLimit*price.PerUnit {
		return zero, fmt.Errorf("signer %s: %w", signerIdentity, coreledger.ErrInsufficientFunds)
	}

	var sub struct {
		TxHash string `json:"tx_hash"`
	}
	if err := c.call(ctx, "contract.submit", map[string]any{
		"contract":  addr,
		"method":    method,
		"args":      args,
		"signer":    s.Address,
		"fee_limit": feeLimit,
		"fee_price": price.PerUnit,
	}, &sub); err != nil {
		return zero, err
	}
	c.log.Infof("submitted %s.%s tx=%s fee_limit=%d", contract, method, sub.TxHash, feeLimit)
	return coreledger.TxHandle{Hash: sub.TxHash, Contract: contract, Method: method}, nil
}

// AwaitInclusion polls the gateway until the transaction has a receipt.
func (c *Client) AwaitInclusion(ctx context.Context, tx coreledger.TxHandle) (coreledger.Receipt, error) {
	var zero coreledger.Receipt
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		var rec struct {
			Status      int    `json:"status"`
			BlockNumber uint64 `json:"block_number"`
			FeeUsed     uint64 `json:"fee_used"`
		}
		err := c.call(ctx, "tx.receipt", map[string]any{"tx_hash": tx.Hash}, &rec)
		switch {
		case err == nil && rec.BlockNumber > 0:
			if rec.Status != 1 {
				return zero, fmt.Errorf("tx %s: %w", tx.Hash, coreledger.ErrTransactionFailed)
			}
			return coreledger.Receipt{TxHash: tx.Hash, BlockNumber: rec.BlockNumber, FeeUsed: rec.FeeUsed}, nil
		case err != nil && !isPending(err):
			return zero, err
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-ticker.C:
		}
	}
}

// isPending reports whether the receipt lookup failed only because the
// transaction has not been included yet.
func isPending(err error) bool {
	return errors.Is(err, coreledger.ErrNotFound)
}

// Query performs a read-only contract call.
func (c *Client) Query(ctx context.Context, contract, method string, args []any) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.call(ctx, "contract.call", map[string]any{
		"contract": c.contractAddress(contract), "method": method, "args": args,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}
