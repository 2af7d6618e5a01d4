// Package ledger defines the contract with the distributed ledger that acts
// as the authoritative allocation record. The ledger itself is an external
// service; this package only names the operations and failure kinds the
// coordinators depend on.
package ledger

import (
	"context"
	"encoding/json"
)

// TxHandle identifies a submitted, not yet included transaction.
type TxHandle struct {
	Hash     string
	Contract string
	Method   string
}

// Receipt is the outcome of an included transaction.
type Receipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	FeeUsed     uint64 `json:"fee_used"`
}

// Event is one contract event delivered to subscribers. Events are delivered
// in block order and include transactions submitted by other writers.
type Event struct {
	TxHash      string          `json:"tx_hash"`
	BlockNumber uint64          `json:"block_number"`
	EventName   string          `json:"event_name"`
	Args        json.RawMessage `json:"args"`
}

// EventHandler receives contract events. Handlers must not block; slow
// consumers delay delivery for the whole subscription.
type EventHandler func(Event)

// Client submits and observes ledger transactions.
type Client interface {
	// Submit signs and submits a contract call on behalf of signerIdentity.
	// The fee estimate carries a safety margin so price movement between
	// estimation and inclusion does not require resubmission.
	Submit(ctx context.Context, contract, method string, args []any, signerIdentity string) (TxHandle, error)

	// AwaitInclusion blocks until the transaction is mined and returns its
	// receipt. A mined transaction with a failure status yields
	// ErrTransactionFailed.
	AwaitInclusion(ctx context.Context, tx TxHandle) (Receipt, error)

	// Subscribe registers a durable listener for the named contract event.
	Subscribe(contract, event string, handler EventHandler) error

	// Query performs a read-only contract call. No transaction, no fee.
	Query(ctx context.Context, contract, method string, args []any) (json.RawMessage, error)
}
