package ledger

import (
	"errors"
	"fmt"
)

// Failure kinds surfaced by Client implementations. Callers classify with
// errors.Is/errors.As; nothing in this package is retried implicitly.
var (
	// ErrInsufficientFunds means the signer's balance cannot cover the
	// estimated transaction cost. Terminal for the intent.
	ErrInsufficientFunds = errors.New("insufficient balance for transaction")

	// ErrLedgerUnreachable means the ledger endpoint could not be reached
	// after the client exhausted its bounded reconnect attempts.
	ErrLedgerUnreachable = errors.New("ledger unreachable")

	// ErrTransactionFailed means a transaction was mined but the ledger
	// reported a non-success status.
	ErrTransactionFailed = errors.New("transaction failed after inclusion")

	// ErrNotFound means the ledger has no record for the queried key.
	ErrNotFound = errors.New("ledger record not found")
)

// ContractRejectedError carries the revert reason reported by the contract.
// Reason extraction is best effort; when the payload lacks the expected
// pattern the reason is "unknown".
type ContractRejectedError struct {
	Reason string
}

func (e *ContractRejectedError) Error() string {
	return fmt.Sprintf("contract rejected: %s", e.Reason)
}

// Rejected wraps a revert reason, defaulting to "unknown".
func Rejected(reason string) *ContractRejectedError {
	if reason == "" {
		reason = "unknown"
	}
	return &ContractRejectedError{Reason: reason}
}
