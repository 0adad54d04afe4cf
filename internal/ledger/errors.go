package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound = errors.New("ledger: account not found")
	ErrTxNotFound      = errors.New("ledger: transaction not found")
	ErrTxExpired       = errors.New("ledger: transaction expired before validation")
	ErrClosed          = errors.New("ledger: client closed")
)

// RPCError is an error response returned by the node.
type RPCError struct {
	Code    string
	Message string
}

func (e *RPCError) Error() string {
	if e.Message == "" {
		return "ledger: " + e.Code
	}
	return fmt.Sprintf("ledger: %s: %s", e.Code, e.Message)
}

func (e *RPCError) Is(target error) bool {
	switch target {
	case ErrAccountNotFound:
		return e.Code == "actNotFound"
	case ErrTxNotFound:
		return e.Code == "txnNotFound"
	}
	return false
}

// SubmitError carries the engine result of a transaction the ledger refused
// or applied with a failure code.
type SubmitError struct {
	Result  string
	Message string
	Hash    string
}

func (e *SubmitError) Error() string {
	if e.Message == "" {
		return "ledger: transaction failed: " + e.Result
	}
	return fmt.Sprintf("ledger: transaction failed: %s: %s", e.Result, e.Message)
}
