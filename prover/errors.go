package prover

import (
	"fmt"

	"github.com/teeprover/teeprover/types"
)

// JSON-RPC error codes surfaced to submitters.
const (
	CodeBatchParseError   = 14001
	CodeWitnessBuildError = 14004
	CodeProveError        = 15001
	// CodeTryAgain is the rate-limiting sentinel: the request was not
	// processed and may simply be retried.
	CodeTryAgain = 10000
)

// RPCError pairs an internal failure with its user-visible numeric code.
type RPCError struct {
	Code int
	Err  error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %v", e.Code, e.Err)
}

func (e *RPCError) Unwrap() error { return e.Err }

// WrapRPC attaches a code to an error, passing nil through.
func WrapRPC(code int, err error) error {
	if err == nil {
		return nil
	}
	return &RPCError{Code: code, Err: err}
}

// StateRootMismatchError reports a post-execution root disagreeing with the
// reference block.
type StateRootMismatchError struct {
	Local  types.Hash
	Remote types.Hash
}

func (e *StateRootMismatchError) Error() string {
	return fmt.Sprintf("prover: state root mismatch: local %s, remote %s", e.Local, e.Remote)
}

// WithdrawalRootMismatchError reports a withdrawal root disagreeing with the
// reference block.
type WithdrawalRootMismatchError struct {
	Local  types.Hash
	Remote types.Hash
}

func (e *WithdrawalRootMismatchError) Error() string {
	return fmt.Sprintf("prover: withdrawal root mismatch: local %s, remote %s", e.Local, e.Remote)
}
