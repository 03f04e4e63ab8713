// errors.go - Rejection taxonomy.

package ledger

import (
	"errors"
	"fmt"
)

// Rejection kinds. Every rejection returned by Engine.Apply matches exactly one of these
// through errors.Is. Store failures are returned wrapped and match none of them.
var (
	ErrReplay              = errors.New("replay: nonce mismatch")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrConservation        = errors.New("conservation violation")
	ErrInvalidAllowance    = errors.New("invalid allowance")
	ErrInvariantViolation  = errors.New("supply invariant violation")
	ErrMalformedParameters = errors.New("malformed parameters")
)

// ErrNotDeployed is returned when opening a store that has no parameters or metadata.
var ErrNotDeployed = errors.New("ledger: store not deployed")

// Error describes a rejected operation: which gate failed, of which kind, and why.
// Reasons name the failed check and never contain plaintext amounts or blindings.
type Error struct {
	Kind   error  // one of the Err* sentinels
	Gate   Stage  // stage the operation failed to reach
	Op     OpKind // operation kind, empty for non-operation checks
	Reason string
	Err    error // underlying cause, if any
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s rejected at %s: %s", e.Op, e.Gate, msg)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the rejection kind of err, or nil if err is not a ledger rejection.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrReplay,
		ErrUnauthorized,
		ErrConservation,
		ErrInvalidAllowance,
		ErrInvariantViolation,
		ErrMalformedParameters,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

func reject(kind error, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func malformed(reason string, cause error) *Error {
	return &Error{Kind: ErrMalformedParameters, Reason: reason, Err: cause}
}
