package strata

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-openapi/inflect"
)

// Kind classifies an Error. The set of kinds is closed.
type Kind string

// Error kinds reported by every public operation.
const (
	// KindInvalidArgument reports malformed identifiers, incompatible page
	// tokens or directions, and cross-service arguments that fail validation.
	KindInvalidArgument Kind = "INVALID_ARGUMENT"

	// KindEntityNotFound reports a by-id fetch that matched no rows.
	KindEntityNotFound Kind = "ENTITY_NOT_FOUND"

	// KindTransactionFailure reports a failed begin, commit or rollback.
	// It is always fatal to the call chain.
	KindTransactionFailure Kind = "TRANSACTION_FAILURE"

	// KindStoreFailure reports a statement the data store failed to execute.
	KindStoreFailure Kind = "STORE_FAILURE"
)

// Standard sentinel errors, one per Kind.
var (
	// ErrInvalidArgument matches every Error of KindInvalidArgument.
	ErrInvalidArgument = errors.New("strata: invalid argument")

	// ErrNotFound matches every Error of KindEntityNotFound.
	ErrNotFound = errors.New("strata: entity not found")

	// ErrTransactionFailure matches every Error of KindTransactionFailure.
	ErrTransactionFailure = errors.New("strata: transaction failure")

	// ErrStoreFailure matches every Error of KindStoreFailure.
	ErrStoreFailure = errors.New("strata: store failure")
)

var sentinels = map[Kind]error{
	KindInvalidArgument:    ErrInvalidArgument,
	KindEntityNotFound:     ErrNotFound,
	KindTransactionFailure: ErrTransactionFailure,
	KindStoreFailure:       ErrStoreFailure,
}

// Error is the typed error returned by every public operation.
type Error struct {
	Kind       Kind     // Classification of the failure
	Message    string   // Human readable description
	RelatedIDs []string // Entity ids the failure refers to, if any
	Err        error    // Underlying cause, if any
}

// Error returns the error string.
func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("strata: %s: %v", e.Kind, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("strata: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("strata: %s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the target is the sentinel of the error kind.
// This allows errors.Is(err, ErrNotFound) to return true for not-found errors.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && target == s
}

// InvalidArgument returns a new Error of KindInvalidArgument.
func InvalidArgument(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a new Error of KindEntityNotFound naming every requested id.
func NotFound(entity string, ids []string) *Error {
	related := make([]string, len(ids))
	copy(related, ids)
	return &Error{
		Kind:       KindEntityNotFound,
		Message:    fmt.Sprintf("%s with ids %s not found", inflect.Pluralize(entity), strings.Join(ids, ", ")),
		RelatedIDs: related,
	}
}

// TransactionFailure returns a new Error of KindTransactionFailure
// wrapping the failure of the given transaction operation.
func TransactionFailure(op string, err error) *Error {
	return &Error{Kind: KindTransactionFailure, Message: op, Err: err}
}

// StoreFailure returns a new Error of KindStoreFailure wrapping the
// original store error.
func StoreFailure(op string, err error) *Error {
	return &Error{Kind: KindStoreFailure, Message: op, Err: err}
}

// AsError converts err to an *Error. Errors that do not carry a Kind are
// reported as store failures. It returns nil for a nil error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return StoreFailure("", err)
}

// KindOf returns the Kind of err, or an empty Kind if err is nil.
func KindOf(err error) Kind {
	if e := AsError(err); e != nil {
		return e.Kind
	}
	return ""
}

// IsInvalidArgument returns true if the error is an invalid argument error.
func IsInvalidArgument(err error) bool {
	return isKind(err, KindInvalidArgument)
}

// IsNotFound returns true if the error is an entity not found error.
func IsNotFound(err error) bool {
	return isKind(err, KindEntityNotFound)
}

// IsTransactionFailure returns true if the error is a transaction failure.
func IsTransactionFailure(err error) bool {
	return isKind(err, KindTransactionFailure)
}

// IsStoreFailure returns true if the error is a store failure.
func IsStoreFailure(err error) bool {
	return isKind(err, KindStoreFailure)
}

func isKind(err error, k Kind) bool {
	if err == nil {
		return false
	}
	var e *Error
	return (errors.As(err, &e) && e.Kind == k) || errors.Is(err, sentinels[k])
}

// AggregateError represents multiple errors collected during an operation.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "strata: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("strata: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}
