package outbox

import "errors"

var (
	ErrStoreRequired      = errors.New("outbox: store is required")
	ErrPublisherRequired  = errors.New("outbox: publisher is required")
	ErrRelayRunning       = errors.New("outbox: relay is already running")
	ErrInvalidStatus      = errors.New("outbox: invalid status")
	ErrInvalidTransition  = errors.New("outbox: invalid status transition")
	ErrMessageNotFound    = errors.New("outbox: message not found")
	ErrUnsupportedDialect = errors.New("outbox: dialect cannot store messages")
	ErrAdapterMismatch    = errors.New("outbox: store does not write through the transaction manager's adapter")
	ErrForeignSession     = errors.New("outbox: transaction session belongs to another adapter")
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a publish error as not worth retrying. The relay marks
// the message failed right away.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
