package outbox

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the delivery status of a message.
type Status string

// Message statuses.
const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// ParseStatus validates and converts a raw status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether a message in status s may move to next.
// Pending messages stay pending while they are retried.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next.IsValid()
	default:
		return false
	}
}

// ValidateTransition returns ErrInvalidTransition if from cannot move to to.
func ValidateTransition(from, to Status) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Message is an outbound call persisted with the transaction that sent it.
type Message struct {
	ID            string
	Topic         string
	Service       string
	Function      string
	Payload       []byte
	TransactionID string
	Status        Status
	// Eligible is set once the owning transaction is known to have
	// committed. Only eligible messages are delivered.
	Eligible      bool
	RetryCount    int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SentAt        *time.Time
}

// NewMessage returns a pending message to target owned by transaction txID.
func NewMessage(target Target, payload []byte, txID string, now time.Time) *Message {
	now = now.UTC()
	return &Message{
		ID:            uuid.NewString(),
		Topic:         target.Topic,
		Service:       target.Service,
		Function:      target.Function,
		Payload:       payload,
		TransactionID: txID,
		Status:        StatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Target returns the destination of the message.
func (m *Message) Target() Target {
	return Target{Topic: m.Topic, Service: m.Service, Function: m.Function}
}
