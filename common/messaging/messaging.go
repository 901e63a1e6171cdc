// Package messaging provides abstractions for message broker communication.
// It defines the message envelope and handler contract shared by publishers
// and consumers without coupling them to a specific broker implementation.
package messaging

import (
	"context"
	"errors"
	"time"
)

// Message represents a message received from or sent to a message broker.
type Message struct {
	// Subject is the topic/channel the message was published to.
	Subject string

	// Data is the raw message payload.
	Data []byte

	// Metadata contains optional key-value pairs for message headers.
	Metadata map[string]string

	// Timestamp is when the message was published.
	Timestamp time.Time

	// Deliveries is how many times the broker has delivered this message,
	// including the current delivery. Zero when the broker does not track it.
	Deliveries uint64
}

// MessageHandler processes a received message.
// Returning an error requests redelivery unless the error is marked with
// Terminal, in which case the message is discarded.
type MessageHandler func(ctx context.Context, msg *Message) error

// Publisher publishes messages to subjects.
type Publisher interface {
	// PublishMsg sends a Message with full control over headers and metadata.
	PublishMsg(ctx context.Context, msg *Message) error

	// Close releases any resources held by the publisher.
	Close() error
}

// Header names carried on ingestion messages.
const (
	HeaderTenantID = "Finops-Tenant-Id"
	HeaderJobID    = "Finops-Job-Id"
)

type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks err as non-retryable. Consumers acknowledge a message whose
// handler failed with a terminal error as permanently failed instead of
// scheduling redelivery.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err (or any error it wraps) was marked Terminal.
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}
