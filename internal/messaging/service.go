package messaging

import (
	"context"

	"github.com/SehatKit/KawalObat/internal/models"
)

// Service defines a pluggable message delivery abstraction.
// It supports sending messages, and provides a channel of inbound replies.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier. Returns the canonicalized recipient and an error if
	// validation fails. Each service implements its own rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient and returns the provider
	// message id when the channel reports one. Sends are at-least-once:
	// callers must tolerate duplicates when a previous attempt's outcome
	// is unknown.
	SendMessage(ctx context.Context, to string, body string) (string, error)

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Responses returns a channel of incoming patient replies.
	Responses() <-chan models.Response
}
