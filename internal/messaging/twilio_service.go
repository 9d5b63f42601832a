package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/SehatKit/KawalObat/internal/models"
	"github.com/SehatKit/KawalObat/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using the Twilio API.
// Inbound replies arrive via Twilio webhooks handled by the excluded HTTP
// layer, which feeds them into the responses channel through PushResponse.
type TwilioService struct {
	client    twiliowhatsapp.Sender
	responses chan models.Response
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

// NewTwilioService creates a new TwilioService with the given sender.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client:    client,
		responses: make(chan models.Response, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number by removing all non-numeric characters.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start is a no-op for Twilio; inbound traffic arrives via webhooks.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the response channel and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	close(s.responses)
	return nil
}

// SendMessage sends a message via Twilio and returns the message SID.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) (string, error) {
	slog.Debug("TwilioService SendMessage invoked", "to", to, "body_length", len(body))
	sid, err := s.client.SendMessage(ctx, to, body)
	if err != nil {
		slog.Error("TwilioService SendMessage error", "error", err, "to", to)
		return "", err
	}
	slog.Info("TwilioService message sent", "to", to, "sid", sid)
	return sid, nil
}

// Responses returns a channel of incoming patient replies.
func (s *TwilioService) Responses() <-chan models.Response {
	return s.responses
}

// PushResponse feeds an inbound reply (received via webhook) into the
// responses channel. Drops the message if the service has stopped.
func (s *TwilioService) PushResponse(resp models.Response) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("TwilioService dropping response after stop", "from", resp.From)
		return
	}
	select {
	case s.responses <- resp:
	default:
		slog.Warn("TwilioService responses channel full, dropping message", "from", resp.From)
	}
}
