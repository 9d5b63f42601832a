// Package messaging provides the inbound reply pipeline: canonicalize the
// sender, resolve the patient, and hand the text to the confirmation linker.
package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/SehatKit/KawalObat/internal/models"
)

// ReplyLinker is the consumer-side interface of the confirmation linker.
type ReplyLinker interface {
	LinkConfirmationToReminder(ctx context.Context, patientID, phone, text string) *models.LinkResult
}

// PatientDirectory resolves a canonical phone number to a patient id. The
// patient master-data service is an external collaborator; this is its
// minimal read-only surface.
type PatientDirectory interface {
	PatientIDByPhone(ctx context.Context, phone string) (string, error)
}

// IdentityDirectory treats the canonical phone number as the patient id,
// matching deployments where patients are keyed by WhatsApp number.
type IdentityDirectory struct{}

// PatientIDByPhone returns the phone itself as the patient id.
func (IdentityDirectory) PatientIDByPhone(ctx context.Context, phone string) (string, error) {
	return phone, nil
}

// ResponseHandler consumes inbound replies from a messaging service and
// routes every one of them through the confirmation linker.
type ResponseHandler struct {
	msgService Service
	linker     ReplyLinker
	directory  PatientDirectory
}

// NewResponseHandler creates a ResponseHandler. A nil directory defaults to
// IdentityDirectory.
func NewResponseHandler(msgService Service, linker ReplyLinker, directory PatientDirectory) *ResponseHandler {
	if directory == nil {
		directory = IdentityDirectory{}
	}
	return &ResponseHandler{
		msgService: msgService,
		linker:     linker,
		directory:  directory,
	}
}

// ProcessResponse handles one inbound reply. The linker owns acknowledgment
// delivery (including its fallback); a Success=false result is logged here,
// not retried.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, response models.Response) error {
	canonicalFrom, err := rh.msgService.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		slog.Error("ResponseHandler sender validation failed", "error", err, "from", response.From)
		return fmt.Errorf("invalid sender: %w", err)
	}

	patientID, err := rh.directory.PatientIDByPhone(ctx, canonicalFrom)
	if err != nil {
		slog.Error("ResponseHandler patient lookup failed", "error", err, "from", canonicalFrom)
		return fmt.Errorf("patient lookup failed: %w", err)
	}

	slog.Debug("ResponseHandler linking reply", "patient", patientID, "body_length", len(response.Body))
	result := rh.linker.LinkConfirmationToReminder(ctx, patientID, canonicalFrom, response.Body)
	if !result.Success {
		slog.Error("ResponseHandler linking failed", "patient", patientID, "classification", result.Classification)
		return fmt.Errorf("linking failed for patient %s", patientID)
	}

	slog.Info("ResponseHandler reply processed", "patient", patientID, "classification", result.Classification, "followup", result.FollowupID, "emergency", result.Emergency)
	return nil
}

// Start begins processing replies from the messaging service until the
// context is cancelled or the responses channel closes.
func (rh *ResponseHandler) Start(ctx context.Context) {
	slog.Info("ResponseHandler starting response processing")

	go func() {
		defer slog.Info("ResponseHandler stopped response processing")

		for {
			select {
			case response, ok := <-rh.msgService.Responses():
				if !ok {
					slog.Debug("ResponseHandler responses channel closed")
					return
				}
				if err := rh.ProcessResponse(ctx, response); err != nil {
					slog.Error("ResponseHandler failed to process response", "error", err, "from", response.From)
				}

			case <-ctx.Done():
				slog.Debug("ResponseHandler stopping due to context cancellation")
				return
			}
		}
	}()
}
