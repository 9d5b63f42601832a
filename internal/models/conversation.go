package models

import (
	"errors"
	"time"
)

// ConversationContext is the topic the system believes it is discussing with a
// patient, used to interpret ambiguous short replies.
type ConversationContext string

const (
	// ContextVerification covers identity/enrollment confirmation exchanges.
	ContextVerification ConversationContext = "verification"
	// ContextReminderConfirmation covers "did you take it / attend it" exchanges.
	ContextReminderConfirmation ConversationContext = "reminder_confirmation"
	// ContextGeneralInquiry covers open-ended health questions.
	ContextGeneralInquiry ConversationContext = "general_inquiry"
	// ContextEmergency covers exchanges flagged by emergency keywords.
	ContextEmergency ConversationContext = "emergency"
)

// MessageDirection marks who sent a conversation message.
type MessageDirection string

const (
	// DirectionInbound is a message from the patient.
	DirectionInbound MessageDirection = "inbound"
	// DirectionOutbound is a message from the engine.
	DirectionOutbound MessageDirection = "outbound"
)

// DefaultConversationTTL is the session window for a conversation state.
// Expiry is sliding: every recorded message renews it.
const DefaultConversationTTL = 24 * time.Hour

var (
	ErrInvalidContext   = errors.New("invalid conversation context")
	ErrInvalidDirection = errors.New("invalid message direction")
	ErrEmptyMessageBody = errors.New("message body cannot be empty")
)

// IsValidConversationContext checks if the given context is supported.
func IsValidConversationContext(c ConversationContext) bool {
	switch c {
	case ContextVerification, ContextReminderConfirmation, ContextGeneralInquiry, ContextEmergency:
		return true
	default:
		return false
	}
}

// IsValidMessageDirection checks if the given direction is supported.
func IsValidMessageDirection(d MessageDirection) bool {
	switch d {
	case DirectionInbound, DirectionOutbound:
		return true
	default:
		return false
	}
}

// ConversationState is the single active context window per patient.
type ConversationState struct {
	ID        string `json:"id"`
	PatientID string `json:"patient_id"`
	Phone     string `json:"phone"`

	CurrentContext    ConversationContext `json:"current_context"`
	RelatedEntityID   string              `json:"related_entity_id,omitempty"`
	RelatedEntityType string              `json:"related_entity_type,omitempty"`

	MessageCount  int    `json:"message_count"`
	InboundCount  int    `json:"inbound_count"`
	OutboundCount int    `json:"outbound_count"`
	LastMessage   string `json:"last_message,omitempty"`

	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	ExpiresAt     time.Time  `json:"expires_at"`
	IsActive      bool       `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the state's session window has passed.
func (s *ConversationState) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Validate validates a ConversationState before persistence.
func (s *ConversationState) Validate() error {
	if s.PatientID == "" {
		return ErrEmptyPatientID
	}
	if s.Phone == "" {
		return ErrEmptyPhone
	}
	if !IsValidConversationContext(s.CurrentContext) {
		return ErrInvalidContext
	}
	return nil
}

// ConversationMessage is one append-only history entry of a conversation.
// Never mutated after creation; ordering is by creation time.
type ConversationMessage struct {
	ID          string           `json:"id"`
	StateID     string           `json:"state_id"`
	Direction   MessageDirection `json:"direction"`
	MessageType string           `json:"message_type,omitempty"`
	Body        string           `json:"body"`

	DetectedIntent   string  `json:"detected_intent,omitempty"`
	IntentConfidence float64 `json:"intent_confidence,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate validates a ConversationMessage before persistence.
func (m *ConversationMessage) Validate() error {
	if !IsValidMessageDirection(m.Direction) {
		return ErrInvalidDirection
	}
	if m.Body == "" {
		return ErrEmptyMessageBody
	}
	return nil
}

// LinkResult is the outcome of linking an inbound reply to a pending followup.
type LinkResult struct {
	Success          bool    `json:"success"`
	Classification   string  `json:"classification"`
	Confidence       float64 `json:"confidence"`
	FollowupID       string  `json:"followup_id,omitempty"`
	RequiresFollowUp bool    `json:"requires_follow_up"`
	Emergency        bool    `json:"emergency"`
	Acknowledgment   string  `json:"acknowledgment,omitempty"`
}
