// Package models defines the core data structures for KawalObat.
//
// It includes the followup record, conversation state, and the request/result
// types shared across modules.
package models

import (
	"errors"
	"time"
)

// ReminderType classifies the reminder a followup refers to.
type ReminderType string

const (
	// ReminderTypeMedication is a medication intake reminder.
	ReminderTypeMedication ReminderType = "medication"
	// ReminderTypeAppointment is a clinic/doctor appointment reminder.
	ReminderTypeAppointment ReminderType = "appointment"
	// ReminderTypeGeneral is any other health task reminder.
	ReminderTypeGeneral ReminderType = "general"
)

// ReminderPriority adjusts followup cadence.
type ReminderPriority string

const (
	// PriorityLow stretches followup offsets.
	PriorityLow ReminderPriority = "low"
	// PriorityMedium keeps the base followup offsets.
	PriorityMedium ReminderPriority = "medium"
	// PriorityHigh halves followup offsets.
	PriorityHigh ReminderPriority = "high"
)

// FollowupType classifies which kind of re-contact a record is.
type FollowupType string

const (
	// FollowupType15m is the first staged re-contact.
	FollowupType15m FollowupType = "followup_15m"
	// FollowupType2h is the second staged re-contact.
	FollowupType2h FollowupType = "followup_2h"
	// FollowupType24h is the last staged re-contact.
	FollowupType24h FollowupType = "followup_24h"
	// FollowupTypeGeneral is an unscheduled re-ping (e.g. after a "missed"
	// or "later" reply).
	FollowupTypeGeneral FollowupType = "general"
)

// IsValidFollowupType checks if the given followup type is supported.
func IsValidFollowupType(t FollowupType) bool {
	switch t {
	case FollowupType15m, FollowupType2h, FollowupType24h, FollowupTypeGeneral:
		return true
	default:
		return false
	}
}

// FollowupStage identifies which step of the followup sequence a record is.
type FollowupStage string

const (
	// StageInitial is the original reminder send, before any followup fired.
	StageInitial FollowupStage = "initial"
	// StageFollowup15m is the first re-contact, roughly 15 minutes after send.
	StageFollowup15m FollowupStage = "followup_15m"
	// StageFollowup2h is the second re-contact, roughly 2 hours after send.
	StageFollowup2h FollowupStage = "followup_2h"
	// StageFollowup24h is the last re-contact, roughly a day after send.
	StageFollowup24h FollowupStage = "followup_24h"
	// StageCompleted means the sequence finished.
	StageCompleted FollowupStage = "completed"
	// StageExpired means the sequence timed out.
	StageExpired FollowupStage = "expired"
)

// FollowupStatus is the delivery/outcome status of a single followup record.
type FollowupStatus string

const (
	// FollowupStatusPending means the record is waiting for its due time.
	FollowupStatusPending FollowupStatus = "pending"
	// FollowupStatusClaimed means a driver cycle claimed the record for dispatch.
	FollowupStatusClaimed FollowupStatus = "claimed"
	// FollowupStatusSent means the followup message was dispatched.
	FollowupStatusSent FollowupStatus = "sent"
	// FollowupStatusResponded means the patient replied (not confirmed).
	FollowupStatusResponded FollowupStatus = "responded"
	// FollowupStatusConfirmed means the patient confirmed the reminder action.
	FollowupStatusConfirmed FollowupStatus = "confirmed"
	// FollowupStatusFailed means dispatch failed.
	FollowupStatusFailed FollowupStatus = "failed"
	// FollowupStatusCancelled means the parent reminder was deleted or superseded.
	FollowupStatusCancelled FollowupStatus = "cancelled"
	// FollowupStatusExpired means the record aged out without a response.
	FollowupStatusExpired FollowupStatus = "expired"
)

// Validation constants shared across modules.
const (
	// MaxFollowupMessageLength caps the rendered followup message body.
	MaxFollowupMessageLength = 4096
	// DefaultMaxRetries is the default dispatch retry budget per record.
	DefaultMaxRetries = 3
	// FollowupRecordTTL is how long followup records and their indexes live in
	// the store regardless of terminal status.
	FollowupRecordTTL = 7 * 24 * time.Hour
)

// Error variables for better error handling and testability.
var (
	ErrNotFound             = errors.New("record not found")
	ErrEmptyPatientID       = errors.New("patient id cannot be empty")
	ErrEmptyReminderID      = errors.New("reminder id cannot be empty")
	ErrEmptyPhone           = errors.New("phone cannot be empty")
	ErrInvalidReminderType  = errors.New("invalid reminder type")
	ErrInvalidFollowupType  = errors.New("invalid followup type")
	ErrInvalidPriority      = errors.New("invalid reminder priority")
	ErrInvalidStatus        = errors.New("invalid followup status")
	ErrInvalidTransition    = errors.New("invalid followup status transition")
	ErrMessageTooLong       = errors.New("followup message exceeds maximum length")
	ErrScheduledAtImmutable = errors.New("scheduledAt cannot change after creation")
)

// IsValidReminderType checks if the given reminder type is supported.
func IsValidReminderType(rt ReminderType) bool {
	switch rt {
	case ReminderTypeMedication, ReminderTypeAppointment, ReminderTypeGeneral:
		return true
	default:
		return false
	}
}

// IsValidPriority checks if the given reminder priority is supported.
func IsValidPriority(p ReminderPriority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// IsValidFollowupStatus checks if the given followup status is supported.
func IsValidFollowupStatus(s FollowupStatus) bool {
	switch s {
	case FollowupStatusPending, FollowupStatusClaimed, FollowupStatusSent,
		FollowupStatusResponded, FollowupStatusConfirmed, FollowupStatusFailed,
		FollowupStatusCancelled, FollowupStatusExpired:
		return true
	default:
		return false
	}
}

// IsTerminalFollowupStatus reports whether a status can never change again.
func IsTerminalFollowupStatus(s FollowupStatus) bool {
	switch s {
	case FollowupStatusConfirmed, FollowupStatusCancelled, FollowupStatusExpired:
		return true
	default:
		return false
	}
}

// statusRank orders statuses so transitions only move forward. Claimed sits
// between pending and sent; responded/confirmed/failed all rank above sent.
var statusRank = map[FollowupStatus]int{
	FollowupStatusPending:   0,
	FollowupStatusClaimed:   1,
	FollowupStatusSent:      2,
	FollowupStatusFailed:    3,
	FollowupStatusResponded: 3,
	FollowupStatusConfirmed: 4,
	FollowupStatusCancelled: 4,
	FollowupStatusExpired:   4,
}

// CanTransition reports whether a followup status change is allowed.
// Terminal statuses never regress; cancellation is allowed from any
// non-terminal status.
func CanTransition(from, to FollowupStatus) bool {
	if !IsValidFollowupStatus(from) || !IsValidFollowupStatus(to) {
		return false
	}
	if from == to {
		return false
	}
	if IsTerminalFollowupStatus(from) {
		return false
	}
	if to == FollowupStatusCancelled || to == FollowupStatusExpired {
		return true
	}
	return statusRank[to] > statusRank[from]
}

// FollowupRecord is one scheduled re-contact attempt tied to a sent reminder.
type FollowupRecord struct {
	ID         string `json:"id"`
	ReminderID string `json:"reminder_id"` // parent reminder
	PatientID  string `json:"patient_id"`
	Phone      string `json:"phone"`

	Type     FollowupType     `json:"followup_type"`
	Stage    FollowupStage    `json:"stage"`
	Priority ReminderPriority `json:"priority"`

	// Content echo from the parent reminder, used for message rendering.
	ReminderType ReminderType `json:"reminder_type"`
	Title        string       `json:"title"`
	Message      string       `json:"message,omitempty"`
	PatientName  string       `json:"patient_name,omitempty"`

	ScheduledAt time.Time  `json:"scheduled_at"` // immutable after creation
	SentAt      *time.Time `json:"sent_at,omitempty"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`

	Status            FollowupStatus `json:"status"`
	Response          string         `json:"response,omitempty"`
	RetryCount        int            `json:"retry_count"`
	MaxRetries        int            `json:"max_retries"`
	LastError         string         `json:"last_error,omitempty"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate performs validation on a FollowupRecord before persistence.
func (r *FollowupRecord) Validate() error {
	if r.PatientID == "" {
		return ErrEmptyPatientID
	}
	if r.ReminderID == "" {
		return ErrEmptyReminderID
	}
	if r.Phone == "" {
		return ErrEmptyPhone
	}
	if !IsValidReminderType(r.ReminderType) {
		return ErrInvalidReminderType
	}
	if !IsValidFollowupType(r.Type) {
		return ErrInvalidFollowupType
	}
	if !IsValidPriority(r.Priority) {
		return ErrInvalidPriority
	}
	if !IsValidFollowupStatus(r.Status) {
		return ErrInvalidStatus
	}
	if len(r.Message) > MaxFollowupMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// ScheduleRequest is the input for scheduling staged followups after a
// reminder was dispatched.
type ScheduleRequest struct {
	PatientID    string           `json:"patient_id"`
	ReminderID   string           `json:"reminder_id"`
	Phone        string           `json:"phone"`
	PatientName  string           `json:"patient_name,omitempty"`
	ReminderType ReminderType     `json:"reminder_type"`
	Title        string           `json:"title"`
	Message      string           `json:"message,omitempty"`
	Priority     ReminderPriority `json:"priority"`
}

// Validate validates a ScheduleRequest.
func (req *ScheduleRequest) Validate() error {
	if req.PatientID == "" {
		return ErrEmptyPatientID
	}
	if req.ReminderID == "" {
		return ErrEmptyReminderID
	}
	if req.Phone == "" {
		return ErrEmptyPhone
	}
	if !IsValidReminderType(req.ReminderType) {
		return ErrInvalidReminderType
	}
	if !IsValidPriority(req.Priority) {
		return ErrInvalidPriority
	}
	return nil
}

// FollowupStats aggregates followup record counts by status.
type FollowupStats struct {
	Total    int                    `json:"total"`
	ByStatus map[FollowupStatus]int `json:"by_status"`
}

// ProcessResult summarizes one driver cycle over the due queue.
type ProcessResult struct {
	Due       int       `json:"due"`
	Sent      int       `json:"sent"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"` // already handled (non-pending) records
	Dequeued  int       `json:"dequeued"`
	StartedAt time.Time `json:"started_at"`
}

// Response represents an incoming message from a patient.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}
