// Hash field encoding for followup records and conversation states. All
// values are stored as strings (RFC3339Nano timestamps, decimal integers);
// this file is the only place where that serialization happens.
package store

import (
	"fmt"
	"strconv"
	"time"

	"github.com/SehatKit/KawalObat/internal/models"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(field, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s timestamp %q: %w", field, value, err)
	}
	return t, nil
}

func parseOptionalTime(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := parseTime(field, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseInt(field, value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", field, value, err)
	}
	return n, nil
}

func encodeFollowup(rec *models.FollowupRecord) map[string]interface{} {
	fields := map[string]interface{}{
		"id":                  rec.ID,
		"reminder_id":         rec.ReminderID,
		"patient_id":          rec.PatientID,
		"phone":               rec.Phone,
		"followup_type":       string(rec.Type),
		"stage":               string(rec.Stage),
		"priority":            string(rec.Priority),
		"reminder_type":       string(rec.ReminderType),
		"title":               rec.Title,
		"message":             rec.Message,
		"patient_name":        rec.PatientName,
		"scheduled_at":        formatTime(rec.ScheduledAt),
		"status":              string(rec.Status),
		"response":            rec.Response,
		"retry_count":         strconv.Itoa(rec.RetryCount),
		"max_retries":         strconv.Itoa(rec.MaxRetries),
		"last_error":          rec.LastError,
		"provider_message_id": rec.ProviderMessageID,
		"created_at":          formatTime(rec.CreatedAt),
		"updated_at":          formatTime(rec.UpdatedAt),
	}
	if rec.SentAt != nil {
		fields["sent_at"] = formatTime(*rec.SentAt)
	}
	if rec.RespondedAt != nil {
		fields["responded_at"] = formatTime(*rec.RespondedAt)
	}
	return fields
}

func decodeFollowup(fields map[string]string) (*models.FollowupRecord, error) {
	rec := &models.FollowupRecord{
		ID:                fields["id"],
		ReminderID:        fields["reminder_id"],
		PatientID:         fields["patient_id"],
		Phone:             fields["phone"],
		Type:              models.FollowupType(fields["followup_type"]),
		Stage:             models.FollowupStage(fields["stage"]),
		Priority:          models.ReminderPriority(fields["priority"]),
		ReminderType:      models.ReminderType(fields["reminder_type"]),
		Title:             fields["title"],
		Message:           fields["message"],
		PatientName:       fields["patient_name"],
		Status:            models.FollowupStatus(fields["status"]),
		Response:          fields["response"],
		LastError:         fields["last_error"],
		ProviderMessageID: fields["provider_message_id"],
	}

	var err error
	if rec.ScheduledAt, err = parseTime("scheduled_at", fields["scheduled_at"]); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = parseTime("created_at", fields["created_at"]); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime("updated_at", fields["updated_at"]); err != nil {
		return nil, err
	}
	if rec.SentAt, err = parseOptionalTime("sent_at", fields["sent_at"]); err != nil {
		return nil, err
	}
	if rec.RespondedAt, err = parseOptionalTime("responded_at", fields["responded_at"]); err != nil {
		return nil, err
	}
	if rec.RetryCount, err = parseInt("retry_count", fields["retry_count"]); err != nil {
		return nil, err
	}
	if rec.MaxRetries, err = parseInt("max_retries", fields["max_retries"]); err != nil {
		return nil, err
	}
	return rec, nil
}

func encodeConversationState(state *models.ConversationState) map[string]interface{} {
	active := "0"
	if state.IsActive {
		active = "1"
	}
	fields := map[string]interface{}{
		"id":                  state.ID,
		"patient_id":          state.PatientID,
		"phone":               state.Phone,
		"current_context":     string(state.CurrentContext),
		"related_entity_id":   state.RelatedEntityID,
		"related_entity_type": state.RelatedEntityType,
		"message_count":       strconv.Itoa(state.MessageCount),
		"inbound_count":       strconv.Itoa(state.InboundCount),
		"outbound_count":      strconv.Itoa(state.OutboundCount),
		"last_message":        state.LastMessage,
		"expires_at":          formatTime(state.ExpiresAt),
		"is_active":           active,
		"created_at":          formatTime(state.CreatedAt),
		"updated_at":          formatTime(state.UpdatedAt),
	}
	if state.LastMessageAt != nil {
		fields["last_message_at"] = formatTime(*state.LastMessageAt)
	}
	return fields
}

func decodeConversationState(fields map[string]string) (*models.ConversationState, error) {
	state := &models.ConversationState{
		ID:                fields["id"],
		PatientID:         fields["patient_id"],
		Phone:             fields["phone"],
		CurrentContext:    models.ConversationContext(fields["current_context"]),
		RelatedEntityID:   fields["related_entity_id"],
		RelatedEntityType: fields["related_entity_type"],
		LastMessage:       fields["last_message"],
		IsActive:          fields["is_active"] == "1",
	}

	var err error
	if state.MessageCount, err = parseInt("message_count", fields["message_count"]); err != nil {
		return nil, err
	}
	if state.InboundCount, err = parseInt("inbound_count", fields["inbound_count"]); err != nil {
		return nil, err
	}
	if state.OutboundCount, err = parseInt("outbound_count", fields["outbound_count"]); err != nil {
		return nil, err
	}
	if state.ExpiresAt, err = parseTime("expires_at", fields["expires_at"]); err != nil {
		return nil, err
	}
	if state.CreatedAt, err = parseTime("created_at", fields["created_at"]); err != nil {
		return nil, err
	}
	if state.UpdatedAt, err = parseTime("updated_at", fields["updated_at"]); err != nil {
		return nil, err
	}
	if state.LastMessageAt, err = parseOptionalTime("last_message_at", fields["last_message_at"]); err != nil {
		return nil, err
	}
	return state, nil
}
