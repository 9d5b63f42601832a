package followup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/SehatKit/KawalObat/internal/conversation"
	"github.com/SehatKit/KawalObat/internal/messaging"
	"github.com/SehatKit/KawalObat/internal/models"
	"github.com/SehatKit/KawalObat/internal/store"
)

// Engine orchestrates multi-stage followup scheduling, due-queue processing,
// message dispatch, and cancellation.
type Engine struct {
	store store.Store
	msg   messaging.Service
	conv  *conversation.StateMachine
	clock func() time.Time
}

// NewEngine creates a followup Engine. The conversation state machine is
// optional; when present, scheduling and dispatch stamp the patient's
// conversation context.
func NewEngine(st store.Store, msg messaging.Service, conv *conversation.StateMachine) *Engine {
	slog.Debug("Creating followup Engine")
	return &Engine{
		store: st,
		msg:   msg,
		conv:  conv,
		clock: time.Now,
	}
}

// ScheduleTypeAwareFollowups creates and enqueues the three staged followup
// records for a just-dispatched reminder, with due offsets from the cadence
// table. Creation is all-or-nothing: if any stage fails, already-created
// records are cancelled and the error propagates to the caller.
func (e *Engine) ScheduleTypeAwareFollowups(ctx context.Context, req models.ScheduleRequest) ([]string, error) {
	if err := req.Validate(); err != nil {
		slog.Error("Engine ScheduleTypeAwareFollowups invalid request", "error", err, "patient", req.PatientID, "reminder", req.ReminderID)
		return nil, err
	}

	now := e.clock()
	offsets := Cadence(req.ReminderType, req.Priority)
	slog.Debug("Engine scheduling staged followups", "patient", req.PatientID, "reminder", req.ReminderID, "type", req.ReminderType, "priority", req.Priority, "offsets", offsets)

	created := make([]string, 0, len(offsets))
	for i, offset := range offsets {
		rec := &models.FollowupRecord{
			ID:           fmt.Sprintf("fu_%s", uuid.NewString()),
			ReminderID:   req.ReminderID,
			PatientID:    req.PatientID,
			Phone:        req.Phone,
			Type:         stageTypes[i].Type,
			Stage:        stageTypes[i].Stage,
			Priority:     req.Priority,
			ReminderType: req.ReminderType,
			Title:        req.Title,
			Message:      req.Message,
			PatientName:  req.PatientName,
			ScheduledAt:  now.Add(offset),
			Status:       models.FollowupStatusPending,
			MaxRetries:   models.DefaultMaxRetries,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		if err := e.createAndEnqueue(ctx, rec); err != nil {
			slog.Error("Engine stage creation failed, rolling back", "error", err, "reminder", req.ReminderID, "stage", rec.Stage, "created_so_far", len(created))
			e.rollback(ctx, created)
			return nil, fmt.Errorf("failed to schedule stage %s for reminder %s: %w", rec.Stage, req.ReminderID, err)
		}
		created = append(created, rec.ID)
	}

	// Point the patient's conversation at the sequence so short replies can
	// be interpreted. Best-effort: followups fire regardless.
	if e.conv != nil {
		if _, err := e.conv.SetContext(ctx, req.PatientID, req.Phone, models.ContextReminderConfirmation, req.ReminderID, "reminder"); err != nil {
			slog.Warn("Engine failed to set conversation context", "error", err, "patient", req.PatientID, "reminder", req.ReminderID)
		}
	}

	slog.Info("Engine scheduled staged followups", "patient", req.PatientID, "reminder", req.ReminderID, "count", len(created))
	return created, nil
}

func (e *Engine) createAndEnqueue(ctx context.Context, rec *models.FollowupRecord) error {
	if err := e.store.CreateFollowup(ctx, rec); err != nil {
		return err
	}
	if err := e.store.EnqueueFollowup(ctx, rec.ID, rec.ScheduledAt); err != nil {
		// The record exists but will never fire; close it out.
		if cancelErr := e.store.CancelFollowup(ctx, rec.ID); cancelErr != nil {
			slog.Error("Engine failed to cancel unenqueued followup", "error", cancelErr, "id", rec.ID)
		}
		return err
	}
	return nil
}

func (e *Engine) rollback(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := e.store.CancelFollowup(ctx, id); err != nil {
			slog.Error("Engine rollback cancel failed", "error", err, "id", id)
		}
	}
}

// ScheduleRePing creates a single general-type followup due after the given
// delay. Used by the confirmation linker for "missed" and "later" replies.
func (e *Engine) ScheduleRePing(ctx context.Context, parent *models.FollowupRecord, delay time.Duration) (string, error) {
	now := e.clock()
	rec := &models.FollowupRecord{
		ID:           fmt.Sprintf("fu_%s", uuid.NewString()),
		ReminderID:   parent.ReminderID,
		PatientID:    parent.PatientID,
		Phone:        parent.Phone,
		Type:         models.FollowupTypeGeneral,
		Stage:        models.StageInitial,
		Priority:     parent.Priority,
		ReminderType: parent.ReminderType,
		Title:        parent.Title,
		Message:      parent.Message,
		PatientName:  parent.PatientName,
		ScheduledAt:  now.Add(delay),
		Status:       models.FollowupStatusPending,
		MaxRetries:   models.DefaultMaxRetries,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := e.createAndEnqueue(ctx, rec); err != nil {
		slog.Error("Engine ScheduleRePing failed", "error", err, "patient", parent.PatientID, "reminder", parent.ReminderID)
		return "", fmt.Errorf("failed to schedule re-ping for reminder %s: %w", parent.ReminderID, err)
	}

	slog.Info("Engine scheduled re-ping", "id", rec.ID, "patient", parent.PatientID, "reminder", parent.ReminderID, "delay", delay)
	return rec.ID, nil
}

// ProcessPendingFollowups drains the due queue once: every due record is
// claimed, rendered, dispatched, and marked sent or failed. Per-record errors
// never abort the batch, and every attempted id is removed from the due queue
// so a broken record cannot cause a retry storm.
func (e *Engine) ProcessPendingFollowups(ctx context.Context) (*models.ProcessResult, error) {
	now := e.clock()
	result := &models.ProcessResult{StartedAt: now}

	due, err := e.store.DueFollowupIDs(ctx, now)
	if err != nil {
		slog.Error("Engine ProcessPendingFollowups due query failed", "error", err)
		return result, err
	}
	result.Due = len(due)
	if len(due) == 0 {
		return result, nil
	}
	slog.Info("Engine processing due followups", "count", len(due))

	for _, id := range due {
		e.processDueFollowup(ctx, id, result)
	}

	slog.Info("Engine ProcessPendingFollowups finished", "due", result.Due, "sent", result.Sent, "failed", result.Failed, "skipped", result.Skipped)
	return result, nil
}

// processDueFollowup handles one due id. The dequeue always happens after the
// attempt, regardless of outcome: the due queue is "at most one delivery
// attempt per cycle", not an automatic retry queue.
func (e *Engine) processDueFollowup(ctx context.Context, id string, result *models.ProcessResult) {
	dequeue := func() {
		if err := e.store.DequeueFollowup(ctx, id); err != nil {
			slog.Error("Engine dequeue failed", "error", err, "id", id)
			return
		}
		result.Dequeued++
	}

	rec, err := e.store.GetFollowup(ctx, id)
	if err != nil {
		// Remove the offending id anyway; leaving it due would retry forever.
		slog.Error("Engine failed to load due followup", "error", err, "id", id)
		result.Failed++
		dequeue()
		return
	}
	if rec == nil || rec.Status != models.FollowupStatusPending {
		slog.Debug("Engine due followup already handled", "id", id)
		result.Skipped++
		dequeue()
		return
	}

	claimed, err := e.store.ClaimFollowup(ctx, id)
	if err != nil {
		slog.Error("Engine claim failed", "error", err, "id", id)
		result.Failed++
		dequeue()
		return
	}
	if !claimed {
		// Another driver cycle won the claim; it will dequeue after its attempt.
		slog.Debug("Engine lost claim race", "id", id)
		result.Skipped++
		return
	}

	body := RenderStageMessage(rec.Type, rec.ReminderType, rec.PatientName, rec.Title)
	providerID, sendErr := e.msg.SendMessage(ctx, rec.Phone, body)

	now := e.clock()
	if sendErr != nil {
		rec.Status = models.FollowupStatusFailed
		rec.RetryCount++
		rec.LastError = sendErr.Error()
		result.Failed++
		slog.Error("Engine followup dispatch failed", "error", sendErr, "id", id, "patient", rec.PatientID, "retry_count", rec.RetryCount)
	} else {
		rec.Status = models.FollowupStatusSent
		rec.SentAt = &now
		rec.ProviderMessageID = providerID
		result.Sent++
		slog.Info("Engine followup dispatched", "id", id, "patient", rec.PatientID, "stage", rec.Stage)
	}

	if err := e.store.UpdateFollowup(ctx, rec); err != nil {
		slog.Error("Engine failed to persist followup outcome", "error", err, "id", id, "status", rec.Status)
	}

	if sendErr == nil && e.conv != nil {
		state, err := e.conv.SetContext(ctx, rec.PatientID, rec.Phone, models.ContextReminderConfirmation, rec.ID, "followup")
		if err != nil {
			slog.Warn("Engine failed to update conversation for dispatch", "error", err, "id", id)
		} else if err := e.conv.AddMessage(ctx, state.ID, models.DirectionOutbound, "followup", body, "", 0); err != nil {
			slog.Warn("Engine failed to record outbound message", "error", err, "id", id)
		}
	}

	dequeue()
}

// CancelFollowupsForReminder cancels every non-terminal followup of a parent
// reminder and clears the reminder index. Used when the originating reminder
// is edited or deleted.
func (e *Engine) CancelFollowupsForReminder(ctx context.Context, reminderID string) error {
	records, err := e.store.ListReminderFollowups(ctx, reminderID)
	if err != nil {
		slog.Error("Engine CancelFollowupsForReminder listing failed", "error", err, "reminder", reminderID)
		return err
	}

	cancelled := 0
	for _, rec := range records {
		if models.IsTerminalFollowupStatus(rec.Status) {
			continue
		}
		if err := e.store.CancelFollowup(ctx, rec.ID); err != nil {
			slog.Error("Engine cancel failed", "error", err, "id", rec.ID, "reminder", reminderID)
			return err
		}
		cancelled++
	}

	if err := e.store.DeleteReminderIndex(ctx, reminderID); err != nil {
		return err
	}

	slog.Info("Engine cancelled reminder followups", "reminder", reminderID, "cancelled", cancelled, "total", len(records))
	return nil
}

// GetFollowupStats returns followup counts by status. An empty patientID
// aggregates across all patients.
func (e *Engine) GetFollowupStats(ctx context.Context, patientID string) (*models.FollowupStats, error) {
	return e.store.FollowupStats(ctx, patientID)
}
