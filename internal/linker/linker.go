// Package linker matches inbound free-text replies to the pending followup
// they answer, applies the reply classifier, and triggers the
// outcome-specific follow-up actions.
package linker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/SehatKit/KawalObat/internal/classifier"
	"github.com/SehatKit/KawalObat/internal/conversation"
	"github.com/SehatKit/KawalObat/internal/followup"
	"github.com/SehatKit/KawalObat/internal/messaging"
	"github.com/SehatKit/KawalObat/internal/models"
	"github.com/SehatKit/KawalObat/internal/store"
)

// Re-ping delays for non-confirming replies.
const (
	missedRePingDelay = 30 * time.Minute
	laterRePingDelay  = time.Hour
)

// Patient-facing acknowledgment messages per outcome.
const (
	ackEmergency = "🚨 Pesan Anda kami terima. Jika ini keadaan darurat, segera hubungi 119 atau fasilitas kesehatan terdekat. Petugas kami akan segera menghubungi Anda."
	ackConfirmed = "Terima kasih, konfirmasi Anda sudah kami catat ✅ Semoga sehat selalu!"
	ackMissed    = "Baik, sudah kami catat. Kami akan ingatkan kembali sebentar lagi ya 🙏"
	ackLater     = "Baik, kami akan ingatkan lagi nanti ya 🙏"
	ackUnknown   = "Terima kasih atas pesan Anda. Petugas kami akan meninjau dan menghubungi Anda bila diperlukan."
	ackFallback  = "Maaf, sedang ada gangguan di sistem kami. Pesan Anda tetap kami terima dan akan segera ditindaklanjuti 🙏"
	ackNoPending = "Terima kasih atas pesan Anda! Saat ini tidak ada pengingat yang menunggu konfirmasi."
)

// InquiryAnswerer produces an answer for an open-ended health question.
// Optional: a nil answerer or any error falls back to a static safe message.
type InquiryAnswerer interface {
	AnswerInquiry(ctx context.Context, question string) (string, error)
}

// Linker links patient replies to pending followups.
type Linker struct {
	store    store.Store
	msg      messaging.Service
	engine   *followup.Engine
	conv     *conversation.StateMachine
	answerer InquiryAnswerer
	clock    func() time.Time
}

// NewLinker creates a ConfirmationLinker. The answerer may be nil.
func NewLinker(st store.Store, msg messaging.Service, engine *followup.Engine, conv *conversation.StateMachine, answerer InquiryAnswerer) *Linker {
	slog.Debug("Creating Linker", "answerer_set", answerer != nil)
	return &Linker{
		store:    st,
		msg:      msg,
		engine:   engine,
		conv:     conv,
		answerer: answerer,
		clock:    time.Now,
	}
}

// LinkConfirmationToReminder interprets a patient's reply against their most
// recent pending or sent followup. All failures are caught: the patient
// always receives an acknowledgment, and errors surface as Success=false.
func (l *Linker) LinkConfirmationToReminder(ctx context.Context, patientID, phone, text string) *models.LinkResult {
	slog.Debug("Linker processing reply", "patient", patientID, "body_length", len(text))

	result := &models.LinkResult{
		Emergency: classifier.DetectEmergency(text),
	}
	cls := classifier.Classify(text)
	result.Classification = string(cls.Type)
	result.Confidence = cls.Confidence

	target, err := l.findActiveTarget(ctx, patientID)
	if err != nil {
		slog.Error("Linker target lookup failed", "error", err, "patient", patientID)
		return l.fail(ctx, phone, result)
	}

	l.recordInbound(ctx, patientID, phone, text, cls, result.Emergency)

	if result.Emergency {
		return l.handleEmergency(ctx, patientID, phone, text, cls, target, result)
	}

	if target == nil {
		slog.Info("Linker nothing pending", "patient", patientID, "classification", cls.Type)
		return l.handleNoPending(ctx, phone, text, result)
	}
	result.FollowupID = target.ID

	if err := l.resolveTarget(ctx, target, text, cls); err != nil {
		slog.Error("Linker failed to update matched followup", "error", err, "patient", patientID, "followup", target.ID)
		return l.fail(ctx, phone, result)
	}

	ack, err := l.applyOutcomeActions(ctx, target, text, cls, result)
	if err != nil {
		slog.Error("Linker outcome actions failed", "error", err, "patient", patientID, "followup", target.ID)
		return l.fail(ctx, phone, result)
	}

	result.Success = true
	result.Acknowledgment = ack
	l.acknowledge(ctx, patientID, phone, ack)
	slog.Info("Linker linked reply", "patient", patientID, "followup", target.ID, "classification", cls.Type, "requires_follow_up", result.RequiresFollowUp)
	return result
}

// findActiveTarget picks the followup the patient's reply answers: the most
// recently sent record, or if nothing was sent, the most recent already-due
// pending one. Pending records whose due time is still in the future are
// never targets; a reply cannot answer a message the patient has not
// received.
func (l *Linker) findActiveTarget(ctx context.Context, patientID string) (*models.FollowupRecord, error) {
	records, err := l.store.ListPatientFollowups(ctx, patientID)
	if err != nil {
		return nil, err
	}

	now := l.clock()
	var sentTarget, pendingTarget *models.FollowupRecord
	for i := range records {
		rec := &records[i]
		switch rec.Status {
		case models.FollowupStatusSent:
			if sentTarget == nil || sentMoment(rec).After(sentMoment(sentTarget)) {
				sentTarget = rec
			}
		case models.FollowupStatusPending:
			if rec.ScheduledAt.After(now) {
				continue
			}
			if pendingTarget == nil || rec.ScheduledAt.After(pendingTarget.ScheduledAt) {
				pendingTarget = rec
			}
		}
	}
	if sentTarget != nil {
		return sentTarget, nil
	}
	return pendingTarget, nil
}

// sentMoment orders sent records by delivery time, falling back to the due
// time for records persisted before SentAt was recorded.
func sentMoment(rec *models.FollowupRecord) time.Time {
	if rec.SentAt != nil {
		return *rec.SentAt
	}
	return rec.ScheduledAt
}

// resolveTarget closes the matched record: confirmed replies confirm it, any
// other classification marks it responded. "missed"/"later" never reopen the
// record; follow-up actions carry the next step.
func (l *Linker) resolveTarget(ctx context.Context, target *models.FollowupRecord, text string, cls classifier.Result) error {
	now := l.clock()
	target.Response = text
	target.RespondedAt = &now
	if cls.Type == classifier.ResultConfirmed {
		target.Status = models.FollowupStatusConfirmed
	} else {
		target.Status = models.FollowupStatusResponded
	}
	return l.store.UpdateFollowup(ctx, target)
}

// applyOutcomeActions performs the classification-specific required side
// effects and returns the acknowledgment to send.
func (l *Linker) applyOutcomeActions(ctx context.Context, target *models.FollowupRecord, text string, cls classifier.Result, result *models.LinkResult) (string, error) {
	switch cls.Type {
	case classifier.ResultConfirmed:
		return ackConfirmed, nil

	case classifier.ResultMissed:
		if _, err := l.engine.ScheduleRePing(ctx, target, missedRePingDelay); err != nil {
			return "", err
		}
		if err := l.notifyOperator(ctx, target, text, "missed"); err != nil {
			return "", err
		}
		result.RequiresFollowUp = true
		return ackMissed, nil

	case classifier.ResultLater:
		if _, err := l.engine.ScheduleRePing(ctx, target, laterRePingDelay); err != nil {
			return "", err
		}
		result.RequiresFollowUp = true
		return ackLater, nil

	default:
		if err := l.flagForReview(ctx, target.PatientID, target.ID, text); err != nil {
			return "", err
		}
		result.RequiresFollowUp = true
		return ackUnknown, nil
	}
}

// handleEmergency short-circuits to the urgent acknowledgment regardless of
// classifier outcome, alerts an operator, and flips the conversation context.
func (l *Linker) handleEmergency(ctx context.Context, patientID, phone, text string, cls classifier.Result, target *models.FollowupRecord, result *models.LinkResult) *models.LinkResult {
	slog.Warn("Linker emergency keywords detected", "patient", patientID)

	if target != nil {
		result.FollowupID = target.ID
		if err := l.resolveTarget(ctx, target, text, cls); err != nil {
			slog.Error("Linker failed to close followup during emergency", "error", err, "followup", target.ID)
		}
	}
	if err := l.notifyOperator(ctx, target, text, "emergency"); err != nil {
		slog.Error("Linker emergency operator alert failed", "error", err, "patient", patientID)
	}
	if l.conv != nil {
		if _, err := l.conv.SetContext(ctx, patientID, phone, models.ContextEmergency, "", ""); err != nil {
			slog.Warn("Linker failed to set emergency context", "error", err, "patient", patientID)
		}
	}

	result.Success = true
	result.RequiresFollowUp = true
	result.Acknowledgment = ackEmergency
	l.acknowledge(ctx, patientID, phone, ackEmergency)
	return result
}

// handleNoPending answers a reply that matches no pending followup. Open
// questions route to the inquiry answerer when configured; a nil answerer or
// any answerer error degrades to the static acknowledgment.
func (l *Linker) handleNoPending(ctx context.Context, phone, text string, result *models.LinkResult) *models.LinkResult {
	ack := ackNoPending
	if l.answerer != nil && classifier.ResultType(result.Classification) == classifier.ResultUnknown {
		answer, err := l.answerer.AnswerInquiry(ctx, text)
		if err != nil {
			slog.Warn("Linker inquiry answerer failed, using static reply", "error", err)
		} else if answer != "" {
			ack = answer
		}
	}

	result.Success = true
	result.Acknowledgment = ack
	l.acknowledge(ctx, "", phone, ack)
	return result
}

// fail sends the safe fallback acknowledgment and returns a failed result.
// The patient is never left without a reply.
func (l *Linker) fail(ctx context.Context, phone string, result *models.LinkResult) *models.LinkResult {
	result.Success = false
	result.Acknowledgment = ackFallback
	l.acknowledge(ctx, "", phone, ackFallback)
	return result
}

// acknowledge sends an acknowledgment and records it in the conversation
// history. Both are best-effort at this point in the pipeline.
func (l *Linker) acknowledge(ctx context.Context, patientID, phone, body string) {
	if _, err := l.msg.SendMessage(ctx, phone, body); err != nil {
		slog.Error("Linker failed to send acknowledgment", "error", err, "phone", phone)
		return
	}
	if l.conv == nil || patientID == "" {
		return
	}
	state, err := l.conv.GetOrCreate(ctx, patientID, phone, models.ContextReminderConfirmation)
	if err != nil {
		slog.Warn("Linker failed to load conversation for ack", "error", err, "patient", patientID)
		return
	}
	if err := l.conv.AddMessage(ctx, state.ID, models.DirectionOutbound, "acknowledgment", body, "", 0); err != nil {
		slog.Warn("Linker failed to record acknowledgment", "error", err, "patient", patientID)
	}
}

// recordInbound appends the patient's reply to conversation history with the
// detected intent. Best-effort: history is an analytics aid, not part of the
// delivery path.
func (l *Linker) recordInbound(ctx context.Context, patientID, phone, text string, cls classifier.Result, emergency bool) {
	if l.conv == nil {
		return
	}

	defaultContext := models.ContextReminderConfirmation
	if emergency {
		defaultContext = models.ContextEmergency
	}
	state, err := l.conv.GetOrCreate(ctx, patientID, phone, defaultContext)
	if err != nil {
		slog.Warn("Linker failed to load conversation for inbound", "error", err, "patient", patientID)
		return
	}
	if err := l.conv.AddMessage(ctx, state.ID, models.DirectionInbound, "reply", text, string(cls.Type), cls.Confidence); err != nil {
		slog.Warn("Linker failed to record inbound message", "error", err, "patient", patientID)
	}
}

// operatorAlert is the payload pushed onto the operator queue.
type operatorAlert struct {
	PatientID  string `json:"patient_id"`
	FollowupID string `json:"followup_id,omitempty"`
	ReminderID string `json:"reminder_id,omitempty"`
	Reason     string `json:"reason"`
	Text       string `json:"text"`
	Time       int64  `json:"time"`
}

func (l *Linker) notifyOperator(ctx context.Context, target *models.FollowupRecord, text, reason string) error {
	alert := operatorAlert{Reason: reason, Text: text, Time: l.clock().Unix()}
	if target != nil {
		alert.PatientID = target.PatientID
		alert.FollowupID = target.ID
		alert.ReminderID = target.ReminderID
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	return l.store.PushOperatorAlert(ctx, string(payload))
}

func (l *Linker) flagForReview(ctx context.Context, patientID, followupID, text string) error {
	flag := operatorAlert{PatientID: patientID, FollowupID: followupID, Reason: "unrecognized_reply", Text: text, Time: l.clock().Unix()}
	payload, err := json.Marshal(flag)
	if err != nil {
		return err
	}
	return l.store.PushReviewFlag(ctx, string(payload))
}
