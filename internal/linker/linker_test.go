package linker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SehatKit/KawalObat/internal/conversation"
	"github.com/SehatKit/KawalObat/internal/followup"
	"github.com/SehatKit/KawalObat/internal/models"
	"github.com/SehatKit/KawalObat/internal/store"
	"github.com/SehatKit/KawalObat/internal/testutil"
)

const (
	alertsKey = "kawalobat:ops:alerts"
	reviewKey = "kawalobat:ops:review"
)

type linkerFixture struct {
	store  *store.RedisStore
	msg    *testutil.MockMessenger
	conv   *conversation.StateMachine
	engine *followup.Engine
	link   *Linker
}

func setupLinker(t *testing.T, answerer InquiryAnswerer) *linkerFixture {
	t.Helper()
	st, _ := testutil.NewTestStore(t)
	msg := testutil.NewMockMessenger()
	conv := conversation.NewStateMachine(st)
	engine := followup.NewEngine(st, msg, conv)
	return &linkerFixture{
		store:  st,
		msg:    msg,
		conv:   conv,
		engine: engine,
		link:   NewLinker(st, msg, engine, conv, answerer),
	}
}

// sentFollowup seeds an already-dispatched followup awaiting a reply.
func (f *linkerFixture) sentFollowup(t *testing.T, scheduledAt time.Time) *models.FollowupRecord {
	t.Helper()
	rec := testutil.NewPendingFollowup("rem_1", "pat_1", scheduledAt)
	sentAt := scheduledAt.Add(time.Minute)
	rec.Status = models.FollowupStatusSent
	rec.SentAt = &sentAt
	require.NoError(t, f.store.CreateFollowup(context.Background(), rec))
	return rec
}

func TestLinkConfirmedReply(t *testing.T) {
	f := setupLinker(t, nil)
	ctx := context.Background()
	target := f.sentFollowup(t, time.Now().Add(-time.Hour))

	result := f.link.LinkConfirmationToReminder(ctx, "pat_1", "6281234567890", "sudah diminum")

	assert.True(t, result.Success)
	assert.Equal(t, "confirmed", result.Classification)
	assert.Equal(t, 0.9, result.Confidence)
	assert.Equal(t, target.ID, result.FollowupID)
	assert.False(t, result.RequiresFollowUp)
	assert.False(t, result.Emergency)

	rec, err := f.store.GetFollowup(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FollowupStatusConfirmed, rec.Status)
	assert.Equal(t, "sudah diminum", rec.Response)
	require.NotNil(t, rec.RespondedAt)

	require.NotEmpty(t, f.msg.Sent)
	assert.Equal(t, ackConfirmed, f.msg.Sent[len(f.msg.Sent)-1].Body)
}

func TestLinkPicksMostRecentActiveFollowup(t *testing.T) {
	f := setupLinker(t, nil)
	ctx := context.Background()

	older := f.sentFollowup(t, time.Now().Add(-3*time.Hour))
	newer := f.sentFollowup(t, time.Now().Add(-time.Hour))
	closed := testutil.NewPendingFollowup("rem_1", "pat_1", time.Now())
	closed.Status = models.FollowupStatusConfirmed
	require.NoError(t, f.store.CreateFollowup(ctx, closed))

	result := f.link.LinkConfirmationToReminder(ctx, "pat_1", "6281234567890", "sudah")

	assert.Equal(t, newer.ID, result.FollowupID, "the most recently sent followup wins")

	rec, err := f.store.GetFollowup(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FollowupStatusSent, rec.Status, "older followup stays open")
}

func TestLinkTargetsSentStageOverFuturePending(t *testing.T) {
	f := setupLinker(t, nil)
	ctx := context.Background()

	sent := f.sentFollowup(t, time.Now().Add(-5*time.Minute))
	future := testutil.NewPendingFollowup("rem_1", "pat_1", time.Now().Add(24*time.Hour))
	require.NoError(t, f.store.CreateFollowup(ctx, future))

	result := f.link.LinkConfirmationToReminder(ctx, "pat_1", "6281234567890", "sudah")

	assert.Equal(t, sent.ID, result.FollowupID, "the reply answers the message that was delivered")

	got, err := f.store.GetFollowup(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FollowupStatusConfirmed, got.Status)

	got, err = f.store.GetFollowup(ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FollowupStatusPending, got.Status, "an undelivered stage is never confirmed")
}

func TestLinkFallsBackToDuePendingWhenNothingSent(t *testing.T) {
	f := setupLinker(t, nil)
	ctx := context.Background()

	due := testutil.NewPendingFollowup("rem_1", "pat_1", time.Now().Add(-10*time.Minute))
	require.NoError(t, f.store.CreateFollowup(ctx, due))
	future := testutil.NewPendingFollowup("rem_1", "pat_1", time.Now().Add(2*time.Hour))
	require.NoError(t, f.store.CreateFollowup(ctx, future))

	result := f.link.LinkConfirmationToReminder(ctx, "pat_1", "6281234567890", "sudah")

	assert.Equal(t, due.ID, result.FollowupID)
}

func TestLinkOnlyFutureStagesMeansNothingToConfirm(t *testing.T) {
	f := setupLinker(t, nil)
	ctx := context.Background()

	future := testutil.NewPendingFollowup("rem_1", "pat_1", time.Now().Add(2*time.Hour))
	require.NoError(t, f.store.CreateFollowup(ctx, future))

	result := f.link.LinkConfirmationToReminder(ctx, "pat_1", "6281234567890", "sudah")

	assert.True(t, result.Success)
	assert.Empty(t, result.FollowupID)
	assert.Equal(t, ackNoPending, result.Acknowledgment)

	got, err := f.store.GetFollowup(ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FollowupStatusPending, got.Status)
}

// Plays out the full staged-reminder exchange: three stages scheduled, the
// first dispatched by the engine, the patient confirming. Only the delivered
// stage closes.
func TestConfirmReplyResolvesDispatchedStage(t *testing.T) {
	f := setupLinker(t, nil)
	ctx := context.Background()

	ids, err := f.engine.ScheduleTypeAwareFollowups(ctx, models.ScheduleRequest{
		PatientID:    "pat_1",
		ReminderID:   "rem_1",
		Phone:        "6281234567890",
		PatientName:  "Budi",
		ReminderType: models.ReminderTypeMedication,
		Title:        "Amoxicillin 500mg",
		Message:      "Minum obat",
		Priority:     models.PriorityMedium,
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	// The 15-minute stage comes due and the driver dispatches it.
	require.NoError(t, f.store.EnqueueFollowup(ctx, ids[0], time.Now().Add(-time.Minute)))
	procResult, err := f.engine.ProcessPendingFollowups(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, procResult.Sent)

	result := f.link.LinkConfirmationToReminder(ctx, "pat_1", "6281234567890", "sudah")

	require.True(t, result.Success)
	assert.Equal(t, "confirmed", result.Classification)
	assert.Equal(t, ids[0], result.FollowupID, "the reply confirms the stage that was sent")

	first, err := f.store.GetFollowup(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.FollowupStatusConfirmed, first.Status)

	for _, id := range ids[1:] {
		rec, err := f.store.GetFollowup(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.FollowupStatusPending, rec.Status, "undelivered stages stay pending")
	}
}

func TestLinkMissedReplySchedulesRePingAndAlerts(t *testing.T) {
	f := setupLinker(t, nil)
	ctx := context.Background()
	target := f.sentFollowup(t, time.Now().Add(-time.Hour))

	result := f.link.LinkConfirmationToReminder(ctx, "pat_1", "6281234567890", "belum sempat")

	assert.True(t, result.Success)
	assert.Equal(t, "missed", result.Classification)
	assert.True(t, result.RequiresFollowUp)

	rec, err := f.store.GetFollowup(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FollowupStatusResponded, rec.Status, "missed does not reopen the record")

	// A gentle re-ping exists, due in 30 minutes.
	records, err := f.store.ListPatientFollowups(ctx, "pat_1")
	require.NoError(t, err)
	var rePing *models.FollowupRecord
	for i := range records {
		if records[i].Type == models.FollowupTypeGeneral {
			rePing = &records[i]
		}
	}
	require.NotNil(t, rePing, "missed reply must schedule a re-ping")
	assert.Equal(t, models.FollowupStatusPending, rePing.Status)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), rePing.ScheduledAt, time.Minute)

	assert.Equal(t, ackMissed, f.msg.Sent[len(f.msg.Sent)-1].Body)
}

func TestMissedReplyAlertsOperator(t *testing.T) {
	st, mr := testutil.NewTestStore(t)
	msg := testutil.NewMockMessenger()
	engine := followup.NewEngine(st, msg, nil)
	link := NewLinker(st, msg, engine, nil, nil)

	ctx := context.Background()
	rec := testutil.NewPendingFollowup("rem_1", "pat_1", time.Now().Add(-time.Hour))
	rec.Status = models.FollowupStatusSent
	require.NoError(t, st.CreateFollowup(ctx, rec))

	result := link.LinkConfirmationToReminder(ctx, "pat_1", "6281234567890", "belum")
	require.True(t, result.Success)

	alerts, err := mr.List(alertsKey)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	var alert struct {
		PatientID  string `json:"patient_id"`
		FollowupID string `json:"followup_id"`
		Reason     string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal([]byte(alerts[0]), &alert))
	assert.Equal(t, "pat_1", alert.PatientID)
	assert.Equal(t, rec.ID, alert.FollowupID)
	assert.Equal(t, "missed", alert.Reason)
}

func TestLinkLaterReplySchedulesSlowerRePing(t *testing.T) {
	f := setupLinker(t, nil)
	ctx := context.Background()
	f.sentFollowup(t, time.Now().Add(-time.Hour))

	result := f.link.LinkConfirmationToReminder(ctx, "pat_1", "6281234567890", "nanti ya")

	assert.True(t, result.Success)
	assert.Equal(t, "later", result.Classification)
	assert.True(t, result.RequiresFollowUp)

	records, err := f.store.ListPatientFollowups(ctx, "pat_1")
	require.NoError(t, err)
	var rePing *models.FollowupRecord
	for i := range records {
		if records[i].Type == models.FollowupTypeGeneral {
			rePing = &records[i]
		}
	}
	require.NotNil(t, rePing)
	assert.WithinDuration(t, time.Now().Add(time.Hour), rePing.ScheduledAt, time.Minute)
	assert.Equal(t, ackLater, f.msg.Sent[len(f.msg.Sent)-1].Body)
}

func TestLinkUnknownReplyFlagsForReview(t *testing.T) {
	st, mr := testutil.NewTestStore(t)
	msg := testutil.NewMockMessenger()
	engine := followup.NewEngine(st, msg, nil)
	link := NewLinker(st, msg, engine, nil, nil)

	ctx := context.Background()
	rec := testutil.NewPendingFollowup("rem_1", "pat_1", time.Now().Add(-time.Hour))
	rec.Status = models.FollowupStatusSent
	require.NoError(t, st.CreateFollowup(ctx, rec))

	result := link.LinkConfirmationToReminder(ctx, "pat_1", "6281234567890", "obatnya warna apa")

	assert.True(t, result.Success)
	assert.Equal(t, "unknown", result.Classification)
	assert.True(t, result.RequiresFollowUp)

	got, err := st.GetFollowup(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FollowupStatusResponded, got.Status)

	flags, err := mr.List(reviewKey)
	require.NoError(t, err)
	assert.Len(t, flags, 1)
	assert.Equal(t, ackUnknown, msg.Sent[len(msg.Sent)-1].Body)
}

func TestLinkEmergencyShortCircuits(t *testing.T) {
	f := setupLinker(t, nil)
	ctx := context.Background()
	target := f.sentFollowup(t, time.Now().Add(-time.Hour))

	result := f.link.LinkConfirmationToReminder(ctx, "pat_1", "6281234567890", "tolong, dada saya nyeri")

	assert.True(t, result.Success)
	assert.True(t, result.Emergency)
	assert.True(t, result.RequiresFollowUp)
	assert.Equal(t, ackEmergency, result.Acknowledgment)
	assert.Equal(t, target.ID, result.FollowupID)

	rec, err := f.store.GetFollowup(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FollowupStatusResponded, rec.Status)

	state, err := f.store.GetActiveConversationState(ctx, "pat_1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, models.ContextEmergency, state.CurrentContext)

	assert.Equal(t, ackEmergency, f.msg.Sent[len(f.msg.Sent)-1].Body)
}

func TestLinkNoPendingFollowup(t *testing.T) {
	f := setupLinker(t, nil)

	result := f.link.LinkConfirmationToReminder(context.Background(), "pat_1", "6281234567890", "sudah")

	assert.True(t, result.Success)
	assert.Empty(t, result.FollowupID)
	assert.Equal(t, ackNoPending, result.Acknowledgment)
}

type staticAnswerer struct {
	answer string
	err    error
}

func (a staticAnswerer) AnswerInquiry(ctx context.Context, question string) (string, error) {
	return a.answer, a.err
}

func TestLinkNoPendingOpenQuestionUsesAnswerer(t *testing.T) {
	f := setupLinker(t, staticAnswerer{answer: "Obat sebaiknya diminum setelah makan ya."})

	result := f.link.LinkConfirmationToReminder(context.Background(), "pat_1", "6281234567890", "obat ini diminum sebelum atau sesudah makan?")

	assert.True(t, result.Success)
	assert.Equal(t, "unknown", result.Classification)
	assert.Equal(t, "Obat sebaiknya diminum setelah makan ya.", result.Acknowledgment)
}

func TestLinkAnswererFailureFallsBackToStatic(t *testing.T) {
	f := setupLinker(t, staticAnswerer{err: errors.New("model timeout")})

	result := f.link.LinkConfirmationToReminder(context.Background(), "pat_1", "6281234567890", "obat ini diminum kapan?")

	assert.True(t, result.Success)
	assert.Equal(t, ackNoPending, result.Acknowledgment)
}

// brokenStore fails every patient listing.
type brokenStore struct {
	store.Store
}

func (s brokenStore) ListPatientFollowups(ctx context.Context, patientID string) ([]models.FollowupRecord, error) {
	return nil, errors.New("redis gone")
}

func TestLinkStoreFailureSendsFallback(t *testing.T) {
	st, _ := testutil.NewTestStore(t)
	msg := testutil.NewMockMessenger()
	engine := followup.NewEngine(st, msg, nil)
	link := NewLinker(brokenStore{Store: st}, msg, engine, nil, nil)

	result := link.LinkConfirmationToReminder(context.Background(), "pat_1", "6281234567890", "sudah")

	assert.False(t, result.Success)
	assert.Equal(t, ackFallback, result.Acknowledgment)
	require.NotEmpty(t, msg.Sent, "the patient is never left without a reply")
	assert.Equal(t, ackFallback, msg.Sent[len(msg.Sent)-1].Body)
}
