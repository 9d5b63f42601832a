package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/SehatKit/KawalObat/internal/models"
	"github.com/SehatKit/KawalObat/internal/twiliowhatsapp"
	"github.com/SehatKit/KawalObat/internal/whatsapp"
)

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"digits only", "6281234567890", "6281234567890", false},
		{"plus prefix", "+62 812-3456-7890", "6281234567890", false},
		{"parentheses", "(0812) 3456 789", "08123456789", false},
		{"empty", "", "", true},
		{"no digits", "not-a-number", "", true},
		{"too short", "12345", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := canonicalizePhone(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestWhatsAppServiceSendMessage(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	id, err := svc.SendMessage(context.Background(), "6281234567890", "halo")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestWhatsAppServiceStopDropsLateEvents(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop(), "Stop is idempotent")

	body := "sudah"
	evt := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Sender: types.NewJID("6281234567890", "s.whatsapp.net")},
			Timestamp:     time.Now(),
		},
		Message: &waE2E.Message{Conversation: &body},
	}

	// An event arriving during shutdown is dropped, never sent on the
	// closed responses channel.
	svc.handleIncomingMessage(evt)
}

func TestTwilioServicePushResponse(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	require.NoError(t, svc.Start(context.Background()))

	resp := models.Response{From: "+6281234567890", Body: "sudah", Time: time.Now().Unix()}
	svc.PushResponse(resp)

	select {
	case got := <-svc.Responses():
		assert.Equal(t, resp, got)
	case <-time.After(time.Second):
		t.Fatal("pushed response never surfaced")
	}

	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop(), "Stop is idempotent")

	// Pushing after stop is dropped without panicking.
	svc.PushResponse(resp)
}

// recordingLinker captures what the handler forwards.
type recordingLinker struct {
	patientID string
	phone     string
	text      string
	result    *models.LinkResult
}

func (l *recordingLinker) LinkConfirmationToReminder(ctx context.Context, patientID, phone, text string) *models.LinkResult {
	l.patientID = patientID
	l.phone = phone
	l.text = text
	if l.result != nil {
		return l.result
	}
	return &models.LinkResult{Success: true, Classification: "confirmed"}
}

func TestResponseHandlerProcessResponse(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	lnk := &recordingLinker{}
	handler := NewResponseHandler(svc, lnk, nil)

	err := handler.ProcessResponse(context.Background(), models.Response{From: "+62 812-3456-7890", Body: "sudah"})
	require.NoError(t, err)

	assert.Equal(t, "6281234567890", lnk.phone, "sender is canonicalized before linking")
	assert.Equal(t, "6281234567890", lnk.patientID, "identity directory keys patients by phone")
	assert.Equal(t, "sudah", lnk.text)
}

func TestResponseHandlerRejectsInvalidSender(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	lnk := &recordingLinker{}
	handler := NewResponseHandler(svc, lnk, nil)

	err := handler.ProcessResponse(context.Background(), models.Response{From: "garbage", Body: "sudah"})
	assert.Error(t, err)
	assert.Empty(t, lnk.text, "invalid senders never reach the linker")
}

func TestResponseHandlerReportsLinkFailure(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	lnk := &recordingLinker{result: &models.LinkResult{Success: false}}
	handler := NewResponseHandler(svc, lnk, nil)

	err := handler.ProcessResponse(context.Background(), models.Response{From: "6281234567890", Body: "sudah"})
	assert.Error(t, err)
}

func TestResponseHandlerStartConsumesChannel(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	lnk := &recordingLinker{}
	handler := NewResponseHandler(svc, lnk, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler.Start(ctx)

	svc.PushResponse(models.Response{From: "6281234567890", Body: "belum"})

	require.Eventually(t, func() bool { return lnk.text == "belum" }, time.Second, 5*time.Millisecond)
}
