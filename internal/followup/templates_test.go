package followup

import (
	"strings"
	"testing"

	"github.com/SehatKit/KawalObat/internal/models"
)

func TestRenderStageMessage(t *testing.T) {
	msg := RenderStageMessage(models.FollowupType15m, models.ReminderTypeMedication, "Budi", "Amoxicillin")
	if !strings.Contains(msg, "Budi") {
		t.Errorf("message missing patient name: %q", msg)
	}
	if !strings.Contains(msg, "Amoxicillin") {
		t.Errorf("message missing reminder title: %q", msg)
	}
	if !strings.Contains(msg, "sudah") {
		t.Errorf("message does not prompt for a confirmable reply: %q", msg)
	}
}

func TestRenderStageMessageFallbackName(t *testing.T) {
	msg := RenderStageMessage(models.FollowupType2h, models.ReminderTypeAppointment, "", "Kontrol gula darah")
	if !strings.Contains(msg, fallbackName) {
		t.Errorf("empty patient name not replaced with %q: %q", fallbackName, msg)
	}
}

func TestRenderStageMessageEscalation(t *testing.T) {
	early := RenderStageMessage(models.FollowupType15m, models.ReminderTypeMedication, "Budi", "Amoxicillin")
	last := RenderStageMessage(models.FollowupType24h, models.ReminderTypeMedication, "Budi", "Amoxicillin")
	if early == last {
		t.Error("15m and 24h stages render identical messages")
	}
	if !strings.Contains(last, "⚠️") {
		t.Errorf("24h stage is not visibly urgent: %q", last)
	}
	if !strings.Contains(last, "segera") {
		t.Errorf("24h stage does not ask for an immediate reply: %q", last)
	}
}

func TestRenderStageMessageUnknownTypesFallBack(t *testing.T) {
	msg := RenderStageMessage(models.FollowupType("bogus"), models.ReminderType("bogus"), "Budi", "Cek tensi")
	if msg == "" {
		t.Fatal("unknown type/reminder combination rendered empty message")
	}
	if !strings.Contains(msg, "Cek tensi") {
		t.Errorf("fallback message missing title: %q", msg)
	}
}

func TestRenderStageMessageCoversAllStagedCombinations(t *testing.T) {
	types := []models.FollowupType{models.FollowupType15m, models.FollowupType2h, models.FollowupType24h, models.FollowupTypeGeneral}
	reminders := []models.ReminderType{models.ReminderTypeMedication, models.ReminderTypeAppointment, models.ReminderTypeGeneral}
	for _, ft := range types {
		for _, rt := range reminders {
			msg := RenderStageMessage(ft, rt, "Ani", "tes")
			if !strings.Contains(msg, "Ani") || !strings.Contains(msg, "tes") {
				t.Errorf("template %s/%s did not interpolate both placeholders: %q", ft, rt, msg)
			}
		}
	}
}
