package followup

import (
	"fmt"

	"github.com/SehatKit/KawalObat/internal/models"
)

// Message templates per (followup type × reminder type). Each asks a
// type-appropriate yes/no question; phrasing escalates in urgency from the
// 15-minute to the 24-hour stage. Placeholders: patient name, reminder title.
var stageTemplates = map[models.FollowupType]map[models.ReminderType]string{
	models.FollowupType15m: {
		models.ReminderTypeMedication:  "Halo %s! Obat %s sudah diminum? Balas \"sudah\" jika sudah ya 😊",
		models.ReminderTypeAppointment: "Halo %s! Apakah sudah hadir di janji temu %s? Balas \"sudah\" jika sudah ya 😊",
		models.ReminderTypeGeneral:     "Halo %s! Apakah %s sudah dilakukan? Balas \"sudah\" jika sudah ya 😊",
	},
	models.FollowupType2h: {
		models.ReminderTypeMedication:  "Halo %s, mengingatkan kembali: obat %s apakah sudah diminum? Mohon balas \"sudah\" atau \"belum\" ya.",
		models.ReminderTypeAppointment: "Halo %s, mengingatkan kembali: apakah sudah hadir di janji temu %s? Mohon balas \"sudah\" atau \"belum\" ya.",
		models.ReminderTypeGeneral:     "Halo %s, mengingatkan kembali: apakah %s sudah dilakukan? Mohon balas \"sudah\" atau \"belum\" ya.",
	},
	models.FollowupType24h: {
		models.ReminderTypeMedication:  "⚠️ %s, sudah sehari sejak pengingat obat %s dan kami belum menerima konfirmasi. Apakah obatnya sudah diminum? Mohon segera balas ya.",
		models.ReminderTypeAppointment: "⚠️ %s, sudah sehari sejak pengingat janji temu %s dan kami belum menerima konfirmasi. Apakah sudah hadir? Mohon segera balas ya.",
		models.ReminderTypeGeneral:     "⚠️ %s, sudah sehari sejak pengingat %s dan kami belum menerima konfirmasi. Apakah sudah dilakukan? Mohon segera balas ya.",
	},
	models.FollowupTypeGeneral: {
		models.ReminderTypeMedication:  "Halo %s, sekadar mengingatkan kembali soal obat %s. Kabari kami jika sudah diminum ya 🙏",
		models.ReminderTypeAppointment: "Halo %s, sekadar mengingatkan kembali soal janji temu %s. Kabari kami jika sudah hadir ya 🙏",
		models.ReminderTypeGeneral:     "Halo %s, sekadar mengingatkan kembali soal %s. Kabari kami jika sudah dilakukan ya 🙏",
	},
}

// fallbackName replaces an empty patient display name in templates.
const fallbackName = "Kak"

// RenderStageMessage renders the followup message for a record's followup
// type and reminder type.
func RenderStageMessage(followupType models.FollowupType, reminderType models.ReminderType, patientName, title string) string {
	name := patientName
	if name == "" {
		name = fallbackName
	}

	byReminder, ok := stageTemplates[followupType]
	if !ok {
		byReminder = stageTemplates[models.FollowupTypeGeneral]
	}
	tmpl, ok := byReminder[reminderType]
	if !ok {
		tmpl = byReminder[models.ReminderTypeGeneral]
	}
	return fmt.Sprintf(tmpl, name, title)
}
