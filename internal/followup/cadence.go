// Package followup implements the staged re-contact engine: type/priority
// aware scheduling, due-queue processing, message dispatch, and cancellation.
package followup

import (
	"time"

	"github.com/SehatKit/KawalObat/internal/models"
)

// Base offsets of the three followup stages, measured from the moment the
// parent reminder was dispatched.
const (
	BaseOffset15m = 15 * time.Minute
	BaseOffset2h  = 2 * time.Hour
	BaseOffset24h = 24 * time.Hour
)

// Priority multipliers applied to all three stage offsets.
const (
	highPriorityFactor = 0.5
	lowPriorityFactor  = 1.5
)

// stageTypes maps stage index to the followup type/stage pair of the record
// created for it.
var stageTypes = [3]struct {
	Type  models.FollowupType
	Stage models.FollowupStage
}{
	{models.FollowupType15m, models.StageFollowup15m},
	{models.FollowupType2h, models.StageFollowup2h},
	{models.FollowupType24h, models.StageFollowup24h},
}

// Cadence computes the three stage due offsets for a reminder. The priority
// factor applies first (HIGH halves, LOW stretches by 1.5), then the reminder
// type adjusts individual stages: medication keeps the priority-adjusted base,
// appointments stretch the second stage by 1.5, and general reminders double
// the first two stages and stretch the third by 1.5. These exact multipliers
// are load-bearing; tests pin them.
func Cadence(reminderType models.ReminderType, priority models.ReminderPriority) [3]time.Duration {
	offsets := [3]time.Duration{BaseOffset15m, BaseOffset2h, BaseOffset24h}

	factor := 1.0
	switch priority {
	case models.PriorityHigh:
		factor = highPriorityFactor
	case models.PriorityLow:
		factor = lowPriorityFactor
	}
	for i := range offsets {
		offsets[i] = scale(offsets[i], factor)
	}

	switch reminderType {
	case models.ReminderTypeAppointment:
		offsets[1] = scale(offsets[1], 1.5)
	case models.ReminderTypeGeneral:
		offsets[0] = scale(offsets[0], 2)
		offsets[1] = scale(offsets[1], 2)
		offsets[2] = scale(offsets[2], 1.5)
	}

	return offsets
}

func scale(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}
