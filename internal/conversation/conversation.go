// Package conversation maintains one active conversational context per
// patient, with append-only message history and time-based expiry.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/SehatKit/KawalObat/internal/models"
	"github.com/SehatKit/KawalObat/internal/store"
)

// StateMachine advances per-patient conversation contexts over a Store.
// Transitions are flat: whichever service initiates a new interaction
// replaces the current context.
type StateMachine struct {
	store      store.Store
	sessionTTL time.Duration
	clock      func() time.Time
}

// NewStateMachine creates a StateMachine backed by the given store. The
// session window defaults to models.DefaultConversationTTL and slides forward
// on every recorded message.
func NewStateMachine(st store.Store) *StateMachine {
	slog.Debug("Creating conversation StateMachine")
	return &StateMachine{
		store:      st,
		sessionTTL: models.DefaultConversationTTL,
		clock:      time.Now,
	}
}

// GetOrCreate returns the patient's active, non-expired state, or creates a
// fresh one with the given default context. A lookup miss is not an error; it
// signals "start fresh".
func (sm *StateMachine) GetOrCreate(ctx context.Context, patientID, phone string, defaultContext models.ConversationContext) (*models.ConversationState, error) {
	state, err := sm.store.GetActiveConversationState(ctx, patientID)
	if err != nil {
		slog.Error("StateMachine GetOrCreate lookup failed", "error", err, "patient", patientID)
		return nil, err
	}
	if state != nil {
		slog.Debug("StateMachine GetOrCreate found active state", "patient", patientID, "state", state.ID, "context", state.CurrentContext)
		return state, nil
	}

	now := sm.clock()
	state = &models.ConversationState{
		ID:             fmt.Sprintf("cs_%s", uuid.NewString()),
		PatientID:      patientID,
		Phone:          phone,
		CurrentContext: defaultContext,
		ExpiresAt:      now.Add(sm.sessionTTL),
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := sm.store.SaveConversationState(ctx, state); err != nil {
		slog.Error("StateMachine GetOrCreate save failed", "error", err, "patient", patientID)
		return nil, err
	}

	slog.Info("StateMachine created conversation state", "patient", patientID, "state", state.ID, "context", defaultContext)
	return state, nil
}

// SetContext overwrites the current context and related entity fields on the
// patient's active state, creating one first if needed. It does not create a
// second row for the patient.
func (sm *StateMachine) SetContext(ctx context.Context, patientID, phone string, newContext models.ConversationContext, relatedEntityID, relatedEntityType string) (*models.ConversationState, error) {
	state, err := sm.GetOrCreate(ctx, patientID, phone, newContext)
	if err != nil {
		return nil, err
	}

	state.CurrentContext = newContext
	state.RelatedEntityID = relatedEntityID
	state.RelatedEntityType = relatedEntityType
	if err := sm.store.SaveConversationState(ctx, state); err != nil {
		slog.Error("StateMachine SetContext save failed", "error", err, "patient", patientID, "context", newContext)
		return nil, err
	}

	slog.Debug("StateMachine SetContext succeeded", "patient", patientID, "state", state.ID, "context", newContext, "related_entity", relatedEntityID)
	return state, nil
}

// AddMessage appends a message to the state's history, updates counters
// atomically, and slides the session expiry forward. Conversation history is
// an analytics aid; callers on the reply pipeline treat failures as warnings.
func (sm *StateMachine) AddMessage(ctx context.Context, stateID string, direction models.MessageDirection, messageType, body, detectedIntent string, intentConfidence float64) error {
	msg := &models.ConversationMessage{
		ID:               fmt.Sprintf("cm_%s", uuid.NewString()),
		StateID:          stateID,
		Direction:        direction,
		MessageType:      messageType,
		Body:             body,
		DetectedIntent:   detectedIntent,
		IntentConfidence: intentConfidence,
		CreatedAt:        sm.clock(),
	}

	if err := sm.store.AppendConversationMessage(ctx, msg, sm.sessionTTL); err != nil {
		slog.Error("StateMachine AddMessage failed", "error", err, "state", stateID, "direction", direction)
		return err
	}
	slog.Debug("StateMachine AddMessage succeeded", "state", stateID, "direction", direction, "intent", detectedIntent)
	return nil
}

// History returns the ordered message history of a state.
func (sm *StateMachine) History(ctx context.Context, stateID string) ([]models.ConversationMessage, error) {
	return sm.store.ListConversationMessages(ctx, stateID)
}

// Deactivate marks a conversation state inactive.
func (sm *StateMachine) Deactivate(ctx context.Context, stateID string) error {
	if err := sm.store.DeactivateConversationState(ctx, stateID); err != nil {
		slog.Error("StateMachine Deactivate failed", "error", err, "state", stateID)
		return err
	}
	slog.Info("StateMachine deactivated conversation state", "state", stateID)
	return nil
}

// CleanupExpired deactivates every active state past its expiry. Invoked by
// the periodic driver. Returns the number of states deactivated; per-state
// failures are logged and do not abort the sweep.
func (sm *StateMachine) CleanupExpired(ctx context.Context) (int, error) {
	ids, err := sm.store.ActiveConversationStateIDs(ctx)
	if err != nil {
		slog.Error("StateMachine CleanupExpired listing failed", "error", err)
		return 0, err
	}

	now := sm.clock()
	deactivated := 0
	for _, id := range ids {
		state, err := sm.store.GetConversationState(ctx, id)
		if err != nil {
			slog.Error("StateMachine CleanupExpired load failed", "error", err, "state", id)
			continue
		}
		if state == nil {
			// Hash expired under the set entry; drop the marker.
			if err := sm.store.DeactivateConversationState(ctx, id); err != nil {
				slog.Warn("StateMachine CleanupExpired orphan cleanup failed", "error", err, "state", id)
			}
			continue
		}
		if !state.Expired(now) {
			continue
		}
		if err := sm.store.DeactivateConversationState(ctx, id); err != nil {
			slog.Error("StateMachine CleanupExpired deactivate failed", "error", err, "state", id)
			continue
		}
		deactivated++
	}

	slog.Info("StateMachine CleanupExpired finished", "checked", len(ids), "deactivated", deactivated)
	return deactivated, nil
}
