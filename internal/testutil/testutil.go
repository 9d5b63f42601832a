// Package testutil provides shared test helpers for KawalObat tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/SehatKit/KawalObat/internal/models"
	"github.com/SehatKit/KawalObat/internal/store"
)

// NewTestStore creates a RedisStore backed by an in-process miniredis.
// The miniredis instance is returned for clock and key inspection.
func NewTestStore(t *testing.T) (*store.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.NewRedisStoreWithClient(client)
	t.Cleanup(func() { require.NoError(t, st.Close()) })
	return st, mr
}

// NewPendingFollowup builds a valid pending followup record for tests.
func NewPendingFollowup(reminderID, patientID string, scheduledAt time.Time) *models.FollowupRecord {
	now := scheduledAt.Add(-time.Minute)
	return &models.FollowupRecord{
		ID:           "fu_" + uuid.NewString(),
		ReminderID:   reminderID,
		PatientID:    patientID,
		Phone:        "6281234567890",
		Type:         models.FollowupType15m,
		Stage:        models.StageFollowup15m,
		Priority:     models.PriorityMedium,
		ReminderType: models.ReminderTypeMedication,
		Title:        "Minum obat",
		PatientName:  "Budi",
		ScheduledAt:  scheduledAt,
		Status:       models.FollowupStatusPending,
		MaxRetries:   models.DefaultMaxRetries,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// SentMessage records one dispatch through the MockMessenger.
type SentMessage struct {
	To   string
	Body string
}

// MockMessenger implements messaging.Service for tests. It records sent
// messages and can be told to fail sends.
type MockMessenger struct {
	mu        sync.Mutex
	Sent      []SentMessage
	SendErr   error
	responses chan models.Response
}

// NewMockMessenger creates a MockMessenger with a buffered response channel.
func NewMockMessenger() *MockMessenger {
	return &MockMessenger{responses: make(chan models.Response, 16)}
}

// ValidateAndCanonicalizeRecipient accepts any non-empty recipient unchanged.
func (m *MockMessenger) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	return recipient, nil
}

// SendMessage records the message, or fails if SendErr is set.
func (m *MockMessenger) SendMessage(ctx context.Context, to string, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return "", m.SendErr
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return fmt.Sprintf("mock-%d", len(m.Sent)), nil
}

// Start is a no-op.
func (m *MockMessenger) Start(ctx context.Context) error { return nil }

// Stop closes the response channel.
func (m *MockMessenger) Stop() error {
	close(m.responses)
	return nil
}

// Responses returns the response channel.
func (m *MockMessenger) Responses() <-chan models.Response { return m.responses }

// PushResponse feeds a fake inbound reply.
func (m *MockMessenger) PushResponse(resp models.Response) {
	m.responses <- resp
}

// SentBodies returns the bodies of all recorded messages.
func (m *MockMessenger) SentBodies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	bodies := make([]string, len(m.Sent))
	for i, s := range m.Sent {
		bodies[i] = s.Body
	}
	return bodies
}
