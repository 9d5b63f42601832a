// Package store provides the Redis-backed persistence layer for KawalObat.
//
// Followup records, per-patient and per-reminder indexes, the time-ordered due
// queue, and conversation state/history all live in a shared Redis instance,
// which is the single source of truth across engine instances.
package store

import (
	"context"
	"time"

	"github.com/SehatKit/KawalObat/internal/models"
)

// Store is the persistence contract consumed by the followup engine, the
// confirmation linker, and the conversation state machine.
type Store interface {
	// Followup records and indexes.
	CreateFollowup(ctx context.Context, rec *models.FollowupRecord) error
	GetFollowup(ctx context.Context, id string) (*models.FollowupRecord, error)
	UpdateFollowup(ctx context.Context, rec *models.FollowupRecord) error
	CancelFollowup(ctx context.Context, id string) error
	ClaimFollowup(ctx context.Context, id string) (bool, error)
	ListPatientFollowups(ctx context.Context, patientID string) ([]models.FollowupRecord, error)
	ListReminderFollowups(ctx context.Context, reminderID string) ([]models.FollowupRecord, error)
	DeleteReminderIndex(ctx context.Context, reminderID string) error
	FollowupStats(ctx context.Context, patientID string) (*models.FollowupStats, error)

	// Due queue (sorted set scored by due epoch millis).
	EnqueueFollowup(ctx context.Context, id string, dueAt time.Time) error
	DueFollowupIDs(ctx context.Context, now time.Time) ([]string, error)
	DequeueFollowup(ctx context.Context, id string) error

	// Conversation state and history.
	SaveConversationState(ctx context.Context, state *models.ConversationState) error
	GetConversationState(ctx context.Context, id string) (*models.ConversationState, error)
	GetActiveConversationState(ctx context.Context, patientID string) (*models.ConversationState, error)
	AppendConversationMessage(ctx context.Context, msg *models.ConversationMessage, renewBy time.Duration) error
	ListConversationMessages(ctx context.Context, stateID string) ([]models.ConversationMessage, error)
	DeactivateConversationState(ctx context.Context, id string) error
	ActiveConversationStateIDs(ctx context.Context) ([]string, error)

	// Operator-facing queues consumed by the dashboard.
	PushOperatorAlert(ctx context.Context, payload string) error
	PushReviewFlag(ctx context.Context, payload string) error

	Close() error
}

// Opts holds configuration options for the Redis store.
type Opts struct {
	Addr      string        // Redis address, e.g. "localhost:6379"
	Password  string        // optional Redis password
	DB        int           // Redis logical database
	KeyPrefix string        // prefix for all keys, defaults to "kawalobat"
	RecordTTL time.Duration // TTL for followup records and indexes, defaults to models.FollowupRecordTTL
}

// Option defines a configuration option for the Redis store.
type Option func(*Opts)

// WithAddr sets the Redis server address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithPassword sets the Redis password.
func WithPassword(password string) Option {
	return func(o *Opts) {
		o.Password = password
	}
}

// WithDB selects the Redis logical database.
func WithDB(db int) Option {
	return func(o *Opts) {
		o.DB = db
	}
}

// WithKeyPrefix sets the prefix used for all Redis keys.
func WithKeyPrefix(prefix string) Option {
	return func(o *Opts) {
		o.KeyPrefix = prefix
	}
}

// WithRecordTTL overrides the store-level TTL applied to followup records.
func WithRecordTTL(ttl time.Duration) Option {
	return func(o *Opts) {
		o.RecordTTL = ttl
	}
}
