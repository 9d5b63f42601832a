// This file implements the Redis-backed store. Followup records and
// conversation states are stored as flat hashes with an explicit
// encode/decode boundary; the rest of the engine only sees typed values.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SehatKit/KawalObat/internal/models"
)

// DefaultKeyPrefix is the prefix applied to all Redis keys.
const DefaultKeyPrefix = "kawalobat"

// RedisStore implements Store on top of a shared Redis instance.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// claimScript conditionally moves a followup from pending to claimed so that
// two driver cycles racing on the same due id cannot both dispatch it.
var claimScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status == 'pending' then
	redis.call('HSET', KEYS[1], 'status', 'claimed', 'updated_at', ARGV[1])
	return 1
end
return 0
`)

// NewRedisStore creates a Redis store, applying any provided options.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.RecordTTL == 0 {
		cfg.RecordTTL = models.FollowupRecordTTL
	}
	slog.Debug("NewRedisStore invoked", "addr", cfg.Addr, "db", cfg.DB, "prefix", cfg.KeyPrefix, "ttl", cfg.RecordTTL)

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err, "addr", cfg.Addr)
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	slog.Debug("Redis ping successful", "addr", cfg.Addr)

	return &RedisStore{client: client, prefix: cfg.KeyPrefix, ttl: cfg.RecordTTL}, nil
}

// NewRedisStoreWithClient wraps an existing Redis client. Used by tests that
// point the store at a miniredis instance.
func NewRedisStoreWithClient(client *redis.Client, opts ...Option) *RedisStore {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.RecordTTL == 0 {
		cfg.RecordTTL = models.FollowupRecordTTL
	}
	return &RedisStore{client: client, prefix: cfg.KeyPrefix, ttl: cfg.RecordTTL}
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// ---- key layout ----

func (s *RedisStore) followupKey(id string) string {
	return fmt.Sprintf("%s:followup:%s", s.prefix, id)
}

func (s *RedisStore) patientIndexKey(patientID string) string {
	return fmt.Sprintf("%s:patient:%s:followups", s.prefix, patientID)
}

func (s *RedisStore) reminderIndexKey(reminderID string) string {
	return fmt.Sprintf("%s:reminder:%s:followups", s.prefix, reminderID)
}

func (s *RedisStore) dueQueueKey() string {
	return fmt.Sprintf("%s:followups:due", s.prefix)
}

func (s *RedisStore) conversationKey(id string) string {
	return fmt.Sprintf("%s:conversation:%s", s.prefix, id)
}

func (s *RedisStore) conversationMessagesKey(id string) string {
	return fmt.Sprintf("%s:conversation:%s:messages", s.prefix, id)
}

func (s *RedisStore) patientConversationKey(patientID string) string {
	return fmt.Sprintf("%s:patient:%s:conversation", s.prefix, patientID)
}

func (s *RedisStore) activeConversationsKey() string {
	return fmt.Sprintf("%s:conversations:active", s.prefix)
}

func (s *RedisStore) operatorAlertsKey() string {
	return fmt.Sprintf("%s:ops:alerts", s.prefix)
}

func (s *RedisStore) reviewFlagsKey() string {
	return fmt.Sprintf("%s:ops:review", s.prefix)
}

// ---- followup records ----

// CreateFollowup persists a followup record and writes the patient and
// reminder indexes, all with the store-level TTL.
func (s *RedisStore) CreateFollowup(ctx context.Context, rec *models.FollowupRecord) error {
	if err := rec.Validate(); err != nil {
		slog.Error("RedisStore CreateFollowup validation failed", "error", err, "id", rec.ID)
		return err
	}

	key := s.followupKey(rec.ID)
	patientIdx := s.patientIndexKey(rec.PatientID)
	reminderIdx := s.reminderIndexKey(rec.ReminderID)

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, encodeFollowup(rec))
	pipe.Expire(ctx, key, s.ttl)
	pipe.SAdd(ctx, patientIdx, rec.ID)
	pipe.Expire(ctx, patientIdx, s.ttl)
	pipe.SAdd(ctx, reminderIdx, rec.ID)
	pipe.Expire(ctx, reminderIdx, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("RedisStore CreateFollowup pipeline failed", "error", err, "id", rec.ID)
		return fmt.Errorf("failed to create followup %s: %w", rec.ID, err)
	}

	slog.Debug("RedisStore CreateFollowup succeeded", "id", rec.ID, "patient", rec.PatientID, "reminder", rec.ReminderID, "stage", rec.Stage)
	return nil
}

// GetFollowup loads a followup record. A missing record returns (nil, nil);
// absence is a valid no-op for callers, not an error.
func (s *RedisStore) GetFollowup(ctx context.Context, id string) (*models.FollowupRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.followupKey(id)).Result()
	if err != nil {
		slog.Error("RedisStore GetFollowup failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to load followup %s: %w", id, err)
	}
	if len(fields) == 0 {
		slog.Debug("RedisStore GetFollowup not found", "id", id)
		return nil, nil
	}

	rec, err := decodeFollowup(fields)
	if err != nil {
		slog.Error("RedisStore GetFollowup decode failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to decode followup %s: %w", id, err)
	}
	return rec, nil
}

// UpdateFollowup persists a mutated followup record. Status transitions must
// move forward and scheduledAt is immutable after creation.
func (s *RedisStore) UpdateFollowup(ctx context.Context, rec *models.FollowupRecord) error {
	existing, err := s.GetFollowup(ctx, rec.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		slog.Debug("RedisStore UpdateFollowup record missing", "id", rec.ID)
		return models.ErrNotFound
	}
	if !existing.ScheduledAt.Equal(rec.ScheduledAt) {
		slog.Error("RedisStore UpdateFollowup scheduledAt changed", "id", rec.ID)
		return models.ErrScheduledAtImmutable
	}
	if existing.Status != rec.Status && !models.CanTransition(existing.Status, rec.Status) {
		slog.Error("RedisStore UpdateFollowup invalid transition", "id", rec.ID, "from", existing.Status, "to", rec.Status)
		return models.ErrInvalidTransition
	}

	rec.UpdatedAt = time.Now()
	key := s.followupKey(rec.ID)
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, encodeFollowup(rec))
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("RedisStore UpdateFollowup pipeline failed", "error", err, "id", rec.ID)
		return fmt.Errorf("failed to update followup %s: %w", rec.ID, err)
	}

	slog.Debug("RedisStore UpdateFollowup succeeded", "id", rec.ID, "status", rec.Status)
	return nil
}

// CancelFollowup marks a record cancelled and removes it from the due queue.
// Cancelling a missing or already-terminal record is a no-op.
func (s *RedisStore) CancelFollowup(ctx context.Context, id string) error {
	rec, err := s.GetFollowup(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		slog.Debug("RedisStore CancelFollowup record missing, nothing to cancel", "id", id)
		return nil
	}

	if !models.IsTerminalFollowupStatus(rec.Status) {
		rec.Status = models.FollowupStatusCancelled
		if err := s.UpdateFollowup(ctx, rec); err != nil {
			return err
		}
		slog.Info("RedisStore CancelFollowup cancelled", "id", id)
	} else {
		slog.Debug("RedisStore CancelFollowup already terminal", "id", id, "status", rec.Status)
	}

	return s.DequeueFollowup(ctx, id)
}

// ClaimFollowup conditionally transitions a record from pending to claimed.
// Returns true if this caller won the claim.
func (s *RedisStore) ClaimFollowup(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := claimScript.Run(ctx, s.client, []string{s.followupKey(id)}, now).Int()
	if err != nil {
		slog.Error("RedisStore ClaimFollowup script failed", "error", err, "id", id)
		return false, fmt.Errorf("failed to claim followup %s: %w", id, err)
	}
	claimed := res == 1
	slog.Debug("RedisStore ClaimFollowup", "id", id, "claimed", claimed)
	return claimed, nil
}

// ListPatientFollowups loads every indexed followup record for a patient.
// Index entries whose record hash already expired are skipped.
func (s *RedisStore) ListPatientFollowups(ctx context.Context, patientID string) ([]models.FollowupRecord, error) {
	return s.listIndexedFollowups(ctx, s.patientIndexKey(patientID))
}

// ListReminderFollowups loads every indexed followup record for a parent reminder.
func (s *RedisStore) ListReminderFollowups(ctx context.Context, reminderID string) ([]models.FollowupRecord, error) {
	return s.listIndexedFollowups(ctx, s.reminderIndexKey(reminderID))
}

func (s *RedisStore) listIndexedFollowups(ctx context.Context, indexKey string) ([]models.FollowupRecord, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		slog.Error("RedisStore listIndexedFollowups smembers failed", "error", err, "index", indexKey)
		return nil, fmt.Errorf("failed to read followup index %s: %w", indexKey, err)
	}

	records := make([]models.FollowupRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetFollowup(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			// Record hash expired before the index entry; skip.
			continue
		}
		records = append(records, *rec)
	}
	slog.Debug("RedisStore listIndexedFollowups succeeded", "index", indexKey, "count", len(records))
	return records, nil
}

// DeleteReminderIndex removes a reminder's followup index set.
func (s *RedisStore) DeleteReminderIndex(ctx context.Context, reminderID string) error {
	if err := s.client.Del(ctx, s.reminderIndexKey(reminderID)).Err(); err != nil {
		slog.Error("RedisStore DeleteReminderIndex failed", "error", err, "reminder", reminderID)
		return fmt.Errorf("failed to delete reminder index %s: %w", reminderID, err)
	}
	slog.Debug("RedisStore DeleteReminderIndex succeeded", "reminder", reminderID)
	return nil
}

// FollowupStats counts followup records by status. An empty patientID scans
// all records; otherwise the patient index is used.
func (s *RedisStore) FollowupStats(ctx context.Context, patientID string) (*models.FollowupStats, error) {
	stats := &models.FollowupStats{ByStatus: make(map[models.FollowupStatus]int)}

	count := func(key string) error {
		status, err := s.client.HGet(ctx, key, "status").Result()
		if err != nil {
			if err == redis.Nil {
				return nil
			}
			return fmt.Errorf("failed to read status of %s: %w", key, err)
		}
		stats.Total++
		stats.ByStatus[models.FollowupStatus(status)]++
		return nil
	}

	if patientID != "" {
		ids, err := s.client.SMembers(ctx, s.patientIndexKey(patientID)).Result()
		if err != nil {
			slog.Error("RedisStore FollowupStats smembers failed", "error", err, "patient", patientID)
			return nil, fmt.Errorf("failed to read patient index for %s: %w", patientID, err)
		}
		for _, id := range ids {
			if err := count(s.followupKey(id)); err != nil {
				return nil, err
			}
		}
	} else {
		iter := s.client.Scan(ctx, 0, s.followupKey("*"), 0).Iterator()
		for iter.Next(ctx) {
			if err := count(iter.Val()); err != nil {
				return nil, err
			}
		}
		if err := iter.Err(); err != nil {
			slog.Error("RedisStore FollowupStats scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan followup records: %w", err)
		}
	}

	slog.Debug("RedisStore FollowupStats succeeded", "patient", patientID, "total", stats.Total)
	return stats, nil
}

// ---- due queue ----

// EnqueueFollowup inserts a followup id into the due queue scored by due time.
func (s *RedisStore) EnqueueFollowup(ctx context.Context, id string, dueAt time.Time) error {
	err := s.client.ZAdd(ctx, s.dueQueueKey(), redis.Z{
		Score:  float64(dueAt.UnixMilli()),
		Member: id,
	}).Err()
	if err != nil {
		slog.Error("RedisStore EnqueueFollowup failed", "error", err, "id", id, "due_at", dueAt)
		return fmt.Errorf("failed to enqueue followup %s: %w", id, err)
	}
	slog.Debug("RedisStore EnqueueFollowup succeeded", "id", id, "due_at", dueAt)
	return nil
}

// DueFollowupIDs returns all ids whose due score is at or before now. Entries
// are not removed; the caller dequeues after each processing attempt so that a
// crashed cycle retries on the next one.
func (s *RedisStore) DueFollowupIDs(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.dueQueueKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		slog.Error("RedisStore DueFollowupIDs failed", "error", err)
		return nil, fmt.Errorf("failed to read due queue: %w", err)
	}
	slog.Debug("RedisStore DueFollowupIDs succeeded", "count", len(ids))
	return ids, nil
}

// DequeueFollowup removes an id from the due queue. Removing an absent id is
// not an error.
func (s *RedisStore) DequeueFollowup(ctx context.Context, id string) error {
	if err := s.client.ZRem(ctx, s.dueQueueKey(), id).Err(); err != nil {
		slog.Error("RedisStore DequeueFollowup failed", "error", err, "id", id)
		return fmt.Errorf("failed to dequeue followup %s: %w", id, err)
	}
	slog.Debug("RedisStore DequeueFollowup succeeded", "id", id)
	return nil
}

// ---- conversation state ----

// SaveConversationState persists a conversation state and repoints the
// patient's active-conversation pointer at it.
func (s *RedisStore) SaveConversationState(ctx context.Context, state *models.ConversationState) error {
	if err := state.Validate(); err != nil {
		slog.Error("RedisStore SaveConversationState validation failed", "error", err, "id", state.ID)
		return err
	}

	state.UpdatedAt = time.Now()
	key := s.conversationKey(state.ID)
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, encodeConversationState(state))
	pipe.Expire(ctx, key, s.ttl)
	pipe.Set(ctx, s.patientConversationKey(state.PatientID), state.ID, s.ttl)
	if state.IsActive {
		pipe.SAdd(ctx, s.activeConversationsKey(), state.ID)
	} else {
		pipe.SRem(ctx, s.activeConversationsKey(), state.ID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("RedisStore SaveConversationState pipeline failed", "error", err, "id", state.ID)
		return fmt.Errorf("failed to save conversation state %s: %w", state.ID, err)
	}
	slog.Debug("RedisStore SaveConversationState succeeded", "id", state.ID, "patient", state.PatientID, "context", state.CurrentContext)
	return nil
}

// GetConversationState loads a conversation state by id. Missing returns (nil, nil).
func (s *RedisStore) GetConversationState(ctx context.Context, id string) (*models.ConversationState, error) {
	fields, err := s.client.HGetAll(ctx, s.conversationKey(id)).Result()
	if err != nil {
		slog.Error("RedisStore GetConversationState failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to load conversation state %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	state, err := decodeConversationState(fields)
	if err != nil {
		slog.Error("RedisStore GetConversationState decode failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to decode conversation state %s: %w", id, err)
	}
	return state, nil
}

// GetActiveConversationState returns the patient's current active, non-expired
// conversation state, or (nil, nil) when there is none.
func (s *RedisStore) GetActiveConversationState(ctx context.Context, patientID string) (*models.ConversationState, error) {
	id, err := s.client.Get(ctx, s.patientConversationKey(patientID)).Result()
	if err != nil {
		if err == redis.Nil {
			slog.Debug("RedisStore GetActiveConversationState no pointer", "patient", patientID)
			return nil, nil
		}
		slog.Error("RedisStore GetActiveConversationState pointer read failed", "error", err, "patient", patientID)
		return nil, fmt.Errorf("failed to read conversation pointer for %s: %w", patientID, err)
	}

	state, err := s.GetConversationState(ctx, id)
	if err != nil {
		return nil, err
	}
	if state == nil || !state.IsActive || state.Expired(time.Now()) {
		slog.Debug("RedisStore GetActiveConversationState none active", "patient", patientID)
		return nil, nil
	}
	return state, nil
}

// AppendConversationMessage appends a message to the state's history and
// updates counters in a single pipeline. Counter increments use HIncrBy so two
// concurrent inbound messages cannot lose an increment. A positive renewBy
// slides the state expiry forward from now.
func (s *RedisStore) AppendConversationMessage(ctx context.Context, msg *models.ConversationMessage, renewBy time.Duration) error {
	if err := msg.Validate(); err != nil {
		slog.Error("RedisStore AppendConversationMessage validation failed", "error", err, "state", msg.StateID)
		return err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation message: %w", err)
	}

	now := time.Now()
	stateKey := s.conversationKey(msg.StateID)
	historyKey := s.conversationMessagesKey(msg.StateID)

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, historyKey, payload)
	pipe.Expire(ctx, historyKey, s.ttl)
	pipe.HIncrBy(ctx, stateKey, "message_count", 1)
	if msg.Direction == models.DirectionInbound {
		pipe.HIncrBy(ctx, stateKey, "inbound_count", 1)
	} else {
		pipe.HIncrBy(ctx, stateKey, "outbound_count", 1)
	}
	updates := map[string]interface{}{
		"last_message":    msg.Body,
		"last_message_at": now.UTC().Format(time.RFC3339Nano),
		"updated_at":      now.UTC().Format(time.RFC3339Nano),
	}
	if renewBy > 0 {
		updates["expires_at"] = now.Add(renewBy).UTC().Format(time.RFC3339Nano)
	}
	pipe.HSet(ctx, stateKey, updates)
	pipe.Expire(ctx, stateKey, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("RedisStore AppendConversationMessage pipeline failed", "error", err, "state", msg.StateID)
		return fmt.Errorf("failed to append conversation message to %s: %w", msg.StateID, err)
	}
	slog.Debug("RedisStore AppendConversationMessage succeeded", "state", msg.StateID, "direction", msg.Direction)
	return nil
}

// ListConversationMessages returns the full ordered history of a state.
func (s *RedisStore) ListConversationMessages(ctx context.Context, stateID string) ([]models.ConversationMessage, error) {
	raw, err := s.client.LRange(ctx, s.conversationMessagesKey(stateID), 0, -1).Result()
	if err != nil {
		slog.Error("RedisStore ListConversationMessages failed", "error", err, "state", stateID)
		return nil, fmt.Errorf("failed to load conversation history %s: %w", stateID, err)
	}

	messages := make([]models.ConversationMessage, 0, len(raw))
	for _, item := range raw {
		var msg models.ConversationMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			slog.Error("RedisStore ListConversationMessages unmarshal failed", "error", err, "state", stateID)
			return nil, fmt.Errorf("failed to decode conversation message in %s: %w", stateID, err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// DeactivateConversationState marks a state inactive. Idempotent.
func (s *RedisStore) DeactivateConversationState(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.conversationKey(id), map[string]interface{}{
		"is_active":  "0",
		"updated_at": now,
	})
	pipe.SRem(ctx, s.activeConversationsKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("RedisStore DeactivateConversationState failed", "error", err, "id", id)
		return fmt.Errorf("failed to deactivate conversation state %s: %w", id, err)
	}
	slog.Debug("RedisStore DeactivateConversationState succeeded", "id", id)
	return nil
}

// ActiveConversationStateIDs returns the ids of all states marked active,
// including logically expired ones awaiting the cleanup sweep.
func (s *RedisStore) ActiveConversationStateIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.activeConversationsKey()).Result()
	if err != nil {
		slog.Error("RedisStore ActiveConversationStateIDs failed", "error", err)
		return nil, fmt.Errorf("failed to read active conversation set: %w", err)
	}
	return ids, nil
}

// ---- operator queues ----

// PushOperatorAlert appends a payload to the operator alert queue.
func (s *RedisStore) PushOperatorAlert(ctx context.Context, payload string) error {
	if err := s.client.RPush(ctx, s.operatorAlertsKey(), payload).Err(); err != nil {
		slog.Error("RedisStore PushOperatorAlert failed", "error", err)
		return fmt.Errorf("failed to push operator alert: %w", err)
	}
	slog.Info("RedisStore operator alert queued")
	return nil
}

// PushReviewFlag appends a payload to the human-review queue.
func (s *RedisStore) PushReviewFlag(ctx context.Context, payload string) error {
	if err := s.client.RPush(ctx, s.reviewFlagsKey(), payload).Err(); err != nil {
		slog.Error("RedisStore PushReviewFlag failed", "error", err)
		return fmt.Errorf("failed to push review flag: %w", err)
	}
	slog.Info("RedisStore review flag queued")
	return nil
}
