package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking-platform/internal/identity"
	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

const (
	MinQueueTTL     = 24 * time.Hour
	MaxQueueTTL     = 72 * time.Hour
	DefaultQueueTTL = 48 * time.Hour

	DefaultFetchLimit = 100
	MaxFetchLimit     = 500
)

// OfflineQueue relays messages to recipients that were not connected when
// they were sent. It is a delivery hint, not a record: entries expire with
// their TTL and the message table stays authoritative.
//
// Layout per recipient:
//
//	chat:undelivered:list:<role>:<profileID>  list of entry ids, oldest first
//	chat:undelivered:msg:<id>                 JSON payload
type OfflineQueue struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

func NewOfflineQueue(client *redis.Client, ttl time.Duration, logger *logging.Logger) *OfflineQueue {
	if logger == nil {
		logger = logging.Default()
	}
	return &OfflineQueue{client: client, ttl: ClampTTL(ttl), logger: logger}
}

// ClampTTL bounds ttl to [MinQueueTTL, MaxQueueTTL]; zero means the default.
func ClampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = DefaultQueueTTL
	}
	if ttl < MinQueueTTL {
		return MinQueueTTL
	}
	if ttl > MaxQueueTTL {
		return MaxQueueTTL
	}
	return ttl
}

func queueListKey(role identity.Role, profileID string) string {
	return fmt.Sprintf("chat:undelivered:list:%s:%s", role, profileID)
}

func queueEntryKey(id string) string {
	return "chat:undelivered:msg:" + id
}

// Enqueue stores payload for the recipient under id and appends id to the
// recipient's list. Both keys carry the queue TTL.
func (q *OfflineQueue) Enqueue(ctx context.Context, role identity.Role, profileID, id string, payload any) error {
	ctx, span := tracer.Start(ctx, "chat.queue.enqueue")
	defer span.End()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("chat: marshal queued payload: %w", err)
	}
	listKey := queueListKey(role, profileID)
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, queueEntryKey(id), data, q.ttl)
	pipe.RPush(ctx, listKey, id)
	pipe.Expire(ctx, listKey, q.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("chat: enqueue undelivered: %w", err)
	}
	return nil
}

// Fetch returns up to limit queued entries, oldest first. Entries whose
// payload has expired or cannot be decoded are pruned on the way.
func (q *OfflineQueue) Fetch(ctx context.Context, role identity.Role, profileID string, limit int) ([]QueuedEntry, error) {
	ctx, span := tracer.Start(ctx, "chat.queue.fetch")
	defer span.End()

	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	if limit > MaxFetchLimit {
		limit = MaxFetchLimit
	}
	listKey := queueListKey(role, profileID)
	ids, err := q.client.LRange(ctx, listKey, 0, int64(limit-1)).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("chat: list undelivered: %w", err)
	}
	if len(ids) == 0 {
		return []QueuedEntry{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = queueEntryKey(id)
	}
	values, err := q.client.MGet(ctx, keys...).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("chat: load undelivered: %w", err)
	}

	out := make([]QueuedEntry, 0, len(ids))
	pruned := 0
	for i, id := range ids {
		raw, ok := values[i].(string)
		if !ok {
			q.prune(ctx, listKey, id, false)
			pruned++
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			q.prune(ctx, listKey, id, true)
			pruned++
			continue
		}
		out = append(out, QueuedEntry{ID: id, Payload: payload})
	}
	span.SetAttributes(attribute.Int("clinic.queue_entries", len(out)), attribute.Int("clinic.queue_pruned", pruned))
	return out, nil
}

func (q *OfflineQueue) prune(ctx context.Context, listKey, id string, dropPayload bool) {
	pipe := q.client.Pipeline()
	if dropPayload {
		pipe.Del(ctx, queueEntryKey(id))
	}
	pipe.LRem(ctx, listKey, 0, id)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		q.logger.Warn("chat queue: prune failed", "entry_id", id, "error", err)
	}
}

// Ack removes an entry and its list reference. It reports false for an
// empty id and is idempotent otherwise.
func (q *OfflineQueue) Ack(ctx context.Context, role identity.Role, profileID, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "chat.queue.ack")
	defer span.End()

	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}
	pipe := q.client.TxPipeline()
	pipe.Del(ctx, queueEntryKey(id))
	pipe.LRem(ctx, queueListKey(role, profileID), 0, id)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("chat: ack undelivered: %w", err)
	}
	return true, nil
}
