// Package redisledger keeps the reminder log in Redis. Each entry is a hash
// under "reminder:log:<dedup key>". Pending claims expire after the claim TTL
// and sent entries after the configured key TTL, which must outlive the local
// day the key covers.
package redisledger

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"mealreminder/internal/config"
	"mealreminder/internal/types"
)

const keyPrefix = "reminder:log:"

// DefaultKeyTTL applies when the config leaves KeyTTL unset.
const DefaultKeyTTL = 48 * time.Hour

// claimScript creates the hash only if the key is absent.
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return 1
`)

// confirmScript marks the entry sent unless it already is.
var confirmScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') == 'sent' then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return 1
`)

// releaseScript deletes the entry only while it is pending.
var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') == 'pending' then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Ledger implements reminder.ReminderLog on Redis.
type Ledger struct {
	client redis.UniversalClient
	keyTTL time.Duration
	clock  types.Clock
}

// NewClient builds a go-redis client from the ledger config.
func NewClient(cfg config.LedgerConfig) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword.Unmask(),
		DB:       cfg.RedisDB,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

// New wraps an existing client. A non-positive keyTTL uses DefaultKeyTTL.
func New(client redis.UniversalClient, keyTTL time.Duration) *Ledger {
	if keyTTL <= 0 {
		keyTTL = DefaultKeyTTL
	}
	return &Ledger{client: client, keyTTL: keyTTL, clock: types.RealClock{}}
}

// WithClock overrides the clock used for timestamps written to entries.
func (l *Ledger) WithClock(c types.Clock) *Ledger {
	l.clock = c
	return l
}

// Ping checks the server is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func redisKey(key string) string { return keyPrefix + key }

func (l *Ledger) Exists(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, redisKey(key)).Result()
	if err != nil {
		return false, cacheError("failed to check reminder log", err)
	}
	return n > 0, nil
}

// Claim records a pending entry that expires after ttl. An expired claim has
// already been evicted by Redis, so it never blocks a later claimer.
func (l *Ledger) Claim(ctx context.Context, entry types.ReminderLogEntry, ttl time.Duration) (bool, error) {
	if entry.ClaimedAt.IsZero() {
		entry.ClaimedAt = l.clock.Now()
	}
	entry.Status = types.LogStatusPending
	entry.MessageID = ""
	entry.SentAt = time.Time{}

	args := append([]any{ttl.Milliseconds()}, fields(entry)...)
	n, err := claimScript.Run(ctx, l.client, []string{redisKey(entry.Key())}, args...).Int()
	if err != nil {
		return false, cacheError("failed to claim reminder", err)
	}
	return n == 1, nil
}

func (l *Ledger) Confirm(ctx context.Context, entry types.ReminderLogEntry) error {
	entry = l.sent(entry)
	args := append([]any{l.keyTTL.Milliseconds()}, fields(entry)...)
	if err := confirmScript.Run(ctx, l.client, []string{redisKey(entry.Key())}, args...).Err(); err != nil {
		return cacheError("failed to confirm reminder", err)
	}
	return nil
}

func (l *Ledger) Overwrite(ctx context.Context, entry types.ReminderLogEntry) error {
	entry = l.sent(entry)
	k := redisKey(entry.Key())

	pipe := l.client.TxPipeline()
	pipe.Del(ctx, k)
	pipe.HSet(ctx, k, fields(entry)...)
	pipe.PExpire(ctx, k, l.keyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return cacheError("failed to overwrite reminder log", err)
	}
	return nil
}

func (l *Ledger) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, l.client, []string{redisKey(key)}).Err(); err != nil {
		return cacheError("failed to release reminder claim", err)
	}
	return nil
}

// Get returns the entry under key, or nil when absent.
func (l *Ledger) Get(ctx context.Context, key string) (*types.ReminderLogEntry, error) {
	m, err := l.client.HGetAll(ctx, redisKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, cacheError("failed to read reminder log", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	e := types.ReminderLogEntry{
		OwnerID:        m["owner_id"],
		DateKey:        m["date_key"],
		MealSlot:       types.MealSlot(m["meal_slot"]),
		MealName:       m["meal_name"],
		RecipientEmail: m["recipient_email"],
		TimeZone:       m["time_zone"],
		Status:         types.LogStatus(m["status"]),
		MessageID:      m["message_id"],
		ClaimedAt:      parseTime(m["claimed_at"]),
		SentAt:         parseTime(m["sent_at"]),
	}
	return &e, nil
}

func (l *Ledger) sent(entry types.ReminderLogEntry) types.ReminderLogEntry {
	if entry.SentAt.IsZero() {
		entry.SentAt = l.clock.Now()
	}
	if entry.ClaimedAt.IsZero() {
		entry.ClaimedAt = entry.SentAt
	}
	entry.Status = types.LogStatusSent
	return entry
}

func fields(e types.ReminderLogEntry) []any {
	return []any{
		"owner_id", e.OwnerID,
		"date_key", e.DateKey,
		"meal_slot", string(e.MealSlot),
		"meal_name", e.MealName,
		"recipient_email", e.RecipientEmail,
		"time_zone", e.TimeZone,
		"status", string(e.Status),
		"message_id", e.MessageID,
		"claimed_at", formatTime(e.ClaimedAt),
		"sent_at", formatTime(e.SentAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func cacheError(msg string, err error) error {
	return types.NewAppError(types.ErrCodeUpstreamCache, msg, err)
}
