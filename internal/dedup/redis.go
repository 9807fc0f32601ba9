package dedup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xaenox/lesson-monitor/internal/models"
)

const defaultRedisPrefix = "lesson-monitor:dedup"

// reserveScript performs the check-and-set on the entry hash. A pending
// reservation carries a TTL on the hash itself, so an abandoned one
// disappears without a sweeper.
var reserveScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state == 'delivered' or state == 'pending' then
  return 0
end
redis.call('HSET', KEYS[1],
  'state', 'pending',
  'channel_id', ARGV[1],
  'message_id', ARGV[2],
  'alert_type', ARGV[3],
  'alert_id', '0',
  'updated_at', ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// confirmScript marks the entry delivered unless an earlier confirmation
// already did.
var confirmScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') == 'delivered' then
  return 0
end
redis.call('HSET', KEYS[1],
  'state', 'delivered',
  'channel_id', ARGV[1],
  'message_id', ARGV[2],
  'alert_type', ARGV[3],
  'alert_id', ARGV[4],
  'updated_at', ARGV[5])
redis.call('PERSIST', KEYS[1])
redis.call('SADD', KEYS[2], KEYS[1])
return 1
`)

var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') == 'pending' then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

var resolveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'state', 'resolved', 'updated_at', ARGV[1])
redis.call('SREM', KEYS[2], KEYS[1])
return 1
`)

// RedisStore shares dedup state between monitor instances.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisStore(client, cfg.Prefix, cfg.TTL), nil
}

func newRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) entryKey(key models.DedupKey) string {
	return fmt.Sprintf("%s:entry:%s", s.prefix, key)
}

func (s *RedisStore) deliveredSet() string {
	return s.prefix + ":delivered"
}

func (s *RedisStore) Reserve(ctx context.Context, key models.DedupKey) (bool, error) {
	res, err := reserveScript.Run(ctx, s.client,
		[]string{s.entryKey(key)},
		key.ChannelID, key.MessageID, string(key.AlertType),
		time.Now().UTC().UnixNano(), s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to reserve dedup key %s: %w", key, err)
	}
	return res == 1, nil
}

func (s *RedisStore) Confirm(ctx context.Context, key models.DedupKey, alertID int64) error {
	err := confirmScript.Run(ctx, s.client,
		[]string{s.entryKey(key), s.deliveredSet()},
		key.ChannelID, key.MessageID, string(key.AlertType),
		alertID, time.Now().UTC().UnixNano(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to confirm dedup key %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key models.DedupKey) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.entryKey(key)}).Err(); err != nil {
		return fmt.Errorf("failed to release dedup key %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Resolve(ctx context.Context, key models.DedupKey) error {
	res, err := resolveScript.Run(ctx, s.client,
		[]string{s.entryKey(key), s.deliveredSet()},
		time.Now().UTC().UnixNano(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to resolve dedup key %s: %w", key, err)
	}
	if res == 0 {
		return fmt.Errorf("dedup key %s: %w", key, models.ErrNotFound)
	}
	return nil
}

func (s *RedisStore) Unresolved(ctx context.Context) ([]Entry, error) {
	members, err := s.client.SMembers(ctx, s.deliveredSet()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list delivered keys: %w", err)
	}

	entries := make([]Entry, 0, len(members))
	for _, member := range members {
		fields, err := s.client.HGetAll(ctx, member).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read dedup entry %s: %w", member, err)
		}
		entry, ok := parseEntry(fields)
		if !ok || entry.State != StateDelivered {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// parseEntry rebuilds an Entry from its hash fields.
func parseEntry(fields map[string]string) (Entry, bool) {
	if len(fields) == 0 || fields["state"] == "" {
		return Entry{}, false
	}

	alertID, _ := strconv.ParseInt(fields["alert_id"], 10, 64)
	var updated time.Time
	if ns, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		updated = time.Unix(0, ns).UTC()
	}

	return Entry{
		Key: models.DedupKey{
			ChannelID: fields["channel_id"],
			MessageID: fields["message_id"],
			AlertType: models.AlertType(fields["alert_type"]),
		},
		State:     State(fields["state"]),
		AlertID:   alertID,
		UpdatedAt: updated,
	}, true
}
