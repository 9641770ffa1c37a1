package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/fern/pkg/models"
	fernredis "github.com/Ramsey-B/fern/pkg/redis"
)

const redisKeyPrefix = "fern:snapshot:"

type redisEntry struct {
	Schema   string          `json:"schema"`
	Snapshot json.RawMessage `json:"snapshot"`
}

// RedisCache shares snapshots between fern processes.
type RedisCache struct {
	client *fernredis.Client
	ttl    time.Duration
}

func NewRedisCache(client *fernredis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{client: client, ttl: ttl}
}

func dataKey(subject string) string {
	return redisKeyPrefix + "data:" + subject
}

func generationKey(subject string) string {
	return redisKeyPrefix + "gen:" + subject
}

func (c *RedisCache) Get(ctx context.Context, key Key) (*models.Snapshot, bool, error) {
	raw, err := c.client.Redis().Get(ctx, dataKey(key.subject())).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var entry redisEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, err
	}
	if entry.Schema != key.schema() {
		return nil, false, nil
	}

	// numbers must survive the round trip as their literal text
	decoder := json.NewDecoder(bytes.NewReader(entry.Snapshot))
	decoder.UseNumber()
	var snap models.Snapshot
	if err := decoder.Decode(&snap); err != nil {
		return nil, false, err
	}
	return &snap, true, nil
}

func (c *RedisCache) Generation(ctx context.Context, owner string, kind models.SubjectKind, subjectID string) (int64, error) {
	gen, err := c.client.Redis().Get(ctx, generationKey(subjectKey(owner, kind, subjectID))).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Set stores snapshot only while the subject's generation still equals generation.
func (c *RedisCache) Set(ctx context.Context, key Key, generation int64, snapshot *models.Snapshot) error {
	body, err := snapshot.Canonical()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(redisEntry{Schema: key.schema(), Snapshot: body})
	if err != nil {
		return err
	}

	subject := key.subject()
	genKey := generationKey(subject)

	err = c.client.Redis().Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != generation {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, dataKey(subject), payload, c.ttl)
			return nil
		})
		return err
	}, genKey)

	// losing the race to an invalidation is not an error
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

func (c *RedisCache) Invalidate(ctx context.Context, owner string, kind models.SubjectKind, subjectID string) error {
	subject := subjectKey(owner, kind, subjectID)
	_, err := c.client.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(subject))
		pipe.Del(ctx, dataKey(subject))
		return nil
	})
	return err
}
