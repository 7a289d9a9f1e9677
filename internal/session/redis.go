package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "draft:"

// maxUpdateRetries - сколько раз повторять оптимистичную транзакцию при конкурентной записи.
const maxUpdateRetries = 5

// RedisStore хранит черновики в Redis с TTL, переживая рестарт процесса.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl, now: time.Now}
}

func draftKey(userID int64) string {
	return redisKeyPrefix + strconv.FormatInt(userID, 10)
}

func (r *RedisStore) Begin(ctx context.Context, userID int64, productID uint) (*Draft, error) {
	d := newDraft(userID, productID, r.now())
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode draft: %w", err)
	}
	if err := r.rdb.Set(ctx, draftKey(userID), data, r.ttl).Err(); err != nil {
		return nil, fmt.Errorf("save draft: %w", err)
	}
	return d, nil
}

func (r *RedisStore) Get(ctx context.Context, userID int64) (*Draft, error) {
	return r.get(ctx, r.rdb, userID)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisStore) get(ctx context.Context, c getter, userID int64) (*Draft, error) {
	data, err := c.Get(ctx, draftKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoDraft
	}
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}
	var d Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	return &d, nil
}

// Update выполняет read-modify-write под WATCH; при гонке повторяет попытку.
func (r *RedisStore) Update(ctx context.Context, userID int64, fn func(d *Draft) error) (*Draft, error) {
	key := draftKey(userID)
	var result *Draft
	txf := func(tx *redis.Tx) error {
		d, err := r.get(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
		d.UpdatedAt = r.now()
		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("encode draft: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		if err == nil {
			result = d
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("update draft %d: too much contention", userID)
}

func (r *RedisStore) Clear(ctx context.Context, userID int64) error {
	return r.rdb.Del(ctx, draftKey(userID)).Err()
}
