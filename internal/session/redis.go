package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/audioscribe/api/internal/model"
)

const redisKeyPrefix = "session:"

// redisTTL is a hard upper bound on record lifetime; the janitor normally
// evicts terminal sessions long before it fires.
const redisTTL = 24 * time.Hour

// RedisStore is a Store backed by redis, for deployments where the HTTP
// process and the asynq workers run separately. Records are stored as one
// JSON blob per session so every write replaces the whole record.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a redis-backed session store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

func (s *RedisStore) Create(ctx context.Context, sess model.Session) error {
	now := time.Now()
	sess.Status = model.StatusStarting
	sess.Progress = 0
	if sess.Total <= 0 {
		sess.Total = 100
	}
	sess.LastUpdated = now
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	return s.save(ctx, &sess)
}

func (s *RedisStore) Update(ctx context.Context, id string, progress int, step string) error {
	return s.mutate(ctx, id, func(sess *model.Session) {
		if progress > sess.Total {
			progress = sess.Total
		}
		if progress > sess.Progress {
			sess.Progress = progress
		}
		sess.CurrentStep = step
		sess.Status = model.StatusProcessing
	})
}

func (s *RedisStore) Complete(ctx context.Context, id string) error {
	return s.mutate(ctx, id, func(sess *model.Session) {
		sess.Progress = sess.Total
		sess.CurrentStep = "Completed"
		sess.Status = model.StatusCompleted
	})
}

func (s *RedisStore) Fail(ctx context.Context, id string, message string) error {
	return s.mutate(ctx, id, func(sess *model.Session) {
		sess.CurrentStep = "Error: " + message
		sess.Status = model.StatusError
	})
}

func (s *RedisStore) Get(ctx context.Context, id string) (model.Session, error) {
	return s.load(ctx, redisKey(id))
}

// Take uses an optimistic WATCH transaction so that exactly one of any set
// of concurrent retrievals deletes the record.
func (s *RedisStore) Take(ctx context.Context, id string) (model.Session, error) {
	key := redisKey(id)
	var taken model.Session

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var sess model.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return fmt.Errorf("corrupt session record: %w", err)
		}
		if sess.Status != model.StatusCompleted {
			return ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		if err != nil {
			return err
		}
		taken = sess
		return nil
	}

	for i := 0; i < 3; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return taken, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return model.Session{}, err
	}
	// The record changed under us on every attempt; treat as lost race.
	return model.Session{}, ErrNotFound
}

func (s *RedisStore) Remove(ctx context.Context, id string) error {
	return s.client.Del(ctx, redisKey(id)).Err()
}

func (s *RedisStore) Sweep(ctx context.Context, cutoff time.Time) ([]model.Session, error) {
	var removed []model.Session

	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		sess, err := s.load(ctx, key)
		if err != nil {
			continue
		}
		if sess.Status.Terminal() && sess.LastUpdated.Before(cutoff) {
			if err := s.client.Del(ctx, key).Err(); err != nil {
				continue
			}
			removed = append(removed, sess)
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	return removed, nil
}

func (s *RedisStore) mutate(ctx context.Context, id string, apply func(*model.Session)) error {
	sess, err := s.load(ctx, redisKey(id))
	if errors.Is(err, ErrNotFound) {
		return nil // tolerate races with cleanup
	}
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return nil
	}
	apply(&sess)
	sess.LastUpdated = time.Now()
	return s.save(ctx, &sess)
}

func (s *RedisStore) save(ctx context.Context, sess *model.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisKey(sess.ID), data, redisTTL).Err()
}

func (s *RedisStore) load(ctx context.Context, key string) (model.Session, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return model.Session{}, ErrNotFound
	}
	if err != nil {
		return model.Session{}, err
	}
	var sess model.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return model.Session{}, fmt.Errorf("corrupt session record: %w", err)
	}
	return sess, nil
}
