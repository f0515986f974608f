package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces checkpoint keys.
const DefaultRedisPrefix = "harvest:checkpoint"

// RedisStore keeps one JSON value per collection under <prefix>:<collection>.
type RedisStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store. An empty prefix selects
// DefaultRedisPrefix.
func NewRedisStore(redisClient *redis.Client, prefix string) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: strings.TrimSuffix(prefix, ":"),
	}
}

// Key returns the Redis key of a collection.
func (s *RedisStore) Key(collection string) string {
	return s.prefix + ":" + collection
}

func (s *RedisStore) Load(ctx context.Context, collection string) (*Checkpoint, error) {
	data, err := s.redis.Get(ctx, s.Key(collection)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		ErrorsTotal.WithLabelValues("redis", "load").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	cp, err := decodeRecord(collection, data)
	if err != nil {
		ErrorsTotal.WithLabelValues("redis", "load").Inc()
		return nil, err
	}
	return cp, nil
}

// Save replaces the record inside a WATCH transaction so that the offset
// check and the write observe the same value.
func (s *RedisStore) Save(ctx context.Context, cp Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	cp = stamp(cp)

	data, err := json.Marshal(toRecord(cp))
	if err != nil {
		ErrorsTotal.WithLabelValues("redis", "save").Inc()
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	key := s.Key(cp.Collection)
	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("redis get: %w", err)
		default:
			if prev, err := decodeRecord(cp.Collection, current); err == nil {
				if err := checkAdvance(prev, cp); err != nil {
					return err
				}
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if !errors.Is(err, ErrOffsetRegression) {
			ErrorsTotal.WithLabelValues("redis", "save").Inc()
		}
		return err
	}

	SavesTotal.WithLabelValues("redis").Inc()
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, collection string) error {
	if err := s.redis.Del(ctx, s.Key(collection)).Err(); err != nil {
		ErrorsTotal.WithLabelValues("redis", "delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]Checkpoint, error) {
	var out []Checkpoint
	seen := make(map[string]bool)

	iter := s.redis.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		collection := strings.TrimPrefix(key, s.prefix+":")
		// SCAN may return a key more than once.
		if seen[collection] {
			continue
		}
		seen[collection] = true

		cp, err := s.Load(ctx, collection)
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", collection, err)
		}
		// Deleted between SCAN and GET.
		if cp == nil {
			continue
		}
		out = append(out, *cp)
	}
	if err := iter.Err(); err != nil {
		ErrorsTotal.WithLabelValues("redis", "list").Inc()
		return nil, fmt.Errorf("redis scan: %w", err)
	}

	sortCheckpoints(out)
	return out, nil
}
