package pagestore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces page keys.
const DefaultRedisPrefix = "harvest"

// RedisStore keeps each page under <prefix>:page:<collection>:<offset> and
// indexes the offsets of a collection in the sorted set <prefix>:pages:<collection>.
//
// Durability follows the server's persistence settings; run Redis with
// appendfsync always when pages must survive a server crash.
type RedisStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed page store.
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

// PageKey returns the key a page is stored under.
// Example: harvest:page:SPARK:200
func (s *RedisStore) PageKey(collection string, offset int) string {
	return strings.Join([]string{s.prefix, "page", collection, strconv.Itoa(offset)}, ":")
}

// IndexKey returns the key of a collection's offset index.
func (s *RedisStore) IndexKey(collection string) string {
	return strings.Join([]string{s.prefix, "pages", collection}, ":")
}

func (s *RedisStore) Exists(ctx context.Context, collection string, offset int) (bool, error) {
	if err := ValidateCollection(collection); err != nil {
		return false, err
	}
	n, err := s.redis.Exists(ctx, s.PageKey(collection, offset)).Result()
	if err != nil {
		ErrorsTotal.WithLabelValues("redis", "exists").Inc()
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Write stores the page and its index entry in one MULTI/EXEC transaction.
func (s *RedisStore) Write(ctx context.Context, page Page) error {
	if err := page.Validate(); err != nil {
		return err
	}

	data, err := encodePage(page)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.PageKey(page.Collection, page.Offset), data, 0)
		pipe.ZAdd(ctx, s.IndexKey(page.Collection), redis.Z{
			Score:  float64(page.Offset),
			Member: strconv.Itoa(page.Offset),
		})
		return nil
	})
	if err != nil {
		ErrorsTotal.WithLabelValues("redis", "write").Inc()
		return fmt.Errorf("redis write page: %w", err)
	}

	WritesTotal.WithLabelValues("redis").Inc()
	BytesWritten.WithLabelValues("redis").Add(float64(len(page.Payload)))
	return nil
}

func (s *RedisStore) Read(ctx context.Context, collection string, offset int) (*Page, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	data, err := s.redis.Get(ctx, s.PageKey(collection, offset)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s@%d", ErrPageNotFound, collection, offset)
		}
		ErrorsTotal.WithLabelValues("redis", "read").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	page, err := decodePage(data)
	if err != nil {
		ErrorsTotal.WithLabelValues("redis", "read").Inc()
		return nil, err
	}
	return page, nil
}

func (s *RedisStore) List(ctx context.Context, collection string) ([]int, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	members, err := s.redis.ZRange(ctx, s.IndexKey(collection), 0, -1).Result()
	if err != nil {
		ErrorsTotal.WithLabelValues("redis", "list").Inc()
		return nil, fmt.Errorf("redis zrange: %w", err)
	}

	offsets := make([]int, 0, len(members))
	for _, m := range members {
		n, err := strconv.Atoi(m)
		if err != nil {
			return nil, fmt.Errorf("%w: index member %q", ErrInvalidPage, m)
		}
		offsets = append(offsets, n)
	}
	return offsets, nil
}
