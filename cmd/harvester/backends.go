package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/issue-harvester/internal/config"
	"github.com/Sternrassler/issue-harvester/pkg/checkpoint"
	"github.com/Sternrassler/issue-harvester/pkg/pagestore"
)

// backends holds the opened durable stores of one command invocation.
type backends struct {
	checkpoints checkpoint.Store
	pages       pagestore.Store
	closers     []io.Closer
}

func openBackends(ctx context.Context, cfg config.StorageConfig) (*backends, error) {
	b := &backends{}

	var rdb *redis.Client
	if cfg.UsesRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		b.closers = append(b.closers, rdb)
		if err := rdb.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
	}

	switch cfg.CheckpointBackend {
	case "redis":
		prefix := ""
		if cfg.RedisPrefix != "" {
			prefix = cfg.RedisPrefix + ":checkpoint"
		}
		b.checkpoints = checkpoint.NewRedisStore(rdb, prefix)
	default:
		store, err := checkpoint.NewFileStore(cfg.CheckpointPath)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.checkpoints = store
	}

	switch cfg.PageBackend {
	case "redis":
		b.pages = pagestore.NewRedisStore(rdb, cfg.RedisPrefix)
	case "sqlite":
		store, err := pagestore.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, store)
		b.pages = store
	default:
		store, err := pagestore.NewFSStore(cfg.PagesDir)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.pages = store
	}

	return b, nil
}

// Close releases connections in reverse opening order.
func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
