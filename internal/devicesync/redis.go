package devicesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/kjannette/botdash-backend/internal/models"
	"github.com/kjannette/botdash-backend/internal/watchlist"
)

const defaultKey = "botdash:watchlist:snapshot"

// RedisReplica stores the shared snapshot under one Redis key. Pushes merge
// inside an optimistic WATCH transaction so concurrent devices never drop
// each other's writes.
type RedisReplica struct {
	client     *redis.Client
	key        string
	maxRetries int
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// NewRedisReplica connects and pings the server.
func NewRedisReplica(ctx context.Context, opts RedisOptions) (*RedisReplica, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", opts.Addr, err)
	}

	key := opts.Key
	if key == "" {
		key = defaultKey
	}
	log.Infof("redis replica connected: %s (db %d, key %s)", opts.Addr, opts.DB, key)
	return &RedisReplica{client: client, key: key, maxRetries: 10}, nil
}

func (r *RedisReplica) Close() error {
	return r.client.Close()
}

func (r *RedisReplica) Pull(ctx context.Context) (models.Snapshot, bool, error) {
	return r.get(ctx, r.client)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisReplica) get(ctx context.Context, c getter) (models.Snapshot, bool, error) {
	b, err := c.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Snapshot{}, false, nil
	}
	if err != nil {
		return models.Snapshot{}, false, fmt.Errorf("redis get: %w", err)
	}
	var s models.Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return models.Snapshot{}, false, fmt.Errorf("decode replica snapshot: %w", err)
	}
	return watchlist.Clone(s), true, nil
}

func (r *RedisReplica) Push(ctx context.Context, s models.Snapshot) (models.Snapshot, error) {
	var merged models.Snapshot

	txf := func(tx *redis.Tx) error {
		cur, ok, err := r.get(ctx, tx)
		if err != nil {
			return err
		}
		merged = watchlist.Clone(s)
		if ok {
			merged = watchlist.Merge(s, cur)
		}
		b, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, r.key, b, 0)
			return nil
		})
		return err
	}

	for i := 0; i < r.maxRetries; i++ {
		err := r.client.Watch(ctx, txf, r.key)
		if err == nil {
			return merged, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return models.Snapshot{}, fmt.Errorf("redis push: %w", err)
		}
	}
	return models.Snapshot{}, fmt.Errorf("redis push: key %s kept changing, gave up after %d attempts", r.key, r.maxRetries)
}
