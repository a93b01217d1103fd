// Package redis shares the key-value layout between machines through Redis.
// Every write is published on a channel so other processes can watch it.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage"
	"github.com/aussiebroadwan/opsdash/pkg/idx"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "opsdash"

type Store struct {
	rdb    *redis.Client
	prefix string
	origin string
	logger *slog.Logger
	owned  bool
}

// change is the pub/sub payload.
type change struct {
	Key     string `json:"key"`
	Deleted bool   `json:"deleted,omitempty"`
	Origin  string `json:"origin"`
}

// New wraps an existing client. Keys are stored as "<prefix>:<key>".
func New(rdb *redis.Client, prefix string, logger *slog.Logger) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		rdb:    rdb,
		prefix: prefix,
		origin: idx.New().String(),
		logger: logger,
	}
}

// Open parses a redis:// URL, connects and verifies the connection.
func Open(ctx context.Context, url, prefix string, logger *slog.Logger) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	s := New(rdb, prefix, logger)
	s.owned = true
	return s, nil
}

func (s *Store) key(k string) string { return s.prefix + ":" + k }
func (s *Store) channel() string     { return s.prefix + ":changes" }

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	msg, err := json.Marshal(change{Key: key, Origin: s.origin})
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key(key), value, 0)
		p.Publish(ctx, s.channel(), msg)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	n, err := s.rdb.Del(ctx, s.key(key)).Result()
	if err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	if n == 0 {
		return nil
	}

	msg, err := json.Marshal(change{Key: key, Deleted: true, Origin: s.origin})
	if err != nil {
		return err
	}
	if err := s.rdb.Publish(ctx, s.channel(), msg).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", key, err)
	}
	return nil
}

// Close closes the client only when Open created it.
func (s *Store) Close() error {
	if s.owned {
		return s.rdb.Close()
	}
	return nil
}

// Watch reports changes published by other Store instances; this instance's own writes are skipped.
func (s *Store) Watch(ctx context.Context) (<-chan storage.Event, error) {
	sub := s.rdb.Subscribe(ctx, s.channel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan storage.Event, 16)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var c change
				if err := json.Unmarshal([]byte(m.Payload), &c); err != nil {
					s.logger.Warn("ignoring malformed storage change", "error", err)
					continue
				}
				if c.Origin == s.origin {
					continue
				}
				select {
				case out <- storage.Event{Key: c.Key, Deleted: c.Deleted}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
