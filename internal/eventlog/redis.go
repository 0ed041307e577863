// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the redis publisher.
type RedisConfig struct {
	Addr    string
	Channel string
	// Keep bounds the recent-events list; 0 disables the list.
	Keep int64
}

// Redis publishes events on a channel and keeps the latest ones in a list
// named "<channel>:recent".
type Redis struct {
	client  *redis.Client
	channel string
	keep    int64
}

// NewRedis connects to redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &Redis{client: client, channel: cfg.Channel, keep: cfg.Keep}, nil
}

// Close closes the client.
func (r *Redis) Close() error { return r.client.Close() }

// RecentKey is the list holding the latest events.
func (r *Redis) RecentKey() string { return r.channel + ":recent" }

// Write implements Sink.
func (r *Redis) Write(ctx context.Context, e Event) error {
	buf, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Publish(ctx, r.channel, buf)
	if r.keep > 0 {
		pipe.LPush(ctx, r.RecentKey(), buf)
		pipe.LTrim(ctx, r.RecentKey(), 0, r.keep-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}
