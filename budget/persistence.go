// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

package budget

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// spendKeyPrefix namespaces ledger keys in Redis. One key per period so
// stale periods expire on their own.
const spendKeyPrefix = "warden:budget:spent:"

// RedisPersistence stores period spend in Redis. It survives gateway
// restarts within a period; losing Redis only loses cross-restart
// continuity, never in-process accounting.
type RedisPersistence struct {
	client    *redis.Client
	periodLen time.Duration
}

// NewRedisPersistence connects to Redis and verifies the connection.
func NewRedisPersistence(ctx context.Context, addr, password string, db int, periodLen time.Duration) (*RedisPersistence, error) {
	if periodLen <= 0 {
		periodLen = 24 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return &RedisPersistence{client: client, periodLen: periodLen}, nil
}

// Seed reads the spend recorded for the current period. A missing key
// means a fresh period and seeds zero.
func (p *RedisPersistence) Seed(ctx context.Context) (float64, error) {
	val, err := p.client.Get(ctx, p.key()).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read budget seed: %w", err)
	}
	spent, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("parse budget seed %q: %w", val, err)
	}
	return spent, nil
}

// NotifySpend stores the new period total with a TTL of two periods, so
// stale keys clean themselves up.
func (p *RedisPersistence) NotifySpend(ctx context.Context, spentUnits float64) error {
	val := strconv.FormatFloat(spentUnits, 'f', -1, 64)
	return p.client.Set(ctx, p.key(), val, 2*p.periodLen).Err()
}

// Close releases the Redis connection.
func (p *RedisPersistence) Close() error {
	return p.client.Close()
}

// key returns the spend key for the current period.
func (p *RedisPersistence) key() string {
	start := time.Now().UTC().Truncate(p.periodLen)
	return spendKeyPrefix + start.Format("20060102T150405")
}
