// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of sungrow-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cache is a thin best-effort key-value client in front of the
// store. The cache is never a source of truth: every failure is logged
// and swallowed, readers treat it as a miss and writers as a no-op.
package cache

import (
	"context"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/redis/go-redis/v9"
)

// Client wraps a single shared redis connection pool.
type Client struct {
	rdb *redis.Client
}

// Connect parses a redis URL and returns a client. Connectivity is
// probed once; an unreachable cache is logged but not fatal, the client
// reconnects on demand.
func Connect(url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = 3 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		cclog.Warnf("cache unreachable at startup (%v), continuing degraded", err)
	}

	return &Client{rdb: rdb}, nil
}

// Get returns the cached value for key, or ok=false on a miss or any
// cache failure.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			cclog.Warnf("cache read failed for key %s: %v", key, err)
		}
		return nil, false
	}
	return val, true
}

// Set stores value under key with the given TTL, best-effort.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if c == nil {
		return
	}
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		cclog.Warnf("cache write failed for key %s: %v", key, err)
	}
}

// Delete removes key, best-effort.
func (c *Client) Delete(ctx context.Context, key string) {
	if c == nil {
		return
	}
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		cclog.Warnf("cache delete failed for key %s: %v", key, err)
	}
}

// RealtimeKey is the cache key of the latest sample of a device.
func RealtimeKey(deviceID string) string {
	return "realtime:" + deviceID
}

// Invalidate drops the realtime entry of a device after new samples were
// stored.
func (c *Client) Invalidate(ctx context.Context, deviceID string) {
	c.Delete(ctx, RealtimeKey(deviceID))
}

// Close shuts down the connection pool.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
