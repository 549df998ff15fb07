package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultSize = 1024
	DefaultTTL  = 5 * time.Minute
)

// LRU is an in-process cache with per-entry expiry.
type LRU struct {
	lru *expirable.LRU[string, []byte]
}

// NewLRU creates an LRU cache. Non-positive values get defaults.
func NewLRU(size int, ttl time.Duration) *LRU {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LRU{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (c *LRU) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.lru.Get(key)
	return v, ok, nil
}

func (c *LRU) Set(_ context.Context, key string, value []byte) error {
	c.lru.Add(key, value)
	return nil
}

func (c *LRU) Close() error {
	c.lru.Purge()
	return nil
}

// Len reports the number of live entries.
func (c *LRU) Len() int {
	return c.lru.Len()
}
