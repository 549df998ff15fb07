// Package cache memoises odds projections. Values are opaque JSON blobs
// keyed by a digest of the projection inputs.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/R3E-Network/draw_auditor/internal/metrics"
	"github.com/R3E-Network/draw_auditor/internal/odds"
)

const (
	BackendLRU    = "lru"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"

	keyPrefix = "draw_auditor:projection:"
)

// Cache stores byte values with a fixed TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Config selects and sizes a backend.
type Config struct {
	Backend   string
	Size      int
	TTL       time.Duration
	RedisAddr string
	RedisDB   int
}

// New builds the configured backend. An empty backend means lru.
func New(cfg Config) (Cache, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendLRU, BackendMemory:
		return NewLRU(cfg.Size, cfg.TTL), nil
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("cache: redis backend needs an address")
		}
		return NewRedis(cfg.RedisAddr, cfg.RedisDB, cfg.TTL), nil
	case BackendNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte) error         { return nil }
func (Nop) Close() error                                       { return nil }

// ProjectionKey digests every field that influences odds.Project.
func ProjectionKey(in odds.Input) string {
	h := sha256.New()
	for _, v := range []*big.Int{in.StakeWeight, in.PoolTotalWeight, in.RegularPoolAnnualBudget,
		in.BigPoolAnnualBudget, in.BaseYieldAnnualBudget, in.StakeAmount} {
		fmt.Fprintf(h, "%s|", intString(v))
	}
	for _, r := range []*big.Rat{in.RegularDrawsPerYear, in.BigDrawsPerYear} {
		fmt.Fprintf(h, "%s|", ratString(r))
	}
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

func intString(v *big.Int) string {
	if v == nil {
		return "-"
	}
	return v.String()
}

func ratString(r *big.Rat) string {
	if r == nil {
		return "-"
	}
	return r.RatString()
}

// GetJSON decodes a cached value into target. Backend errors count as misses.
func GetJSON(ctx context.Context, c Cache, key string, target interface{}) bool {
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		metrics.RecordCacheLookup(false)
		return false
	}
	if err := json.Unmarshal(raw, target); err != nil {
		metrics.RecordCacheLookup(false)
		return false
	}
	metrics.RecordCacheLookup(true)
	return true
}

// SetJSON encodes value and stores it.
func SetJSON(ctx context.Context, c Cache, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, raw)
}
