// Package drand fetches public randomness beacons from drand HTTP relays.
//
// Beacons are checked for randomness == sha256(signature). BLS signature
// verification is the on-chain oracle's job and is not repeated here.
package drand

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/R3E-Network/draw_auditor/internal/codec"
	"github.com/R3E-Network/draw_auditor/internal/domain/staking"
	"github.com/R3E-Network/draw_auditor/internal/httputil"
	"github.com/R3E-Network/draw_auditor/pkg/logger"
)

var (
	// ErrRandomnessMismatch means a beacon's randomness is not sha256(signature).
	ErrRandomnessMismatch = errors.New("drand: randomness is not sha256(signature)")
	// ErrRoundMismatch means the relay answered with a different round.
	ErrRoundMismatch = errors.New("drand: relay returned a different round")
	// ErrNetworkMismatch means two sources describe different drand networks.
	ErrNetworkMismatch = errors.New("drand: network mismatch")
	// ErrNoEndpoints means no relay is configured.
	ErrNoEndpoints = errors.New("drand: no endpoints configured")
)

// Config holds client configuration.
type Config struct {
	Endpoints []string
	ChainHash string
	// RateLimit is requests per second across all relays. Zero disables it.
	RateLimit float64
	Burst     int
	Timeout   time.Duration
}

// Client fetches beacons, failing over across relays in order.
type Client struct {
	relays    []*httputil.Client
	chainHash string
	limiter   *rate.Limiter
	log       *logger.Logger
}

// Info is the chain information a relay publishes.
type Info struct {
	PublicKey   string `json:"public_key"`
	Period      int64  `json:"period"`
	GenesisTime int64  `json:"genesis_time"`
	Hash        string `json:"hash"`
	SchemeID    string `json:"schemeID"`
}

// Schedule converts Info into round timing.
func (i Info) Schedule() Schedule {
	return Schedule{Genesis: time.Unix(i.GenesisTime, 0).UTC(), Period: time.Duration(i.Period) * time.Second}
}

type beaconJSON struct {
	Round      uint64 `json:"round"`
	Randomness string `json:"randomness"`
	Signature  string `json:"signature"`
}

// NewClient creates a drand client.
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	if cfg.ChainHash == "" {
		return nil, errors.New("drand: chain hash required")
	}
	if log == nil {
		log = logger.NewDefault("drand")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	c := &Client{chainHash: cfg.ChainHash, log: log}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, u := range cfg.Endpoints {
		c.relays = append(c.relays, httputil.NewClient(httputil.ClientConfig{
			BaseURL:    u,
			Timeout:    timeout,
			MaxRetries: 1,
		}))
	}
	return c, nil
}

// Beacon fetches and checks the beacon for round.
func (c *Client) Beacon(ctx context.Context, round uint64) (staking.Beacon, error) {
	b, err := c.fetch(ctx, strconv.FormatUint(round, 10))
	if err != nil {
		return staking.Beacon{}, err
	}
	if b.Round != round {
		return staking.Beacon{}, fmt.Errorf("%w: asked %d, got %d", ErrRoundMismatch, round, b.Round)
	}
	return b, nil
}

// Latest fetches the most recent beacon.
func (c *Client) Latest(ctx context.Context) (staking.Beacon, error) {
	return c.fetch(ctx, "latest")
}

// Info fetches the chain information.
func (c *Client) Info(ctx context.Context) (Info, error) {
	var info Info
	err := c.each(ctx, func(relay *httputil.Client) error {
		return relay.GetJSON(ctx, "/"+c.chainHash+"/info", &info)
	})
	return info, err
}

func (c *Client) fetch(ctx context.Context, round string) (staking.Beacon, error) {
	var raw beaconJSON
	err := c.each(ctx, func(relay *httputil.Client) error {
		return relay.GetJSON(ctx, "/"+c.chainHash+"/public/"+round, &raw)
	})
	if err != nil {
		return staking.Beacon{}, err
	}
	return decodeBeacon(raw)
}

// each tries fn against every relay until one succeeds.
func (c *Client) each(ctx context.Context, fn func(*httputil.Client) error) error {
	var lastErr error
	for _, relay := range c.relays {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		err := fn(relay)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.WithError(err).WithField("relay", relay.BaseURL()).Warn("drand relay failed")
		lastErr = err
	}
	return lastErr
}

func decodeBeacon(raw beaconJSON) (staking.Beacon, error) {
	randomness, err := codec.Hash32FromHex(raw.Randomness)
	if err != nil {
		return staking.Beacon{}, fmt.Errorf("drand round %d randomness: %w", raw.Round, err)
	}
	sig, err := codec.HexToBytes(raw.Signature)
	if err != nil {
		return staking.Beacon{}, fmt.Errorf("drand round %d signature: %w", raw.Round, err)
	}
	b := staking.Beacon{Round: raw.Round, Randomness: randomness, Signature: sig}
	if err := CheckRandomness(b); err != nil {
		return staking.Beacon{}, err
	}
	return b, nil
}

// CheckRandomness verifies randomness == sha256(signature).
func CheckRandomness(b staking.Beacon) error {
	if len(b.Signature) == 0 {
		return fmt.Errorf("%w: round %d has no signature", ErrRandomnessMismatch, b.Round)
	}
	h := sha256.Sum256(b.Signature)
	if subtle.ConstantTimeCompare(h[:], b.Randomness[:]) != 1 {
		return fmt.Errorf("%w: round %d", ErrRandomnessMismatch, b.Round)
	}
	return nil
}
