// Package config loads the auditor configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/draw_auditor/internal/odds"
)

// Config is the full auditor configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Chain    ChainConfig    `yaml:"chain"`
	Drand    DrandConfig    `yaml:"drand"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Storage  StorageConfig  `yaml:"storage"`
	Cache    CacheConfig    `yaml:"cache"`
	Watcher  WatcherConfig  `yaml:"watcher"`
	Odds     OddsConfig     `yaml:"odds"`
	// EndpointsFile holds user-saved endpoint lists merged over the defaults.
	EndpointsFile string `yaml:"endpoints_file"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimitRPS    int           `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ChainConfig points at the Injective LCD and the protocol contracts.
type ChainConfig struct {
	LCD            EndpointList  `yaml:"lcd"`
	Distributor    string        `yaml:"distributor_contract"`
	Oracle         string        `yaml:"oracle_contract"`
	StakingHub     string        `yaml:"staking_hub_contract"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type DrandConfig struct {
	ChainHash      string        `yaml:"chain_hash"`
	Endpoints      EndpointList  `yaml:"endpoints"`
	GenesisTime    int64         `yaml:"genesis_time"`
	Period         time.Duration `yaml:"period"`
	RateLimit      float64       `yaml:"rate_limit"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SnapshotConfig locates off-chain snapshot documents. URLTemplate may
// contain {epoch}.
type SnapshotConfig struct {
	URLTemplate string `yaml:"url_template"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // memory, postgres or sqlite
	DSN    string `yaml:"dsn"`
}

type CacheConfig struct {
	Backend   string        `yaml:"backend"` // none, lru or redis
	Size      int           `yaml:"size"`
	TTL       time.Duration `yaml:"ttl"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
}

type WatcherConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
	Lookback int    `yaml:"lookback"`
}

// OddsConfig holds the protocol cadence used for projections.
type OddsConfig struct {
	Decimals           int32         `yaml:"decimals"`
	Denom              string        `yaml:"denom"`
	EpochDuration      time.Duration `yaml:"epoch_duration"`
	RegularEveryEpochs uint64        `yaml:"regular_every_epochs"`
	BigEveryEpochs     uint64        `yaml:"big_every_epochs"`
	Split              odds.Split    `yaml:"split"`
	MinEpochsRegular   uint64        `yaml:"min_epochs_regular"`
	MinEpochsBig       uint64        `yaml:"min_epochs_big"`
}

// Default returns a configuration for Injective mainnet and drand quicknet.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitRPS:    10,
			RateLimitBurst:  20,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Chain: ChainConfig{
			LCD: EndpointList{
				Version: 1,
				Endpoints: []Endpoint{
					{Name: "injective-lcd", URL: "https://sentry.lcd.injective.network"},
				},
			},
			RequestTimeout: 15 * time.Second,
		},
		Drand: DrandConfig{
			ChainHash: "52db9ba70e0cc0f6eaf7803dd07447a1f5477735fd3f661792ba94600c84e971",
			Endpoints: EndpointList{
				Version: 1,
				Endpoints: []Endpoint{
					{Name: "drand", URL: "https://api.drand.sh"},
					{Name: "drand-cloudflare", URL: "https://drand.cloudflare.com"},
				},
			},
			GenesisTime:    1692803367,
			Period:         3 * time.Second,
			RateLimit:      5,
			RequestTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{Driver: "memory"},
		Cache:   CacheConfig{Backend: "lru", Size: 1024, TTL: 5 * time.Minute},
		Watcher: WatcherConfig{Enabled: true, Schedule: "@every 5m", Lookback: 20},
		Odds: OddsConfig{
			Decimals:           18,
			Denom:              "INJ",
			EpochDuration:      24 * time.Hour,
			RegularEveryEpochs: 1,
			BigEveryEpochs:     7,
			Split: odds.Split{
				ProtocolFeeBps: 500,
				BaseYieldBps:   500,
				RegularPoolBps: 7000,
				BigPoolBps:     2000,
			},
		},
	}
}

// Load reads path over the defaults, applies saved endpoint lists and
// environment overrides, and validates the result. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	env, err := DecodeEnv()
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(env)

	if cfg.EndpointsFile != "" {
		saved, err := LoadSavedEndpoints(cfg.EndpointsFile)
		if err != nil {
			return nil, err
		}
		cfg.Chain.LCD = MergeEndpoints(cfg.Chain.LCD, saved.LCD)
		cfg.Drand.Endpoints = MergeEndpoints(cfg.Drand.Endpoints, saved.Drand)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields.
func (c *Config) Validate() error {
	var problems []string
	if c.Chain.Distributor == "" {
		problems = append(problems, "chain.distributor_contract is required")
	}
	if c.Chain.Oracle == "" {
		problems = append(problems, "chain.oracle_contract is required")
	}
	if len(c.Chain.LCD.Endpoints) == 0 {
		problems = append(problems, "chain.lcd needs at least one endpoint")
	}
	if c.Drand.ChainHash == "" {
		problems = append(problems, "drand.chain_hash is required")
	}
	if len(c.Drand.Endpoints.Endpoints) == 0 {
		problems = append(problems, "drand.endpoints needs at least one endpoint")
	}
	if c.Drand.Period <= 0 {
		problems = append(problems, "drand.period must be positive")
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.Storage.DSN == "" {
			problems = append(problems, "storage.dsn is required for "+c.Storage.Driver)
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.driver %q is not one of memory, postgres, sqlite", c.Storage.Driver))
	}
	switch c.Cache.Backend {
	case "", "none", "lru":
	case "redis":
		if c.Cache.RedisAddr == "" {
			problems = append(problems, "cache.redis_addr is required for redis")
		}
	default:
		problems = append(problems, fmt.Sprintf("cache.backend %q is not one of none, lru, redis", c.Cache.Backend))
	}
	if err := c.Odds.Split.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Odds.EpochDuration <= 0 || c.Odds.RegularEveryEpochs == 0 || c.Odds.BigEveryEpochs == 0 {
		problems = append(problems, "odds cadence must be positive")
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Env holds environment overrides. Unset variables leave fields zero.
type Env struct {
	ListenAddr      string  `env:"DRAW_AUDITOR_ADDR"`
	LogLevel        string  `env:"LOG_LEVEL"`
	LogFormat       string  `env:"LOG_FORMAT"`
	LCDURL          string  `env:"INJECTIVE_LCD_URL"`
	Distributor     string  `env:"DISTRIBUTOR_CONTRACT"`
	Oracle          string  `env:"ORACLE_CONTRACT"`
	StakingHub      string  `env:"STAKING_HUB_CONTRACT"`
	DrandURL        string  `env:"DRAND_URL"`
	DrandChainHash  string  `env:"DRAND_CHAIN_HASH"`
	DrandRateLimit  float64 `env:"DRAND_RATE_LIMIT"`
	SnapshotURL     string  `env:"SNAPSHOT_URL_TEMPLATE"`
	DatabaseDriver  string  `env:"DATABASE_DRIVER"`
	DatabaseURL     string  `env:"DATABASE_URL"`
	CacheBackend    string  `env:"CACHE_BACKEND"`
	RedisAddr       string  `env:"REDIS_ADDR"`
	WatcherSchedule string  `env:"WATCHER_SCHEDULE"`
	WatcherDisabled bool    `env:"WATCHER_DISABLED"`
	EndpointsFile   string  `env:"ENDPOINTS_FILE"`
}

// DecodeEnv reads Env from the process environment.
func DecodeEnv() (Env, error) {
	var env Env
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Env{}, fmt.Errorf("decode environment: %w", err)
	}
	return env, nil
}

// ApplyEnv overlays every non-zero field of env onto c. A URL override
// replaces the endpoint list with a single custom endpoint.
func (c *Config) ApplyEnv(env Env) {
	setString(&c.Server.Addr, env.ListenAddr)
	setString(&c.Log.Level, env.LogLevel)
	setString(&c.Log.Format, env.LogFormat)
	setString(&c.Chain.Distributor, env.Distributor)
	setString(&c.Chain.Oracle, env.Oracle)
	setString(&c.Chain.StakingHub, env.StakingHub)
	setString(&c.Drand.ChainHash, env.DrandChainHash)
	setString(&c.Snapshot.URLTemplate, env.SnapshotURL)
	setString(&c.Storage.Driver, env.DatabaseDriver)
	setString(&c.Storage.DSN, env.DatabaseURL)
	setString(&c.Cache.Backend, env.CacheBackend)
	setString(&c.Cache.RedisAddr, env.RedisAddr)
	setString(&c.Watcher.Schedule, env.WatcherSchedule)
	setString(&c.EndpointsFile, env.EndpointsFile)

	if env.LCDURL != "" {
		c.Chain.LCD.Endpoints = []Endpoint{{Name: "env", URL: env.LCDURL, Custom: true}}
	}
	if env.DrandURL != "" {
		c.Drand.Endpoints.Endpoints = []Endpoint{{Name: "env", URL: env.DrandURL, Custom: true}}
	}
	if env.DrandRateLimit > 0 {
		c.Drand.RateLimit = env.DrandRateLimit
	}
	if env.WatcherDisabled {
		c.Watcher.Enabled = false
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
