// Package chain reads the prize-linked staking contracts through an
// Injective LCD endpoint using CosmWasm smart queries.
package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/draw_auditor/internal/httputil"
	"github.com/R3E-Network/draw_auditor/pkg/logger"
)

var (
	// ErrNotFound means the contract returned no record for the query.
	ErrNotFound = errors.New("chain: record not found")
	// ErrMalformedPayload means a query result failed strict decoding.
	ErrMalformedPayload = errors.New("chain: malformed payload")
	// ErrNoEndpoints means no LCD endpoint is configured.
	ErrNoEndpoints = errors.New("chain: no LCD endpoints configured")
)

// Config holds client configuration.
type Config struct {
	Endpoints  []string
	Timeout    time.Duration
	MaxRetries int
}

// Client issues smart queries, trying each LCD endpoint in order until one
// answers.
type Client struct {
	endpoints []*httputil.Client
	log       *logger.Logger
}

// NewClient creates a client for the given LCD endpoints.
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	if log == nil {
		log = logger.NewDefault("chain")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	retries := cfg.MaxRetries
	if retries == 0 {
		retries = 1
	}

	c := &Client{log: log}
	for _, u := range cfg.Endpoints {
		c.endpoints = append(c.endpoints, httputil.NewClient(httputil.ClientConfig{
			BaseURL:    u,
			Timeout:    timeout,
			MaxRetries: retries,
		}))
	}
	return c, nil
}

// SmartQuery runs msg against contract and returns the "data" field of the
// response. Contract-level "not found" errors map to ErrNotFound and are not
// retried on other endpoints.
func (c *Client) SmartQuery(ctx context.Context, contract string, msg interface{}) (gjson.Result, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal query: %w", err)
	}
	path := fmt.Sprintf("/cosmwasm/wasm/v1/contract/%s/smart/%s", url.PathEscape(contract), url.PathEscape(base64.StdEncoding.EncodeToString(raw)))

	var lastErr error
	for _, ep := range c.endpoints {
		body, err := ep.GetBytes(ctx, path)
		if err == nil {
			data := gjson.GetBytes(body, "data")
			if !data.Exists() {
				return gjson.Result{}, fmt.Errorf("%w: response has no data field", ErrMalformedPayload)
			}
			return data, nil
		}
		if ctx.Err() != nil {
			return gjson.Result{}, ctx.Err()
		}
		if isNotFound(err) {
			return gjson.Result{}, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		c.log.WithError(err).WithField("endpoint", ep.BaseURL()).Warn("LCD query failed, trying next endpoint")
		lastErr = err
	}
	return gjson.Result{}, lastErr
}

func isNotFound(err error) bool {
	var se *httputil.StatusError
	if !errors.As(err, &se) {
		return false
	}
	if se.StatusCode == 404 {
		return true
	}
	msg := gjson.Get(se.Body, "message").String()
	if msg == "" {
		msg = se.Body
	}
	return strings.Contains(strings.ToLower(msg), "not found")
}
