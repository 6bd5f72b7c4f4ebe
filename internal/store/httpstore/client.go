// Package httpstore is a REST client for a remote entity store.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/stratsync/internal/core"
	"github.com/newthinker/stratsync/internal/store"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxErrorBody = 4 << 10

// BreakerConfig configures the circuit breaker around remote calls.
type BreakerConfig struct {
	Enabled      bool
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// Config for the client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RatePerSecond paces outgoing calls. Zero disables pacing.
	RatePerSecond float64
	Burst         int
	Breaker       BreakerConfig
}

// Client implements store.Store over HTTP.
type Client struct {
	base    *url.URL
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// New creates a client. logger may be nil.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		return nil, core.WrapError(core.ErrConfigMissing, errors.New("store.http.base_url"))
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("store.http.base_url: %w", err))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	c := &Client{
		base:   base,
		apiKey: cfg.APIKey,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("httpstore"),
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	if cfg.Breaker.Enabled {
		c.breaker = newBreaker(cfg.Breaker, c.logger)
	}
	return c, nil
}

func newBreaker(cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	ratio := cfg.FailureRatio
	if ratio <= 0 {
		ratio = 0.5
	}
	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "entity-store",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && failureRatio >= ratio
		},
		// A rejected request says nothing about the health of the store.
		IsSuccessful: func(err error) bool {
			return err == nil || store.Classify(err) == store.KindRejected
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// List fetches records of an entity type.
func (c *Client) List(ctx context.Context, entityType string, q store.Query) ([]store.Record, error) {
	params := url.Values{}
	if len(q.Filter) > 0 {
		filter, err := json.Marshal(q.Filter)
		if err != nil {
			return nil, core.WrapError(core.ErrMalformedRecord, fmt.Errorf("encoding filter: %w", err))
		}
		params.Set("filter", string(filter))
	}
	if q.Sort != "" {
		params.Set("sort", q.Sort)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	var records []store.Record
	if err := c.do(ctx, http.MethodGet, entityPath(entityType), params, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Update patches a single record.
func (c *Client) Update(ctx context.Context, entityType, id string, patch store.Patch) (store.Record, error) {
	var rec store.Record
	if err := c.do(ctx, http.MethodPatch, entityPath(entityType, id), nil, patch, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

type bulkRequest struct {
	IDs   []string    `json:"ids"`
	Patch store.Patch `json:"patch"`
}

// BulkUpdate applies one patch to many records.
func (c *Client) BulkUpdate(ctx context.Context, entityType string, ids []string, patch store.Patch) (store.BulkResult, error) {
	var res store.BulkResult
	body := bulkRequest{IDs: ids, Patch: patch}
	if err := c.do(ctx, http.MethodPost, entityPath(entityType, "bulk-update"), nil, body, &res); err != nil {
		return store.BulkResult{}, err
	}
	return res, nil
}

func entityPath(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return "/entities/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return core.WrapError(core.ErrNetwork, fmt.Errorf("waiting for rate limiter: %w", err))
		}
	}

	call := func() (any, error) {
		return nil, c.roundTrip(ctx, method, path, params, body, out)
	}
	if c.breaker == nil {
		_, err := call()
		return err
	}

	_, err := c.breaker.Execute(call)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return core.WrapError(core.ErrNetwork, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, params url.Values, body, out any) error {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return core.WrapError(core.ErrMalformedRecord, fmt.Errorf("encoding body: %w", err))
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return core.WrapError(core.ErrStoreFailed, fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return core.WrapError(core.ErrNetwork, fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		text := strings.TrimSpace(string(msg))
		return statusError(resp.StatusCode, text, fmt.Sprintf("%s %s: status %d: %s", method, path, resp.StatusCode, text))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return core.WrapError(core.ErrStoreFailed, fmt.Errorf("%s %s: decoding response: %w", method, path, err))
	}
	return nil
}

// statusError maps a failed response to a structured error. A body naming
// a transient condition wins over an otherwise permanent status.
func statusError(status int, body, msg string) error {
	cause := errors.New(msg)
	switch {
	case status == http.StatusTooManyRequests:
		return core.WrapError(core.ErrRateLimited, cause)
	case status == http.StatusRequestTimeout,
		status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout:
		return core.WrapError(core.ErrNetwork, cause)
	}
	switch store.Classify(errors.New(body)) {
	case store.KindRateLimited:
		return core.WrapError(core.ErrRateLimited, cause)
	case store.KindNetwork:
		return core.WrapError(core.ErrNetwork, cause)
	}
	switch {
	case status == http.StatusNotFound:
		return core.WrapError(core.ErrNotFound, cause)
	case status >= 400 && status < 500:
		return core.WrapError(core.ErrRejected, cause)
	default:
		return core.WrapError(core.ErrStoreFailed, cause)
	}
}
