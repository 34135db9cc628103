// Package analytics adapts the external collaborators that feed a run:
// the search-analytics provider and the result-page snapshot service.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"seo-optimizer/pkg/logger"
)

// ErrCollaborator marks a failure of an external provider.
var ErrCollaborator = errors.New("external collaborator failed")

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.Code, e.Body)
}

type ClientConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	UserAgent  string        `mapstructure:"user_agent"`
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: time.Second,
		UserAgent:  "seo-optimizer/1.0",
	}
}

// client is a small JSON-over-fasthttp helper shared by the sources.
type client struct {
	http  *fasthttp.Client
	cfg   ClientConfig
	retry *Retry
	log   *logger.Logger
}

type ClientOption func(*fasthttp.Client)

// WithDial replaces the dialer, e.g. with an in-memory listener.
func WithDial(dial fasthttp.DialFunc) ClientOption {
	return func(c *fasthttp.Client) { c.Dial = dial }
}

func newClient(cfg ClientConfig, log *logger.Logger, opts ...ClientOption) *client {
	def := DefaultClientConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	hc := &fasthttp.Client{
		Name:                cfg.UserAgent,
		MaxConnsPerHost:     16,
		ReadTimeout:         cfg.Timeout,
		WriteTimeout:        cfg.Timeout,
		MaxIdleConnDuration: 90 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}
	return &client{
		http:  hc,
		cfg:   cfg,
		retry: NewRetry(cfg.MaxRetries, cfg.RetryDelay),
		log:   log,
	}
}

// doJSON sends body (if non-nil) as JSON and decodes a 2xx response into
// out, retrying transient failures.
func (c *client) doJSON(ctx context.Context, method, uri, bearer string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	return c.retry.Execute(ctx, func() error {
		return c.once(ctx, method, uri, bearer, payload, out)
	})
}

func (c *client) once(ctx context.Context, method, uri, bearer string, payload []byte, out interface{}) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if payload != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	timeout := c.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}
	if err := c.http.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if code := resp.StatusCode(); code < 200 || code > 299 {
		body := resp.Body()
		if len(body) > 512 {
			body = body[:512]
		}
		return &StatusError{Code: code, Body: string(body)}
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}
