// Package courier is a client for the courier aggregator's REST API
// (Shiprocket-style paths, bearer-token authentication).
package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ariefcatur/go-commerce-orders/internal/metrics"
)

type Config struct {
	BaseURL        string
	Email          string
	Password       string
	Timeout        time.Duration
	TokenTTL       time.Duration
	PickupLocation string
	// RetryMax bounds the transport retries per call. Zero means 3.
	RetryMax int
}

// Error is a non-2xx answer from the provider.
type Error struct {
	Op         string
	StatusCode int
	Body       []byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("courier %s: status %d: %s", e.Op, e.StatusCode, strings.TrimSpace(string(e.Body)))
}

type Client struct {
	cfg  Config
	http *retryablehttp.Client
	log  *zap.SugaredLogger

	// Redis, when set, shares the bearer token between processes.
	Redis redis.Cmdable

	mu      sync.RWMutex
	token   string
	expires time.Time
	group   singleflight.Group
	now     func() time.Time
}

func New(cfg Config, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.S()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 8 * time.Hour
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = &zapRetryLogger{logger: log}
	rc.CheckRetry = checkRetry
	// hand the last response back instead of a generic "giving up" error
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{cfg: cfg, http: rc, log: log.Named("courier"), now: time.Now}
}

// HTTPClient exposes the underlying client so tests can intercept its transport.
func (c *Client) HTTPClient() *http.Client { return c.http.HTTPClient }

// checkRetry retries connection failures, 429 and 5xx. Other statuses are final.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return true, nil
	}
	return false, nil
}

// do sends one authenticated call. A 401 drops the cached token and the call is
// repeated once with a fresh one.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	start := time.Now()
	err := c.doAuthed(ctx, op, method, path, in, out)
	if IsUnauthorized(err) {
		c.invalidate()
		err = c.doAuthed(ctx, op, method, path, in, out)
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.CourierRequests.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
	return err
}

func (c *Client) doAuthed(ctx context.Context, op, method, path string, in, out any) error {
	token, err := c.Token(ctx)
	if err != nil {
		return err
	}
	return c.send(ctx, op, method, path, token, in, out)
}

func (c *Client) send(ctx context.Context, op, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("courier %s: encode: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("courier %s: %w", op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("courier %s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warnw("courier call failed", "op", op, "status", resp.StatusCode)
		return &Error{Op: op, StatusCode: resp.StatusCode, Body: raw}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Body: raw}
	}
	return nil
}

// zapRetryLogger adapts zap.SugaredLogger to retryablehttp.LeveledLogger.
type zapRetryLogger struct {
	logger *zap.SugaredLogger
}

func (z *zapRetryLogger) Error(msg string, keysAndValues ...interface{}) {
	z.logger.Errorw(msg, keysAndValues...)
}

func (z *zapRetryLogger) Info(msg string, keysAndValues ...interface{}) {
	z.logger.Infow(msg, keysAndValues...)
}

func (z *zapRetryLogger) Debug(msg string, keysAndValues ...interface{}) {
	z.logger.Debugw(msg, keysAndValues...)
}

func (z *zapRetryLogger) Warn(msg string, keysAndValues ...interface{}) {
	z.logger.Warnw(msg, keysAndValues...)
}
