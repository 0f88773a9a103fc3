package courier

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/go-commerce-orders/internal/redisx"
)

// refreshEarly renews the token this long before the provider would expire it.
const refreshEarly = 10 * time.Minute

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Token returns a valid bearer token, logging in when the cached one is missing or about
// to expire. Concurrent callers share a single login.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	token, expires := c.token, c.expires
	c.mu.RUnlock()
	if token != "" && c.now().Before(expires) {
		return token, nil
	}

	// the login outlives any single caller: a waiter that gives up must not fail the others
	ch := c.group.DoChan("token", func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout*time.Duration(c.cfg.RetryMax+1))
		defer cancel()

		// another caller may have refreshed while we waited
		c.mu.RLock()
		token, expires := c.token, c.expires
		c.mu.RUnlock()
		if token != "" && c.now().Before(expires) {
			return token, nil
		}
		if shared := c.sharedToken(lctx); shared != "" {
			return shared, nil
		}
		return c.Authenticate(lctx)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Authenticate logs in with the configured credentials and caches the token.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	var out loginResponse
	err := c.send(ctx, "authenticate", http.MethodPost, "/auth/login", "",
		loginRequest{Email: c.cfg.Email, Password: c.cfg.Password}, &out)
	if err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", &Error{Op: "authenticate", StatusCode: http.StatusOK, Body: []byte("empty token")}
	}
	ttl := c.cfg.TokenTTL - refreshEarly
	if ttl <= 0 {
		ttl = c.cfg.TokenTTL
	}
	c.store(out.Token, c.now().Add(ttl))
	if c.Redis != nil {
		if err := c.Redis.Set(ctx, redisx.KeyCourierToken, out.Token, ttl).Err(); err != nil {
			c.log.Warnw("token not shared", "error", err)
		}
	}
	c.log.Infow("courier token refreshed", "valid_for", ttl)
	return out.Token, nil
}

// sharedToken adopts a token another process stored in Redis.
func (c *Client) sharedToken(ctx context.Context) string {
	if c.Redis == nil {
		return ""
	}
	token, err := c.Redis.Get(ctx, redisx.KeyCourierToken).Result()
	if err != nil || token == "" {
		return ""
	}
	ttl, err := c.Redis.TTL(ctx, redisx.KeyCourierToken).Result()
	if err != nil || ttl <= 0 {
		return ""
	}
	c.store(token, c.now().Add(ttl))
	return token
}

func (c *Client) store(token string, expires time.Time) {
	c.mu.Lock()
	c.token, c.expires = token, expires
	c.mu.Unlock()
}

func (c *Client) invalidate() {
	c.mu.Lock()
	c.token, c.expires = "", time.Time{}
	c.mu.Unlock()
	if c.Redis != nil {
		_ = c.Redis.Del(context.Background(), redisx.KeyCourierToken).Err()
	}
}

// IsUnauthorized reports whether err is a 401 from the provider.
func IsUnauthorized(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.StatusCode == http.StatusUnauthorized
}

// Rejected reports whether the provider refused the request itself, so sending it again
// unchanged cannot succeed.
func Rejected(err error) bool {
	var ce *Error
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.StatusCode {
	case http.StatusUnauthorized, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return ce.StatusCode >= 400 && ce.StatusCode < 500
}
