package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/medisched/medisched-client/credstore"
	apperrors "github.com/medisched/medisched-client/internal/errors"
)

const sessionExpiredMessage = "Your session has expired. Please log in again."

// maxErrorBody caps how much of an error response is kept for diagnostics.
const maxErrorBody = 4 << 10

// Request describes one outbound call.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   any
	Out    any

	// Idempotent opts the request into automatic retry on network
	// failure. GET requests retry regardless.
	Idempotent bool

	// SkipAuthRecovery exempts the request from centralized 401 session
	// recovery. Feature endpoints (calendar token exchange/refresh) answer
	// 401 about their own credentials, not the user's session.
	SkipAuthRecovery bool
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string

	// AuthCleared marks that this 401 triggered the central session purge,
	// so calling code can distinguish it from other failures.
	AuthCleared bool
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return apperrors.ErrAuthExpired
	}
	return nil
}

// Do executes a request against the active base URL. Network failures on
// idempotent requests are retried with bounded exponential backoff using
// the configured retry policy; error statuses are never retried.
func (c *Client) Do(ctx context.Context, req Request) error {
	attempts := 1
	if req.Idempotent || req.Method == http.MethodGet {
		attempts += c.cfg.GetRetryAttempts()
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.cfg.GetRetryBaseDelay() << (attempt - 1)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			c.log.Debug().Int("attempt", attempt+1).Str("path", req.Path).Msg("retrying request")
		}

		err := c.doOnce(ctx, req)
		if err == nil {
			return nil
		}
		lastErr = err
		if !apperrors.Is(err, apperrors.ErrNetworkFailure) {
			return err
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, req Request) error {
	url := c.resolveURL(req.Path)
	requestID := uuid.NewString()

	// Generation captured at request time; compared at redirect time so
	// overlapping 401s collapse into a single session-expired redirect.
	gen := c.redirectGen.Load()

	var body io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("[Client.doOnce] encode body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return fmt.Errorf("[Client.doOnce] build request: %w", err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	c.mu.RLock()
	if c.bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	c.mu.RUnlock()

	c.log.Debug().
		Str("method", req.Method).
		Str("url", url).
		Str("request_id", requestID).
		Msg("request")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.log.Error().Str("url", url).Str("request_id", requestID).Err(err).Msg("request failed")
		return fmt.Errorf("[Client.doOnce] %s %s: %v: %w", req.Method, url, err, apperrors.ErrNetworkFailure)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.log.Debug().
			Str("url", url).
			Str("request_id", requestID).
			Int("status", resp.StatusCode).
			Msg("response")
		if req.Out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(req.Out); err != nil {
			return fmt.Errorf("[Client.doOnce] decode response: %w", err)
		}
		return nil
	}

	errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	c.log.Error().
		Str("method", req.Method).
		Str("url", url).
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Str("body", string(errBody)).
		Msg("error response")

	statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(errBody)}
	if resp.StatusCode == http.StatusUnauthorized && !req.SkipAuthRecovery {
		statusErr.AuthCleared = c.recoverAuth(gen)
	}
	return statusErr
}

// recoverAuth runs the centralized 401 recovery: delete all persisted
// session fields, remove the bearer default, and reset navigation exactly
// once per expiry event. gen is the generation the failing request started
// under; requests that overlapped the same generation share one redirect.
func (c *Client) recoverAuth(gen uint64) bool {
	if err := credstore.ClearSession(c.store); err != nil {
		c.log.Error().Err(err).Msg("failed to clear session after 401")
	}

	c.mu.Lock()
	c.bearer = ""
	nav := c.nav
	c.mu.Unlock()

	if nav != nil && c.redirectGen.CompareAndSwap(gen, gen+1) {
		nav.ResetToAuth(sessionExpiredMessage)
	}
	return true
}

// Get issues a GET request and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Out: out})
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: in, Out: out})
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: in, Out: out})
}

// Patch issues a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPatch, Path: path, Body: in, Out: out})
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path})
}
