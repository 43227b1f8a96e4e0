package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/taskboard-sync/internal/reconnect"
)

const (
	// MaxRetries bounds retries of 401 and 429 responses
	MaxRetries = 3

	// DefaultBackoff is the first 429 wait when the server sends no Retry-After
	DefaultBackoff = 1 * time.Second
)

var retryCurve = reconnect.Policy{BaseDelay: DefaultBackoff, MaxDelay: 8 * DefaultBackoff}

// TokenProvider supplies bearer tokens. Invalidate drops a cached token so
// the next Token call mints or fetches a fresh one.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// HTTPClient talks to the board REST API
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenProvider // nil when the API is unauthenticated
}

// NewHTTPClient creates a new HTTP client for the board API.
// tokens may be nil for servers without auth.
func NewHTTPClient(baseURL string, tokens TokenProvider) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokens:     tokens,
	}
}

// BaseURL returns the API root requests are resolved against
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Do sends req with a correlation id and, when configured, a bearer token.
// A 401 invalidates the token and tries again; a 429 waits for Retry-After
// (or the reconnect backoff curve) before trying again. Both give up after
// MaxRetries retries.
func (c *HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	correlationID := uuid.New().String()
	logger := log.With().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("correlationId", correlationID).
		Logger()

	body, err := drainBody(req)
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.send(ctx, req, body, correlationID, &logger)
		if err != nil {
			return nil, err
		}
		logger.Debug().
			Int("status", resp.StatusCode).
			Int("attempt", attempt).
			Msg("board API responded")

		switch resp.StatusCode {
		case http.StatusUnauthorized:
			resp.Body.Close()
			if c.tokens == nil {
				return nil, fmt.Errorf("authentication required but no token provider configured")
			}
			if attempt >= MaxRetries {
				logger.Warn().Msg("still unauthorized, giving up")
				return nil, fmt.Errorf("authentication failed after %d retries", attempt)
			}
			logger.Warn().Msg("unauthorized, refreshing token")
			c.tokens.Invalidate()

		case http.StatusTooManyRequests:
			resp.Body.Close()
			wait := parseRetryAfter(resp.Header.Get("Retry-After"))
			if attempt >= MaxRetries {
				logger.Warn().Msg("still rate limited, giving up")
				return nil, ErrRateLimited{RetryAfter: int(wait.Seconds())}
			}
			if wait == 0 {
				wait = retryCurve.Delay(attempt)
			}
			logger.Warn().Dur("wait", wait).Msg("rate limited")
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}

		default:
			return resp, nil
		}
	}
}

// send performs one attempt with a fresh copy of req
func (c *HTTPClient) send(ctx context.Context, req *http.Request, body []byte, correlationID string, logger *zerolog.Logger) (*http.Response, error) {
	out, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range req.Header {
		if k != "Authorization" {
			out.Header[k] = v
		}
	}
	out.Header.Set("X-Correlation-ID", correlationID)

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get auth token: %w", err)
		}
		out.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(out)
	if err != nil {
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("board API request failed")
		return nil, err
	}
	return resp, nil
}

// drainBody reads req.Body once and puts an equivalent reader back
func drainBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parseRetryAfter accepts delay-seconds or an HTTP-date; 0 means absent or past
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(max(seconds, 0)) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		return max(time.Until(t), 0)
	}
	return 0
}
