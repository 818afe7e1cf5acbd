package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/example/event-engagement/services/comments/internal/domain"
)

// BackendConfig holds retry settings for the backend client.
type BackendConfig struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	Timeout        time.Duration
}

// TokenSource returns the bearer token for backend calls. refresh asks for a
// new token after the previous one was rejected.
type TokenSource func(ctx context.Context, refresh bool) (string, error)

// StaticToken always returns tok.
func StaticToken(tok string) TokenSource {
	return func(context.Context, bool) (string, error) { return tok, nil }
}

// BackendClient fetches events from the backend REST API.
type BackendClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Config     BackendConfig
	Token      TokenSource
	CB         *gobreaker.CircuitBreaker
	Log        *zap.Logger
}

// Option configures the BackendClient.
type Option func(*BackendClient)

func WithCircuitBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(c *BackendClient) { c.CB = cb }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *BackendClient) { c.Log = log }
}

func WithTokenSource(ts TokenSource) Option {
	return func(c *BackendClient) { c.Token = ts }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *BackendClient) { c.HTTPClient = hc }
}

func NewBackendClient(baseURL string, cfg BackendConfig, opts ...Option) *BackendClient {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 200 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	c := &BackendClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		Config:     cfg,
		Token:      StaticToken(""),
		Log:        zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewCircuitBreaker builds the breaker used around backend calls. Not-found
// answers do not count as failures.
func NewCircuitBreaker(name string, maxRequests uint32, interval, timeout time.Duration, failureThreshold uint32) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: maxRequests,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound)
		},
	})
}

type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("backend: status %d body=%q", e.Status, e.Body)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, domain.ErrNotFound) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Status >= 500
	}
	return true
}

func (c *BackendClient) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	if c.CB == nil {
		return c.getWithRetry(ctx, eventID)
	}
	result, err := c.CB.Execute(func() (interface{}, error) {
		return c.getWithRetry(ctx, eventID)
	})
	if err != nil {
		return domain.Event{}, err
	}
	return result.(domain.Event), nil
}

func (c *BackendClient) getWithRetry(ctx context.Context, eventID string) (domain.Event, error) {
	var lastErr error
	for attempt := 0; attempt <= c.Config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.Config.RetryBaseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			c.Log.Debug("retrying event lookup", zap.String("event_id", eventID), zap.Int("attempt", attempt), zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return domain.Event{}, ctx.Err()
			case <-time.After(delay):
			}
		}
		ev, err := c.getAuthed(ctx, eventID)
		if err == nil {
			return ev, nil
		}
		if !retryable(err) {
			return domain.Event{}, err
		}
		lastErr = err
		c.Log.Warn("event lookup failed", zap.String("event_id", eventID), zap.Int("attempt", attempt), zap.Error(err))
	}
	return domain.Event{}, fmt.Errorf("lookup event %s: %w", eventID, lastErr)
}

// getAuthed performs one request and, when the token is rejected, a single
// retry with a refreshed token.
func (c *BackendClient) getAuthed(ctx context.Context, eventID string) (domain.Event, error) {
	tok, err := c.Token(ctx, false)
	if err != nil {
		return domain.Event{}, fmt.Errorf("backend token: %w", err)
	}
	ev, err := c.get(ctx, eventID, tok)
	var se *statusError
	if !errors.As(err, &se) || se.Status != http.StatusUnauthorized {
		return ev, err
	}
	c.Log.Info("backend token rejected, refreshing", zap.String("event_id", eventID))
	tok, err = c.Token(ctx, true)
	if err != nil {
		return domain.Event{}, fmt.Errorf("backend token refresh: %w", err)
	}
	return c.get(ctx, eventID, tok)
}

func (c *BackendClient) get(ctx context.Context, eventID, token string) (domain.Event, error) {
	u := c.BaseURL + "/events/" + url.PathEscape(eventID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.Event{}, err
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return domain.Event{}, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Event{}, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.Event{}, errEventNotFound(eventID)
	case resp.StatusCode != http.StatusOK:
		return domain.Event{}, &statusError{Status: resp.StatusCode, Body: string(b[:min(len(b), 200)])}
	}

	var ev domain.Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return domain.Event{}, fmt.Errorf("backend: decode event: %w", err)
	}
	if ev.ID == "" {
		ev.ID = eventID
	}
	return ev, nil
}
