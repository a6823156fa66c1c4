package fipe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fipe-harvester/models"
	"fipe-harvester/utils"
)

const maxBodyBytes = 4 << 20

// Limiter hands out permission to issue one HTTP request.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Metrics receives request events. It is never consulted for decisions.
type Metrics interface {
	RequestIssued(endpoint string)
	RequestSucceeded(endpoint string)
	RequestThrottled(endpoint string, wait time.Duration)
	RequestFailed(endpoint string, err error)
}

type nopMetrics struct{}

func (nopMetrics) RequestIssued(string)                   {}
func (nopMetrics) RequestSucceeded(string)                {}
func (nopMetrics) RequestThrottled(string, time.Duration) {}
func (nopMetrics) RequestFailed(string, error)            {}

// Options configures a Client.
type Options struct {
	BaseURL     string
	VehicleType int
	Timeout     time.Duration

	// MaxRetries and RetryDelay bound retries of transport failures and 5xx.
	MaxRetries int
	RetryDelay time.Duration
	// ThrottleAttempts and ThrottleDelay bound the HTTP 429 loop, which does
	// not consume the retry budget.
	ThrottleAttempts int
	ThrottleDelay    time.Duration
}

// Client issues rate-limited, retried calls to the FIPE API.
type Client struct {
	baseURL     string
	vehicleType int
	http        *http.Client
	limiter     Limiter
	metrics     Metrics
	logger      *utils.Logger
	retry       utils.RetryConfig

	throttleAttempts int
	throttleDelay    time.Duration
	sleep            func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Client. metrics and logger may be nil.
func NewClient(opts Options, limiter Limiter, metrics Metrics, logger *utils.Logger) *Client {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if opts.ThrottleAttempts < 1 {
		opts.ThrottleAttempts = 1
	}
	if opts.VehicleType == 0 {
		opts.VehicleType = 1
	}

	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		vehicleType: opts.VehicleType,
		http:        &http.Client{Timeout: opts.Timeout},
		limiter:     limiter,
		metrics:     metrics,
		logger:      logger,
		retry: utils.RetryConfig{
			MaxAttempts: opts.MaxRetries,
			Backoff:     utils.ConstantBackoff(opts.RetryDelay),
			Retryable:   isRetryable,
			Logger:      logger,
		},
		throttleAttempts: opts.ThrottleAttempts,
		throttleDelay:    opts.ThrottleDelay,
		sleep:            utils.SleepContext,
	}
}

func isRetryable(err error) bool {
	return errors.Is(err, models.ErrTransientUpstream) && !errors.Is(err, models.ErrRateLimited)
}

// Call posts payload to endpoint and decodes the JSON answer into out.
//
// Throttling (HTTP 429) is absorbed with a growing wait. Transport failures
// and 5xx answers are retried under the retry policy. An undecodable body
// yields models.ErrMalformedResponse and any other rejection
// models.ErrUpstreamRejected; neither is retried.
func (c *Client) Call(ctx context.Context, endpoint string, payload url.Values, out any) error {
	err := c.retry.Do(ctx, endpoint, func(ctx context.Context) error {
		return c.attempt(ctx, endpoint, payload, out)
	})
	if err != nil {
		return fmt.Errorf("fipe: %w", err)
	}
	return nil
}

func (c *Client) attempt(ctx context.Context, endpoint string, payload url.Values, out any) error {
	for i := 0; i < c.throttleAttempts; i++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			return err
		}
		c.metrics.RequestIssued(endpoint)

		status, body, err := c.post(ctx, endpoint, payload)
		if err != nil {
			c.metrics.RequestFailed(endpoint, err)
			return fmt.Errorf("%w: %s: %w", models.ErrTransientUpstream, endpoint, err)
		}

		switch {
		case status == http.StatusTooManyRequests:
			wait := time.Duration(i+1) * c.throttleDelay
			c.metrics.RequestThrottled(endpoint, wait)
			if i+1 == c.throttleAttempts {
				continue
			}
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		case status >= 500:
			err := fmt.Errorf("%w: %s returned HTTP %d", models.ErrTransientUpstream, endpoint, status)
			c.metrics.RequestFailed(endpoint, err)
			return err
		case status < 200 || status >= 300:
			err := fmt.Errorf("%w: %s returned HTTP %d: %s", models.ErrUpstreamRejected, endpoint, status, snippet(body))
			c.metrics.RequestFailed(endpoint, err)
			return err
		}

		if err := decode(endpoint, body, out); err != nil {
			c.metrics.RequestFailed(endpoint, err)
			return err
		}
		c.metrics.RequestSucceeded(endpoint)
		return nil
	}

	return fmt.Errorf("%w: %s throttled %d times: %w",
		models.ErrTransientUpstream, endpoint, c.throttleAttempts, models.ErrRateLimited)
}

func (c *Client) post(ctx context.Context, endpoint string, payload url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint,
		strings.NewReader(payload.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func decode(endpoint string, body []byte, out any) error {
	var ve vendorError
	if json.Unmarshal(body, &ve) == nil && ve.Erro != "" {
		return fmt.Errorf("%w: %s: %s (codigo %s)", models.ErrUpstreamRejected, endpoint, ve.Erro, ve.Codigo)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s: %v: %s", models.ErrMalformedResponse, endpoint, err, snippet(body))
	}
	return nil
}

func snippet(body []byte) string {
	const n = 120
	s := strings.TrimSpace(string(body))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
