package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/platinummonkey/ledmatrix/pkg/plugins"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// RetryConfig configures retry behavior for outbound requests
type RetryConfig struct {
	MaxAttempts int           `json:"max_attempts"`
	Delay       time.Duration `json:"delay"`
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Delay:       1 * time.Second,
	}
}

// RetryPolicy implements linear backoff: attempt n waits Delay*n before the next try
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a new retry policy
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.Delay < 0 {
		config.Delay = 0
	}
	return &RetryPolicy{config: config}
}

// ShouldRetry reports whether a request that failed on attempt (1-based) should be repeated
func (p *RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if err == nil || attempt >= p.config.MaxAttempts {
		return false
	}
	return plugins.KindOf(err).Retryable()
}

// NextRetryDelay returns the wait after a failed attempt (1-based)
func (p *RetryPolicy) NextRetryDelay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	return p.config.Delay * time.Duration(attempt)
}

// StatusError is a non-2xx response
type StatusError struct {
	URL        string
	StatusCode int
	Header     http.Header
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
}

// IsRateLimited reports whether a response signals an exhausted request budget:
// 429, or 403 with no remaining rate limit.
func IsRateLimited(statusCode int, header http.Header) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode == http.StatusForbidden && header.Get("X-RateLimit-Remaining") == "0"
}

// classify maps a response status to a failure kind
func classify(statusCode int, header http.Header) plugins.Kind {
	switch {
	case statusCode == http.StatusNotFound:
		return plugins.KindNotFound
	case IsRateLimited(statusCode, header):
		return plugins.KindRateLimited
	case statusCode >= 500, statusCode == http.StatusRequestTimeout:
		return plugins.KindTransientNetwork
	default:
		return plugins.KindInternal
	}
}

// Fetcher performs GETs with a per-request timeout, retrying transient
// failures. Not-found and rate-limited responses are returned at once.
type Fetcher struct {
	client  *http.Client
	policy  *RetryPolicy
	timeout time.Duration
	header  http.Header
	log     *logrus.Logger

	// OnRetry is called before each repeated attempt
	OnRetry func(url string, attempt int, err error)
}

// NewFetcher creates a fetcher. A nil client uses http.DefaultClient.
func NewFetcher(client *http.Client, policy *RetryPolicy, timeout time.Duration, log *logrus.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if policy == nil {
		policy = NewRetryPolicy(DefaultRetryConfig())
	}
	if log == nil {
		log = logrus.New()
	}
	return &Fetcher{
		client:  client,
		policy:  policy,
		timeout: timeout,
		header:  http.Header{},
		log:     log,
	}
}

// NewClient returns an HTTP client that sends token as a bearer credential.
// An empty token yields a plain client.
func NewClient(ctx context.Context, token string) *http.Client {
	if token == "" {
		return &http.Client{}
	}
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
}

// SetHeader sets a header sent with every request
func (f *Fetcher) SetHeader(key, value string) {
	f.header.Set(key, value)
}

// Get fetches url and returns the body
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := f.do(ctx, url, func(r io.Reader) error {
		data, err := io.ReadAll(r)
		body = data
		return err
	})
	return body, err
}

// DownloadFile streams url into path, truncating it on every attempt
func (f *Fetcher) DownloadFile(ctx context.Context, url, path string) error {
	return f.do(ctx, url, func(r io.Reader) error {
		out, err := os.Create(path)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, r); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}

func (f *Fetcher) do(ctx context.Context, url string, consume func(io.Reader) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = f.once(ctx, url, consume)
		if !f.policy.ShouldRetry(attempt, err) {
			return err
		}

		delay := f.policy.NextRetryDelay(attempt)
		f.log.WithFields(logrus.Fields{
			"url":     url,
			"attempt": attempt,
		}).Warnf("Request failed, retrying in %v: %v", delay, err)
		if f.OnRetry != nil {
			f.OnRetry(url, attempt, err)
		}

		select {
		case <-ctx.Done():
			return plugins.NewError(plugins.KindTransientNetwork, "fetch", "", ctx.Err())
		case <-time.After(delay):
		}
	}
}

func (f *Fetcher) once(ctx context.Context, url string, consume func(io.Reader) error) error {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return plugins.NewError(plugins.KindInternal, "fetch", "", err)
	}
	for k, v := range f.header {
		req.Header[k] = v
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return plugins.NewError(plugins.KindTransientNetwork, "fetch", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		statusErr := &StatusError{URL: url, StatusCode: resp.StatusCode, Header: resp.Header}
		return plugins.NewError(classify(resp.StatusCode, resp.Header), "fetch", "", statusErr)
	}

	if err := consume(resp.Body); err != nil {
		return plugins.NewError(plugins.KindTransientNetwork, "fetch", "", err)
	}
	return nil
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
