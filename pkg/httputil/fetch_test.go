package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/ledmatrix/pkg/plugins"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Quiet during tests
	return logger
}

func newTestFetcher(attempts int) *Fetcher {
	policy := NewRetryPolicy(RetryConfig{MaxAttempts: attempts, Delay: time.Millisecond})
	return NewFetcher(nil, policy, 5*time.Second, getTestLogger())
}

func TestRetryPolicy(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{MaxAttempts: 3, Delay: time.Second})

	assert.Equal(t, time.Second, policy.NextRetryDelay(1))
	assert.Equal(t, 2*time.Second, policy.NextRetryDelay(2))
	assert.Equal(t, 3*time.Second, policy.NextRetryDelay(3))

	transient := plugins.NewError(plugins.KindTransientNetwork, "fetch", "", errors.New("reset"))
	assert.True(t, policy.ShouldRetry(1, transient))
	assert.True(t, policy.ShouldRetry(2, transient))
	assert.False(t, policy.ShouldRetry(3, transient))
	assert.False(t, policy.ShouldRetry(1, nil))
	assert.False(t, policy.ShouldRetry(1, plugins.NewError(plugins.KindNotFound, "fetch", "", errors.New("404"))))
	assert.False(t, policy.ShouldRetry(1, plugins.NewError(plugins.KindRateLimited, "fetch", "", errors.New("429"))))

	defaults := NewRetryPolicy(RetryConfig{})
	assert.True(t, defaults.ShouldRetry(2, transient))
	assert.False(t, defaults.ShouldRetry(3, transient))
}

func TestFetcher_Classification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		header   map[string]string
		kind     plugins.Kind
		attempts int32
	}{
		{name: "not found", status: http.StatusNotFound, kind: plugins.KindNotFound, attempts: 1},
		{name: "too many requests", status: http.StatusTooManyRequests, kind: plugins.KindRateLimited, attempts: 1},
		{name: "exhausted rate limit", status: http.StatusForbidden, header: map[string]string{"X-RateLimit-Remaining": "0"}, kind: plugins.KindRateLimited, attempts: 1},
		{name: "plain forbidden", status: http.StatusForbidden, kind: plugins.KindInternal, attempts: 1},
		{name: "bad gateway", status: http.StatusBadGateway, kind: plugins.KindTransientNetwork, attempts: 3},
		{name: "request timeout", status: http.StatusRequestTimeout, kind: plugins.KindTransientNetwork, attempts: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := newTestFetcher(3).Get(context.Background(), server.URL)
			require.Error(t, err)
			assert.Equal(t, tt.kind, plugins.KindOf(err))
			assert.Equal(t, tt.status, StatusCode(err))
			assert.Equal(t, tt.attempts, atomic.LoadInt32(&hits))
		})
	}
}

func TestFetcher_RetriesThenSucceeds(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	fetcher := newTestFetcher(3)
	var retries []int
	fetcher.OnRetry = func(url string, attempt int, err error) { retries = append(retries, attempt) }

	body, err := fetcher.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, []int{1, 2}, retries)
}

func TestFetcher_SendsHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("Accept")))
	}))
	defer server.Close()

	fetcher := newTestFetcher(1)
	fetcher.SetHeader("Accept", "application/vnd.github+json")

	body, err := fetcher.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "application/vnd.github+json", string(body))
}

func TestFetcher_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	policy := NewRetryPolicy(RetryConfig{MaxAttempts: 1})
	fetcher := NewFetcher(nil, policy, 20*time.Millisecond, getTestLogger())

	_, err := fetcher.Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.True(t, plugins.IsKind(err, plugins.KindTransientNetwork))
}

func TestFetcher_CancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	policy := NewRetryPolicy(RetryConfig{MaxAttempts: 5, Delay: time.Hour})
	fetcher := NewFetcher(nil, policy, time.Second, getTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := fetcher.Get(ctx, server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFetcher_DownloadFile(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("archive bytes"))
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "plugin.zip")
	require.NoError(t, newTestFetcher(2).DownloadFile(context.Background(), server.URL, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "archive bytes", string(data))
}

func TestNewClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("Authorization")))
	}))
	defer server.Close()

	policy := NewRetryPolicy(RetryConfig{MaxAttempts: 1})

	authed := NewFetcher(NewClient(context.Background(), "secret"), policy, time.Second, getTestLogger())
	body, err := authed.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", string(body))

	anonymous := NewFetcher(NewClient(context.Background(), ""), policy, time.Second, getTestLogger())
	body, err = anonymous.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Empty(t, string(body))
}
