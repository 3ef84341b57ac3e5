package httpclient

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridlens/gridlens/internal/errors"
)

func TestNew(t *testing.T) {
	t.Run("default config", func(t *testing.T) {
		client := New(nil)

		require.NotNil(t, client)
		assert.Equal(t, DefaultTimeout, client.defaultTimeout)
		assert.Equal(t, defaultUserAgent, client.userAgent)
		assert.Nil(t, client.limiter)
	})

	t.Run("custom config", func(t *testing.T) {
		client := New(&Config{
			DefaultTimeout:    5 * time.Second,
			UserAgent:         "gridlens-test/1.0",
			RequestsPerSecond: 2,
		})

		assert.Equal(t, 5*time.Second, client.defaultTimeout)
		assert.Equal(t, "gridlens-test/1.0", client.userAgent)
		require.NotNil(t, client.limiter)
		assert.Equal(t, 1, client.limiter.Burst())
	})
}

func TestDo_UserAgent(t *testing.T) {
	var receivedUA string
	server := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		receivedUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	})

	client := testClient(t, &Config{UserAgent: "CustomAgent/2.0"})

	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	defer drain(t, resp)

	assert.Equal(t, "CustomAgent/2.0", receivedUA)
}

func TestDo_ContextCancellation(t *testing.T) {
	server := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
		w.WriteHeader(http.StatusOK)
	})

	client := testClient(t, nil)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	resp, err := client.Get(ctx, server.URL)
	defer drain(t, resp)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_DefaultTimeout(t *testing.T) {
	server := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})

	client := testClient(t, &Config{DefaultTimeout: 50 * time.Millisecond})

	resp, err := client.Get(t.Context(), server.URL)
	defer drain(t, resp)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, errors.CategoryNetwork, errors.CategoryOf(err))
}

func TestDo_BodyReadableUnderDefaultTimeout(t *testing.T) {
	server := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	})

	client := testClient(t, &Config{DefaultTimeout: 2 * time.Second})

	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	defer drain(t, resp)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Len(t, body, 4096)
}

func TestDo_Hooks(t *testing.T) {
	server := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	client := testClient(t, nil)

	var beforeCalled bool
	var afterStatus int
	var afterDuration time.Duration
	client.SetBeforeRequestHook(func(r *http.Request) {
		beforeCalled = true
		assert.Equal(t, server.URL, r.URL.String())
	})
	client.SetAfterResponseHook(func(r *http.Request, resp *http.Response, err error, d time.Duration) {
		assert.NoError(t, err)
		afterStatus = resp.StatusCode
		afterDuration = d
	})

	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	defer drain(t, resp)

	assert.True(t, beforeCalled)
	assert.Equal(t, http.StatusAccepted, afterStatus)
	assert.Positive(t, afterDuration)
}

func TestPostJSON(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, "https://api.example.test/infer",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			data, _ := io.ReadAll(req.Body)
			assert.JSONEq(t, `{"image":"abc"}`, string(data))
			return httpmock.NewStringResponse(http.StatusOK, `{"count":3}`), nil
		})

	client := testClient(t, &Config{Transport: transport})

	var out struct {
		Count int `json:"count"`
	}
	err := client.PostJSON(t.Context(), "https://api.example.test/infer", map[string]string{"image": "abc"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Count)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestDecodeResponse_StatusError(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, `=~^https://api\.example\.test/dataset`,
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"error":"bad key"}`))

	client := testClient(t, &Config{Transport: transport})

	err := client.PostJSON(t.Context(), "https://api.example.test/dataset?api_key=secret", nil, nil)
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "bad key")
	assert.NotContains(t, err.Error(), "secret")
	assert.Equal(t, errors.CategoryHTTP, errors.CategoryOf(err))
}

func TestDecodeResponse_ExplicitStatuses(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, "https://api.example.test/a",
		httpmock.NewStringResponder(http.StatusCreated, `{}`))
	transport.RegisterResponder(http.MethodPost, "https://api.example.test/b",
		httpmock.NewStringResponder(http.StatusNoContent, ``))

	client := testClient(t, &Config{Transport: transport})

	require.NoError(t, client.PostJSON(t.Context(), "https://api.example.test/a", nil, nil, http.StatusOK, http.StatusCreated))
	err := client.PostJSON(t.Context(), "https://api.example.test/b", nil, nil, http.StatusOK, http.StatusCreated)
	assert.Error(t, err)
}

func TestDo_RateLimited(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://api.example.test/ping",
		httpmock.NewStringResponder(http.StatusOK, "pong"))

	client := testClient(t, &Config{Transport: transport, RequestsPerSecond: 20})

	start := time.Now()
	for range 3 {
		resp, err := client.Get(t.Context(), "https://api.example.test/ping")
		require.NoError(t, err)
		drain(t, resp)
	}
	// burst 1 at 20/s: the second and third requests wait ~50ms each
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestDo_RateLimitHonoursContext(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://api.example.test/ping",
		httpmock.NewStringResponder(http.StatusOK, "pong"))

	client := testClient(t, &Config{Transport: transport, RequestsPerSecond: 0.1})

	resp, err := client.Get(t.Context(), "https://api.example.test/ping")
	require.NoError(t, err)
	drain(t, resp)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err = client.Get(ctx, "https://api.example.test/ping")
	require.Error(t, err)
	assert.Equal(t, errors.CategoryCancellation, errors.CategoryOf(err))
}

func TestDo_ConcurrentRequests(t *testing.T) {
	var requestCount atomic.Int32
	server := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	client := testClient(t, nil)

	const concurrency = 25
	var wg sync.WaitGroup
	for range concurrency {
		wg.Go(func() {
			resp, err := client.Get(t.Context(), server.URL)
			if !assert.NoError(t, err) {
				return
			}
			_ = resp.Body.Close()
		})
	}
	wg.Wait()

	assert.Equal(t, int32(concurrency), requestCount.Load())
}
