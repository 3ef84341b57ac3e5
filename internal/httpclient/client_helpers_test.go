package httpclient

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// testClient builds a client from cfg (nil for defaults) that is closed
// when the test ends.
func testClient(t *testing.T, cfg *Config) *Client {
	t.Helper()
	c := New(cfg)
	t.Cleanup(c.Close)
	return c
}

func testServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

// drain consumes and closes a response body so the connection is reused.
func drain(t *testing.T, resp *http.Response) {
	t.Helper()
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	if err := resp.Body.Close(); err != nil {
		t.Logf("closing body: %v", err)
	}
}
