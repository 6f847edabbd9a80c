package relay

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/config"
)

func TestNewUpstreamProxyRejectsInvalidURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8080", "://bad"} {
		if _, errProxy := NewUpstreamProxy(config.UpstreamConfig{BaseURL: raw}); errProxy == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestUpstreamProxyForwardsWithUpstreamCredential(t *testing.T) {
	type seen struct {
		path, auth, apiKey, body string
	}
	got := make(chan seen, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- seen{
			path:   r.URL.Path,
			auth:   r.Header.Get("Authorization"),
			apiKey: r.Header.Get("X-API-Key"),
			body:   string(body),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cmpl-1"}`))
	}))
	defer upstream.Close()

	proxy, errProxy := NewUpstreamProxy(config.UpstreamConfig{BaseURL: upstream.URL, APIKey: "upstream-secret", Timeout: time.Second})
	if errProxy != nil {
		t.Fatalf("new proxy: %v", errProxy)
	}
	portal := newProxyServer(proxy)
	defer portal.Close()

	req, errReq := http.NewRequest(http.MethodPost, portal.URL+"/v1/chat/completions", strings.NewReader(`{"model":"m"}`))
	if errReq != nil {
		t.Fatalf("new request: %v", errReq)
	}
	req.Header.Set("Authorization", "Bearer sk-portal-client")
	req.Header.Set("X-API-Key", "sk-portal-client")
	resp, errDo := portal.Client().Do(req)
	if errDo != nil {
		t.Fatalf("do request: %v", errDo)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if string(body) != `{"id":"cmpl-1"}` {
		t.Fatalf("unexpected body %q", body)
	}
	request := <-got
	if request.path != "/v1/chat/completions" {
		t.Fatalf("expected path /v1/chat/completions, got %q", request.path)
	}
	if request.auth != "Bearer upstream-secret" {
		t.Fatalf("expected upstream credential, got %q", request.auth)
	}
	if request.apiKey != "" {
		t.Fatalf("expected client api key to be stripped, got %q", request.apiKey)
	}
	if request.body != `{"model":"m"}` {
		t.Fatalf("expected body to be forwarded, got %q", request.body)
	}
}

func TestUpstreamProxyUnavailable(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	baseURL := upstream.URL
	upstream.Close()

	proxy, errProxy := NewUpstreamProxy(config.UpstreamConfig{BaseURL: baseURL, Timeout: time.Second})
	if errProxy != nil {
		t.Fatalf("new proxy: %v", errProxy)
	}
	portal := newProxyServer(proxy)
	defer portal.Close()

	resp, errGet := portal.Client().Get(portal.URL + "/v1/models")
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", resp.StatusCode)
	}
}

// newProxyServer serves proxy on a live listener; ReverseProxy needs a real connection.
func newProxyServer(proxy gin.HandlerFunc) *httptest.Server {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Any("/v1/*path", proxy)
	return httptest.NewServer(engine)
}
