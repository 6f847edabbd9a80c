package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/access"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/ratelimit"
)

type fakeStatusReader struct {
	status ratelimit.Status
	err    error
	gotKey string
}

func (f *fakeStatusReader) Status(_ context.Context, apiKeyID, _ string) (ratelimit.Status, error) {
	f.gotKey = apiKeyID
	return f.status, f.err
}

func serveStatus(reader StatusReader, withPrincipal bool) *httptest.ResponseRecorder {
	return serveStatusPath(reader, withPrincipal, "/v0/rate-limit/status")
}

func serveStatusPath(reader StatusReader, withPrincipal bool, path string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	if withPrincipal {
		engine.Use(func(c *gin.Context) {
			c.Set(access.MetadataKey, map[string]string{"api_key_id": "key-1", "user_id": "user-1"})
			c.Next()
		})
	}
	engine.GET("/v0/rate-limit/status", NewRateLimitFrontHandler(reader).Status)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRateLimitStatus(t *testing.T) {
	reset := time.Date(2025, 1, 1, 12, 1, 0, 0, time.UTC)
	reader := &fakeStatusReader{status: ratelimit.Status{
		Minute: ratelimit.WindowStatus{Window: ratelimit.WindowMinute, Limit: 60, Used: 3, Remaining: 57, ResetTime: reset},
	}}
	rec := serveStatus(reader, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if reader.gotKey != "key-1" {
		t.Fatalf("expected status for key-1, got %q", reader.gotKey)
	}

	var body ratelimit.Status
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &body); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if body.Minute.Used != 3 || body.Minute.Remaining != 57 || !body.Minute.ResetTime.Equal(reset) {
		t.Fatalf("unexpected minute status %+v", body.Minute)
	}
}

func TestRateLimitStatusErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"config not found", ratelimit.ErrConfigNotFound, http.StatusUnauthorized},
		{"store unavailable", ratelimit.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := serveStatus(&fakeStatusReader{err: tc.err}, true)
		if rec.Code != tc.status {
			t.Fatalf("%s: expected status %d, got %d", tc.name, tc.status, rec.Code)
		}
	}
	if rec := serveStatus(&fakeStatusReader{}, false); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected missing principal to return 401, got %d", rec.Code)
	}
}

func TestRateLimitStatusSingleWindow(t *testing.T) {
	reader := &fakeStatusReader{status: ratelimit.Status{
		Minute: ratelimit.WindowStatus{Window: ratelimit.WindowMinute, Limit: 60, Used: 1, Remaining: 59},
		Hour:   ratelimit.WindowStatus{Window: ratelimit.WindowHour, Limit: 1000, Used: 7, Remaining: 993},
	}}
	rec := serveStatusPath(reader, true, "/v0/rate-limit/status?window=Hour")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var body ratelimit.WindowStatus
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &body); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if body.Window != ratelimit.WindowHour || body.Used != 7 || body.Remaining != 993 {
		t.Fatalf("unexpected hour status %+v", body)
	}

	if rec = serveStatusPath(reader, true, "/v0/rate-limit/status?window=week"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown window to return 400, got %d", rec.Code)
	}
}
