package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	commonmw "codesandbox/internal/common/http/middleware"
	"codesandbox/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

type traceResponse struct {
	CtxTraceID   string `json:"ctx_trace_id"`
	CtxRequestID string `json:"ctx_request_id"`
}

func TestTraceContextMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(commonmw.TraceContextMiddleware())
	router.GET("/trace", func(c *gin.Context) {
		ctx := c.Request.Context()
		traceID, _ := ctx.Value(contextkey.TraceID).(string)
		requestID, _ := ctx.Value(contextkey.RequestID).(string)
		c.JSON(http.StatusOK, traceResponse{CtxTraceID: traceID, CtxRequestID: requestID})
	})

	cases := []struct {
		name              string
		headers           map[string]string
		expectedTraceID   string
		expectedRequestID string
	}{
		{
			name: "generate trace and request id",
		},
		{
			name: "preserve trace and request id",
			headers: map[string]string{
				"X-Trace-Id":   "trace-123",
				"X-Request-Id": "req-123",
			},
			expectedTraceID:   "trace-123",
			expectedRequestID: "req-123",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/trace", nil)
			for key, value := range tc.headers {
				req.Header.Set(key, value)
			}
			router.ServeHTTP(rec, req)

			var resp traceResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response failed: %v", err)
			}
			if resp.CtxTraceID == "" || resp.CtxRequestID == "" {
				t.Fatalf("expected ids in request context, got %+v", resp)
			}
			if tc.expectedTraceID != "" && resp.CtxTraceID != tc.expectedTraceID {
				t.Fatalf("expected trace id %s, got %s", tc.expectedTraceID, resp.CtxTraceID)
			}
			if tc.expectedRequestID != "" && resp.CtxRequestID != tc.expectedRequestID {
				t.Fatalf("expected request id %s, got %s", tc.expectedRequestID, resp.CtxRequestID)
			}
			if rec.Header().Get("X-Trace-Id") != resp.CtxTraceID {
				t.Fatalf("expected trace id header %s, got %s", resp.CtxTraceID, rec.Header().Get("X-Trace-Id"))
			}
			if rec.Header().Get("X-Request-Id") != resp.CtxRequestID {
				t.Fatalf("expected request id header %s, got %s", resp.CtxRequestID, rec.Header().Get("X-Request-Id"))
			}
		})
	}
}

func TestSharedSecretMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name     string
		cfg      commonmw.SharedSecretConfig
		headers  map[string]string
		expected int
	}{
		{name: "explicitly disabled", cfg: commonmw.SharedSecretConfig{Disabled: true}, expected: http.StatusOK},
		{name: "empty secret rejects", cfg: commonmw.SharedSecretConfig{}, headers: map[string]string{"auth": ""}, expected: http.StatusForbidden},
		{name: "default header accepted", cfg: commonmw.SharedSecretConfig{Secret: "s3cret"}, headers: map[string]string{"auth": "s3cret"}, expected: http.StatusOK},
		{name: "missing header", cfg: commonmw.SharedSecretConfig{Secret: "s3cret"}, expected: http.StatusForbidden},
		{name: "wrong secret", cfg: commonmw.SharedSecretConfig{Secret: "s3cret"}, headers: map[string]string{"auth": "nope"}, expected: http.StatusForbidden},
		{name: "custom header", cfg: commonmw.SharedSecretConfig{Header: "X-Sandbox-Key", Secret: "k"}, headers: map[string]string{"X-Sandbox-Key": "k"}, expected: http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			router.Use(commonmw.SharedSecretMiddleware(tc.cfg))
			router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			for key, value := range tc.headers {
				req.Header.Set(key, value)
			}
			router.ServeHTTP(rec, req)
			if rec.Code != tc.expected {
				t.Fatalf("expected status %d, got %d", tc.expected, rec.Code)
			}
		})
	}
}

func TestRateLimitMiddlewareRejectsOverBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := commonmw.NewLimiter(commonmw.RateLimitConfig{RPS: 0.001, Burst: 1})
	rejected := 0
	router := gin.New()
	router.Use(commonmw.RateLimitMiddleware(limiter, func() { rejected++ }))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status codes %v", codes)
	}
	if rejected != 1 {
		t.Fatalf("expected 1 rejection callback, got %d", rejected)
	}
}

func TestLimiterConcurrencyCap(t *testing.T) {
	limiter := commonmw.NewLimiter(commonmw.RateLimitConfig{MaxConcurrent: 2})
	if !limiter.Acquire() || !limiter.Acquire() {
		t.Fatalf("expected two slots")
	}
	if limiter.Acquire() {
		t.Fatalf("expected third acquire to fail")
	}
	limiter.Release()
	if !limiter.Acquire() {
		t.Fatalf("expected acquire after release")
	}
}

func TestLimiterZeroConfigAllowsAll(t *testing.T) {
	limiter := commonmw.NewLimiter(commonmw.RateLimitConfig{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	denied := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !limiter.Acquire() {
				mu.Lock()
				denied++
				mu.Unlock()
				return
			}
			limiter.Release()
		}()
	}
	wg.Wait()
	if denied != 0 {
		t.Fatalf("expected no denials, got %d", denied)
	}
}
