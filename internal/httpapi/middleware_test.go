package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"payerbook.org/internal/ids"
	"payerbook.org/internal/obs"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimitExceeded(t *testing.T) {
	limiter := NewRateLimiter(1, 1, false)
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }
	handler := RequestID(limiter.Middleware(okHandler))

	req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(req.Context()))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first call 200, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(req.Context()))
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr2.Code)
	}
	if got := rr2.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("expected Retry-After 1, got %q", got)
	}

	var body envelope
	if err := json.Unmarshal(rr2.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode rate limit body: %v", err)
	}
	if body.Success || body.Message != "Too many requests" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.RequestID == "" {
		t.Fatalf("expected request_id in body")
	}

	// Another client has its own bucket.
	other := req.Clone(req.Context())
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	if rr3.Code != http.StatusOK {
		t.Fatalf("expected other client 200, got %d", rr3.Code)
	}

	// The bucket refills with time.
	now = now.Add(time.Second)
	rr4 := httptest.NewRecorder()
	handler.ServeHTTP(rr4, req.Clone(req.Context()))
	if rr4.Code != http.StatusOK {
		t.Fatalf("expected refill after 1s, got %d", rr4.Code)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	if l := NewRateLimiter(0, 10, false); l != nil {
		t.Fatalf("expected nil limiter for zero rate")
	}
	var l *RateLimiter
	rr := httptest.NewRecorder()
	l.Middleware(okHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("nil limiter should pass through, got %d", rr.Code)
	}
}

func TestRateLimiterForwardedFor(t *testing.T) {
	trusting := NewRateLimiter(1, 1, true)
	blind := NewRateLimiter(1, 1, false)

	send := func(l *RateLimiter, xff string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
		req.RemoteAddr = "192.0.2.10:5555"
		req.Header.Set("X-Forwarded-For", xff+", 192.0.2.10")
		rr := httptest.NewRecorder()
		l.Middleware(okHandler).ServeHTTP(rr, req)
		return rr.Code
	}

	if send(trusting, "198.51.100.1") != http.StatusOK || send(trusting, "198.51.100.2") != http.StatusOK {
		t.Fatalf("trusted proxy: distinct forwarded clients must not share a bucket")
	}
	if send(blind, "198.51.100.1") != http.StatusOK {
		t.Fatalf("first request should pass")
	}
	if send(blind, "198.51.100.2") != http.StatusTooManyRequests {
		t.Fatalf("untrusted proxy: forwarded header must be ignored")
	}
}

func TestLoggingJSONEmitsStructuredEntry(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	prev := obs.SetLogger(zap.New(core))
	defer obs.SetLogger(prev)

	handler := RequestID(LoggingJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/log-test", nil)
	req.Header.Set("User-Agent", "middleware-test")
	req.RemoteAddr = "127.0.0.1:1234"

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	entries := logs.FilterMessage("request_complete").All()
	if len(entries) != 1 {
		t.Fatalf("expected one request_complete entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	for _, key := range []string{"request_id", "method", "path", "status", "duration_ms", "remote_ip", "user_agent"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("expected key %q in log entry", key)
		}
	}
	if fields["status"] != int64(http.StatusTeapot) {
		t.Fatalf("unexpected status: %v", fields["status"])
	}
	if fields["request_id"] != rr.Header().Get(requestIDHeader) {
		t.Fatalf("log request_id %v does not match header %q", fields["request_id"], rr.Header().Get(requestIDHeader))
	}
	if fields["remote_ip"] != "127.0.0.1" {
		t.Fatalf("unexpected remote_ip: %v", fields["remote_ip"])
	}
}

func TestRequestIDReusesValidInbound(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	inbound := ids.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, inbound)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if seen != inbound || rr.Header().Get(requestIDHeader) != inbound {
		t.Fatalf("expected inbound id %q reused, got %q", inbound, seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "bad id\nwith newline")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if seen == "" || !ids.Valid(seen) || seen == "bad id\nwith newline" {
		t.Fatalf("expected a freshly minted id, got %q", seen)
	}
}

func TestSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	for k, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := rr.Header().Get(k); got != want {
			t.Fatalf("%s: expected %q, got %q", k, want, got)
		}
	}
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"http://app.example/"})(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/api/login", nil)
	req.Header.Set("Origin", "http://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://app.example" {
		t.Fatalf("expected origin echoed")
	}
	if rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials allowed")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/login", nil)
	req.Header.Set("Origin", "http://evil.example")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected passthrough, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("foreign origin must not be allowed")
	}
}
