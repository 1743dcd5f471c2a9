package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPProber_HealthyEndpoint(t *testing.T) {
	// Create test HTTP server that returns 200 OK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("healthy"))
	}))
	defer server.Close()

	prober := NewHTTPProber()

	ctx := context.Background()
	result := prober.Ping(ctx, server.URL)

	if !result.OK {
		t.Errorf("Expected healthy, got unhealthy: %s", result.Message)
	}
	if result.Latency <= 0 {
		t.Error("Expected positive latency")
	}
}

func TestHTTPProber_UnhealthyEndpoint(t *testing.T) {
	// Create test HTTP server that returns 500 Internal Server Error
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("error"))
	}))
	defer server.Close()

	prober := NewHTTPProber()

	ctx := context.Background()
	result := prober.Ping(ctx, server.URL)

	if result.OK {
		t.Errorf("Expected unhealthy, got healthy: %s", result.Message)
	}
}

func TestHTTPProber_RedirectWithinDefaultRange(t *testing.T) {
	// 302 falls inside the default 200-399 range
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))
	defer server.Close()

	prober := NewHTTPProber()

	result := prober.Ping(context.Background(), server.URL)
	if !result.OK {
		t.Errorf("Expected healthy for 302 status, got unhealthy: %s", result.Message)
	}
}

func TestHTTPProber_CustomStatusRange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated) // 201
	}))
	defer server.Close()

	// Restrict to exactly 200
	prober := NewHTTPProber().WithStatusRange(200, 200)

	result := prober.Ping(context.Background(), server.URL)
	if result.OK {
		t.Errorf("Expected unhealthy for 201 with range 200-200, got healthy")
	}
}

func TestHTTPProber_CustomHeaders(t *testing.T) {
	// Create test HTTP server that checks for custom header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Probe-Token") != "test-value" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	prober := NewHTTPProber().WithHeader("X-Probe-Token", "test-value")

	result := prober.Ping(context.Background(), server.URL)
	if !result.OK {
		t.Errorf("Expected healthy with custom header, got unhealthy: %s", result.Message)
	}
}

func TestHTTPProber_Timeout(t *testing.T) {
	// Create test HTTP server that responds slowly
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	prober := NewHTTPProber().WithTimeout(50 * time.Millisecond)

	result := prober.Ping(context.Background(), server.URL)
	if result.OK {
		t.Error("Expected timeout failure, got healthy")
	}
}

func TestHTTPProber_UnreachableTarget(t *testing.T) {
	prober := NewHTTPProber().WithTimeout(500 * time.Millisecond)

	// Port is closed
	result := prober.Ping(context.Background(), "http://127.0.0.1:1")
	if result.OK {
		t.Error("Expected failure for unreachable target, got healthy")
	}
	if result.Message == "" {
		t.Error("Expected failure message")
	}
}
