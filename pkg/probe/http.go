package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPProber performs HTTP-based reachability probes
type HTTPProber struct {
	// Method is the HTTP method to use (default: GET)
	Method string

	// Headers are custom HTTP headers to include in the request
	Headers map[string]string

	// ExpectedStatusMin is the minimum acceptable HTTP status code (default: 200)
	ExpectedStatusMin int

	// ExpectedStatusMax is the maximum acceptable HTTP status code (default: 399)
	ExpectedStatusMax int

	// Client is the HTTP client to use (allows custom configuration)
	Client *http.Client
}

// NewHTTPProber creates a new HTTP prober with a 10s timeout
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{
		Method:            "GET",
		Headers:           make(map[string]string),
		ExpectedStatusMin: 200,
		ExpectedStatusMax: 399,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Ping performs a single HTTP probe against the URL
func (p *HTTPProber) Ping(ctx context.Context, url string) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, p.Method, url, nil)
	if err != nil {
		return Result{
			OK:        false,
			Message:   fmt.Sprintf("failed to create request: %v", err),
			CheckedAt: start,
			Latency:   time.Since(start),
		}
	}

	for key, value := range p.Headers {
		req.Header.Set(key, value)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return Result{
			OK:        false,
			Message:   fmt.Sprintf("request failed: %v", err),
			CheckedAt: start,
			Latency:   time.Since(start),
		}
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= p.ExpectedStatusMin && resp.StatusCode <= p.ExpectedStatusMax

	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if !ok {
		message = fmt.Sprintf("%s (expected %d-%d)", message, p.ExpectedStatusMin, p.ExpectedStatusMax)
	}

	return Result{
		OK:        ok,
		Message:   message,
		CheckedAt: start,
		Latency:   time.Since(start),
	}
}

// WithMethod sets the HTTP method
func (p *HTTPProber) WithMethod(method string) *HTTPProber {
	p.Method = method
	return p
}

// WithHeader adds a custom HTTP header
func (p *HTTPProber) WithHeader(key, value string) *HTTPProber {
	p.Headers[key] = value
	return p
}

// WithStatusRange sets the expected status code range
func (p *HTTPProber) WithStatusRange(min, max int) *HTTPProber {
	p.ExpectedStatusMin = min
	p.ExpectedStatusMax = max
	return p
}

// WithTimeout sets the HTTP client timeout
func (p *HTTPProber) WithTimeout(timeout time.Duration) *HTTPProber {
	p.Client.Timeout = timeout
	return p
}
