package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Prober measures a provider's availability. A nil error is a successful check.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProbeFunc adapts a function to Prober.
type ProbeFunc func(ctx context.Context) error

// Probe calls f(ctx).
func (f ProbeFunc) Probe(ctx context.Context) error {
	return f(ctx)
}

// HTTPProber probes a provider health endpoint. Any 2xx status is healthy.
type HTTPProber struct {
	url    string
	method string
	header http.Header
	client *http.Client
}

// HTTPProberOption customizes an HTTPProber.
type HTTPProberOption func(*HTTPProber)

// WithMethod sets the request method. Default: GET.
func WithMethod(method string) HTTPProberOption {
	return func(p *HTTPProber) {
		p.method = method
	}
}

// WithHeader adds a header sent with every probe, such as an API key.
func WithHeader(key, value string) HTTPProberOption {
	return func(p *HTTPProber) {
		p.header.Add(key, value)
	}
}

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(client *http.Client) HTTPProberOption {
	return func(p *HTTPProber) {
		p.client = client
	}
}

// NewHTTPProber creates a prober for url. Requests are traced through an
// otelhttp transport; the probe deadline comes from the caller's context.
func NewHTTPProber(url string, opts ...HTTPProberOption) *HTTPProber {
	p := &HTTPProber{
		url:    url,
		method: http.MethodGet,
		header: make(http.Header),
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   time.Minute,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe issues one request to the health endpoint.
func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, p.method, p.url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	for k, v := range p.header {
		req.Header[k] = v
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrUnhealthyResponse, resp.StatusCode)
	}
	return nil
}
