package connectivity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Prober checks real reachability of the backend.
// A nil error means reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// HTTPProber issues a HEAD request to URL. Any 2xx or 304 response counts as
// reachable; the caller's context bounds the request.
type HTTPProber struct {
	URL    string
	Client *http.Client // nil means http.DefaultClient
}

// NewHTTPProber returns a prober for url.
func NewHTTPProber(url string) *HTTPProber {
	return &HTTPProber{URL: url}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) error {
	if p.URL == "" {
		return errors.New("probe: no URL configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, http.NoBody)
	if err != nil {
		return fmt.Errorf("probe: build request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.URL, err)
	}
	defer resp.Body.Close()               //nolint:errcheck // HEAD has no body worth checking
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse

	if resp.StatusCode == http.StatusNotModified || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return nil
	}
	return fmt.Errorf("probe %s: status %d", p.URL, resp.StatusCode)
}
