package preview

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// HTTPProber checks documents with a HEAD request. Outbound probes share a
// token bucket so a burst of previews cannot hammer the blob store.
type HTTPProber struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPProber creates a prober. timeout bounds each HEAD request;
// perSecond <= 0 disables rate limiting.
func NewHTTPProber(client *http.Client, timeout time.Duration, perSecond float64, burst int) *HTTPProber {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if perSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return &HTTPProber{client: client, limiter: limiter}
}

// Exists returns nil when a HEAD request for documentURL answers 2xx.
func (p *HTTPProber) Exists(ctx context.Context, documentURL string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for probe slot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, documentURL, nil)
	if err != nil {
		return fmt.Errorf("building HEAD request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("HEAD %s: %w", documentURL, err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("document not accessible: %d", resp.StatusCode)
	}
	return nil
}
