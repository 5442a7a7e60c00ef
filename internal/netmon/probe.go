package netmon

import (
	"context"
	"net/http"
	"time"
)

// Prober checks whether the internet is actually reachable.
// A link that is up but cannot reach the probe endpoint is offline.
type Prober interface {
	Reachable() bool
}

// HTTPProber probes a captive-portal style endpoint.
//
// Any HTTP response counts as reachable; only transport errors (DNS
// failure, refused connection, timeout) mean the internet is down.
type HTTPProber struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPProber creates a prober against the given URL, typically a
// generate_204 endpoint.
func NewHTTPProber(url string) *HTTPProber {
	timeout := 5 * time.Second
	return &HTTPProber{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Reachable implements Prober.
func (p *HTTPProber) Reachable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

// StaticProber always reports a fixed reachability value. Useful for
// embedding the monitor where a platform bridge supplies the signal.
type StaticProber bool

// Reachable implements Prober.
func (p StaticProber) Reachable() bool {
	return bool(p)
}
