package httputil

import (
	"net/http"

	"golang.org/x/time/rate"
)

// BrowserHeaders are sent on every outbound request unless the request
// already sets the header. The portal rejects clients that don't look like a
// browser.
var BrowserHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	"Accept-Language": "en-GB,en;q=0.9",
	"Cache-Control":   "no-cache",
	"Pragma":          "no-cache",
}

type browserTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

// NewBrowserTransport wraps base with the browser header set and, when
// limiter is non-nil, waits on it before each request.
func NewBrowserTransport(base http.RoundTripper, limiter *rate.Limiter) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &browserTransport{base: base, limiter: limiter}
}

func (t *browserTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}

	req = req.Clone(req.Context())
	for k, v := range BrowserHeaders {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}
