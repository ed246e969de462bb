package httputil

import (
	"net/http"
	"net/url"

	"golang.org/x/time/rate"

	"zoopla_fetcher/config"
)

type Clients struct {
	Pages  *http.Client // portal pages, images and scripts
	Search *http.Client // portal search endpoint; redirects are returned, not followed
	API    *http.Client // price-history API
}

func NewClients(cfg *config.HTTPConfig) *Clients {
	base := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 32,
	}
	if cfg.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.ProxyURL); err == nil {
			base.Proxy = http.ProxyURL(proxyURL)
		}
	}

	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	portal := NewBrowserTransport(base, limiter)

	return &Clients{
		Pages: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: portal,
		},
		Search: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: portal,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		API: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: NewBrowserTransport(base, nil),
		},
	}
}
