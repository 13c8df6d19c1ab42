package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/FranksOps/gbpsnap/internal/bypass"
	"github.com/FranksOps/gbpsnap/internal/fingerprint"
	"github.com/FranksOps/gbpsnap/internal/metrics"
	"github.com/FranksOps/gbpsnap/pkg/httpclient"
	"github.com/FranksOps/gbpsnap/pkg/proxy"
	"github.com/FranksOps/gbpsnap/pkg/ratelimit"
	"github.com/FranksOps/gbpsnap/pkg/useragent"
)

type contextKey string

const proxyKey contextKey = "proxy_url"

const defaultMaxBody = 2 << 20

// FetchConfig configures the prefetch HTTP client.
type FetchConfig struct {
	Timeout        time.Duration
	MaxRedirects   int
	UseCookieJar   bool
	ProxyPool      *proxy.Pool
	UAPool         *useragent.Pool
	Fingerprint    fingerprint.Profile
	Limiter        *ratelimit.Limiter
	AcceptLanguage string
	// MaxBody caps how much of each body is kept. Zero means 2 MiB.
	MaxBody int64
	// Insecure skips TLS verification. Tests only.
	Insecure bool
}

// Response is what the fetcher keeps of one GET.
type Response struct {
	URL         string
	FinalURL    string
	StatusCode  int
	Headers     http.Header
	Body        []byte
	Duration    time.Duration
	Proxy       string
	Blocked     bool
	BlockSource string
}

// Fetcher performs single URL fetches with UA rotation, proxy rotation and a
// browser-like TLS fingerprint.
type Fetcher struct {
	config FetchConfig
	client *httpclient.Client
}

// NewFetcher builds a Fetcher. A single client is shared across requests so
// cookies and pooled connections persist for the Fetcher's lifetime.
func NewFetcher(cfg FetchConfig) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil)
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileChrome
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = defaultMaxBody
	}

	// The proxy is chosen per request and carried on the request context, so
	// one transport serves every proxy.
	proxyFunc := func(req *http.Request) (*url.URL, error) {
		if u, ok := req.Context().Value(proxyKey).(*url.URL); ok {
			return u, nil
		}
		return http.ProxyFromEnvironment(req)
	}

	transport, err := fingerprint.Transport(cfg.Fingerprint, fingerprint.Options{
		Proxy:              proxyFunc,
		InsecureSkipVerify: cfg.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("scraper: transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:        cfg.Timeout,
		MaxRedirects:   cfg.MaxRedirects,
		UseCookieJar:   cfg.UseCookieJar,
		Transport:      transport,
		UserAgent:      cfg.UAPool.Next,
		AcceptLanguage: cfg.AcceptLanguage,
	})
	if err != nil {
		return nil, fmt.Errorf("scraper: client: %w", err)
	}

	return &Fetcher{config: cfg, client: client}, nil
}

// Fetch GETs targetURL. Transport failures are returned as errors; any HTTP
// status is a successful fetch and is left to the caller to judge.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*Response, error) {
	if f.config.Limiter != nil {
		if err := f.config.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("scraper: rate limiter: %w", err)
		}
	}

	start := time.Now()
	res := &Response{URL: targetURL}

	var activeProxy *url.URL
	if f.config.ProxyPool != nil {
		activeProxy = f.config.ProxyPool.Next()
	}
	if activeProxy != nil {
		ctx = context.WithValue(ctx, proxyKey, activeProxy)
		res.Proxy = activeProxy.Redacted()
	}

	resp, err := f.client.Get(ctx, targetURL)
	if err != nil {
		if activeProxy != nil && !errors.Is(err, context.Canceled) {
			_ = f.config.ProxyPool.MarkFailure(activeProxy)
			metrics.ProxyFailures.WithLabelValues(activeProxy.Redacted()).Inc()
		}
		return nil, fmt.Errorf("scraper: fetch %s: %w", targetURL, err)
	}
	if activeProxy != nil {
		_ = f.config.ProxyPool.MarkSuccess(activeProxy)
	}

	res.StatusCode = resp.StatusCode
	res.Headers = resp.Header
	res.FinalURL = resp.Request.URL.String()

	body, err := httpclient.ReadBody(resp, f.config.MaxBody)
	res.Duration = time.Since(start)
	if err != nil {
		return res, fmt.Errorf("scraper: %w", err)
	}
	res.Body = body

	res.Blocked, res.BlockSource = bypass.Analyze(&bypass.Signal{
		URL:        res.FinalURL,
		StatusCode: res.StatusCode,
		Headers:    res.Headers,
		Body:       res.Body,
	}, bypass.DefaultDetectors())
	if res.Blocked {
		metrics.BlockedPagesTotal.WithLabelValues(res.BlockSource).Inc()
	}

	return res, nil
}
