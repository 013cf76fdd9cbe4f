// Package collyfetcher implements crawler.Fetcher using gocolly. The handlers use
// it for plain HTTP GETs: page probes, video watch pages and feed API calls.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/crawl-worker/internal/crawler"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// RespectRobots applies when a request does not decide for itself.
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodySize caps response bodies in bytes; 0 keeps colly's default.
	MaxBodySize int
}

// Fetcher implements crawler.Fetcher using the Colly collector. Every fetch runs
// on a clone of one base collector, so the pooled transport and the robots.txt
// cache are shared across requests.
type Fetcher struct {
	cfg    Config
	robots *robotsTransport
	base   *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	base := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	if cfg.UserAgent != "" {
		base.UserAgent = cfg.UserAgent
	}
	if cfg.MaxBodySize > 0 {
		base.MaxBodySize = cfg.MaxBodySize
	}
	// Non-2xx responses are returned to the caller rather than treated as errors.
	base.ParseHTTPErrorResponse = true

	robots := newRobotsTransport(newHTTPTransport())
	base.WithTransport(robots)
	base.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{cfg: cfg, robots: robots, base: base}
}

// Fetch performs one GET. Only transport failures, robots.txt refusals and ctx
// cancellation are errors; any HTTP status is a response.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	respectRobots := f.cfg.RespectRobots
	if request.RespectRobotsProvided {
		respectRobots = request.RespectRobots
	}

	c := f.base.Clone()
	c.Context = ctx
	c.IgnoreRobotsTxt = !respectRobots

	var (
		resp      crawler.FetchResponse
		failure   error
		responded bool
	)
	start := time.Now()
	c.OnResponse(func(r *colly.Response) {
		responded = true
		resp = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	c.OnError(func(_ *colly.Response, err error) {
		failure = err
	})

	err := c.Request(http.MethodGet, request.URL, nil, nil, request.Headers.Clone())
	switch {
	case ctx.Err() != nil:
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, ctx.Err())
	case err != nil:
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, err)
	case failure != nil:
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, failure)
	case !responded:
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: no response", request.URL)
	}
	if respectRobots {
		f.robots.annotate(&resp)
	}
	return resp, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
