package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/crawl-worker/internal/crawler"
	"github.com/JakeFAU/crawl-worker/internal/metrics"
)

// RobotsFallbackHeader is set on responses from hosts whose robots.txt timed
// out and was treated as allow-all.
const RobotsFallbackHeader = "X-Crawl-Robots-Fallback"

const robotsFallbackReason = "robots.txt timeout"

var robotsBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsTransport retries robots.txt requests that time out and, once retries
// run out, answers allow-all for that host. Colly caches robots rules per host,
// so the fallback is remembered per host as well.
type robotsTransport struct {
	base      http.RoundTripper
	backoff   []time.Duration
	fallbacks sync.Map // host -> reason
}

func newRobotsTransport(base http.RoundTripper) *robotsTransport {
	return &robotsTransport{base: base, backoff: robotsBackoff}
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil || !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("roundtrip: %w", err)
		}
		return resp, nil
	}

	for attempt := 0; ; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isTimeout(err) {
			return nil, fmt.Errorf("robots.txt: %w", err)
		}
		if attempt >= len(t.backoff) {
			t.fallbacks.Store(req.URL.Host, robotsFallbackReason)
			metrics.ObserveRobotsFallback()
			return allowAll(req), nil
		}
		if err := sleep(req.Context(), t.backoff[attempt]); err != nil {
			return nil, err
		}
	}
}

// annotate marks resp when its host's robots rules came from the fallback.
func (t *robotsTransport) annotate(resp *crawler.FetchResponse) {
	u, err := url.Parse(resp.URL)
	if err != nil {
		return
	}
	reason, ok := t.fallbacks.Load(u.Host)
	if !ok {
		return
	}
	if resp.Headers == nil {
		resp.Headers = make(http.Header)
	}
	resp.Headers.Set(RobotsFallbackHeader, reason.(string))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots.txt backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func allowAll(req *http.Request) *http.Response {
	const body = "User-agent: *\nAllow: /"
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        make(http.Header),
		Request:       req,
	}
}
