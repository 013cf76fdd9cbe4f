// Package headless renders pages in headless Chrome for the page handler when a
// plain probe looks like a JavaScript shell.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/crawl-worker/internal/crawler"
)

// Options tune the browser.
type Options struct {
	// Tabs caps concurrent renders. Zero means unbounded.
	Tabs      int
	UserAgent string
	// Timeout bounds one render, navigation through DOM capture.
	Timeout time.Duration
	// ReadySelector must match before the DOM is captured.
	ReadySelector string
	// Settle gives client-side scripts time to finish after ready.
	Settle time.Duration
	// ChromePath overrides the binary lookup.
	ChromePath string
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 45 * time.Second
	}
	if o.ReadySelector == "" {
		o.ReadySelector = "body"
	}
	if o.Settle <= 0 {
		o.Settle = 500 * time.Millisecond
	}
	return o
}

// Browser implements crawler.Fetcher by driving one shared Chrome process, a
// fresh tab per render.
type Browser struct {
	opts     Options
	tabs     *semaphore.Weighted
	alloc    context.Context
	shutdown context.CancelFunc
}

// NewBrowser prepares the allocator. Chrome itself starts on the first render.
func NewBrowser(opts Options) (*Browser, error) {
	if opts.Tabs < 0 {
		return nil, errors.New("headless: tabs must be >= 0")
	}
	opts = opts.withDefaults()

	flags := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if opts.ChromePath != "" {
		flags = append(flags, chromedp.ExecPath(opts.ChromePath))
	}
	alloc, shutdown := chromedp.NewExecAllocator(context.Background(), flags...)

	b := &Browser{opts: opts, alloc: alloc, shutdown: shutdown}
	if opts.Tabs > 0 {
		b.tabs = semaphore.NewWeighted(int64(opts.Tabs))
	}
	return b, nil
}

// Close stops Chrome. In-flight renders fail.
func (b *Browser) Close() {
	b.shutdown()
}

// Fetch opens request.URL in a new tab and returns the rendered DOM.
func (b *Browser) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if b.tabs != nil {
		if err := b.tabs.Acquire(ctx, 1); err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("waiting for a browser tab: %w", err)
		}
		defer b.tabs.Release(1)
	}

	tab, closeTab := chromedp.NewContext(b.alloc)
	defer closeTab()
	// The tab derives from the allocator, so the caller's deadline is joined by hand.
	stop := context.AfterFunc(ctx, closeTab)
	defer stop()
	tab, cancel := context.WithTimeout(tab, b.opts.Timeout)
	defer cancel()

	doc := &documentRecorder{}
	chromedp.ListenTarget(tab, doc.listen)

	started := time.Now()
	var html, location string
	err := chromedp.Run(tab,
		b.prepare(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady(b.opts.ReadySelector, chromedp.ByQuery),
		chromedp.Sleep(b.opts.Settle),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, ctx.Err()
		}
		return crawler.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, err)
	}

	resp := doc.response(request.URL, location)
	resp.Body = []byte(html)
	resp.Duration = time.Since(started)
	resp.UsedHeadless = true
	return resp, nil
}

func (b *Browser) prepare(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network: %w", err)
		}
		if b.opts.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.opts.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("user agent override: %w", err)
			}
		}
		if extra := extraHeaders(headers); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("extra headers: %w", err)
			}
		}
		return nil
	})
}

// documentRecorder keeps the last top-level document response seen by a tab.
// Redirect hops each produce one, so the final hop wins.
type documentRecorder struct {
	mu     sync.Mutex
	status int
	url    string
	header http.Header
}

func (d *documentRecorder) listen(ev any) {
	received, ok := ev.(*network.EventResponseReceived)
	if !ok || received.Type != network.ResourceTypeDocument || received.Response == nil {
		return
	}
	header := make(http.Header, len(received.Response.Headers))
	for name, value := range received.Response.Headers {
		addHeaderValue(header, name, value)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = int(received.Response.Status)
	d.url = received.Response.URL
	d.header = header
}

// response fills gaps from what the page reported: the tab location, then the
// requested URL. A render with no captured document is reported as 200.
func (d *documentRecorder) response(requested, location string) crawler.FetchResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	resp := crawler.FetchResponse{
		URL:        d.url,
		StatusCode: d.status,
		Headers:    d.header.Clone(),
	}
	if resp.URL == "" {
		resp.URL = location
	}
	if resp.URL == "" {
		resp.URL = requested
	}
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	if resp.Headers == nil {
		resp.Headers = http.Header{}
	}
	return resp
}

// addHeaderValue flattens the loosely typed devtools header values.
func addHeaderValue(h http.Header, name string, value any) {
	switch v := value.(type) {
	case string:
		h.Add(name, v)
	case []string:
		for _, s := range v {
			h.Add(name, s)
		}
	case []any:
		for _, s := range v {
			h.Add(name, fmt.Sprint(s))
		}
	default:
		h.Add(name, fmt.Sprint(v))
	}
}

// extraHeaders converts caller headers to the devtools shape. Repeated values
// are joined the way HTTP allows for most fields.
func extraHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for name, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[name] = values[0]
		default:
			out[name] = strings.Join(values, ", ")
		}
	}
	return out
}
