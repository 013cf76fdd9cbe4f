package policy

import (
	"context"
	"fmt"

	"github.com/JakeFAU/crawl-worker/internal/crawler"
)

// BlockedError reports a fetch refused by the blocklist.
type BlockedError struct {
	Host string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("host %s is blocked", e.Host)
}

// Fetcher applies the blocklist and the per-host limiter before delegating.
type Fetcher struct {
	next      crawler.Fetcher
	limiter   *Limiter
	blocklist *Blocklist
}

// NewFetcher wraps next. limiter and blocklist may be nil.
func NewFetcher(next crawler.Fetcher, limiter *Limiter, blocklist *Blocklist) *Fetcher {
	return &Fetcher{next: next, limiter: limiter, blocklist: blocklist}
}

// Fetch implements crawler.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	if host := hostOf(req.URL); f.blocklist.IsBlocked(host) {
		return crawler.FetchResponse{}, &BlockedError{Host: host}
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, req.URL); err != nil {
			return crawler.FetchResponse{}, err
		}
	}
	return f.next.Fetch(ctx, req)
}
