package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/crawl-worker/internal/crawler"
)

// ErrUnavailable means rendering is switched off. The page handler treats it as
// "keep the static probe".
var ErrUnavailable = errors.New("headless rendering disabled")

// Disabled is the Fetcher wired in when headless.enabled is false.
type Disabled struct{}

// Fetch returns ErrUnavailable.
func (Disabled) Fetch(context.Context, crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{}, ErrUnavailable
}
