// Package demo provides a handler that echoes its request key without network I/O.
// It backs smoke tests of a deployment's queue and store.
package demo

import (
	"context"
	"strings"

	"github.com/JakeFAU/crawl-worker/internal/crawler"
)

// Tag is the worker tag the handler is registered under.
const Tag = "demo"

// Handler echoes request keys.
type Handler struct {
	Markdown string
}

// New returns a Handler whose payload markdown is "Hello".
func New() *Handler {
	return &Handler{Markdown: "Hello"}
}

// Fetch reports success for any non-empty key. A key prefixed with "fail:" yields
// an unsuccessful outcome carrying the rest of the key as the error.
func (h *Handler) Fetch(_ context.Context, requestKey string) (crawler.Outcome, error) {
	if msg, ok := strings.CutPrefix(requestKey, "fail:"); ok {
		return crawler.Outcome{Success: false, Error: msg}, nil
	}
	if requestKey == "" {
		return crawler.Outcome{Success: false, Error: "request key is required"}, nil
	}
	return crawler.Outcome{
		Success:  true,
		FinalURL: requestKey,
		Payload:  crawler.Payload{"final_url": requestKey, "markdown": h.Markdown},
	}, nil
}
