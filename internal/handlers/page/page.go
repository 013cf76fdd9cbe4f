// Package page implements the generic page handler: fetch a URL, promote to a
// headless render when the static response looks script-driven, and convert the
// result to Markdown.
package page

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-worker/internal/crawler"
	"github.com/JakeFAU/crawl-worker/internal/fetcher/headless"
	"github.com/JakeFAU/crawl-worker/internal/metrics"
)

// Tag is the worker tag this handler registers under. Alias is the legacy tag
// kept for callers that still enqueue against it.
const (
	Tag   = "page"
	Alias = "crawl4ai"
)

// Config controls page fetching.
type Config struct {
	RespectRobots bool
}

// Handler fetches and renders web pages.
type Handler struct {
	probe    crawler.Fetcher
	headless crawler.Fetcher
	detector crawler.HeadlessDetector
	hasher   crawler.Hasher
	cfg      Config
	logger   *zap.Logger
}

// New builds a Handler. headlessFetcher, detector and hasher may be nil.
func New(
	probe crawler.Fetcher,
	headlessFetcher crawler.Fetcher,
	detector crawler.HeadlessDetector,
	hasher crawler.Hasher,
	cfg Config,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		probe:    probe,
		headless: headlessFetcher,
		detector: detector,
		hasher:   hasher,
		cfg:      cfg,
		logger:   logger.Named("page"),
	}
}

// Fetch implements crawler.Handler.
func (h *Handler) Fetch(ctx context.Context, requestKey string) (crawler.Outcome, error) {
	target, err := crawler.NormalizeURL(requestKey)
	if err != nil {
		return crawler.Outcome{Error: fmt.Sprintf("invalid url %q", requestKey)}, nil
	}

	req := crawler.FetchRequest{
		URL:                   target,
		RespectRobots:         h.cfg.RespectRobots,
		RespectRobotsProvided: true,
	}
	resp, err := h.probe.Fetch(ctx, req)
	if err != nil {
		metrics.ObserveFetch(Tag, target, "error", 0)
		return crawler.Outcome{}, fmt.Errorf("fetch %s: %w", target, err)
	}
	metrics.ObserveFetch(Tag, target, strconv.Itoa(resp.StatusCode), len(resp.Body))
	if resp.StatusCode >= 400 {
		return crawler.Outcome{Error: fmt.Sprintf("HTTP %d fetching %s", resp.StatusCode, target)}, nil
	}

	resp = h.maybeRender(ctx, req, resp)

	finalURL := resp.URL
	if finalURL == "" {
		finalURL = target
	}
	title, markdown, err := ToMarkdown(resp.Body, finalURL)
	if err != nil {
		return crawler.Outcome{}, err
	}

	doc := crawler.PagePayload{
		Success:      true,
		FinalURL:     finalURL,
		Markdown:     markdown,
		Title:        title,
		HTMLLength:   len(resp.Body),
		StatusCode:   resp.StatusCode,
		UsedHeadless: resp.UsedHeadless,
	}
	if h.hasher != nil {
		if doc.ContentHash, err = h.hasher.Hash(resp.Body); err != nil {
			return crawler.Outcome{}, fmt.Errorf("hash body: %w", err)
		}
	}
	payload, err := crawler.ToPayload(doc)
	if err != nil {
		return crawler.Outcome{}, err
	}
	return crawler.Outcome{Success: true, FinalURL: finalURL, Payload: payload}, nil
}

// maybeRender swaps in a headless render when the detector asks for one. Any
// render failure keeps the probe response.
func (h *Handler) maybeRender(ctx context.Context, req crawler.FetchRequest, probe crawler.FetchResponse) crawler.FetchResponse {
	if h.headless == nil || h.detector == nil || !h.detector.ShouldPromote(probe) {
		return probe
	}
	req.UseHeadless = true
	rendered, err := h.headless.Fetch(ctx, req)
	switch {
	case errors.Is(err, headless.ErrUnavailable):
		metrics.ObserveHeadlessPromotion("unavailable")
		return probe
	case err != nil:
		metrics.ObserveHeadlessPromotion("error")
		h.logger.Warn("headless render failed, keeping probe", zap.String("url", req.URL), zap.Error(err))
		return probe
	case rendered.StatusCode >= 400:
		metrics.ObserveHeadlessPromotion("error")
		return probe
	}
	metrics.ObserveHeadlessPromotion("rendered")
	metrics.ObserveFetch("headless", req.URL, strconv.Itoa(rendered.StatusCode), len(rendered.Body))
	rendered.UsedHeadless = true
	return rendered
}
