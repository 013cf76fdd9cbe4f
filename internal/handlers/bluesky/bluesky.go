// Package bluesky implements the social feed handler against the public
// AppView's app.bsky.feed.getAuthorFeed endpoint.
package bluesky

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-worker/internal/crawler"
	"github.com/JakeFAU/crawl-worker/internal/metrics"
)

// Tag is the worker tag this handler registers under.
const Tag = "bluesky"

const (
	defaultAPIBase = "https://public.api.bsky.app"
	defaultLimit   = 25
	defaultFilter  = "posts_and_author_threads"
	profileBase    = "https://bsky.app/profile/"
	maxLimit       = 100
)

// Config controls feed fetching.
type Config struct {
	APIBase string
	// Limit is the page size, capped at 100 by the AppView.
	Limit  int
	Filter string
}

// Handler fetches an actor's recent posts.
type Handler struct {
	fetcher crawler.Fetcher
	clock   crawler.Clock
	cfg     Config
	logger  *zap.Logger
}

// New builds a Handler.
func New(fetcher crawler.Fetcher, clock crawler.Clock, cfg Config, logger *zap.Logger) *Handler {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	cfg.APIBase = strings.TrimSuffix(cfg.APIBase, "/")
	if cfg.Limit <= 0 {
		cfg.Limit = defaultLimit
	}
	if cfg.Limit > maxLimit {
		cfg.Limit = maxLimit
	}
	if cfg.Filter == "" {
		cfg.Filter = defaultFilter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{fetcher: fetcher, clock: clock, cfg: cfg, logger: logger.Named("bluesky")}
}

type authorFeed struct {
	Feed   []json.RawMessage `json:"feed"`
	Cursor string            `json:"cursor"`
}

type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Fetch implements crawler.Handler. The request key is a handle, a DID, or a
// bsky.app profile URL.
func (h *Handler) Fetch(ctx context.Context, requestKey string) (crawler.Outcome, error) {
	actor := Actor(requestKey)
	if actor == "" {
		return crawler.Outcome{Error: "Actor handle or DID must be provided"}, nil
	}

	q := url.Values{}
	q.Set("actor", actor)
	q.Set("limit", strconv.Itoa(h.cfg.Limit))
	q.Set("filter", h.cfg.Filter)
	endpoint := h.cfg.APIBase + "/xrpc/app.bsky.feed.getAuthorFeed?" + q.Encode()

	resp, err := h.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:                   endpoint,
		Headers:               http.Header{"Accept": {"application/json"}},
		RespectRobotsProvided: true,
	})
	if err != nil {
		metrics.ObserveFetch(Tag, endpoint, "error", 0)
		return crawler.Outcome{}, fmt.Errorf("get author feed: %w", err)
	}
	metrics.ObserveFetch(Tag, endpoint, strconv.Itoa(resp.StatusCode), len(resp.Body))
	if resp.StatusCode >= 400 {
		return crawler.Outcome{Error: upstreamError(resp)}, nil
	}

	var feed authorFeed
	if err := json.Unmarshal(resp.Body, &feed); err != nil {
		return crawler.Outcome{}, fmt.Errorf("decode author feed: %w", err)
	}
	h.logger.Debug("fetched author feed", zap.String("actor", actor), zap.Int("posts", len(feed.Feed)))

	profileURL := profileBase + actor
	payload, err := crawler.ToPayload(crawler.FeedPayload{
		Success:    true,
		Actor:      actor,
		ProfileURL: profileURL,
		FeedData:   json.RawMessage(resp.Body),
		PostCount:  len(feed.Feed),
		FetchedAt:  h.clock.Now().UTC(),
		Cursor:     feed.Cursor,
	})
	if err != nil {
		return crawler.Outcome{}, err
	}
	return crawler.Outcome{Success: true, FinalURL: profileURL, Payload: payload}, nil
}

func upstreamError(resp crawler.FetchResponse) string {
	var xe xrpcError
	if json.Unmarshal(resp.Body, &xe) == nil && (xe.Error != "" || xe.Message != "") {
		if xe.Message == "" {
			return fmt.Sprintf("HTTP %d: %s", resp.StatusCode, xe.Error)
		}
		return fmt.Sprintf("HTTP %d: %s: %s", resp.StatusCode, xe.Error, xe.Message)
	}
	return fmt.Sprintf("HTTP %d fetching author feed", resp.StatusCode)
}

// Actor normalizes a request key to a handle or DID. Leading "@" and the
// bsky.app profile prefix are stripped.
func Actor(key string) string {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
		u, err := url.Parse(key)
		if err != nil {
			return ""
		}
		rest, ok := strings.CutPrefix(u.Path, "/profile/")
		if !ok {
			return ""
		}
		key, _, _ = strings.Cut(rest, "/")
	}
	return strings.TrimPrefix(key, "@")
}
