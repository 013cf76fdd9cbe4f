package bluesky

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-worker/internal/clock"
	"github.com/JakeFAU/crawl-worker/internal/crawler"
	collyfetcher "github.com/JakeFAU/crawl-worker/internal/fetcher/colly"
)

func TestActor(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"alice.bsky.social":                                  "alice.bsky.social",
		"@alice.bsky.social":                                 "alice.bsky.social",
		" did:plc:abc123 ":                                   "did:plc:abc123",
		"https://bsky.app/profile/alice.bsky.social":         "alice.bsky.social",
		"https://bsky.app/profile/alice.bsky.social/post/3k": "alice.bsky.social",
		"https://bsky.app/search?q=eggs":                     "",
		"":                                                   "",
		"@":                                                  "",
	}
	for key, want := range tests {
		assert.Equal(t, want, Actor(key), key)
	}
}

func newAppView(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/xrpc/app.bsky.feed.getAuthorFeed" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		q := r.URL.Query()
		switch q.Get("actor") {
		case "alice.bsky.social":
			if q.Get("limit") != "10" || q.Get("filter") != "posts_and_author_threads" || r.Header.Get("Accept") != "application/json" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"InvalidRequest","message":"unexpected query"}`))
				return
			}
			_, _ = w.Write([]byte(`{"feed":[{"post":{"uri":"at://1"}},{"post":{"uri":"at://2"}}],"cursor":"2024-06-01T00:00:00Z"}`))
		case "ghost.bsky.social":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"InvalidRequest","message":"Profile not found"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchAuthorFeed(t *testing.T) {
	t.Parallel()

	srv := newAppView(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	h := New(collyfetcher.New(collyfetcher.Config{}), clock.NewManual(now), Config{APIBase: srv.URL, Limit: 10}, nil)

	out, err := h.Fetch(context.Background(), "@alice.bsky.social")
	require.NoError(t, err)
	require.True(t, out.Success, out.Error)
	assert.Equal(t, "https://bsky.app/profile/alice.bsky.social", out.FinalURL)

	var doc crawler.FeedPayload
	decodePayload(t, out.Payload, &doc)
	assert.Equal(t, "alice.bsky.social", doc.Actor)
	assert.Equal(t, out.FinalURL, doc.ProfileURL)
	assert.Equal(t, 2, doc.PostCount)
	assert.Equal(t, "2024-06-01T00:00:00Z", doc.Cursor)
	assert.True(t, doc.FetchedAt.Equal(now))
	assert.JSONEq(t, `{"feed":[{"post":{"uri":"at://1"}},{"post":{"uri":"at://2"}}],"cursor":"2024-06-01T00:00:00Z"}`, string(doc.FeedData))
}

func TestFetchUnsuccessfulOutcomes(t *testing.T) {
	t.Parallel()

	srv := newAppView(t)
	h := New(collyfetcher.New(collyfetcher.Config{}), clock.System{}, Config{APIBase: srv.URL}, nil)

	tests := map[string]string{
		"":                  "Actor handle or DID must be provided",
		"ghost.bsky.social": "HTTP 400: InvalidRequest: Profile not found",
		"down.bsky.social":  "HTTP 502 fetching author feed",
	}
	for key, want := range tests {
		out, err := h.Fetch(context.Background(), key)
		require.NoError(t, err, key)
		assert.False(t, out.Success, key)
		assert.Equal(t, want, out.Error, key)
	}
}

func TestNewClampsLimit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, maxLimit, New(nil, clock.System{}, Config{Limit: 500}, nil).cfg.Limit)
	assert.Equal(t, defaultLimit, New(nil, clock.System{}, Config{}, nil).cfg.Limit)
}

func decodePayload(t *testing.T, p crawler.Payload, out any) {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}
