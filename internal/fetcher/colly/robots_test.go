package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-worker/internal/crawler"
)

func TestRobotsTransportFallsBackAfterTimeouts(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{errs: []error{
		context.DeadlineExceeded,
		context.DeadlineExceeded,
		context.DeadlineExceeded,
		context.DeadlineExceeded,
	}}
	rt := newRobotsTransport(base)
	rt.backoff = []time.Duration{0, 0, 0}

	resp, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, "User-agent: *\nAllow: /", string(body))
	require.Equal(t, 4, base.calls)

	page := &crawler.FetchResponse{URL: "https://example.com/a"}
	rt.annotate(page)
	require.Equal(t, robotsFallbackReason, page.Headers.Get(RobotsFallbackHeader))

	other := &crawler.FetchResponse{URL: "https://other.example/a"}
	rt.annotate(other)
	require.Nil(t, other.Headers)
}

func TestRobotsTransportStopsAfterSuccess(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{errs: []error{context.DeadlineExceeded, nil}}
	rt := newRobotsTransport(base)
	rt.backoff = []time.Duration{0, 0, 0}

	resp, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, 2, base.calls)

	page := &crawler.FetchResponse{URL: "https://example.com/a"}
	rt.annotate(page)
	require.Nil(t, page.Headers)
}

func TestRobotsTransportDoesNotRetryOtherErrors(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{errs: []error{errors.New("connection refused")}}
	_, err := newRobotsTransport(base).RoundTrip(httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil))
	require.ErrorContains(t, err, "connection refused")
	require.Equal(t, 1, base.calls)
}

func TestRobotsTransportPassesPagesThrough(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{errs: []error{context.DeadlineExceeded}}
	_, err := newRobotsTransport(base).RoundTrip(httptest.NewRequest(http.MethodGet, "https://example.com/page", nil))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, base.calls, "only robots.txt is retried")
}

type stubRoundTripper struct {
	errs  []error
	calls int
}

func (s *stubRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	idx := min(s.calls, len(s.errs)-1)
	s.calls++
	if err := s.errs[idx]; err != nil {
		return nil, err
	}
	return httptest.NewRecorder().Result(), nil
}
