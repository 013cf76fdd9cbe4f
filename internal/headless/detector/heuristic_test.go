package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/crawl-worker/internal/crawler"
)

func TestHeuristicReason(t *testing.T) {
	t.Parallel()

	article := "<article><p>" + strings.Repeat("Prices rose in the third quarter across most categories. ", 20) + "</p></article>"
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{name: "empty body", status: 200, body: "  \n", want: ReasonEmptyBody},
		{name: "error status never promoted", status: 404, body: "", want: ""},
		{name: "empty next root", status: 200, body: `<html><body><div id="__next"></div></body></html>`, want: ReasonAppRoot},
		{name: "angular root", status: 200, body: `<html><body><app-root ng-version="17.0.0"></app-root></body></html>`, want: ReasonAppRoot},
		{
			name:   "server rendered root is fine",
			status: 200,
			body:   `<html><body><div id="root">` + article + `</div></body></html>`,
			want:   "",
		},
		{
			name:   "noscript notice",
			status: 200,
			body:   `<html><body>` + article + `<noscript>Please enable JavaScript to continue.</noscript></body></html>`,
			want:   ReasonNoScript,
		},
		{
			name:   "small inline bundle",
			status: 200,
			body:   `<html><body><p>t</p><script>window.__STATE__={"items":[1,2,3,4,5,6,7,8]};boot();</script></body></html>`,
			want:   ReasonScriptHeavy,
		},
		{
			name:   "thin text with external bundle",
			status: 200,
			body:   `<html><body>` + strings.Repeat(`<div class="x"></div>`, 120) + `<p>Loading</p><script src="/bundle.js"></script></body></html>`,
			want:   ReasonThinText,
		},
		{
			name:   "content rich page with tracker",
			status: 200,
			body:   `<html><body>` + article + `<script>track()</script></body></html>`,
			want:   "",
		},
		{
			name:   "thin page without scripts",
			status: 200,
			body:   `<html><body><p>Short note.</p></body></html>`,
			want:   "",
		},
	}

	h := NewHeuristic(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			probe := crawler.FetchResponse{StatusCode: tt.status, Body: []byte(tt.body)}
			assert.Equal(t, tt.want, h.Reason(probe))
			assert.Equal(t, tt.want != "", h.ShouldPromote(probe))
		})
	}
}

func TestNewHeuristicDefaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2048, NewHeuristic(-1).SmallPage)
	assert.Equal(t, 512, NewHeuristic(512).SmallPage)
}
