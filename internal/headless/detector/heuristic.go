// Package detector decides when a page probe should be re-rendered headless.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/crawl-worker/internal/crawler"
)

// Reasons reported by Heuristic.Reason.
const (
	ReasonEmptyBody   = "empty body"
	ReasonAppRoot     = "client app root"
	ReasonScriptHeavy = "script heavy"
	ReasonThinText    = "thin text"
	ReasonNoScript    = "noscript notice"
)

// appRoots are mount points left empty until a client framework runs.
var appRoots = []string{
	"#__next",
	"#__nuxt",
	"#root",
	"#app",
	"[data-reactroot]",
	"[ng-version]",
}

// Heuristic promotes probes that look like unrendered single-page apps.
type Heuristic struct {
	// SmallPage is the body size under which script share alone decides.
	SmallPage int
	// MinText is the visible text floor for pages that ship scripts.
	MinText int
	// ScriptShare is the percentage of a small page that must be script.
	ScriptShare int
}

// NewHeuristic returns a Heuristic. smallPage <= 0 uses 2048 bytes.
func NewHeuristic(smallPage int) *Heuristic {
	if smallPage <= 0 {
		smallPage = 2048
	}
	return &Heuristic{SmallPage: smallPage, MinText: 200, ScriptShare: 25}
}

// ShouldPromote implements crawler.HeadlessDetector.
func (h *Heuristic) ShouldPromote(probe crawler.FetchResponse) bool {
	return h.Reason(probe) != ""
}

// Reason names the first signal that asks for a render, or "" when the static
// probe is good enough. Only 200 responses are ever promoted.
func (h *Heuristic) Reason(probe crawler.FetchResponse) string {
	if probe.StatusCode != http.StatusOK {
		return ""
	}
	if len(bytes.TrimSpace(probe.Body)) == 0 {
		return ReasonEmptyBody
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(probe.Body))
	if err != nil {
		return ""
	}
	for _, sel := range appRoots {
		if root := doc.Find(sel).First(); root.Length() > 0 && strings.TrimSpace(root.Text()) == "" {
			return ReasonAppRoot
		}
	}
	if strings.Contains(strings.ToLower(doc.Find("noscript").Text()), "enable javascript") {
		return ReasonNoScript
	}

	scripts := doc.Find("script")
	if scripts.Length() == 0 {
		return ""
	}
	if len(probe.Body) < h.SmallPage && h.ScriptShare > 0 {
		inline := 0
		scripts.Each(func(_ int, s *goquery.Selection) {
			inline += len(s.Text())
		})
		if inline*100 >= len(probe.Body)*h.ScriptShare {
			return ReasonScriptHeavy
		}
	}
	if h.MinText > 0 {
		doc.Find("script, style, noscript, template").Remove()
		if len(visibleText(doc.Find("body"))) < h.MinText {
			return ReasonThinText
		}
	}
	return ""
}

func visibleText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}
