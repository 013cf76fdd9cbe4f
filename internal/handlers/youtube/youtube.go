// Package youtube implements the video transcript handler. It reads the caption
// track list embedded in the watch page and joins the chosen track's cues into
// plain text.
package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-worker/internal/crawler"
	"github.com/JakeFAU/crawl-worker/internal/metrics"
)

// Tag is the worker tag this handler registers under.
const Tag = "youtube"

const (
	defaultBaseURL  = "https://www.youtube.com"
	defaultLanguage = "en"

	errNoTranscript = "No transcript available"
)

var (
	videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	playerPattern  = regexp.MustCompile(`ytInitialPlayerResponse\s*=\s*\{`)
	channelVideoID = regexp.MustCompile(`"videoId":"([A-Za-z0-9_-]{11})"`)
)

// Config controls transcript fetching.
type Config struct {
	// BaseURL is the site root used for watch and channel pages.
	BaseURL string
	// Language is the preferred caption language code.
	Language string
}

// Handler fetches video transcripts.
type Handler struct {
	fetcher crawler.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New builds a Handler.
func New(fetcher crawler.Fetcher, cfg Config, logger *zap.Logger) *Handler {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{fetcher: fetcher, cfg: cfg, logger: logger.Named("youtube")}
}

// Fetch implements crawler.Handler. The request key is a video URL, a bare
// video ID, or a channel URL, in which case the newest upload is used.
func (h *Handler) Fetch(ctx context.Context, requestKey string) (crawler.Outcome, error) {
	key := strings.TrimSpace(requestKey)
	if key == "" {
		return crawler.Outcome{Error: "request key is required"}, nil
	}

	videoID := VideoID(key)
	if videoID == "" {
		channelPath, ok := ChannelPath(key)
		if !ok {
			return crawler.Outcome{Error: fmt.Sprintf("not a video or channel URL: %q", key)}, nil
		}
		id, err := h.latestVideo(ctx, channelPath)
		if err != nil {
			return crawler.Outcome{}, err
		}
		if id == "" {
			return crawler.Outcome{Error: "No videos found for channel"}, nil
		}
		h.logger.Debug("resolved channel to latest video", zap.String("channel", channelPath), zap.String("video_id", id))
		videoID = id
	}

	videoURL := h.cfg.BaseURL + "/watch?v=" + videoID
	page, err := h.get(ctx, videoURL)
	if err != nil {
		return crawler.Outcome{}, err
	}
	player, err := parsePlayerResponse(page)
	if err != nil {
		return crawler.Outcome{Error: "Video unavailable"}, nil
	}
	if status := player.PlayabilityStatus.Status; status != "" && status != "OK" {
		reason := player.PlayabilityStatus.Reason
		if reason == "" {
			reason = "Video unavailable"
		}
		return crawler.Outcome{Error: reason}, nil
	}

	track := pickTrack(player.Captions.Renderer.CaptionTracks, h.cfg.Language)
	if track == nil {
		return crawler.Outcome{Error: errNoTranscript}, nil
	}
	trackURL, err := h.resolve(track.BaseURL)
	if err != nil {
		return crawler.Outcome{}, err
	}
	captions, err := h.get(ctx, trackURL)
	if err != nil {
		return crawler.Outcome{}, err
	}
	text, err := parseTimedText(captions)
	if err != nil {
		return crawler.Outcome{}, err
	}
	if text == "" {
		return crawler.Outcome{Error: errNoTranscript}, nil
	}

	title := player.VideoDetails.Title
	if title == "" {
		title = pageTitle(page)
	}
	payload, err := crawler.ToPayload(crawler.TranscriptPayload{
		Success:        true,
		VideoID:        videoID,
		VideoTitle:     title,
		ChannelID:      player.VideoDetails.ChannelID,
		Language:       track.LanguageCode,
		TranscriptText: text,
		VideoURL:       videoURL,
	})
	if err != nil {
		return crawler.Outcome{}, err
	}
	return crawler.Outcome{Success: true, FinalURL: videoURL, Payload: payload}, nil
}

func (h *Handler) latestVideo(ctx context.Context, channelPath string) (string, error) {
	page, err := h.get(ctx, h.cfg.BaseURL+channelPath)
	if err != nil {
		return "", err
	}
	m := channelVideoID.FindSubmatch(page)
	if m == nil {
		return "", nil
	}
	return string(m[1]), nil
}

func (h *Handler) get(ctx context.Context, target string) ([]byte, error) {
	resp, err := h.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:                   target,
		Headers:               http.Header{"Accept-Language": {h.cfg.Language}},
		RespectRobotsProvided: true,
	})
	if err != nil {
		metrics.ObserveFetch(Tag, target, "error", 0)
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	metrics.ObserveFetch(Tag, target, strconv.Itoa(resp.StatusCode), len(resp.Body))
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, target)
	}
	return resp.Body, nil
}

func (h *Handler) resolve(ref string) (string, error) {
	base, err := url.Parse(h.cfg.BaseURL + "/")
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse caption url: %w", err)
	}
	return base.ResolveReference(u).String(), nil
}

// VideoID extracts the 11-character video ID from a watch, short, embed or
// youtu.be URL, or accepts a bare ID. It returns "" when none is present.
func VideoID(raw string) string {
	if videoIDPattern.MatchString(raw) {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := trimHost(u.Hostname())
	var id string
	switch {
	case host == "youtu.be":
		id = firstSegment(u.Path)
	case host == "youtube.com" || host == "youtube-nocookie.com":
		if v := u.Query().Get("v"); v != "" {
			id = v
			break
		}
		for _, prefix := range []string{"/embed/", "/shorts/", "/live/", "/v/"} {
			if strings.HasPrefix(u.Path, prefix) {
				id = firstSegment(strings.TrimPrefix(u.Path, prefix))
				break
			}
		}
	}
	if !videoIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// ChannelPath returns the uploads listing path for a channel URL or @handle.
func ChannelPath(raw string) (string, bool) {
	if strings.HasPrefix(raw, "@") && !strings.Contains(raw, "/") {
		return "/" + raw + "/videos", true
	}
	u, err := url.Parse(raw)
	if err != nil || trimHost(u.Hostname()) != "youtube.com" {
		return "", false
	}
	path := strings.TrimSuffix(u.Path, "/")
	switch {
	case strings.HasPrefix(path, "/@"):
	case strings.HasPrefix(path, "/channel/"), strings.HasPrefix(path, "/c/"), strings.HasPrefix(path, "/user/"):
	default:
		return "", false
	}
	if !strings.HasSuffix(path, "/videos") {
		path += "/videos"
	}
	return path, true
}

func trimHost(host string) string {
	host = strings.ToLower(host)
	host = strings.TrimPrefix(host, "www.")
	return strings.TrimPrefix(host, "m.")
}

func firstSegment(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	return path
}

type playerResponse struct {
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	VideoDetails struct {
		VideoID   string `json:"videoId"`
		Title     string `json:"title"`
		ChannelID string `json:"channelId"`
	} `json:"videoDetails"`
	Captions struct {
		Renderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	// Kind is "asr" for auto-generated tracks.
	Kind string `json:"kind"`
}

// parsePlayerResponse decodes the first JSON value assigned to ytInitialPlayerResponse.
func parsePlayerResponse(page []byte) (*playerResponse, error) {
	loc := playerPattern.FindIndex(page)
	if loc == nil {
		return nil, fmt.Errorf("player response not found")
	}
	var pr playerResponse
	if err := json.NewDecoder(bytes.NewReader(page[loc[1]-1:])).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode player response: %w", err)
	}
	return &pr, nil
}

// pickTrack prefers a manual track in lang, then any track in lang, then a
// regional variant of lang, then the first track.
func pickTrack(tracks []captionTrack, lang string) *captionTrack {
	if len(tracks) == 0 {
		return nil
	}
	matches := []func(captionTrack) bool{
		func(t captionTrack) bool { return t.LanguageCode == lang && t.Kind != "asr" },
		func(t captionTrack) bool { return t.LanguageCode == lang },
		func(t captionTrack) bool { return strings.HasPrefix(t.LanguageCode, lang+"-") },
	}
	for _, match := range matches {
		for i := range tracks {
			if match(tracks[i]) {
				return &tracks[i]
			}
		}
	}
	return &tracks[0]
}

type timedText struct {
	Texts      []string `xml:"text"`
	Paragraphs []struct {
		Text     string   `xml:",chardata"`
		Segments []string `xml:"s"`
	} `xml:"body>p"`
}

// parseTimedText joins the cues of either timedtext layout into one line of text.
func parseTimedText(data []byte) (string, error) {
	var tt timedText
	if err := xml.Unmarshal(data, &tt); err != nil {
		return "", fmt.Errorf("decode captions: %w", err)
	}
	var parts []string
	add := func(s string) {
		// Cue text arrives HTML-escaped inside the XML escaping.
		s = strings.Join(strings.Fields(html.UnescapeString(s)), " ")
		if s != "" {
			parts = append(parts, s)
		}
	}
	for _, t := range tt.Texts {
		add(t)
	}
	for _, p := range tt.Paragraphs {
		if len(p.Segments) > 0 {
			add(strings.Join(p.Segments, ""))
			continue
		}
		add(p.Text)
	}
	return strings.Join(parts, " "), nil
}

func pageTitle(page []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return ""
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && og != "" {
		return strings.TrimSpace(og)
	}
	return strings.TrimSuffix(strings.TrimSpace(doc.Find("title").First().Text()), " - YouTube")
}
