package crawler

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the structured document a handler produces. It is stored as a JSON object.
type Payload map[string]any

// Clone returns a shallow copy, preserving nil.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// String returns the string value stored under key, or "".
func (p Payload) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// ToPayload converts a typed payload struct into its document form.
func ToPayload(v any) (Payload, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var out Payload
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	return out, nil
}

// PagePayload is produced by the generic page handler.
type PagePayload struct {
	Success      bool   `json:"success"`
	FinalURL     string `json:"final_url"`
	Markdown     string `json:"markdown"`
	Title        string `json:"title,omitempty"`
	HTMLLength   int    `json:"html_length"`
	StatusCode   int    `json:"status_code,omitempty"`
	UsedHeadless bool   `json:"used_headless"`
	ContentHash  string `json:"content_hash,omitempty"`
}

// TranscriptPayload is produced by the video transcript handler.
type TranscriptPayload struct {
	Success        bool   `json:"success"`
	VideoID        string `json:"video_id"`
	VideoTitle     string `json:"video_title,omitempty"`
	ChannelID      string `json:"channel_id,omitempty"`
	Language       string `json:"language,omitempty"`
	TranscriptText string `json:"transcript_text"`
	VideoURL       string `json:"video_url"`
}

// FeedPayload is produced by the social feed handler.
type FeedPayload struct {
	Success    bool   `json:"success"`
	Actor      string `json:"actor"`
	ProfileURL string `json:"profile_url"`
	// FeedData is the upstream response document, kept verbatim.
	FeedData  json.RawMessage `json:"feed_data"`
	PostCount int             `json:"post_count"`
	FetchedAt time.Time       `json:"fetched_at"`
	Cursor    string          `json:"cursor,omitempty"`
}
