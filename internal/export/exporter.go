// Package export writes successful results to a blob store as JSON documents.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/crawl-worker/internal/crawler"
)

const contentType = "application/json"

// Document is the exported artifact.
type Document struct {
	JobID      string          `json:"job_id"`
	ResultID   string          `json:"result_id"`
	Worker     string          `json:"worker"`
	RequestKey string          `json:"request_key"`
	FinalURL   string          `json:"final_url"`
	CacheHit   bool            `json:"cache_hit"`
	ExportedAt time.Time       `json:"exported_at"`
	Data       crawler.Payload `json:"data"`
}

// Exporter writes Documents under Prefix/<worker>/<job id>/<result id>.json.
type Exporter struct {
	blobs  crawler.BlobStore
	prefix string
	clock  crawler.Clock
}

// New builds an Exporter.
func New(blobs crawler.BlobStore, prefix string, clock crawler.Clock) *Exporter {
	return &Exporter{blobs: blobs, prefix: strings.Trim(prefix, "/"), clock: clock}
}

// Path returns the object path for a result.
func (e *Exporter) Path(worker, jobID, resultID string) string {
	name := fmt.Sprintf("%s/%s/%s.json", worker, jobID, resultID)
	if e.prefix == "" {
		return name
	}
	return e.prefix + "/" + name
}

// Export stores doc and returns the object URI.
func (e *Exporter) Export(ctx context.Context, doc Document) (string, error) {
	if doc.JobID == "" || doc.ResultID == "" {
		return "", fmt.Errorf("export requires job and result ids")
	}
	doc.ExportedAt = e.clock.Now()
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal export document: %w", err)
	}
	uri, err := e.blobs.PutObject(ctx, e.Path(doc.Worker, doc.JobID, doc.ResultID), contentType, body)
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return uri, nil
}
