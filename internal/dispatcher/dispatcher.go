// Package dispatcher runs a single claimed job: it resolves the worker tag to a
// handler, serves fresh cached results when the worker's window allows, and
// otherwise calls the handler and persists what it returns.
package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-worker/internal/crawler"
	"github.com/JakeFAU/crawl-worker/internal/export"
	"github.com/JakeFAU/crawl-worker/internal/progress"
)

const tracerName = "github.com/JakeFAU/crawl-worker/internal/dispatcher"

// Registry maps worker tags to handlers. It is assembled once at startup.
type Registry struct {
	handlers map[string]crawler.Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]crawler.Handler)}
}

// Register binds h to tag and any aliases. A later registration replaces an earlier one.
func (r *Registry) Register(tag string, h crawler.Handler, aliases ...string) {
	r.handlers[tag] = h
	for _, alias := range aliases {
		r.handlers[alias] = h
	}
}

// Lookup returns the handler for tag.
func (r *Registry) Lookup(tag string) (crawler.Handler, bool) {
	h, ok := r.handlers[tag]
	return h, ok
}

// Workers lists registered tags in lexical order.
func (r *Registry) Workers() []string {
	out := make([]string, 0, len(r.handlers))
	for tag := range r.handlers {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// DefaultCacheWindows is the freshness policy per worker tag. Tags without an
// entry (bluesky) are never served from cache.
func DefaultCacheWindows() map[string]time.Duration {
	return map[string]time.Duration{
		"youtube":  12 * time.Hour,
		"page":     time.Hour,
		"crawl4ai": time.Hour,
	}
}

// Config controls dispatch behavior.
type Config struct {
	CacheWindows map[string]time.Duration
	// Tracer defaults to the global otel tracer.
	Tracer trace.Tracer
}

// Store is the persistence surface the dispatcher needs.
type Store interface {
	crawler.ResultStore
	crawler.ResultCache
}

// Exporter writes saved results to an external sink.
type Exporter interface {
	Export(ctx context.Context, doc export.Document) (string, error)
}

// Outcome describes what Run persisted.
type Outcome struct {
	ResultID  string
	FinalURL  string
	CacheHit  bool
	ExportURI string
	Duration  time.Duration
}

// Dispatcher executes jobs against the registry.
type Dispatcher struct {
	registry *Registry
	store    Store
	exporter Exporter
	events   progress.Emitter
	clock    crawler.Clock
	cfg      Config
	tracer   trace.Tracer
	logger   *zap.Logger
}

// New constructs a Dispatcher. exporter and events may be nil.
func New(
	registry *Registry,
	store Store,
	exporter Exporter,
	events progress.Emitter,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.CacheWindows == nil {
		cfg.CacheWindows = DefaultCacheWindows()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	if events == nil {
		events = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		registry: registry,
		store:    store,
		exporter: exporter,
		events:   events,
		clock:    clock,
		cfg:      cfg,
		tracer:   tracer,
		logger:   logger.Named("dispatcher"),
	}
}

// Run executes job. A returned error means the job must be marked failed; its
// Error() text is what gets recorded.
func (d *Dispatcher) Run(ctx context.Context, job crawler.Job) (Outcome, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.worker", job.Worker),
	))
	defer span.End()

	start := d.clock.Now()
	out, err := d.run(ctx, job)
	out.Duration = d.clock.Now().Sub(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, err
	}
	span.SetAttributes(
		attribute.String("result.id", out.ResultID),
		attribute.Bool("cache.hit", out.CacheHit),
	)
	return out, nil
}

func (d *Dispatcher) run(ctx context.Context, job crawler.Job) (Outcome, error) {
	handler, ok := d.registry.Lookup(job.Worker)
	if !ok {
		return Outcome{}, &crawler.UnknownWorkerError{Worker: job.Worker}
	}

	// A keyless job has nothing to be fresh against.
	if window := d.cfg.CacheWindows[job.Worker]; window > 0 && job.RequestKey != "" {
		cached, err := d.store.GetCachedResult(ctx, job.Worker, job.RequestKey, window)
		if err != nil {
			return Outcome{}, fmt.Errorf("cache lookup: %w", err)
		}
		if cached != nil {
			return d.serveCached(ctx, job, *cached)
		}
	}

	res, err := invoke(ctx, handler, job.RequestKey)
	if err != nil || !res.Success {
		return Outcome{}, handlerError(job.Worker, res, err)
	}

	finalURL := res.FinalURL
	if finalURL == "" {
		finalURL = res.Payload.String("final_url")
	}
	if finalURL == "" {
		finalURL = job.RequestKey
	}
	data := res.Payload
	if data == nil {
		data = crawler.Payload{}
	}
	resultID, err := d.store.SaveResult(ctx, crawler.ResultInput{
		JobID:       job.ID,
		FinalURL:    finalURL,
		OriginalURL: job.RequestKey,
		Data:        data,
		Success:     true,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("save result: %w", err)
	}
	d.logger.Info("job fetched",
		zap.String("job_id", job.ID),
		zap.String("worker", job.Worker),
		zap.String("result_id", resultID),
	)

	out := Outcome{ResultID: resultID, FinalURL: finalURL}
	out.ExportURI = d.export(ctx, job, out, data)
	return out, nil
}

func (d *Dispatcher) serveCached(ctx context.Context, job crawler.Job, cached crawler.Result) (Outcome, error) {
	resultID, err := d.store.SaveResult(ctx, crawler.ResultInput{
		JobID:       job.ID,
		FinalURL:    cached.FinalURL,
		OriginalURL: job.RequestKey,
		Data:        cached.Data.Clone(),
		Success:     true,
		Metadata: crawler.Metadata{
			"cached_from":      cached.Metadata.Clone(),
			"cached_result_id": cached.ID,
		},
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("save cached result: %w", err)
	}
	d.events.Emit(progress.Event{
		JobID:    job.ID,
		Worker:   job.Worker,
		Stage:    progress.StageCacheHit,
		TS:       d.clock.Now(),
		ResultID: resultID,
	})
	d.logger.Info("served from cache",
		zap.String("job_id", job.ID),
		zap.String("worker", job.Worker),
		zap.String("cached_result_id", cached.ID),
	)
	out := Outcome{ResultID: resultID, FinalURL: cached.FinalURL, CacheHit: true}
	out.ExportURI = d.export(ctx, job, out, cached.Data)
	return out, nil
}

// export failures are logged; they never fail the job.
func (d *Dispatcher) export(ctx context.Context, job crawler.Job, out Outcome, data crawler.Payload) string {
	if d.exporter == nil {
		return ""
	}
	uri, err := d.exporter.Export(ctx, export.Document{
		JobID:      job.ID,
		ResultID:   out.ResultID,
		Worker:     job.Worker,
		RequestKey: job.RequestKey,
		FinalURL:   out.FinalURL,
		CacheHit:   out.CacheHit,
		Data:       data,
	})
	if err != nil {
		d.logger.Warn("result export failed", zap.String("job_id", job.ID), zap.Error(err))
		return ""
	}
	return uri
}

// invoke runs the handler on its own goroutine and waits for it. Cancellation is
// left to the handler through ctx.
func invoke(ctx context.Context, h crawler.Handler, requestKey string) (crawler.Outcome, error) {
	type reply struct {
		out crawler.Outcome
		err error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		out, err := h.Fetch(ctx, requestKey)
		done <- reply{out: out, err: err}
	}()
	r := <-done
	return r.out, r.err
}

func handlerError(worker string, out crawler.Outcome, err error) *crawler.HandlerError {
	msg := out.Error
	if msg == "" && err != nil {
		msg = err.Error()
	}
	if msg == "" {
		msg = "handler reported failure"
	}
	return &crawler.HandlerError{Worker: worker, Message: msg, Err: err}
}
