package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/crawl-worker/internal/progress"
)

// PrometheusSink exports lifecycle counters partitioned by worker tag.
type PrometheusSink struct {
	enqueued   *prometheus.CounterVec
	claimed    *prometheus.CounterVec
	cacheHits  *prometheus.CounterVec
	finished   *prometheus.CounterVec
	inFlight   prometheus.Gauge
	jobRuntime *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_jobs_enqueued_total",
			Help: "Jobs created by producers.",
		}, []string{"worker"}),
		claimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_jobs_claimed_total",
			Help: "Jobs moved from pending to processing.",
		}, []string{"worker"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_jobs_cache_hits_total",
			Help: "Jobs answered from a fresh prior result.",
		}, []string{"worker"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_jobs_finished_total",
			Help: "Jobs reaching a terminal status.",
		}, []string{"worker", "status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawl_jobs_in_flight",
			Help: "Jobs currently in processing.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawl_job_runtime_seconds",
			Help:    "Time from claim to terminal status.",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"worker", "status"}),
	}
	for _, collector := range []prometheus.Collector{
		s.enqueued,
		s.claimed,
		s.cacheHits,
		s.finished,
		s.inFlight,
		s.jobRuntime,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageEnqueued:
			s.enqueued.WithLabelValues(evt.Worker).Inc()
		case progress.StageClaimed:
			s.claimed.WithLabelValues(evt.Worker).Inc()
			s.inFlight.Inc()
		case progress.StageCacheHit:
			s.cacheHits.WithLabelValues(evt.Worker).Inc()
		case progress.StageCompleted, progress.StageFailed:
			status := "completed"
			if evt.Stage == progress.StageFailed {
				status = "failed"
			}
			s.finished.WithLabelValues(evt.Worker, status).Inc()
			s.inFlight.Dec()
			if evt.Dur > 0 {
				s.jobRuntime.WithLabelValues(evt.Worker, status).Observe(evt.Dur.Seconds())
			}
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
