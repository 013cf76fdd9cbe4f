package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/crawl-worker/internal/progress"
)

// LogSink writes one line per event. Failures log at warn, the rest at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink. A nil logger discards.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume implements progress.Sink.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := zapcore.InfoLevel
		if evt.Stage == progress.StageFailed {
			level = zapcore.WarnLevel
		}
		if ce := s.logger.Check(level, "job "+stageVerb(evt.Stage)); ce != nil {
			ce.Write(zap.Inline(evt))
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func stageVerb(stage progress.Stage) string {
	switch stage {
	case progress.StageEnqueued:
		return "enqueued"
	case progress.StageClaimed:
		return "claimed"
	case progress.StageCacheHit:
		return "served from cache"
	case progress.StageCompleted:
		return "completed"
	case progress.StageFailed:
		return "failed"
	}
	return string(stage)
}
