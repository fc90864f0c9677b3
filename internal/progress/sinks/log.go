package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/sitecrawler/internal/progress"
)

// LogSink writes progress events as structured logs. Pages, throughput and
// lifecycle events log at info; individual link discoveries at debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level, msg, fields := describe(evt)
		if ce := s.logger.Check(level, msg); ce != nil {
			ce.Write(fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func describe(evt progress.Event) (zapcore.Level, string, []zap.Field) {
	fields := []zap.Field{
		zap.String("session_id", evt.SessionID),
		zap.String("type", string(evt.Type)),
	}
	switch evt.Type {
	case progress.TypePageDiscovered:
		fields = append(fields,
			zap.String("url", evt.URL),
			zap.Int("depth", evt.Depth),
			zap.Int("status_code", evt.StatusCode),
			zap.Bool("success", evt.Success),
			zap.Int64("bytes", evt.Bytes),
			zap.Duration("dur", evt.Dur),
			zap.Int("total", evt.Total),
		)
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		return zapcore.InfoLevel, "page discovered", fields
	case progress.TypeFlowDiscovered:
		fields = append(fields, zap.Strings("path", evt.Path), zap.Int("depth", evt.Depth))
		return zapcore.DebugLevel, "flow discovered", fields
	case progress.TypeAttachmentFound, progress.TypeExternalURLFound, progress.TypeInternalLinkFound:
		fields = append(fields, zap.String("url", evt.URL), zap.String("found_on", evt.FoundOn))
		return zapcore.DebugLevel, "link discovered", fields
	case progress.TypeMetrics:
		fields = append(fields,
			zap.Float64("pages_per_second", evt.PagesPerSecond),
			zap.Int("active_workers", evt.ActiveWorkers),
			zap.Int("queue_size", evt.QueueSize),
			zap.Int("total", evt.Total),
		)
		return zapcore.InfoLevel, "crawl throughput", fields
	case progress.TypeLog:
		return parseLevel(evt.Level), evt.Note, fields
	case progress.TypeError:
		fields = append(fields, zap.String("status", evt.Status), zap.String("note", evt.Note))
		return zapcore.ErrorLevel, "crawl failed", fields
	default:
		fields = append(fields, zap.String("site", evt.Site), zap.String("status", evt.Status))
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		return zapcore.InfoLevel, "crawl " + statusVerb(evt.Type), fields
	}
}

func statusVerb(t progress.Type) string {
	switch t {
	case progress.TypeSessionStarted:
		return "started"
	case progress.TypeCompleted:
		return "finished"
	default:
		return "status changed"
	}
}

func parseLevel(level string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
