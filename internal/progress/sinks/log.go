package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/cromap-crawler/internal/progress"
)

// LogSink writes each event as a structured log line.
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

// Consume logs each event in the batch. Failures are logged at warn level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageBatchDone:
			fields = append(fields,
				zap.Int("batch", evt.Batch),
				zap.Int("size", evt.Size),
				zap.Int("pending", evt.Pending),
				zap.Duration("dur", evt.Dur),
			)
		case progress.StageItemFailed:
			fields = append(fields, zap.String("url", evt.URL), zap.String("note", evt.Note))
			s.logger.Warn("progress event", fields...)
			continue
		case progress.StageCrawlDone:
			fields = append(fields, zap.Int("admitted", evt.Admitted), zap.Duration("dur", evt.Dur))
		default:
			if evt.URL != "" {
				fields = append(fields, zap.String("url", evt.URL))
			}
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
