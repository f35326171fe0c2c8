package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/snapradar/archive-crawler/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. Useful during
// development or audits where neither metrics nor a topic is available.
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

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logger.Info("progress event",
			zap.String("job_id", evt.JobUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("source", evt.Source),
			zap.String("url", evt.URL),
			zap.Int("page_index", evt.PageIndex),
			zap.Int64("records", evt.Records),
			zap.String("method", evt.Method),
			zap.Float64("quality", evt.Quality),
			zap.Int64("words", evt.Words),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
