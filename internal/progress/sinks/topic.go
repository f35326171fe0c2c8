package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/snapradar/archive-crawler/internal/progress"
)

// Publisher sends a JSON-serializable payload to a named topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// TopicSink forwards event batches to a message topic so downstream consumers
// (dashboards, alerting) can follow crawl progress without touching the
// database.
type TopicSink struct {
	publisher Publisher
	topic     string
}

// NewTopicSink wires a publisher and topic name to the sink interface.
func NewTopicSink(publisher Publisher, topic string) *TopicSink {
	return &TopicSink{publisher: publisher, topic: topic}
}

// topicEvent is the wire form of one progress event.
type topicEvent struct {
	JobID     string        `json:"job_id"`
	TS        time.Time     `json:"ts"`
	Stage     string        `json:"stage"`
	Source    string        `json:"source,omitempty"`
	URL       string        `json:"url,omitempty"`
	PageIndex int           `json:"page_index,omitempty"`
	Records   int64         `json:"records,omitempty"`
	Method    string        `json:"method,omitempty"`
	Quality   float64       `json:"quality,omitempty"`
	Words     int64         `json:"words,omitempty"`
	DurMs     int64         `json:"dur_ms,omitempty"`
	Counters  *batchCounters `json:"counters,omitempty"`
	Note      string        `json:"note,omitempty"`
}

type batchCounters struct {
	Discovered int64 `json:"discovered"`
	Filtered   int64 `json:"filtered"`
	Extracted  int64 `json:"extracted"`
	Failed     int64 `json:"failed"`
}

// Consume publishes the whole batch as one message.
func (s *TopicSink) Consume(ctx context.Context, batch []progress.Event) error {
	if len(batch) == 0 {
		return nil
	}
	payload := make([]topicEvent, 0, len(batch))
	for _, evt := range batch {
		var counters *batchCounters
		if evt.Stage == progress.StageBatchDone {
			counters = &batchCounters{
				Discovered: evt.Counters.Discovered,
				Filtered:   evt.Counters.Filtered,
				Extracted:  evt.Counters.Extracted,
				Failed:     evt.Counters.Failed,
			}
		}
		payload = append(payload, topicEvent{
			JobID:     evt.JobUUID().String(),
			TS:        evt.TS,
			Stage:     string(evt.Stage),
			Source:    evt.Source,
			URL:       evt.URL,
			PageIndex: evt.PageIndex,
			Records:   evt.Records,
			Method:    evt.Method,
			Quality:   evt.Quality,
			Words:     evt.Words,
			DurMs:     evt.Dur.Milliseconds(),
			Counters:  counters,
			Note:      evt.Note,
		})
	}
	if _, err := s.publisher.Publish(ctx, s.topic, payload); err != nil {
		return fmt.Errorf("publish progress batch: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *TopicSink) Close(context.Context) error {
	return nil
}
