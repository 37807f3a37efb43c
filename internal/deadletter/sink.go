package deadletter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/fieldsync/internal/logging"
	"github.com/austindbirch/fieldsync/internal/tracing"
)

// Sink receives dead letters. Publish must not modify the queue.
type Sink interface {
	Publish(ctx context.Context, dl DeadLetter) error
}

// Publisher is the part of *nsq.Producer the NSQ sink needs.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// NSQSink publishes dead letters as JSON messages on an NSQ topic.
type NSQSink struct {
	pub   Publisher
	topic string
	stop  func()
}

// NewNSQSink connects a producer to the nsqd at addr.
func NewNSQSink(addr, topic string) (*NSQSink, error) {
	p, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	p.SetLoggerLevel(nsq.LogLevelWarning)
	return &NSQSink{pub: p, topic: topic, stop: p.Stop}, nil
}

// NewPublisherSink wraps an existing publisher.
func NewPublisherSink(pub Publisher, topic string) *NSQSink {
	return &NSQSink{pub: pub, topic: topic}
}

func (s *NSQSink) Topic() string { return s.topic }

func (s *NSQSink) Publish(ctx context.Context, dl DeadLetter) error {
	if dl.TraceHeaders == nil {
		dl.TraceHeaders = tracing.InjectMap(ctx)
	}
	b, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := s.pub.Publish(s.topic, b); err != nil {
		return fmt.Errorf("publish %s: %w", s.topic, err)
	}
	tracing.AddSpanEvent(ctx, "nsq.published_dlq", attribute.String("topic", s.topic))
	return nil
}

func (s *NSQSink) Close() {
	if s.stop != nil {
		s.stop()
	}
}

// LogSink writes dead letters to the log when no broker is configured.
type LogSink struct {
	Logger *logging.Logger
}

func (s LogSink) Publish(ctx context.Context, dl DeadLetter) error {
	logger := s.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger.WithContext(ctx).
		WithAction(dl.Action.ID).
		WithRequest(dl.Action.Method(), dl.Action.Endpoint).
		WithFields(map[string]any{
			"reason":      dl.Reason,
			"attempt":     dl.Attempt,
			"http_status": dl.HTTPStatus,
			"last_error":  dl.LastError,
		}).
		Warn("action dead-lettered")
	return nil
}
