package deadletter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/austindbirch/activitylogger/internal/delivery"
	"github.com/austindbirch/activitylogger/internal/logging"
	"github.com/austindbirch/activitylogger/internal/tracing"
)

// Publisher is the subset of *nsq.Producer used for the dead letter topic.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// NSQPublisher publishes the JSON failure envelope to a DLQ topic.
type NSQPublisher struct {
	p      Publisher
	topic  string
	logger *logging.Logger
}

func NewNSQPublisher(p Publisher, topic string, logger *logging.Logger) *NSQPublisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &NSQPublisher{p: p, topic: topic, logger: logger}
}

func (n *NSQPublisher) Report(ctx context.Context, f delivery.Failure) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal failure: %w", err)
	}
	if err := n.p.Publish(n.topic, b); err != nil {
		return fmt.Errorf("dlq publish %s: %w", n.topic, err)
	}
	n.logger.WithContext(ctx).WithJob(f.JobID).WithField("topic", n.topic).Info("dlq published")
	tracing.AddSpanEvent(ctx, "nsq.published_dlq")
	return nil
}
