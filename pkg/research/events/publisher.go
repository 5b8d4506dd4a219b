package events

import (
	"context"
	"encoding/json"
	"time"

	"ai-research-be/internal/pkg/logger"
	pkgEvents "ai-research-be/pkg/events"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

const (
	TypeRunStarted         = "research.run_started"
	TypeIterationCompleted = "research.iteration_completed"
	TypeRunTerminated      = "research.run_terminated"

	// ChannelTopic is the in-process topic used when NATS is not configured.
	ChannelTopic = "research.events"

	publishTimeout = 5 * time.Second
)

// Publisher announces run lifecycle events. Failures are logged, never
// returned: events are informational and must not disturb a run.
type Publisher interface {
	PublishRunStarted(ctx context.Context, runId uuid.UUID, topic string, pending int, resumed bool)
	PublishIterationCompleted(ctx context.Context, runId uuid.UUID, topic string, iteration int, query, outcome string, recordId *uuid.UUID)
	PublishRunTerminated(ctx context.Context, runId uuid.UUID, topic, reason string, iterations, records int)
}

// Sink delivers one event. *nats.Publisher satisfies it.
type Sink interface {
	Publish(ctx context.Context, event pkgEvents.Event) error
}

type EventPublisher struct {
	sink   Sink
	logger logger.ILogger
}

var _ Publisher = &EventPublisher{}

// NewEventPublisher returns a publisher; a nil sink makes every call a no-op.
func NewEventPublisher(sink Sink, logger logger.ILogger) *EventPublisher {
	return &EventPublisher{sink: sink, logger: logger}
}

func (p *EventPublisher) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if p.sink == nil {
		return
	}

	// delivered even while the run is being cancelled
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	evt := pkgEvents.BaseEvent{
		Type:       eventType,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	}
	if err := p.sink.Publish(ctx, evt); err != nil {
		p.logger.Warn("EVENTS", "Failed to publish event", map[string]interface{}{
			"type":  eventType,
			"error": err.Error(),
		})
	}
}

func (p *EventPublisher) PublishRunStarted(ctx context.Context, runId uuid.UUID, topic string, pending int, resumed bool) {
	p.publish(ctx, TypeRunStarted, map[string]interface{}{
		"run_id":  runId.String(),
		"topic":   topic,
		"pending": pending,
		"resumed": resumed,
	})
}

func (p *EventPublisher) PublishIterationCompleted(ctx context.Context, runId uuid.UUID, topic string, iteration int, query, outcome string, recordId *uuid.UUID) {
	data := map[string]interface{}{
		"run_id":    runId.String(),
		"topic":     topic,
		"iteration": iteration,
		"query":     query,
		"outcome":   outcome,
	}
	if recordId != nil {
		data["record_id"] = recordId.String()
	}
	p.publish(ctx, TypeIterationCompleted, data)
}

func (p *EventPublisher) PublishRunTerminated(ctx context.Context, runId uuid.UUID, topic, reason string, iterations, records int) {
	p.publish(ctx, TypeRunTerminated, map[string]interface{}{
		"run_id":     runId.String(),
		"topic":      topic,
		"reason":     reason,
		"iterations": iterations,
		"records":    records,
	})
}

// ChannelSink publishes onto a watermill publisher (the in-process
// gochannel when NATS is absent).
type ChannelSink struct {
	publisher message.Publisher
}

func NewChannelSink(publisher message.Publisher) *ChannelSink {
	return &ChannelSink{publisher: publisher}
}

func (s *ChannelSink) Publish(ctx context.Context, event pkgEvents.Event) error {
	payload, err := json.Marshal(pkgEvents.ToEnvelope(event))
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	return s.publisher.Publish(ChannelTopic, msg)
}

// RelayToLog writes every in-process event to the log until ctx is done.
func RelayToLog(ctx context.Context, subscriber message.Subscriber, log logger.ILogger) error {
	messages, err := subscriber.Subscribe(ctx, ChannelTopic)
	if err != nil {
		return err
	}

	for msg := range messages {
		var env pkgEvents.Envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			log.Warn("EVENTS", "Dropping unreadable event", map[string]interface{}{"error": err.Error()})
			msg.Ack()
			continue
		}
		log.Info("EVENTS", env.Type, env.Data)
		msg.Ack()
	}
	return nil
}
