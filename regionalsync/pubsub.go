package regionalsync

import (
	"context"
	"encoding/json"
	"errors"

	"cloud.google.com/go/pubsub"
	"github.com/seplag/regional_sync/config"
)

const changeEventType = "regional.changed"

// EventPublisher announces changes to the active set.
type EventPublisher interface {
	PublishChange(ctx context.Context, event RegionalChangeEvent) error
}

type PubSubPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubPublisher opens topicName, creating it when it does not exist yet.
func NewPubSubPublisher(ctx context.Context, client *pubsub.Client, topicName string) (*PubSubPublisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client is nil")
	}
	topic, err := config.CreateTopicIfNotExists(ctx, client, topicName)
	if err != nil {
		return nil, err
	}
	return &PubSubPublisher{topic: topic}, nil
}

func (p *PubSubPublisher) PublishChange(ctx context.Context, event RegionalChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	attrs := map[string]string{"event_type": changeEventType}
	if event.CorrelationId != "" {
		attrs["correlation_id"] = event.CorrelationId
	}
	res := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	_, err = res.Get(ctx)
	return err
}

// Stop flushes pending messages.
func (p *PubSubPublisher) Stop() {
	p.topic.Stop()
}
