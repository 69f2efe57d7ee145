package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/saunamo/configurator-api/internal/platform/textutil"
	"github.com/saunamo/configurator-api/internal/services"
)

// PubSubQuotePublisher publishes quote lifecycle events to a Pub/Sub topic.
type PubSubQuotePublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubQuotePublisher constructs a Pub/Sub backed quote event publisher.
func NewPubSubQuotePublisher(topic *pubsub.Topic) (*PubSubQuotePublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub quote publisher: topic is required")
	}
	return &PubSubQuotePublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishQuoteEvent emits the event message on the configured topic.
func (p *PubSubQuotePublisher) PublishQuoteEvent(ctx context.Context, message services.QuoteEventMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub quote publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal quote event: %w", err)
	}

	attrs := textutil.NormalizeStringMap(map[string]string{
		"event":       message.Event,
		"quoteId":     message.QuoteID,
		"quoteNumber": message.QuoteNumber,
		"productId":   message.ProductID,
		"status":      message.Status,
	})

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish quote event: %w", err)
	}
	return id, nil
}
