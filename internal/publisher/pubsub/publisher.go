// Package pubsub sends job lifecycle events to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// ErrNoTopic is returned when the Publisher was built without a topic client.
var ErrNoTopic = errors.New("pubsub: no topic publisher")

// Attributer lets a payload expose routing attributes so subscribers can
// filter without decoding the body.
type Attributer interface {
	Attributes() map[string]string
}

// Publisher implements crawler.Publisher over one bound topic.
type Publisher struct {
	topic *pubsub.Publisher
}

// New binds a Publisher to topic.
func New(topic *pubsub.Publisher) *Publisher {
	return &Publisher{topic: topic}
}

// Publish sends payload as JSON and waits for the server-assigned message id.
// The topic name is ignored in favor of the bound publisher.
func (p *Publisher) Publish(ctx context.Context, _ string, payload any) (string, error) {
	if p.topic == nil {
		return "", ErrNoTopic
	}
	msg, err := encode(ctx, payload)
	if err != nil {
		return "", err
	}
	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("pubsub publish: %w", err)
	}
	return id, nil
}

// encode builds the wire message. Payload attributes are applied first so the
// trace context and content type cannot be overwritten by them.
func encode(ctx context.Context, payload any) (*pubsub.Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("pubsub encode: %w", err)
	}
	attrs := propagation.MapCarrier{}
	if a, ok := payload.(Attributer); ok {
		for k, v := range a.Attributes() {
			if v != "" {
				attrs[k] = v
			}
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, attrs)
	attrs["content_type"] = "application/json"
	return &pubsub.Message{Data: body, Attributes: attrs}, nil
}
