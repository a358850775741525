package indexing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
)

// PubSubSender publishes notifications to a Pub/Sub topic.
type PubSubSender struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubSender constructs a Pub/Sub backed sender.
func NewPubSubSender(topic *pubsub.Topic) (*PubSubSender, error) {
	if topic == nil {
		return nil, errors.New("indexing: pubsub topic is required")
	}
	return &PubSubSender{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

func (p *PubSubSender) Name() string { return "pubsub" }

// Send publishes the notification and waits for the server to acknowledge it.
func (p *PubSubSender) Send(ctx context.Context, n Notification) error {
	if p == nil || p.topic == nil {
		return errors.New("indexing: pubsub sender not initialised")
	}

	data, err := p.marshal(n)
	if err != nil {
		return fmt.Errorf("indexing: marshal notification: %w", err)
	}

	attrs := make(map[string]string, 3)
	setAttr(attrs, "triggerType", n.TriggerType)
	setAttr(attrs, "action", n.Action)
	setAttr(attrs, "productId", n.Data.ID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("indexing: publish notification: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
