// Package pubsub publishes run notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/execution-probe/internal/extract"
)

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	topic *pubsub.Topic
}

var _ extract.Publisher = (*Publisher)(nil)

// New creates a Publisher for the provided topic.
func New(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Dial opens a client for projectID and binds the named topic.
func Dial(ctx context.Context, projectID, topicName string) (*Publisher, func() error, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicName)
	closeFn := func() error {
		topic.Stop()
		return client.Close()
	}
	return New(topic), closeFn, nil
}

// Publish marshals the payload to JSON and publishes it to the topic. The
// topic argument is ignored; the bound topic wins.
func (p *Publisher) Publish(ctx context.Context, _ string, payload any) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: attributes(payload)}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	result := p.topic.Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// attributes lifts routing keys out of run notifications so subscribers can
// filter without decoding the body.
func attributes(payload any) map[string]string {
	attrs := make(map[string]string)
	var n extract.RunNotification
	switch v := payload.(type) {
	case extract.RunNotification:
		n = v
	case *extract.RunNotification:
		if v == nil {
			return attrs
		}
		n = *v
	default:
		return attrs
	}
	attrs["execution_id"] = n.ExecutionID
	attrs["exit_code"] = strconv.Itoa(n.ExitCode)
	return attrs
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
