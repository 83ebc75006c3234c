package realtime

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// NewGoChannel creates the in-process pub/sub used when no broker is configured
func NewGoChannel(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            256,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		logger,
	)
}

// WatermillPublisher publishes envelopes as watermill messages; the channel is the topic
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a WatermillPublisher
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// Publish implements port.Publisher
func (p *WatermillPublisher) Publish(ctx context.Context, channel, eventName string, payload interface{}) error {
	data, err := encode(eventName, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventName, err)
	}

	msg := message.NewMessage(watermill.NewULID(), data)
	msg.Metadata.Set("event", eventName)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(channel, msg); err != nil {
		return fmt.Errorf("publish %s on %s: %w", eventName, channel, err)
	}
	return nil
}

// Close implements port.Publisher
func (p *WatermillPublisher) Close() error {
	return p.publisher.Close()
}

// WatermillSource adapts a watermill subscriber to Source
type WatermillSource struct {
	subscriber message.Subscriber
}

// NewWatermillSource creates a WatermillSource
func NewWatermillSource(subscriber message.Subscriber) *WatermillSource {
	return &WatermillSource{subscriber: subscriber}
}

// Subscribe implements Source. Messages are acked once handed over.
func (s *WatermillSource) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	messages, err := s.subscriber.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		for msg := range messages {
			select {
			case out <- msg.Payload:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}
