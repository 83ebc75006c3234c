package realtime

import "context"

// NopPublisher discards everything; used when the real-time transport is disabled
type NopPublisher struct{}

// Publish implements port.Publisher
func (NopPublisher) Publish(ctx context.Context, channel, eventName string, payload interface{}) error {
	return nil
}

// Close implements port.Publisher
func (NopPublisher) Close() error {
	return nil
}
