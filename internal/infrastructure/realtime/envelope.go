// Package realtime implements the publish primitive behind the admin badge
// channel and the websocket hub that relays it to browsers.
package realtime

import (
	"context"
	"encoding/json"
	"time"
)

// Envelope is the wire format of a published event
type Envelope struct {
	Event       string          `json:"event"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`
}

func encode(eventName string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: eventName, Payload: raw, PublishedAt: time.Now().UTC()})
}

// Source delivers encoded envelopes published on a channel
type Source interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
