package nats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stone-age-io/svcmon/internal/state"
)

// Event is the JSON payload published for each journal entry
type Event struct {
	DeviceID   string `json:"device_id"`
	Service    string `json:"service,omitempty"`
	Message    string `json:"message"`
	Originator string `json:"originator,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// EventSubject returns the subject journal events are published on
func EventSubject(prefix, deviceID string) string {
	return fmt.Sprintf("%s.%s.events", prefix, deviceID)
}

func newEvent(deviceID string, ev state.LogEvent) Event {
	return Event{
		DeviceID:   deviceID,
		Service:    ev.ServiceName,
		Message:    ev.Message,
		Originator: ev.Originator,
		Timestamp:  ev.At.UTC().Format(time.RFC3339),
	}
}

// Publisher adapts a Client to the journal's event publisher
type Publisher struct {
	client   *Client
	deviceID string
}

// NewPublisher returns a publisher that tags events with deviceID
func NewPublisher(client *Client, deviceID string) *Publisher {
	return &Publisher{client: client, deviceID: deviceID}
}

// PublishEvent queues ev for publication. It does not wait for the ack.
func (p *Publisher) PublishEvent(ev state.LogEvent) error {
	data, err := json.Marshal(newEvent(p.deviceID, ev))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.client.publish(p.client.subject, data)
}
