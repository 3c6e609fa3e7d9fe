// Package memory is the dry-run notification sink. Payloads are JSON-encoded
// as the Pub/Sub publisher would send them, then kept in process.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Notification is one encoded admission notice.
type Notification struct {
	Topic string
	ID    string
	Data  []byte
}

// Publisher keeps every notification it is handed.
type Publisher struct {
	mu       sync.Mutex
	sent     []Notification
	perTopic map[string]int
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{perTopic: map[string]int{}}
}

// Publish encodes payload and records it under topic. IDs count per topic,
// e.g. "cro-records-3".
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode notification for %s: %w", topic, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.perTopic[topic]++
	id := fmt.Sprintf("%s-%d", topic, p.perTopic[topic])
	p.sent = append(p.sent, Notification{Topic: topic, ID: id, Data: data})
	return id, nil
}

// Sent returns a copy of the notifications in publish order.
func (p *Publisher) Sent() []Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Notification, len(p.sent))
	copy(out, p.sent)
	return out
}

// CountTopic reports how many notifications went to topic.
func (p *Publisher) CountTopic(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.perTopic[topic]
}
