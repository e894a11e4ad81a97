package events

import (
	"context"
	"sync"
)

// Message is a published event as recorded by Publisher.
type Message struct {
	Key   string
	Value any
}

// Publisher records published events in memory. It is safe for concurrent use.
type Publisher struct {
	mu   sync.Mutex
	msgs []Message

	// Err, when set, is returned by Publish and nothing is recorded.
	Err error
}

func NewPublisher() *Publisher {
	return &Publisher{}
}

func (p *Publisher) Publish(ctx context.Context, key string, value any) error {
	_ = ctx
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.msgs = append(p.msgs, Message{Key: key, Value: value})
	return nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.msgs))
	copy(out, p.msgs)
	return out
}
