package broker

import (
	"context"
	"sync"

	"herald/pkg/models"
)

// MemoryProducer records published envelopes in order. FailWith makes
// Publish fail for matching envelopes.
type MemoryProducer struct {
	mu        sync.Mutex
	published []Published
	fail      func(models.MessageEnvelope) error
	closed    bool
}

type Published struct {
	Topic    string
	Envelope models.MessageEnvelope
}

func NewMemoryProducer() *MemoryProducer {
	return &MemoryProducer{}
}

func (p *MemoryProducer) FailWith(fn func(models.MessageEnvelope) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = fn
}

func (p *MemoryProducer) Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fail != nil {
		if err := p.fail(msg); err != nil {
			return err
		}
	}
	p.published = append(p.published, Published{Topic: topic, Envelope: msg})
	return nil
}

// Drain returns and forgets everything published so far.
func (p *MemoryProducer) Drain() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.published
	p.published = nil
	return out
}

func (p *MemoryProducer) Published() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Published(nil), p.published...)
}

func (p *MemoryProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
