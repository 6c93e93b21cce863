package sink

import (
	"context"

	"github.com/acme/ivr-balance-checker/internal/domain"
	"github.com/acme/ivr-balance-checker/internal/queue"
)

// MessagePublisher is satisfied by *queue.ResultPublisher.
type MessagePublisher interface {
	Publish(ctx context.Context, msg queue.ResultMessage) error
	Close() error
}

// Publisher emits a result event per record.
type Publisher struct {
	batch string
	pub   MessagePublisher
}

func NewPublisher(batch string, pub MessagePublisher) *Publisher {
	return &Publisher{batch: batch, pub: pub}
}

func (p *Publisher) Record(ctx context.Context, res domain.Result) error {
	return p.pub.Publish(ctx, queue.NewResultMessage(p.batch, res))
}

func (p *Publisher) Close() error {
	return p.pub.Close()
}
