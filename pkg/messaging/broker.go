package messaging

import (
	"context"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Publisher is the publish half of a Broker
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// NopBroker drops everything; used when no broker is configured
type NopBroker struct{}

func (NopBroker) Publish(context.Context, string, interface{}) error { return nil }

func (NopBroker) Subscribe(ctx context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (NopBroker) Close() error { return nil }
