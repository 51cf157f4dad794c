package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends persistent JSON messages on one channel. A channel is not
// safe for concurrent publishes, so calls are serialized.
type Publisher struct {
	mu      sync.Mutex
	channel Channel
	inst    *Instrumentation
	appID   string
}

func NewPublisher(channel Channel, inst *Instrumentation, appID string) *Publisher {
	return &Publisher{channel: channel, inst: inst, appID: appID}
}

// NewPublisher connects if needed and returns a publisher on a fresh
// channel of the runtime's connection.
func (rt *Runtime) NewPublisher(ctx context.Context) (*Publisher, error) {
	if err := rt.conn.Connect(ctx); err != nil {
		return nil, err
	}
	ch, err := rt.conn.OpenChannel()
	if err != nil {
		return nil, err
	}
	return NewPublisher(ch, rt.inst, rt.config.ConnectionName), nil
}

// PublishJSON marshals payload and publishes it. It returns the generated
// message id.
func (p *Publisher) PublishJSON(ctx context.Context, exchange, routingKey string, payload any, headers map[string]string) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("rabbitmq: encode payload: %w", err)
	}

	table := amqp.Table{}
	for k, v := range headers {
		table[k] = v
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ulid.Make().String(),
		Timestamp:    time.Now().UTC(),
		AppId:        p.appID,
		Headers:      table,
		Body:         body,
	}

	err = p.inst.InstrumentPublish(ctx, exchange, routingKey, table, func(ctx context.Context) error {
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
			return &ConnectivityError{Op: "publish", Err: err}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return msg.MessageId, nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.Close()
}
