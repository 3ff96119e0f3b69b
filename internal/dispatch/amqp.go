package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/digest-dispatcher/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

const TransportAMQP = "amqp"

type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
	Queue      string
}

// publisher is the part of *amqp.Channel the client needs.
type publisher interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
}

// AMQPClient hands digests to a mail worker through RabbitMQ. The broker
// acknowledgement of the publish is the dispatch result.
type AMQPClient struct {
	config  AMQPConfig
	conn    *amqp.Connection
	channel publisher
	mu      sync.Mutex
}

func NewAMQPClient(cfg AMQPConfig) (*AMQPClient, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("error connecting to rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("error opening channel: %w", err)
	}
	if err := setupTopology(channel, cfg); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := channel.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("error enabling publisher confirms: %w", err)
	}

	logger.Info("amqp transport initialized", "exchange", cfg.Exchange, "queue", cfg.Queue)
	return &AMQPClient{
		config:  cfg,
		conn:    conn,
		channel: channel,
	}, nil
}

func newAMQPClientWithPublisher(cfg AMQPConfig, p publisher) *AMQPClient {
	return &AMQPClient{config: cfg, channel: p}
}

func setupTopology(channel *amqp.Channel, cfg AMQPConfig) error {
	if err := channel.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if _, err := channel.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("error in declaring queue %s: %w", cfg.Queue, err)
	}
	if err := channel.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("error in binding queue %s to exchange: %w", cfg.Queue, err)
	}
	return nil
}

func (c *AMQPClient) Name() string {
	return TransportAMQP
}

func (c *AMQPClient) Send(ctx context.Context, msg *Message) (*Result, error) {
	if err := validate(msg); err != nil {
		return nil, err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	c.mu.Lock()
	confirmation, err := c.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		c.config.Exchange,
		c.config.RoutingKey,
		true,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    msg.ID,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: publish: %v", ErrDispatchFailed, err)
	}

	// nil when the channel is not in confirm mode
	if confirmation != nil {
		acked, err := confirmation.WaitContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: waiting for broker confirm: %v", ErrDispatchFailed, err)
		}
		if !acked {
			return nil, fmt.Errorf("%w: broker nacked message %s", ErrDispatchFailed, msg.ID)
		}
	}

	return &Result{ID: msg.ID, Transport: TransportAMQP}, nil
}

func (c *AMQPClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
