package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// ExchangeName is the topic exchange billing events go to.
	ExchangeName = "voltage.billing.events"
	// DefaultConsumerQueueName is the durable queue user notifications are read from.
	DefaultConsumerQueueName = "voltage.notifications"
)

var errConnectionClosed = errors.New("rabbitmq connection closed")

func dialTopic(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	// durable, not auto-deleted
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return conn, ch, nil
}

// RabbitMQPublisher publishes persistent JSON messages to ExchangeName.
type RabbitMQPublisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

func NewRabbitMQPublisher(url string, logger *slog.Logger) (*RabbitMQPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, ch, err := dialTopic(url, ExchangeName)
	if err != nil {
		return nil, err
	}
	logger.Info("rabbitmq publisher connected", "exchange", ExchangeName)
	return &RabbitMQPublisher{conn: conn, channel: ch, logger: logger}, nil
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.channel.PublishWithContext(ctx, ExchangeName, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	p.logger.DebugContext(ctx, "event published", "routing_key", routingKey, "bytes", len(payload))
	return nil
}

// Ping fails once the broker connection has dropped.
func (p *RabbitMQPublisher) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return errConnectionClosed
	}
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		p.logger.Warn("close rabbitmq channel", "error", err)
	}
	return p.conn.Close()
}

// RabbitMQConsumerConfig configures NewRabbitMQConsumer.
type RabbitMQConsumerConfig struct {
	URL       string
	QueueName string
	Exchange  string
	Logger    *slog.Logger
}

// RabbitMQConsumer feeds a durable queue into a ConsumerRegistry. The queue
// is bound to every routing key the registry knows at construction time.
type RabbitMQConsumer struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queue     string
	registry  *ConsumerRegistry
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

func NewRabbitMQConsumer(cfg RabbitMQConsumerConfig, registry *ConsumerRegistry) (*RabbitMQConsumer, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QueueName == "" {
		cfg.QueueName = DefaultConsumerQueueName
	}
	if cfg.Exchange == "" {
		cfg.Exchange = ExchangeName
	}

	conn, ch, err := dialTopic(cfg.URL, cfg.Exchange)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*RabbitMQConsumer, error) {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	if _, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil); err != nil {
		return fail(fmt.Errorf("declare queue %s: %w", cfg.QueueName, err))
	}
	keys := registry.RoutingKeys()
	for _, key := range keys {
		if err := ch.QueueBind(cfg.QueueName, key, cfg.Exchange, false, nil); err != nil {
			return fail(fmt.Errorf("bind %s to %s: %w", cfg.QueueName, key, err))
		}
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fail(fmt.Errorf("set qos: %w", err))
	}

	cfg.Logger.Info("rabbitmq consumer connected",
		"queue", cfg.QueueName,
		"exchange", cfg.Exchange,
		"routing_keys", keys,
	)
	return &RabbitMQConsumer{
		conn:     conn,
		channel:  ch,
		queue:    cfg.QueueName,
		registry: registry,
		logger:   cfg.Logger,
		done:     make(chan struct{}),
	}, nil
}

// Start consumes until ctx ends or Close is called. A failed delivery is
// requeued once; a failed redelivery is dropped so one bad message cannot
// wedge the queue.
func (c *RabbitMQConsumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	c.logger.Info("consuming events", "queue", c.queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errConnectionClosed
			}
			c.deliver(ctx, msg)
		}
	}
}

func (c *RabbitMQConsumer) deliver(ctx context.Context, msg amqp.Delivery) {
	event, err := DecodeEnvelope(msg.Body, msg.RoutingKey)
	if err != nil {
		c.logger.ErrorContext(ctx, "dropping undecodable event", "routing_key", msg.RoutingKey, "error", err)
		_ = msg.Ack(false)
		return
	}

	if err := c.registry.Dispatch(ctx, event); err != nil {
		requeue := !msg.Redelivered
		c.logger.ErrorContext(ctx, "event consumer failed",
			"routing_key", event.RoutingKey,
			"event_id", event.EventID,
			"requeue", requeue,
			"error", err,
		)
		if nackErr := msg.Nack(false, requeue); nackErr != nil {
			c.logger.ErrorContext(ctx, "nack failed", "error", nackErr)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		c.logger.ErrorContext(ctx, "ack failed", "error", err)
	}
}

func (c *RabbitMQConsumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if cerr := c.channel.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
			c.logger.Warn("close rabbitmq channel", "error", cerr)
		}
		err = c.conn.Close()
	})
	return err
}
