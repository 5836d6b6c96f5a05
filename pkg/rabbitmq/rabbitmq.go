package rabbitmq

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/streadway/amqp"
	"go.uber.org/zap"
)

// DefaultCleanupQueue is where orphaned asset ids are queued for deletion.
const DefaultCleanupQueue = "asset_cleanup_queue"

// deadLetterSuffix names the queue collecting cleanup jobs that failed twice.
const deadLetterSuffix = ".dead"

// DeadLetterQueue returns the dead-letter queue paired with queue.
func DeadLetterQueue(queue string) string {
	return queue + deadLetterSuffix
}

// AssetCleanupMessage asks a worker to delete remote assets no product references anymore.
type AssetCleanupMessage struct {
	ExternalIDs []string  `json:"external_ids"`
	Reason      string    `json:"reason"`
	ProductID   string    `json:"product_id,omitempty"`
	QueuedAt    time.Time `json:"queued_at"`
}

// Client holds the RabbitMQ connection and channel.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	log     *zap.Logger
	mu      sync.Mutex // amqp channels are not safe for concurrent publishing
}

// Config holds RabbitMQ connection details.
type Config struct {
	URL          string
	CleanupQueue string
	Logger       *zap.Logger
}

// NewClient creates a new RabbitMQ client.
// It connects to RabbitMQ, opens a channel and declares the cleanup queue.
func NewClient(cfg Config) (*Client, error) {
	if cfg.CleanupQueue == "" {
		cfg.CleanupQueue = DefaultCleanupQueue
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declare(ch, cfg.CleanupQueue); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	cfg.Logger.Info("rabbitmq connected", zap.String("queue", cfg.CleanupQueue))

	return &Client{
		conn:    conn,
		channel: ch,
		queue:   cfg.CleanupQueue,
		log:     cfg.Logger,
	}, nil
}

// declare creates the cleanup queue and its dead-letter queue. Rejected deliveries are routed
// through the default exchange to the dead-letter queue.
func declare(ch *amqp.Channel, queue string) error {
	dead := DeadLetterQueue(queue)
	if _, err := ch.QueueDeclare(
		dead,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		return fmt.Errorf("failed to declare %s: %w", dead, err)
	}

	_, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dead,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare %s: %w", queue, err)
	}
	return nil
}

// Close closes the RabbitMQ connection and channel.
func (c *Client) Close() error {
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("multiple errors occurred during RabbitMQ client close: %v", errs)
	}
	return nil
}

// PublishAssetCleanup queues a cleanup job as a persistent JSON message.
func (c *Client) PublishAssetCleanup(msg AssetCleanupMessage) error {
	if c.channel == nil {
		return fmt.Errorf("RabbitMQ channel is not available")
	}
	if msg.QueuedAt.IsZero() {
		msg.QueuedAt = time.Now().UTC()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal cleanup message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	err = c.channel.Publish(
		"",      // default exchange
		c.queue, // routing key: the queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    msg.QueuedAt,
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// ConsumeAssetCleanup starts a goroutine delivering cleanup jobs to handler.
// A handler error requeues a delivery once; a second failure dead-letters it.
func (c *Client) ConsumeAssetCleanup(handler func(msg amqp.Delivery) error) error {
	if c.channel == nil {
		return fmt.Errorf("RabbitMQ channel is not available for consumption")
	}

	msgs, err := c.channel.Consume(
		c.queue, // queue
		"",      // consumer tag
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for msg := range msgs {
			c.settle(msg, handler(msg))
		}
	}()

	return nil
}

// settle acks a handled delivery. A failed delivery goes back on the queue the first time and
// to the dead-letter queue once it has already been redelivered.
func (c *Client) settle(msg amqp.Delivery, handleErr error) {
	tag := zap.Uint64("delivery_tag", msg.DeliveryTag)
	if handleErr == nil {
		if err := msg.Ack(false); err != nil {
			c.log.Error("ack failed", tag, zap.Error(err))
		}
		return
	}

	requeue := !msg.Redelivered
	if requeue {
		c.log.Warn("cleanup job failed, requeueing", tag, zap.Error(handleErr))
	} else {
		c.log.Error("cleanup job failed again, dead-lettering", tag,
			zap.String("dead_letter_queue", DeadLetterQueue(c.queue)), zap.Error(handleErr))
	}
	if err := msg.Nack(false, requeue); err != nil {
		c.log.Error("nack failed", tag, zap.Error(err))
	}
}

// DecodeAssetCleanup parses a delivery body.
func DecodeAssetCleanup(body []byte) (AssetCleanupMessage, error) {
	var msg AssetCleanupMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("failed to decode cleanup message: %w", err)
	}
	return msg, nil
}
