package queue

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/OFFIS-RIT/peerscope/backend/internal/config"
	"github.com/OFFIS-RIT/peerscope/backend/internal/util"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const retryDelay = 10 * time.Second

var dialBackoff = util.Backoff{Attempts: 5, Base: time.Second, Max: 8 * time.Second}

// Init connects to RabbitMQ, retrying while the broker starts up.
func Init(ctx context.Context, cfg config.QueueConfig) (*amqp091.Connection, error) {
	connURL := (&url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, cfg.Port),
		Path:   "/",
	}).String()

	conn, err := util.Retry(ctx, dialBackoff, func(ctx context.Context) (*amqp091.Connection, error) {
		conn, err := amqp091.Dial(connURL)
		if err != nil {
			logger.Warn("[Queue] Failed to connect to RabbitMQ", "host", cfg.Host, "err", err)
		}
		return conn, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

type declarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
}

// SetupQueues declares every queue with its _dlq and a _retry queue that
// dead-letters back into the main queue after retryDelay. All three are
// durable.
func SetupQueues(ch declarer, queueNames []string) error {
	for _, name := range queueNames {
		decls := []struct {
			name string
			args amqp091.Table
		}{
			{name: name},
			{name: name + "_dlq"},
			{name: name + "_retry", args: amqp091.Table{
				"x-message-ttl":             int32(retryDelay / time.Millisecond),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			}},
		}
		for _, d := range decls {
			if _, err := ch.QueueDeclare(d.name, true, false, false, false, d.args); err != nil {
				return fmt.Errorf("failed to declare %s: %w", d.name, err)
			}
		}
	}
	return nil
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// PublishFIFO sends data as a persistent message to the named queue.
func PublishFIFO(ctx context.Context, ch publisher, queueName string, data []byte) error {
	return ch.PublishWithContext(ctx, "", queueName, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	})
}
