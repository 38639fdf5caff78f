package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/peerscope/backend/internal/app"
	"github.com/OFFIS-RIT/peerscope/backend/internal/config"
	"github.com/OFFIS-RIT/peerscope/backend/internal/database"
	"github.com/OFFIS-RIT/peerscope/backend/internal/queue"
	"github.com/OFFIS-RIT/peerscope/backend/internal/timing"
	"github.com/OFFIS-RIT/peerscope/backend/internal/util"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	app.InitLogger(cfg.Log)

	if !cfg.Queue.Enabled() {
		logger.Fatal("RABBITMQ_HOST is not set, nothing to consume")
	}
	if cfg.DatabaseURL != "" {
		if err := database.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal("Failed to migrate database", "err", err)
		}
	}

	// The worker publishes snapshots too: community runs reuse the
	// persisted index and revenue runs diff against the previous buckets.
	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to start engine", "err", err)
	}
	defer a.Close()

	// Init rabbitmq
	conn, err := queue.Init(ctx, cfg.Queue)
	if err != nil {
		logger.Fatal("Failed to connect to queue", "err", err)
	}
	defer conn.Close()

	// Init rabbitmq queues if not exist
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	logger.Info("Listening for messages", "queues", queue.Queues)

	// A single consumer channel with prefetch=1 delivers one message at a
	// time across all queues.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queue.Queues {
		go func(qName string) {
			consumerTag := fmt.Sprintf("%s_consumer", qName)
			msgs, err := consumerCh.Consume(
				qName,
				consumerTag,
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,   // args
			)
			if err != nil {
				logger.Fatal("Failed to start consuming", "queue", qName, "err", err)
			}

			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", qName)
						return
					}
					select {
					case messageChan <- queuedMessage{msg: msg, queueName: qName}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(queueName)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case qm := <-messageChan:
				process(ctx, a, ch, qm.msg, qm.queueName)
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

// process runs one job and acks it, or hands it to the retry or
// dead-letter queue.
func process(ctx context.Context, a *app.App, ch *amqp.Channel, msg amqp.Delivery, queueName string) {
	startTime := time.Now()
	logger.Info("Received message", "queue", queueName)

	_, err := queue.ProcessMessage(ctx, a.Engine, queueName, msg.Body)
	if err != nil {
		logger.Error("Error processing message", "queue", queueName, "err", err)
		queue.HandleProcessingError(ctx, ch, msg, queueName, err)
	} else {
		if err := msg.Ack(false); err != nil {
			logger.Error("Failed to ack message", "err", err)
		}
		logger.Info("Message processed successfully", "queue", queueName)
	}

	logger.Info("Processing time", "duration", timing.Since(startTime))
	logger.Info("Waiting for next message")
}
