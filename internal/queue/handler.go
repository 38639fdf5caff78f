package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const maxRetries = 10

// errMalformed marks a message that can never be processed.
var errMalformed = errors.New("malformed job message")

// ProcessMessage decodes a job message from queueName and runs it.
func ProcessMessage(ctx context.Context, r Runner, queueName string, body []byte) (any, error) {
	var msg JobMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformed, err)
	}
	expected, err := QueueFor(msg.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformed, err)
	}
	if expected != queueName {
		return nil, fmt.Errorf("%w: %s job on %s", errMalformed, msg.Kind, queueName)
	}
	logger.Info("[Queue] Running job", "kind", msg.Kind, "correlation_id", msg.CorrelationID)
	return RunJob(ctx, r, msg)
}

// permanent errors go straight to the dead-letter queue.
func permanent(err error) bool {
	return errors.Is(err, errMalformed) ||
		errors.Is(err, common.ErrInvalidConfiguration) ||
		errors.Is(err, common.ErrDimensionMismatch)
}

func retries(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// HandleProcessingError sends msg to the retry queue, or to the dead-letter
// queue once it has been retried maxRetries times or cannot succeed.
func HandleProcessingError(ctx context.Context, ch publisher, msg amqp091.Delivery, queueName string, cause error) {
	n := retries(msg.Headers)

	target := queueName + "_retry"
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	if n >= maxRetries || permanent(cause) {
		target = queueName + "_dlq"
		headers["x-error"] = cause.Error()
		logger.Info("[Queue] Sending message to DLQ", "dlq", target, "retries", n)
	} else {
		headers["x-retries"] = int32(n + 1)
	}

	pubErr := ch.PublishWithContext(
		ctx,
		"",
		target,
		false,
		false,
		amqp091.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			Headers:      headers,
			DeliveryMode: amqp091.Persistent,
		},
	)
	if pubErr != nil {
		logger.Error("[Queue] Failed to republish message", "queue", target, "err", pubErr)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
