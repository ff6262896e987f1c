package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fairyhunter13/face-recognition-service/internal/domain"
)

// Broker topology names.
const (
	ExchangeCacheUpdates = "cache_updates"
	ExchangeFaceTasks    = "face_tasks"

	QueueProcessingTasks = "face_processing_tasks"
)

// declareExchanges declares both durable exchanges. Safe to repeat; every
// producer and consumer runs it so publish order does not matter.
func declareExchanges(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(ExchangeCacheUpdates, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("op=bus.declareExchanges: %w", err)
	}
	if err := ch.ExchangeDeclare(ExchangeFaceTasks, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("op=bus.declareExchanges: %w", err)
	}
	return nil
}

// declareFanoutQueue declares this worker's exclusive auto-delete queue and
// binds it to the fanout exchange. The server names the queue.
func declareFanoutQueue(ch *amqp.Channel) (string, error) {
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return "", fmt.Errorf("op=bus.declareFanoutQueue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", ExchangeCacheUpdates, false, nil); err != nil {
		return "", fmt.Errorf("op=bus.declareFanoutQueue: bind: %w", err)
	}
	return q.Name, nil
}

// declareProcessingQueue declares the shared durable queue and binds it for
// every processing task type.
func declareProcessingQueue(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(QueueProcessingTasks, true, false, false, false, nil); err != nil {
		return fmt.Errorf("op=bus.declareProcessingQueue: %w", err)
	}
	for _, tt := range domain.ProcessingTaskTypes {
		if err := ch.QueueBind(QueueProcessingTasks, string(tt), ExchangeFaceTasks, false, nil); err != nil {
			return fmt.Errorf("op=bus.declareProcessingQueue: bind %s: %w", tt, err)
		}
	}
	return nil
}

// declareReplyQueue declares a producer's exclusive server-named reply queue.
func declareReplyQueue(ch *amqp.Channel) (string, error) {
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return "", fmt.Errorf("op=bus.declareReplyQueue: %w", err)
	}
	return q.Name, nil
}
