package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/messaging/kafka"
)

// createPublishers собирает основной и DLQ publisher для outbox воркера.
// Без Kafka события публикуются только в лог, DLQ отсутствует.
func createPublishers(producer *kafka.Producer, logger *log.Entry) (main, dlq domain.OutboxPublisher) {
	if producer != nil {
		return kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents),
			kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)
	}

	logger.Warn("kafka is not configured, outbox events will be logged only")
	return &logPublisher{logger: logger.WithField("component", "log-publisher")}, nil
}

// logPublisher пишет outbox-события в лог вместо брокера.
type logPublisher struct {
	logger *log.Entry
}

var _ domain.OutboxPublisher = (*logPublisher)(nil)

func (p *logPublisher) Publish(event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"event_id":     event.ID,
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
	}).Info("outbox event published to log")
	return nil
}
