package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

func testOutboxMessage(orderID string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            "outbox-" + orderID,
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     "order.created",
		Payload:       []byte(`{"order_id":"` + orderID + `"}`),
	}
}

func TestNewSyncConfig(t *testing.T) {
	cfg := NewSyncConfig()

	if cfg.Producer.RequiredAcks != sarama.WaitForAll {
		t.Errorf("expected acks from all ISR, got %v", cfg.Producer.RequiredAcks)
	}
	if !cfg.Producer.Idempotent {
		t.Error("producer must be idempotent")
	}
	if cfg.Net.MaxOpenRequests != 1 {
		t.Errorf("idempotent producer requires MaxOpenRequests=1, got %d", cfg.Net.MaxOpenRequests)
	}
	if !cfg.Producer.Return.Successes {
		t.Error("sync producer requires Return.Successes")
	}
}

func TestProducer_PublishEnvelope(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		sync:   mockProducer,
		logger: log.WithField("component", "kafka-producer-test"),
	}

	env := NewEnvelope(testOutboxMessage("order-42"))
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var sent Envelope
		if err := json.Unmarshal(value, &sent); err != nil {
			return err
		}
		if sent.AggregateID != "order-42" || sent.EventType != "order.created" {
			t.Errorf("unexpected envelope on the wire: %+v", sent)
		}
		return nil
	})

	if err := producer.PublishEnvelope(TopicOrderEvents, env); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEnvelope_BrokerError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := &Producer{
		sync:   mockProducer,
		logger: log.WithField("component", "kafka-producer-test"),
	}

	err := producer.PublishEnvelope(TopicOrderEvents, NewEnvelope(testOutboxMessage("order-43")))
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestEnvelope_PartitionKey(t *testing.T) {
	env := NewEnvelope(testOutboxMessage("order-44"))
	if got := env.PartitionKey(); got != "order-44" {
		t.Errorf("expected aggregate id as key, got %q", got)
	}

	env.AggregateID = ""
	if got := env.PartitionKey(); got != env.ID {
		t.Errorf("expected fallback to envelope id, got %q", got)
	}

	if env.PublishedAt.IsZero() {
		t.Error("published_at must be set by NewEnvelope")
	}
	if time.Since(env.PublishedAt) > time.Second {
		t.Error("published_at should be close to current time")
	}
}

func TestNewDLQPayload(t *testing.T) {
	msg := testOutboxMessage("order-45")
	record := NewDLQPayload(msg, "broker unreachable")

	if record.OutboxID != msg.ID || record.AggregateID != "order-45" {
		t.Errorf("dlq record lost identity: %+v", record)
	}
	if record.EventType != msg.EventType {
		t.Errorf("expected event type %q, got %q", msg.EventType, record.EventType)
	}
	if string(record.Payload) != string(msg.Payload) {
		t.Error("dlq record must carry the original payload untouched")
	}
	if record.PublishError != "broker unreachable" {
		t.Errorf("unexpected publish error: %q", record.PublishError)
	}
	if record.DLQPublishedAt.IsZero() {
		t.Error("dlq_published_at must be set")
	}
}
