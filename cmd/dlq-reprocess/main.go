// dlq-reprocess возвращает события из shop.dlq в основной топик заказов.
// DLQ наполняет единственный писатель — outbox-воркер, поэтому каждая
// запись разбирается как конверт с kafka.DLQPayload внутри. По умолчанию
// инструмент работает в dry-run и только печатает кандидатов; -execute
// публикует восстановленные конверты заново, помечая их replay-заголовками.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

type options struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

// candidate — восстановленное из DLQ событие вместе с контекстом сбоя.
type candidate struct {
	envelope kafka.Envelope
	reason   string
	failedAt time.Time
	retries  int
}

// partitionReader — читающая сторона одной партиции.
type partitionReader interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

// dlqSource объединяет метаданные топика и чтение партиций.
type dlqSource interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, at int64) (int64, error)
	ConsumePartition(topic string, partition int32, offset int64) (partitionReader, error)
	Close() error
}

// replaySink публикует восстановленные конверты.
type replaySink interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type saramaSource struct {
	client   sarama.Client
	consumer sarama.Consumer
}

func (s saramaSource) Partitions(topic string) ([]int32, error) {
	return s.client.Partitions(topic)
}

func (s saramaSource) GetOffset(topic string, partition int32, at int64) (int64, error) {
	return s.client.GetOffset(topic, partition, at)
}

func (s saramaSource) ConsumePartition(topic string, partition int32, offset int64) (partitionReader, error) {
	return s.consumer.ConsumePartition(topic, partition, offset)
}

func (s saramaSource) Close() error {
	var firstErr error
	if s.consumer != nil {
		firstErr = s.consumer.Close()
	}
	if s.client != nil {
		if err := s.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// connectKafka подменяется в тестах.
var connectKafka = func(opts options) (dlqSource, replaySink, error) {
	clientConfig := sarama.NewConfig()
	clientConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(opts.brokers, clientConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	source := saramaSource{client: client, consumer: consumer}

	if !opts.execute {
		return source, nil, nil
	}

	producer, err := sarama.NewSyncProducer(opts.brokers, kafka.NewSyncConfig())
	if err != nil {
		_ = source.Close()
		return nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return source, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	opts, err := readOptions()
	if err != nil {
		fail("%v", err)
	}

	source, sink, err := connectKafka(opts)
	if err != nil {
		fail("dlq replay failed: %v", err)
	}
	defer func() {
		if sink != nil {
			_ = sink.Close()
		}
		_ = source.Close()
	}()

	r := &replayer{
		opts:   opts,
		source: source,
		sink:   sink,
		logger: log.WithField("component", "dlq-reprocess"),
	}
	if err := r.run(context.Background()); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readOptions() (options, error) {
	var (
		brokersRaw string
		opts       options
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: KAFKA_BROKERS)")
	flag.StringVar(&opts.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	flag.StringVar(&opts.targetTopic, "target-topic", kafka.TopicOrderEvents, "target topic for replay")
	flag.IntVar(&opts.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	flag.BoolVar(&opts.execute, "execute", false, "execute replay; default is dry-run")
	flag.BoolVar(&opts.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	flag.DurationVar(&opts.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("KAFKA_BROKERS")
	}
	for _, chunk := range strings.Split(brokersRaw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			opts.brokers = append(opts.brokers, broker)
		}
	}

	switch {
	case len(opts.brokers) == 0:
		return options{}, fmt.Errorf("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	case strings.TrimSpace(opts.sourceTopic) == "":
		return options{}, fmt.Errorf("source-topic is required")
	case strings.TrimSpace(opts.targetTopic) == "":
		return options{}, fmt.Errorf("target-topic is required")
	case opts.limit <= 0:
		return options{}, fmt.Errorf("limit must be > 0")
	case opts.idleTimeout <= 0:
		return options{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return opts, nil
}

// replayer проходит по партициям DLQ и восстанавливает события.
type replayer struct {
	opts   options
	source dlqSource
	sink   replaySink
	logger *log.Entry

	scanned  int
	replayed int
	skipped  int
}

func (r *replayer) run(ctx context.Context) error {
	if r.source == nil {
		return fmt.Errorf("kafka source is required")
	}
	if r.opts.execute && r.sink == nil {
		return fmt.Errorf("producer is required in execute mode")
	}

	mode := "dry-run"
	if r.opts.execute {
		mode = "execute"
	}
	r.logger.WithFields(log.Fields{
		"source_topic": r.opts.sourceTopic,
		"target_topic": r.opts.targetTopic,
		"limit":        r.opts.limit,
		"mode":         mode,
	}).Info("запускаем разбор DLQ")

	partitions, err := r.source.Partitions(r.opts.sourceTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", r.opts.sourceTopic, err)
	}
	if len(partitions) == 0 {
		r.logger.WithField("topic", r.opts.sourceTopic).Warn("у DLQ-топика нет партиций")
		return nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		budget := r.opts.limit - r.scanned
		if budget <= 0 {
			break
		}
		if err := r.drainPartition(ctx, partition, budget); err != nil {
			return err
		}
	}

	r.logger.WithFields(log.Fields{
		"mode":     mode,
		"scanned":  r.scanned,
		"replayed": r.replayed,
		"skipped":  r.skipped,
	}).Info("разбор DLQ завершён")

	return nil
}

func (r *replayer) drainPartition(ctx context.Context, partition int32, budget int) error {
	oldest, err := r.source.GetOffset(r.opts.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := r.source.GetOffset(r.opts.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return nil
	}

	start := oldest
	if r.opts.fromNewest {
		if start = newest - int64(budget); start < oldest {
			start = oldest
		}
	}

	reader, err := r.source.ConsumePartition(r.opts.sourceTopic, partition, start)
	if err != nil {
		return fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = reader.Close() }()

	idle := time.NewTimer(r.opts.idleTimeout)
	defer idle.Stop()

	taken := 0
	for taken < budget {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case consumeErr := <-reader.Errors():
			if consumeErr != nil {
				return fmt.Errorf("partition %d consumer error: %w", partition, consumeErr)
			}
		case msg, ok := <-reader.Messages():
			if !ok || msg == nil {
				return nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.opts.idleTimeout)

			// Сообщения, записанные после старта разбора, не трогаем.
			if msg.Offset >= newest {
				return nil
			}

			taken++
			r.scanned++
			r.handle(msg)

			if msg.Offset+1 >= newest {
				return nil
			}
		case <-idle.C:
			return nil
		}
	}

	return nil
}

func (r *replayer) handle(msg *sarama.ConsumerMessage) {
	cand, err := restoreCandidate(msg)
	if err != nil {
		r.skipped++
		r.logger.WithError(err).WithFields(log.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Warn("пропускаем нераспознанную DLQ-запись")
		return
	}

	if !r.opts.execute {
		r.replayed++
		r.logger.WithFields(log.Fields{
			"partition":  msg.Partition,
			"offset":     msg.Offset,
			"event_type": cand.envelope.EventType,
			"order_id":   cand.envelope.AggregateID,
			"reason":     cand.reason,
		}).Info("кандидат на повторную публикацию")
		return
	}

	if err := r.publish(cand); err != nil {
		r.skipped++
		r.logger.WithError(err).WithFields(log.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Error("не удалось переопубликовать событие")
		return
	}
	r.replayed++
}

func (r *replayer) publish(cand candidate) error {
	value, err := json.Marshal(cand.envelope)
	if err != nil {
		return fmt.Errorf("encode replay envelope: %w", err)
	}

	_, _, err = r.sink.SendMessage(&sarama.ProducerMessage{
		Topic:     r.opts.targetTopic,
		Key:       sarama.StringEncoder(cand.envelope.PartitionKey()),
		Value:     sarama.ByteEncoder(value),
		Headers:   replayHeaders(cand, r.opts.sourceTopic),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("send replay message: %w", err)
	}
	return nil
}

// replayHeaders помечает переопубликованное событие: сколько раз оно уже
// проходило replay, из какого топика пришло и почему оказалось в DLQ.
func replayHeaders(cand candidate, sourceTopic string) []sarama.RecordHeader {
	headers := []sarama.RecordHeader{
		{Key: []byte(kafka.HeaderRetryCount), Value: []byte(strconv.Itoa(cand.retries + 1))},
		{Key: []byte(kafka.HeaderOriginalTopic), Value: []byte(sourceTopic)},
	}
	if cand.reason != "" {
		headers = append(headers, sarama.RecordHeader{
			Key: []byte(kafka.HeaderErrorMessage), Value: []byte(cand.reason),
		})
	}
	if !cand.failedAt.IsZero() {
		headers = append(headers, sarama.RecordHeader{
			Key: []byte(kafka.HeaderFailedAt), Value: []byte(cand.failedAt.UTC().Format(time.RFC3339)),
		})
	}
	return headers
}

// restoreCandidate разбирает DLQ-запись outbox-воркера: внешний конверт,
// внутри которого kafka.DLQPayload с оригинальным событием.
func restoreCandidate(msg *sarama.ConsumerMessage) (candidate, error) {
	var outer kafka.Envelope
	if err := json.Unmarshal(msg.Value, &outer); err != nil {
		return candidate{}, fmt.Errorf("not an outbox envelope: %w", err)
	}
	if len(outer.Payload) == 0 {
		return candidate{}, fmt.Errorf("envelope has no dlq payload")
	}

	var record kafka.DLQPayload
	if err := json.Unmarshal(outer.Payload, &record); err != nil {
		return candidate{}, fmt.Errorf("decode dlq record: %w", err)
	}
	if len(record.Payload) == 0 {
		return candidate{}, fmt.Errorf("dlq record has no original event payload")
	}

	return candidate{
		envelope: kafka.Envelope{
			ID:            orElse(record.OutboxID, outer.ID),
			AggregateType: orElse(record.AggregateType, outer.AggregateType),
			AggregateID:   orElse(record.AggregateID, outer.AggregateID),
			EventType:     orElse(record.EventType, outer.EventType),
			Payload:       record.Payload,
			PublishedAt:   time.Now().UTC(),
		},
		reason:   record.PublishError,
		failedAt: record.DLQPublishedAt,
		retries:  priorRetries(msg.Headers),
	}, nil
}

func priorRetries(headers []*sarama.RecordHeader) int {
	for _, h := range headers {
		if h == nil || string(h.Key) != kafka.HeaderRetryCount {
			continue
		}
		if n, err := strconv.Atoi(string(h.Value)); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func orElse(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
