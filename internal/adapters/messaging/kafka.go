package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/athebyme/catalog-sync/pkg/interfaces"
	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/google/uuid"
)

// KafkaMessaging реализация MessagingPort с использованием Kafka.
// Переносит задачи многоуровневого режима импорта между воркерами
type KafkaMessaging struct {
	producer       *kafka.Producer
	consumers      map[string]*kafka.Consumer
	consumersMutex sync.RWMutex
	brokers        string
	groupID        string
	logger         interfaces.LoggerPort
}

// NewKafkaMessaging создает новый экземпляр KafkaMessaging
func NewKafkaMessaging(brokers []string, groupID string, logger interfaces.LoggerPort) (interfaces.MessagingPort, error) {
	brokerList := strings.Join(brokers, ",")

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":            brokerList,
		"client.id":                    "catalog-sync-producer",
		"acks":                         "all", // максимальная надежность
		"retries":                      5,
		"retry.backoff.ms":             500,
		"compression.type":             "snappy",
		"linger.ms":                    10,    // небольшая задержка для батчинга
		"batch.size":                   16384, // размер пакета в байтах
		"message.max.bytes":            1000000,
		"queue.buffering.max.messages": 100000, // размер внутреннего буфера
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Kafka producer: %w", err)
	}

	return &KafkaMessaging{
		producer:  producer,
		consumers: make(map[string]*kafka.Consumer),
		brokers:   brokerList,
		groupID:   groupID,
		logger:    logger,
	}, nil
}

// messageToKafkaMessage преобразует сырое сообщение в kafka.Message
func messageToKafkaMessage(topic string, message []byte) *kafka.Message {
	headers := []kafka.Header{
		{Key: "message_id", Value: []byte(uuid.New().String())},
		{Key: "timestamp", Value: []byte(time.Now().Format(time.RFC3339Nano))},
	}

	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          message,
		Headers:        headers,
	}
}

// kafkaMessageToMessage преобразует kafka.Message в Message
func kafkaMessageToMessage(msg *kafka.Message) *interfaces.Message {
	headers := make(map[string]string)
	for _, header := range msg.Headers {
		headers[header.Key] = string(header.Value)
	}

	var key string
	if msg.Key != nil {
		key = string(msg.Key)
	}

	// Извлекаем время публикации из заголовков
	publishedAt := time.Now()
	if tsStr, ok := headers["timestamp"]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, tsStr); err == nil {
			publishedAt = ts
		}
	}

	return &interfaces.Message{
		ID:          headers["message_id"],
		Topic:       *msg.TopicPartition.Topic,
		Key:         key,
		Value:       msg.Value,
		Headers:     headers,
		PublishedAt: publishedAt,
		Attempts:    0,
	}
}

// Publish публикует сообщение в указанную тему
func (k *KafkaMessaging) Publish(ctx context.Context, topic string, message []byte) error {
	msg := messageToKafkaMessage(topic, message)
	return k.producer.Produce(msg, nil)
}

// Subscribe подписывается на указанную тему и обрабатывает сообщения с помощью handler
func (k *KafkaMessaging) Subscribe(ctx context.Context, topic string, handler interfaces.MessageHandler) (func() error, error) {
	// Уникальный ID потребителя для отмены подписки
	consumerID := uuid.New().String()

	kafkaConfig := &kafka.ConfigMap{
		"bootstrap.servers":       k.brokers,
		"group.id":                k.groupID,
		"auto.offset.reset":       "earliest",
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
		"session.timeout.ms":      30000,
		"max.poll.interval.ms":    300000,
		"heartbeat.interval.ms":   3000,
	}

	consumer, err := kafka.NewConsumer(kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Kafka consumer: %w", err)
	}

	if err := consumer.Subscribe(topic, nil); err != nil {
		consumer.Close()
		return nil, fmt.Errorf("ошибка подписки на топик %s: %w", topic, err)
	}

	k.consumersMutex.Lock()
	k.consumers[consumerID] = consumer
	k.consumersMutex.Unlock()

	// обработка сообщений в отдельной горутине
	go k.consumeMessages(ctx, consumer, topic, handler)

	// функция для отмены подписки
	unsubscribe := func() error {
		k.consumersMutex.Lock()
		consumer := k.consumers[consumerID]
		delete(k.consumers, consumerID)
		k.consumersMutex.Unlock()

		if consumer != nil {
			return consumer.Close()
		}
		return nil
	}

	return unsubscribe, nil
}

// consumeMessages обрабатывает сообщения из Kafka
func (k *KafkaMessaging) consumeMessages(ctx context.Context, consumer *kafka.Consumer, topic string, handler interfaces.MessageHandler) {
	for {
		select {
		case <-ctx.Done():
			// Контекст отменен, завершаем обработку
			return
		default:
			// Читаем сообщение с таймаутом
			ev := consumer.Poll(100)
			if ev == nil {
				continue
			}

			switch e := ev.(type) {
			case *kafka.Message:
				msg := kafkaMessageToMessage(e)

				if err := handler(ctx, msg); err != nil {
					k.logger.ErrorWithContext(ctx, "Ошибка обработки сообщения",
						interfaces.LogField{Key: "topic", Value: topic},
						interfaces.LogField{Key: "message_id", Value: msg.ID},
						interfaces.LogField{Key: "error", Value: err.Error()},
					)
				}

			case kafka.Error:
				k.logger.ErrorWithContext(ctx, "Ошибка Kafka",
					interfaces.LogField{Key: "topic", Value: topic},
					interfaces.LogField{Key: "code", Value: e.Code().String()},
					interfaces.LogField{Key: "error", Value: e.Error()},
				)
				if e.Code() == kafka.ErrAllBrokersDown {
					// Критическая ошибка, завершаем обработку
					return
				}

			default:
				// Другие события Kafka не интересны
			}
		}
	}
}

// Close закрывает соединение с системой обмена сообщениями
func (k *KafkaMessaging) Close() error {
	// Закрываем все потребители
	k.consumersMutex.Lock()
	for id, consumer := range k.consumers {
		consumer.Close()
		delete(k.consumers, id)
	}
	k.consumersMutex.Unlock()

	// Закрываем producer
	k.producer.Flush(15 * 1000) // Ждем до 15 секунд для отправки всех сообщений
	k.producer.Close()

	return nil
}
