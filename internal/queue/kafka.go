package queue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer publishes keyed messages to one topic. Messages with the same key
// land on the same partition, so a device's events stay ordered.
type Producer struct {
	topic  string
	writer *kafka.Writer
}

// NewProducer creates a synchronous producer for topic. Ingest publishes on
// the request path, so writes are flushed after a short batch window rather
// than the writer's one second default.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		topic: topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Topic returns the topic the producer writes to
func (p *Producer) Topic() string {
	return p.topic
}

// Publish writes one message and waits for the broker's ack
func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes pending writes and closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer reads one topic as a member of a consumer group. Offsets are only
// committed through Commit.
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer joins groupID on topic, starting from the oldest offset when
// the group has none
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			Topic:       topic,
			GroupID:     groupID,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     500 * time.Millisecond,
			StartOffset: kafka.FirstOffset,
		}),
	}
}

// Consume blocks until the next message or ctx is done
func (c *Consumer) Consume(ctx context.Context) (kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to fetch message: %w", err)
	}
	return msg, nil
}

// Commit marks msg as processed for the group
func (c *Consumer) Commit(ctx context.Context, msg kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to commit offset %d: %w", msg.Offset, err)
	}
	return nil
}

// Close leaves the group and closes the reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Stats returns reader statistics since the last call
func (c *Consumer) Stats() kafka.ReaderStats {
	return c.reader.Stats()
}

// EnsureTopics creates any of topics that do not exist yet. A topic that
// already exists is not an error.
func EnsureTopics(brokers []string, topics ...kafka.TopicConfig) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no Kafka brokers configured")
	}

	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get controller: %w", err)
	}

	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial controller: %w", err)
	}
	defer controllerConn.Close()

	return ignoreTopicExists(controllerConn.CreateTopics(topics...))
}

// TopicConfig describes a topic with replication factor 1
func TopicConfig(topic string, partitions int) kafka.TopicConfig {
	if partitions < 1 {
		partitions = 1
	}
	return kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	}
}

func ignoreTopicExists(err error) error {
	if err == nil || errors.Is(err, kafka.TopicAlreadyExists) {
		return nil
	}
	return fmt.Errorf("failed to create topics: %w", err)
}
