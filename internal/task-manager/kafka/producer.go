package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"

	"task-lifecycle-service/internal/config"
	"task-lifecycle-service/internal/logger"
	"task-lifecycle-service/internal/task-manager/events"
)

// Writer is the part of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaProducer(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// Publisher sends notification events to Kafka behind a circuit breaker so a
// broker outage costs one fast failure per tick instead of a full write
// timeout per notification.
type Publisher struct {
	writer       Writer
	breaker      *gobreaker.CircuitBreaker
	writeTimeout time.Duration
	topic        string
	log          *logger.Logger
}

func NewPublisher(writer Writer, cfg config.KafkaConfig, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.Nop()
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	p := &Publisher{writer: writer, writeTimeout: timeout, topic: cfg.Topic, log: log}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notifications-kafka",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("Circuit breaker '%s' changed from '%s' to '%s'", name, from.String(), to.String())
		},
	})
	return p
}

// PublishNotification writes one event keyed by recipient so a participant's
// feed stays ordered within a partition.
func (p *Publisher) PublishNotification(ctx context.Context, event events.NotificationEvent) error {
	payload, err := event.Marshal()
	if err != nil {
		return err
	}
	msg := kafka.Message{Key: []byte(event.RecipientID), Value: payload}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		writeCtx, cancel := context.WithTimeout(ctx, p.writeTimeout)
		defer cancel()
		return nil, p.writer.WriteMessages(writeCtx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("notification publish skipped: %w", err)
	}
	if err != nil {
		return fmt.Errorf("failed to publish notification %s to %s: %w", event.NotificationID, p.topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func NewSubmissionReader(cfg config.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.SubmissionTopic,
		MinBytes:       10e3,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        3 * time.Second,
	})
}
