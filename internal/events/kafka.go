// Package events forwards run and task transitions to Kafka so external
// consumers can follow research progress.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const DefaultTopic = "scholae.transitions"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per transition, keyed by run id so a
// run's events stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaPublisher connects lazily to brokers, a comma separated list.
func NewKafkaPublisher(brokers, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
	return newKafkaPublisher(w, topic, logger), nil
}

func newKafkaPublisher(w messageWriter, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev domain.TransitionEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode transition: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.RunID.String()),
		Value: value,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "to_state", Value: []byte(ev.To)},
		},
	}
	if ev.TaskID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "agent_kind", Value: []byte(ev.AgentKind)})
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return domain.NewTransientStoreError("kafka publish", err)
	}
	p.logger.Debug("transition published",
		zap.String("topic", p.topic),
		zap.String("run_id", ev.RunID.String()),
		zap.String("to", ev.To))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher logs transitions instead of shipping them. It is used when
// no brokers are configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, ev domain.TransitionEvent) error {
	p.logger.Debug("transition",
		zap.String("run_id", ev.RunID.String()),
		zap.String("task_id", ev.TaskID),
		zap.String("from", ev.From),
		zap.String("to", ev.To))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
