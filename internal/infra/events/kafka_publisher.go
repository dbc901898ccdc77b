package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"premium-subscription-gateway/internal/domain/ports/adapter"
)

const DefaultTopic = "entitlement.changed"

var _ adapter.EventPublisher = (*KafkaPublisher)(nil)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes entitlement events keyed by user id, so every event
// for one user lands on one partition in order.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	log    zerolog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zerolog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are not configured")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return newKafkaPublisher(w, topic, logger), nil
}

func newKafkaPublisher(w messageWriter, topic string, logger *zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: w,
		topic:  topic,
		log:    logger.With().Str("component", "KafkaPublisher").Str("topic", topic).Logger(),
	}
}

func (p *KafkaPublisher) PublishEntitlement(ctx context.Context, ev adapter.EntitlementEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka: marshal entitlement event: %w", err)
	}
	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(ev.UserID),
		Value: value,
		Time:  time.Now(),
	}

	wctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := p.writer.WriteMessages(wctx, msg); err != nil {
		p.log.Error().Err(err).Str("user_id", ev.UserID).Bool("premium", ev.Premium).Msg("entitlement event not published")
		return fmt.Errorf("kafka: write entitlement event: %w", err)
	}
	p.log.Debug().Str("user_id", ev.UserID).Bool("premium", ev.Premium).Msg("entitlement event published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("kafka: close writer: %w", err)
	}
	return nil
}
