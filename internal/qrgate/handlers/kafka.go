package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/campusops/qrgate/internal/qrgate/types"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes accepted actions to "{prefix}{action_type}", keyed by
// person id so one person's events stay ordered within a partition.
type Kafka struct {
	writer      messageWriter
	topicPrefix string
	logger      *zap.Logger
}

func NewKafka(brokers []string, topicPrefix string, logger *zap.Logger) *Kafka {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            3,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           5 * time.Second,
		AllowAutoTopicCreation: true,
		Async:                  false,
	}
	return newKafka(writer, topicPrefix, logger)
}

func newKafka(w messageWriter, topicPrefix string, logger *zap.Logger) *Kafka {
	return &Kafka{writer: w, topicPrefix: topicPrefix, logger: logger}
}

func (k *Kafka) Topic(actionType string) string { return k.topicPrefix + actionType }

func (k *Kafka) Handle(ctx context.Context, ev types.ActionEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal action event: %w", err)
	}
	msg := kafka.Message{
		Topic: k.Topic(ev.ActionType),
		Key:   []byte(ev.PersonID),
		Value: value,
		Time:  ev.ScannedAt,
		Headers: []kafka.Header{
			{Key: "scan_log_id", Value: []byte(ev.ScanLogID)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Topic, err)
	}
	k.logger.Debug("action event published",
		zap.String("topic", msg.Topic),
		zap.String("scan_log_id", ev.ScanLogID))
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
