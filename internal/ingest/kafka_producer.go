// Package ingest publishes driver positions to Kafka so other consumers
// (the Redis mirror in cmd/consumer) see every update.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/pet-ride/internal/models"
)

// Publisher receives every accepted driver position.
type Publisher interface {
	PublishLocation(ctx context.Context, d models.DriverLocation) error
	Close() error
}

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaProducer{writer: w}
}

// PublishLocation keys messages by driver so one driver's updates stay ordered.
func (k *KafkaProducer) PublishLocation(ctx context.Context, d models.DriverLocation) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(d.DriverID), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// Nop drops every position. Used when no brokers are configured.
type Nop struct{}

func (Nop) PublishLocation(context.Context, models.DriverLocation) error { return nil }
func (Nop) Close() error                                              { return nil }

// DecodeLocation parses a message written by KafkaProducer.
func DecodeLocation(m kafka.Message) (models.DriverLocation, error) {
	var d models.DriverLocation
	if err := json.Unmarshal(m.Value, &d); err != nil {
		return d, err
	}
	if d.DriverID == "" {
		d.DriverID = string(m.Key)
	}
	return d, nil
}
