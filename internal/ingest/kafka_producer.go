package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-hailing/internal/models"
)

// LocationEvent is the per-ride position record published to the location
// stream. The consumer mirrors driver positions into the Redis GEO index.
type LocationEvent struct {
	RideID string       `json:"rideId"`
	UserID string       `json:"userId"`
	Role   models.Role  `json:"role"`
	Coord  models.Coord `json:"location"`
	At     time.Time    `json:"at"`
}

type LocationProducer struct {
	writer *kafka.Writer
}

func NewLocationProducer(brokers []string, topic string) *LocationProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &LocationProducer{writer: w}
}

// Publish writes one location event keyed by user id so per-user ordering
// is preserved within a partition.
func (p *LocationProducer) Publish(ev LocationEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(ev)
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.UserID), Value: b})
}

func (p *LocationProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
