package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/driver-client/internal/models"
)

type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaSink{writer: w}
}

func (k *KafkaSink) Name() string { return "kafka" }

// locationMessage is the record value; the key is the driver id so one
// driver's samples stay ordered within a partition.
type locationMessage struct {
	DriverID string              `json:"driver_id"`
	Status   models.DriverStatus `json:"status"`
	Location models.GeoPoint     `json:"location"`
	Speed    float64             `json:"speed"`
	Heading  float64             `json:"heading"`
	At       time.Time           `json:"at"`
}

func encodeLocation(driverID string, status models.DriverStatus, loc models.Location) ([]byte, error) {
	return json.Marshal(locationMessage{
		DriverID: driverID,
		Status:   status,
		Location: models.PointFrom(loc.Coord),
		Speed:    loc.Speed,
		Heading:  loc.Heading,
		At:       loc.At,
	})
}

func (k *KafkaSink) Publish(ctx context.Context, driverID string, status models.DriverStatus, loc models.Location) error {
	b, err := encodeLocation(driverID, status, loc)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(driverID), Value: b})
}

func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
