package service

import (
	"context"

	"loraclima-server/internal/modules/telemetry/types"
)

// MessageSubscriber is the ingestion client as seen by this module.
type MessageSubscriber interface {
	SetMessageHandler(handler func(ctx context.Context, reading types.Reading) error)
}

// Register routes every decoded uplink into HandleReading.
func (s *Service) Register(subscriber MessageSubscriber) {
	subscriber.SetMessageHandler(func(ctx context.Context, reading types.Reading) error {
		s.logger.Debug("processing reading",
			"sensor_id", reading.SensorID,
			"timestamp", reading.Timestamp,
			"aggregate", reading.IsAggregate(),
		)
		return s.HandleReading(ctx, reading)
	})
}
