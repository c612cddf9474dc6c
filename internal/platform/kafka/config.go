package kafka

import (
	"time"

	"warden/internal/platform/config"
	"warden/internal/platform/kafka/producer"
)

const (
	// DefaultDeliveryTimeout bounds how long a record may wait for acknowledgement.
	DefaultDeliveryTimeout = 30 * time.Second

	ClientID = "warden"
)

// ProducerConfig maps the service kafka section onto producer settings.
func ProducerConfig(cfg config.Kafka) producer.Config {
	return producer.Config{
		Brokers:         cfg.Brokers,
		ClientID:        ClientID,
		Acks:            cfg.Acks,
		Retries:         cfg.Retries,
		DeliveryTimeout: DefaultDeliveryTimeout,
	}
}
