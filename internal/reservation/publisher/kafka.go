package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fekuna/omnipos-reservation-service/internal/reservation"
)

// Producer is satisfied by *broker.KafkaProducer.
type Producer interface {
	Produce(ctx context.Context, key, value []byte) error
}

// KafkaPublisher writes lifecycle events keyed by reservation id, so every event
// of one reservation lands on the same partition in order.
type KafkaPublisher struct {
	producer Producer
	timeout  time.Duration
}

func NewKafkaPublisher(producer Producer, timeout time.Duration) *KafkaPublisher {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &KafkaPublisher{producer: producer, timeout: timeout}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event reservation.LifecycleEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}

	// The unit already committed; a caller hanging up must not drop the event.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if err := p.producer.Produce(ctx, []byte(event.ReservationID), raw); err != nil {
		return fmt.Errorf("produce %s event: %w", event.Type, err)
	}
	return nil
}
