package listener

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fekuna/omnipos-reservation-service/internal/pkg/logger"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	EventOrderPaid      = "OrderPaid"
	EventOrderCancelled = "OrderCancelled"
)

// MessageReader is satisfied by *broker.KafkaConsumer.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

type OrderListener struct {
	reader     MessageReader
	uc         reservation.UseCase
	logger     logger.ZapLogger
	retryDelay time.Duration
}

func NewOrderListener(reader MessageReader, uc reservation.UseCase, log logger.ZapLogger) *OrderListener {
	return &OrderListener{
		reader:     reader,
		uc:         uc,
		logger:     log,
		retryDelay: time.Second,
	}
}

func (l *OrderListener) Start(ctx context.Context) error {
	l.logger.Info("Starting order events listener")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Stopping order events listener")
			return nil
		default:
			msg, err := l.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				l.logger.Error("Failed to read kafka message", zap.Error(err))
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(l.retryDelay):
				}
				continue
			}
			l.processMessage(ctx, msg.Value)
		}
	}
}

type OrderEvent struct {
	EventID   string       `json:"event_id"`
	EventType string       `json:"event_type"`
	Payload   OrderPayload `json:"payload"`
	Timestamp time.Time    `json:"timestamp"`
}

type OrderPayload struct {
	ID            string `json:"id"`
	ReservationID string `json:"reservation_id"`
}

func (l *OrderListener) processMessage(ctx context.Context, value []byte) {
	var event OrderEvent
	if err := json.Unmarshal(value, &event); err != nil {
		l.logger.Error("Failed to unmarshal event", zap.Error(err))
		return
	}

	var apply func(context.Context, string) error
	switch event.EventType {
	case EventOrderPaid:
		apply = func(ctx context.Context, id string) error {
			_, err := l.uc.Confirm(ctx, id)
			return err
		}
	case EventOrderCancelled:
		apply = func(ctx context.Context, id string) error {
			_, err := l.uc.Cancel(ctx, id)
			return err
		}
	default:
		return
	}

	log := l.logger.With(
		zap.String("event_type", event.EventType),
		zap.String("order_id", event.Payload.ID),
		zap.String("reservation_id", event.Payload.ReservationID),
	)
	if event.Payload.ReservationID == "" {
		log.Warn("Order event without reservation id")
		return
	}

	log.Info("Processing order event")
	err := apply(ctx, event.Payload.ReservationID)
	switch {
	case err == nil:
	case errors.Is(err, reservation.ErrNotFound), errors.Is(err, reservation.ErrInvalidTransition):
		log.Warn("Order event skipped", zap.Error(err))
	default:
		log.Error("Failed to apply order event", zap.Error(err))
	}
}
