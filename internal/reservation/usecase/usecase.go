package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fekuna/omnipos-reservation-service/internal/inventory"
	"github.com/fekuna/omnipos-reservation-service/internal/model"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/logger"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/metrics"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation/dto"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultHoldDuration = 15 * time.Minute

	refTypeReservation = "reservation"
)

var tracer = otel.Tracer("github.com/fekuna/omnipos-reservation-service/internal/reservation")

type Option func(*reservationUseCase)

func WithClock(now func() time.Time) Option {
	return func(uc *reservationUseCase) { uc.now = now }
}

func WithHoldDuration(d time.Duration) Option {
	return func(uc *reservationUseCase) {
		if d > 0 {
			uc.holdDuration = d
		}
	}
}

// WithRetry bounds the automatic retry of storage faults. maxTries counts the
// first attempt; maxWait caps the total time spent retrying.
func WithRetry(maxTries int, maxWait time.Duration) Option {
	return func(uc *reservationUseCase) {
		uc.maxTries = maxTries
		uc.maxWait = maxWait
	}
}

func WithMetrics(m *metrics.ReservationMetrics) Option {
	return func(uc *reservationUseCase) { uc.metrics = m }
}

func WithPublisher(p reservation.EventPublisher) Option {
	return func(uc *reservationUseCase) {
		if p != nil {
			uc.publisher = p
		}
	}
}

func WithStockObserver(o inventory.StockObserver) Option {
	return func(uc *reservationUseCase) { uc.observer = o }
}

type reservationUseCase struct {
	repo         reservation.Repository
	logger       logger.ZapLogger
	now          func() time.Time
	holdDuration time.Duration
	maxTries     int
	maxWait      time.Duration
	metrics      *metrics.ReservationMetrics
	publisher    reservation.EventPublisher
	observer     inventory.StockObserver
}

func NewReservationUseCase(repo reservation.Repository, log logger.ZapLogger, opts ...Option) reservation.UseCase {
	uc := &reservationUseCase{
		repo:         repo,
		logger:       log,
		now:          time.Now,
		holdDuration: DefaultHoldDuration,
		maxTries:     3,
		maxWait:      2 * time.Second,
		publisher:    reservation.NopPublisher{},
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

func (uc *reservationUseCase) Reserve(ctx context.Context, input *dto.ReserveInput) (result *dto.ReserveResult, err error) {
	ctx, span := tracer.Start(ctx, "reservation.Reserve", trace.WithAttributes(
		attribute.String("reservation.idempotency_key", input.IdempotencyKey),
		attribute.Int("reservation.lines", len(input.Lines)),
	))
	defer func() { uc.finish(span, "reserve", err) }()

	if err := reservation.ValidateReserve(input); err != nil {
		return nil, err
	}

	var changes []inventory.StockChange
	err = uc.retry(ctx, func() error {
		result, changes = nil, nil
		return uc.repo.WithinTx(ctx, func(ctx context.Context, tx reservation.Tx) error {
			existing, err := tx.FindByIdempotencyKey(ctx, input.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				result, err = replay(existing, input)
				return err
			}

			r, ch, err := uc.holdStock(ctx, tx, input)
			if err != nil {
				return err
			}
			result, changes = &dto.ReserveResult{Reservation: r}, ch
			return nil
		})
	})

	if errors.Is(err, reservation.ErrDuplicateIdempotencyKey) || errors.Is(err, reservation.ErrInsufficientStock) {
		// A concurrent request with the same key may have committed first and
		// consumed the stock this attempt was waiting on.
		existing, ferr := uc.repo.FindByIdempotencyKey(ctx, input.IdempotencyKey)
		switch {
		case ferr != nil:
			return nil, ferr
		case existing != nil:
			result, err = replay(existing, input)
			changes = nil
		case errors.Is(err, reservation.ErrDuplicateIdempotencyKey):
			return nil, fmt.Errorf("%w: idempotency key %s vanished", reservation.ErrStorageUnavailable, input.IdempotencyKey)
		}
	}
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("reservation.id", result.Reservation.ID),
		attribute.Bool("reservation.replayed", result.Replayed),
	)
	if result.Replayed {
		uc.logger.Info("reservation replayed",
			zap.String("reservation_id", result.Reservation.ID),
			zap.String("idempotency_key", input.IdempotencyKey),
		)
		return result, nil
	}

	uc.afterCommit(ctx, result.Reservation, changes)
	uc.logger.Info("reservation held",
		zap.String("reservation_id", result.Reservation.ID),
		zap.String("idempotency_key", input.IdempotencyKey),
		zap.Time("expires_at", result.Reservation.ExpiresAt),
	)
	return result, nil
}

func replay(existing *model.Reservation, input *dto.ReserveInput) (*dto.ReserveResult, error) {
	if !reservation.SameLines(existing, input.Lines) {
		return nil, &reservation.ValidationError{
			Problems: []string{fmt.Sprintf("idempotency_key %s was already used with different items", input.IdempotencyKey)},
			Cause:    reservation.ErrIdempotencyKeyReused,
		}
	}
	return &dto.ReserveResult{Reservation: existing, Replayed: true}, nil
}

// holdStock checks every line against locked stock rows and, only when all of them
// fit, moves the quantities into reserved_stock and creates the HELD row.
func (uc *reservationUseCase) holdStock(ctx context.Context, tx reservation.Tx, input *dto.ReserveInput) (*model.Reservation, []inventory.StockChange, error) {
	productIDs := make([]string, len(input.Lines))
	for i, l := range input.Lines {
		productIDs[i] = l.ProductID
	}

	rows, err := tx.LockStock(ctx, productIDs)
	if err != nil {
		return nil, nil, err
	}

	for _, l := range input.Lines {
		if available := rows[l.ProductID].Available(); available < l.Quantity {
			return nil, nil, &reservation.InsufficientStockError{
				ProductID: l.ProductID,
				Requested: l.Quantity,
				Available: available,
			}
		}
	}

	now := uc.now()
	r := &model.Reservation{
		BaseModel: model.BaseModel{
			ID:        uuid.New().String(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		IdempotencyKey: input.IdempotencyKey,
		State:          model.ReservationHeld,
		ExpiresAt:      now.Add(uc.holdDuration),
		Lines:          make([]model.ReservationLine, len(input.Lines)),
	}

	changes := make([]inventory.StockChange, 0, len(input.Lines))
	for i, l := range input.Lines {
		r.Lines[i] = model.ReservationLine{
			ReservationID: r.ID,
			LineNo:        i + 1,
			ProductID:     l.ProductID,
			Quantity:      l.Quantity,
		}

		s := rows[l.ProductID]
		before := s.Available()
		s.ReservedStock += l.Quantity
		s.UpdatedAt = now
		if err := tx.UpdateStock(ctx, s); err != nil {
			return nil, nil, err
		}
		if err := tx.LogMovement(ctx, movement(r.ID, s, model.MovementReserve, 0, l.Quantity, before, now)); err != nil {
			return nil, nil, err
		}
		changes = append(changes, inventory.ChangeOf(before, s))
	}

	if err := tx.CreateReservation(ctx, r); err != nil {
		return nil, nil, err
	}
	return r, changes, nil
}

func (uc *reservationUseCase) Confirm(ctx context.Context, id string) (r *model.Reservation, err error) {
	ctx, span := tracer.Start(ctx, "reservation.Confirm", trace.WithAttributes(attribute.String("reservation.id", id)))
	defer func() { uc.finish(span, "confirm", err) }()

	r, applied, err := uc.transition(ctx, id, reservation.EventConfirm)
	if err != nil {
		return nil, err
	}
	if r.State == model.ReservationExpired {
		// The deadline passed before the confirm arrived; expiry wins.
		if applied {
			uc.logger.Info("reservation expired on confirm", zap.String("reservation_id", id))
		}
		return nil, fmt.Errorf("%w: reservation %s expired at %s", reservation.ErrInvalidTransition, id, r.ExpiresAt.Format(time.RFC3339))
	}
	if applied {
		uc.logger.Info("reservation confirmed", zap.String("reservation_id", id))
	}
	return r, nil
}

func (uc *reservationUseCase) Cancel(ctx context.Context, id string) (r *model.Reservation, err error) {
	ctx, span := tracer.Start(ctx, "reservation.Cancel", trace.WithAttributes(attribute.String("reservation.id", id)))
	defer func() { uc.finish(span, "cancel", err) }()

	r, applied, err := uc.transition(ctx, id, reservation.EventCancel)
	if err != nil {
		return nil, err
	}
	if applied {
		uc.logger.Info("reservation released", zap.String("reservation_id", id), zap.String("state", string(r.State)))
	}
	return r, nil
}

func (uc *reservationUseCase) Expire(ctx context.Context, id string) (expired bool, err error) {
	ctx, span := tracer.Start(ctx, "reservation.Expire", trace.WithAttributes(attribute.String("reservation.id", id)))
	defer func() { uc.finish(span, "expire", err) }()

	r, applied, err := uc.transition(ctx, id, reservation.EventExpire)
	if errors.Is(err, reservation.ErrInvalidTransition) || errors.Is(err, reservation.ErrNotFound) {
		// Lost the race to a confirm or cancel.
		uc.logger.Debug("reservation expiry skipped", zap.String("reservation_id", id), zap.Error(err))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if applied {
		uc.logger.Info("reservation expired", zap.String("reservation_id", id), zap.Time("expires_at", r.ExpiresAt))
	}
	return applied && r.State == model.ReservationExpired, nil
}

func (uc *reservationUseCase) Get(ctx context.Context, id string) (*model.Reservation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, reservation.ErrNotFound
	}

	var r *model.Reservation
	err := uc.retry(ctx, func() error {
		var err error
		r, err = uc.repo.FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, reservation.ErrNotFound
	}
	return r, nil
}

// transition applies ev to the reservation under its row lock, then the stock
// rows of its lines. A HELD reservation past its deadline is expired instead,
// whatever the event. applied is false for idempotent repeats.
func (uc *reservationUseCase) transition(ctx context.Context, id string, ev reservation.Event) (*model.Reservation, bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, false, reservation.ErrNotFound
	}

	var (
		result  *model.Reservation
		applied bool
		changes []inventory.StockChange
	)
	err := uc.retry(ctx, func() error {
		result, applied, changes = nil, false, nil
		return uc.repo.WithinTx(ctx, func(ctx context.Context, tx reservation.Tx) error {
			r, err := tx.LockReservation(ctx, id)
			if err != nil {
				return err
			}
			if r == nil {
				return reservation.ErrNotFound
			}

			now := uc.now()
			effective := ev
			if r.State == model.ReservationHeld {
				pastDeadline := !now.Before(r.ExpiresAt)
				if ev == reservation.EventExpire && !pastDeadline {
					result = r
					return nil
				}
				if pastDeadline {
					effective = reservation.EventExpire
				}
			}

			to, apply, err := reservation.Transition(r.State, effective)
			if err != nil {
				return err
			}
			if !apply {
				result = r
				return nil
			}

			rows, err := tx.LockStock(ctx, r.ProductIDs())
			if err != nil {
				return err
			}
			for _, l := range r.Lines {
				s := rows[l.ProductID]
				before := s.Available()
				totalChange, reservedChange, err := reservation.Release(s, effective, l.Quantity)
				if err != nil {
					return fmt.Errorf("reservation %s: %w", r.ID, err)
				}
				s.UpdatedAt = now
				if err := tx.UpdateStock(ctx, s); err != nil {
					return err
				}
				if err := tx.LogMovement(ctx, movement(r.ID, s, effective.MovementType(), totalChange, reservedChange, before, now)); err != nil {
					return err
				}
				changes = append(changes, inventory.ChangeOf(before, s))
			}

			if err := tx.UpdateState(ctx, r.ID, to, now); err != nil {
				return err
			}
			r.State = to
			r.UpdatedAt = now
			result, applied = r, true
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}

	if applied {
		uc.afterCommit(ctx, result, changes)
	}
	return result, applied, nil
}

func movement(reservationID string, s *model.Stock, movementType string, totalChange, reservedChange, before int64, now time.Time) *model.InventoryMovement {
	refType := refTypeReservation
	refID := reservationID
	return &model.InventoryMovement{
		ID:              uuid.New().String(),
		ProductID:       s.ProductID,
		MovementType:    movementType,
		TotalChange:     totalChange,
		ReservedChange:  reservedChange,
		AvailableBefore: before,
		AvailableAfter:  s.Available(),
		ReferenceType:   &refType,
		ReferenceID:     &refID,
		CreatedAt:       now,
	}
}

// afterCommit runs the best-effort side effects of a committed unit.
func (uc *reservationUseCase) afterCommit(ctx context.Context, r *model.Reservation, changes []inventory.StockChange) {
	if uc.observer != nil {
		uc.observer.StockChanged(ctx, changes)
	}
	if err := uc.publisher.Publish(ctx, reservation.NewLifecycleEvent(r, uc.now())); err != nil {
		uc.logger.Warn("failed to publish reservation event",
			zap.String("reservation_id", r.ID),
			zap.String("state", string(r.State)),
			zap.Error(err),
		)
	}
}

// retry re-runs op while it fails with a storage fault. Every other error is final.
func (uc *reservationUseCase) retry(ctx context.Context, op func() error) error {
	if uc.maxTries <= 1 {
		return op()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = uc.maxWait

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(uc.maxTries-1)), ctx)
	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !errors.Is(err, reservation.ErrStorageUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		uc.logger.Warn("retrying after storage fault", zap.Duration("wait", wait), zap.Error(err))
	})
}

func (uc *reservationUseCase) finish(span trace.Span, operation string, err error) {
	outcome := reservation.Outcome(err)
	uc.metrics.ObserveOperation(operation, outcome)
	span.SetAttributes(attribute.String("reservation.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		if outcome == "error" || outcome == "storage_unavailable" {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
