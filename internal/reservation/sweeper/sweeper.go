package sweeper

import (
	"context"
	"time"

	"github.com/fekuna/omnipos-reservation-service/internal/pkg/logger"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/metrics"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const LockKey = "lock:reservation:sweeper"

// Locker keeps concurrent replicas from sweeping the same batch.
type Locker interface {
	AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, value string) error
}

type Config struct {
	Interval  time.Duration
	BatchSize int
}

type Option func(*ExpirySweeper)

func WithLocker(l Locker) Option {
	return func(s *ExpirySweeper) { s.locker = l }
}

func WithMetrics(m *metrics.ReservationMetrics) Option {
	return func(s *ExpirySweeper) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *ExpirySweeper) { s.now = now }
}

type ExpirySweeper struct {
	uc      reservation.UseCase
	repo    reservation.Repository
	cfg     Config
	locker  Locker
	metrics *metrics.ReservationMetrics
	logger  logger.ZapLogger
	now     func() time.Time
	owner   string
}

func NewExpirySweeper(uc reservation.UseCase, repo reservation.Repository, cfg Config, log logger.ZapLogger, opts ...Option) *ExpirySweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	s := &ExpirySweeper{
		uc:     uc,
		repo:   repo,
		cfg:    cfg,
		logger: log,
		now:    time.Now,
		owner:  uuid.New().String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start sweeps every interval until ctx is cancelled.
func (s *ExpirySweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting reservation expiry sweeper", zap.Duration("interval", s.cfg.Interval))
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping reservation expiry sweeper")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("Reservation sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce expires every overdue HELD reservation and returns how many it moved.
// Each reservation gets its own atomic unit so one failure does not block the rest.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.locker != nil {
		ok, err := s.locker.AcquireLock(ctx, LockKey, s.owner, s.cfg.Interval)
		if err != nil {
			return 0, err
		}
		if !ok {
			s.logger.Debug("Sweep skipped, lock held by another replica")
			return 0, nil
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), LockKey, s.owner); err != nil {
				s.logger.Warn("Failed to release sweeper lock", zap.Error(err))
			}
		}()
	}

	start := time.Now()
	total := 0
	defer func() {
		s.metrics.AddExpired(total)
		s.metrics.ObserveSweep(time.Since(start))
	}()

	for {
		ids, err := s.repo.ListExpiredIDs(ctx, s.now(), s.cfg.BatchSize)
		if err != nil {
			return total, err
		}

		expired := 0
		for _, id := range ids {
			ok, err := s.uc.Expire(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return total, ctx.Err()
				}
				s.logger.Error("Failed to expire reservation", zap.String("reservation_id", id), zap.Error(err))
				continue
			}
			if ok {
				expired++
			}
		}
		total += expired

		// A short batch means the backlog is drained; a batch without progress
		// would only return the same rows again.
		if len(ids) < s.cfg.BatchSize || expired == 0 {
			break
		}
	}

	if total > 0 {
		s.logger.Info("Expired overdue reservations", zap.Int("count", total))
	}
	return total, nil
}
