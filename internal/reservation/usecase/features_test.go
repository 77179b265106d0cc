package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/fekuna/omnipos-reservation-service/internal/model"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/logger"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation/dto"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation/repository"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation/sweeper"
)

type reservationTestContext struct {
	store *repository.MemoryStore
	clock *testClock
	uc    reservation.UseCase
	ids   map[string]string
	last  *model.Reservation
	err   error
}

func (c *reservationTestContext) reset() {
	c.store = repository.NewMemoryStore()
	c.clock = newTestClock()
	c.uc = NewReservationUseCase(c.store, logger.NewNop(),
		WithClock(c.clock.Now),
		WithHoldDuration(15*time.Minute),
	)
	c.ids = map[string]string{}
	c.last = nil
	c.err = nil
}

func (c *reservationTestContext) productHasUnitsInStock(productID string, units int) error {
	c.store.SeedStock(productID, int64(units), 0)
	return nil
}

func (c *reservationTestContext) iReserveOfWithKey(quantity int, productID, key string) error {
	res, err := c.uc.Reserve(context.Background(), &dto.ReserveInput{
		IdempotencyKey: key,
		Lines:          []dto.LineInput{{ProductID: productID, Quantity: int64(quantity)}},
	})
	c.last, c.err = nil, err
	if err == nil {
		c.last = res.Reservation
		c.ids[key] = res.Reservation.ID
	}
	return nil
}

func (c *reservationTestContext) iConfirmTheReservationWithKey(key string) error {
	c.last, c.err = c.uc.Confirm(context.Background(), c.ids[key])
	return nil
}

func (c *reservationTestContext) iCancelTheReservationWithKey(key string) error {
	c.last, c.err = c.uc.Cancel(context.Background(), c.ids[key])
	return nil
}

func (c *reservationTestContext) minutesPass(minutes int) error {
	c.clock.Advance(time.Duration(minutes) * time.Minute)
	return nil
}

func (c *reservationTestContext) theExpirySweeperRuns() error {
	s := sweeper.NewExpirySweeper(c.uc, c.store, sweeper.Config{Interval: time.Second, BatchSize: 10}, logger.NewNop(),
		sweeper.WithClock(c.clock.Now),
	)
	_, err := s.SweepOnce(context.Background())
	return err
}

func (c *reservationTestContext) theReservationIs(state string) error {
	if c.err != nil {
		return fmt.Errorf("expected reservation but got error: %v", c.err)
	}
	if string(c.last.State) != state {
		return fmt.Errorf("expected state %s, got %s", state, c.last.State)
	}
	return nil
}

func (c *reservationTestContext) reservationIs(key, state string) error {
	r, err := c.uc.Get(context.Background(), c.ids[key])
	if err != nil {
		return err
	}
	if string(r.State) != state {
		return fmt.Errorf("expected reservation %q to be %s, got %s", key, state, r.State)
	}
	return nil
}

func (c *reservationTestContext) productHasUnitsAvailable(productID string, units int) error {
	s, err := c.store.GetStock(context.Background(), productID)
	if err != nil {
		return err
	}
	if !s.Valid() {
		return fmt.Errorf("ledger invariant broken: %+v", s)
	}
	if s.Available() != int64(units) {
		return fmt.Errorf("expected %d available for %s, got %d", units, productID, s.Available())
	}
	return nil
}

var errorKinds = map[string]error{
	"InsufficientStock": reservation.ErrInsufficientStock,
	"InvalidTransition": reservation.ErrInvalidTransition,
	"ValidationError":   reservation.ErrValidation,
	"NotFound":          reservation.ErrNotFound,
}

func (c *reservationTestContext) theRequestFailsWith(kind string) error {
	target, ok := errorKinds[kind]
	if !ok {
		return fmt.Errorf("unknown error kind %q", kind)
	}
	if c.err == nil {
		return errors.New("expected request to fail but it succeeded")
	}
	if !errors.Is(c.err, target) {
		return fmt.Errorf("expected %s, got %v", kind, c.err)
	}
	return nil
}

func (c *reservationTestContext) theRequestFailsWithInsufficientStockFor(productID string) error {
	if err := c.theRequestFailsWith("InsufficientStock"); err != nil {
		return err
	}
	var insufficient *reservation.InsufficientStockError
	if !errors.As(c.err, &insufficient) || insufficient.ProductID != productID {
		return fmt.Errorf("expected failing product %s, got %v", productID, c.err)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &reservationTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^product "([^"]*)" has (\d+) units in stock$`, tc.productHasUnitsInStock)

	// When steps
	ctx.Step(`^I reserve (-?\d+) of "([^"]*)" with key "([^"]*)"$`, tc.iReserveOfWithKey)
	ctx.Step(`^I confirm the reservation with key "([^"]*)"$`, tc.iConfirmTheReservationWithKey)
	ctx.Step(`^I cancel the reservation with key "([^"]*)"$`, tc.iCancelTheReservationWithKey)
	ctx.Step(`^(\d+) minutes pass$`, tc.minutesPass)
	ctx.Step(`^the expiry sweeper runs$`, tc.theExpirySweeperRuns)

	// Then steps
	ctx.Step(`^the reservation is (HELD|CONFIRMED|CANCELLED|EXPIRED)$`, tc.theReservationIs)
	ctx.Step(`^reservation "([^"]*)" is (HELD|CONFIRMED|CANCELLED|EXPIRED)$`, tc.reservationIs)
	ctx.Step(`^product "([^"]*)" has (\d+) units available$`, tc.productHasUnitsAvailable)
	ctx.Step(`^the request fails with InsufficientStock for "([^"]*)"$`, tc.theRequestFailsWithInsufficientStockFor)
	ctx.Step(`^the request fails with (\w+)$`, tc.theRequestFailsWith)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"testdata/features"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
