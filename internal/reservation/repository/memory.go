package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fekuna/omnipos-reservation-service/internal/inventory"
	invdto "github.com/fekuna/omnipos-reservation-service/internal/inventory/dto"
	"github.com/fekuna/omnipos-reservation-service/internal/model"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation"
)

// rowLock is a one-slot semaphore so waiting on it can honour ctx.
type rowLock chan struct{}

func (l rowLock) acquire(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l rowLock) release() { <-l }

// MemoryStore keeps the ledger and reservations in process. It serves both
// inventory.Repository and reservation.Repository with per-row locks, so units on
// disjoint products never wait on each other.
type MemoryStore struct {
	mu           sync.Mutex
	stocks       map[string]*model.Stock
	stockLocks   map[string]rowLock
	reservations map[string]*model.Reservation
	resLocks     map[string]rowLock
	byKey        map[string]string
	movements    []model.InventoryMovement
}

var (
	_ inventory.Repository   = (*MemoryStore)(nil)
	_ reservation.Repository = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stocks:       make(map[string]*model.Stock),
		stockLocks:   make(map[string]rowLock),
		reservations: make(map[string]*model.Reservation),
		resLocks:     make(map[string]rowLock),
		byKey:        make(map[string]string),
	}
}

// SeedStock sets a product's stock outside any unit. Intended for tests and local runs.
func (s *MemoryStore) SeedStock(productID string, total, reserved int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stocks[productID] = &model.Stock{
		ProductID:     productID,
		TotalStock:    total,
		ReservedStock: reserved,
		UpdatedAt:     time.Now(),
	}
}

func (s *MemoryStore) GetStock(_ context.Context, productID string) (*model.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stocks[productID]
	if !ok {
		return nil, nil
	}
	c := *st
	return &c, nil
}

func (s *MemoryStore) ListMovements(_ context.Context, f *invdto.MovementFilters) ([]model.InventoryMovement, int, error) {
	s.mu.Lock()
	items := make([]model.InventoryMovement, 0, len(s.movements))
	for i := len(s.movements) - 1; i >= 0; i-- {
		m := s.movements[i]
		if f.ProductID != "" && m.ProductID != f.ProductID {
			continue
		}
		if f.MovementType != "" && m.MovementType != f.MovementType {
			continue
		}
		if f.StartDate != nil && m.CreatedAt.Before(*f.StartDate) {
			continue
		}
		if f.EndDate != nil && !m.CreatedAt.Before(*f.EndDate) {
			continue
		}
		items = append(items, m)
	}
	s.mu.Unlock()

	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })

	total := len(items)
	if f.PageSize > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		start := (page - 1) * f.PageSize
		if start > total {
			start = total
		}
		end := start + f.PageSize
		if end > total {
			end = total
		}
		items = items[start:end]
	}
	return items, total, nil
}

func (s *MemoryStore) WithinLedger(ctx context.Context, fn func(ctx context.Context, ledger inventory.Ledger) error) error {
	tx := s.begin()
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx reservation.Tx) error) error {
	tx := s.begin()
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reservations[id].Clone(), nil
}

func (s *MemoryStore) FindByIdempotencyKey(_ context.Context, key string) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, nil
	}
	return s.reservations[id].Clone(), nil
}

func (s *MemoryStore) ListExpiredIDs(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	expired := make([]*model.Reservation, 0)
	for _, r := range s.reservations {
		if r.State == model.ReservationHeld && !r.ExpiresAt.After(now) {
			expired = append(expired, r)
		}
	}
	s.mu.Unlock()

	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	ids := make([]string, len(expired))
	for i, r := range expired {
		ids[i] = r.ID
	}
	return ids, nil
}

func (s *MemoryStore) stockLock(id string) rowLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.stockLocks[id]
	if !ok {
		l = make(rowLock, 1)
		s.stockLocks[id] = l
	}
	return l
}

func (s *MemoryStore) resLock(id string) rowLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.resLocks[id]
	if !ok {
		l = make(rowLock, 1)
		s.resLocks[id] = l
	}
	return l
}

type stateChange struct {
	state     model.ReservationState
	updatedAt time.Time
}

// memTx stages every write and applies them together on commit.
type memTx struct {
	store *MemoryStore
	held  []rowLock

	lockedStock map[string]bool
	lockedRes   map[string]bool
	stocks      map[string]*model.Stock
	deleted     map[string]bool
	created     []*model.Reservation
	states      map[string]stateChange
	movements   []model.InventoryMovement
}

func (s *MemoryStore) begin() *memTx {
	return &memTx{
		store:       s,
		lockedStock: make(map[string]bool),
		lockedRes:   make(map[string]bool),
		stocks:      make(map[string]*model.Stock),
		deleted:     make(map[string]bool),
		states:      make(map[string]stateChange),
	}
}

func (t *memTx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].release()
	}
	t.held = nil
}

func (t *memTx) LockStock(ctx context.Context, productIDs []string) (map[string]*model.Stock, error) {
	ids := append([]string(nil), productIDs...)
	sort.Strings(ids)

	rows := make(map[string]*model.Stock, len(ids))
	for _, id := range ids {
		if !t.lockedStock[id] {
			l := t.store.stockLock(id)
			if err := l.acquire(ctx); err != nil {
				return nil, fmt.Errorf("%w: lock stock %s: %w", inventory.ErrStorageUnavailable, id, err)
			}
			t.held = append(t.held, l)
			t.lockedStock[id] = true
		}
		if st := t.readStock(id); st != nil {
			rows[id] = st
		}
	}
	return rows, nil
}

func (t *memTx) readStock(id string) *model.Stock {
	if t.deleted[id] {
		return nil
	}
	if st, ok := t.stocks[id]; ok {
		c := *st
		return &c
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	st, ok := t.store.stocks[id]
	if !ok {
		return nil
	}
	c := *st
	return &c
}

func (t *memTx) UpdateStock(_ context.Context, s *model.Stock) error {
	if !t.lockedStock[s.ProductID] {
		return fmt.Errorf("stock %s updated without lock", s.ProductID)
	}
	if !s.Valid() {
		return fmt.Errorf("%w: product %s total=%d reserved=%d",
			inventory.ErrLedgerInconsistent, s.ProductID, s.TotalStock, s.ReservedStock)
	}
	c := *s
	t.stocks[s.ProductID] = &c
	delete(t.deleted, s.ProductID)
	return nil
}

func (t *memTx) DeleteStock(_ context.Context, productID string) error {
	if !t.lockedStock[productID] {
		return fmt.Errorf("stock %s deleted without lock", productID)
	}
	delete(t.stocks, productID)
	t.deleted[productID] = true
	return nil
}

func (t *memTx) LogMovement(_ context.Context, m *model.InventoryMovement) error {
	t.movements = append(t.movements, *m)
	return nil
}

func (t *memTx) FindByIdempotencyKey(_ context.Context, key string) (*model.Reservation, error) {
	for _, r := range t.created {
		if r.IdempotencyKey == key {
			return r.Clone(), nil
		}
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	id, ok := t.store.byKey[key]
	if !ok {
		return nil, nil
	}
	return t.withStaged(t.store.reservations[id].Clone()), nil
}

func (t *memTx) LockReservation(ctx context.Context, id string) (*model.Reservation, error) {
	t.store.mu.Lock()
	_, exists := t.store.reservations[id]
	t.store.mu.Unlock()
	if !exists {
		return nil, nil
	}

	if !t.lockedRes[id] {
		l := t.store.resLock(id)
		if err := l.acquire(ctx); err != nil {
			return nil, fmt.Errorf("%w: lock reservation %s: %w", inventory.ErrStorageUnavailable, id, err)
		}
		t.held = append(t.held, l)
		t.lockedRes[id] = true
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.withStaged(t.store.reservations[id].Clone()), nil
}

func (t *memTx) withStaged(r *model.Reservation) *model.Reservation {
	if r == nil {
		return nil
	}
	if sc, ok := t.states[r.ID]; ok {
		r.State = sc.state
		r.UpdatedAt = sc.updatedAt
	}
	return r
}

func (t *memTx) CreateReservation(_ context.Context, r *model.Reservation) error {
	for _, c := range t.created {
		if c.IdempotencyKey == r.IdempotencyKey {
			return reservation.ErrDuplicateIdempotencyKey
		}
	}
	t.store.mu.Lock()
	_, taken := t.store.byKey[r.IdempotencyKey]
	t.store.mu.Unlock()
	if taken {
		return reservation.ErrDuplicateIdempotencyKey
	}
	t.created = append(t.created, r.Clone())
	return nil
}

func (t *memTx) UpdateState(_ context.Context, id string, state model.ReservationState, updatedAt time.Time) error {
	for _, c := range t.created {
		if c.ID == id {
			c.State = state
			c.UpdatedAt = updatedAt
			return nil
		}
	}
	if !t.lockedRes[id] {
		return fmt.Errorf("reservation %s updated without lock", id)
	}
	t.states[id] = stateChange{state: state, updatedAt: updatedAt}
	return nil
}

func (t *memTx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	// A concurrent unit may have committed the same key since CreateReservation.
	for _, r := range t.created {
		if _, taken := s.byKey[r.IdempotencyKey]; taken {
			return reservation.ErrDuplicateIdempotencyKey
		}
	}

	for id, st := range t.stocks {
		s.stocks[id] = st
	}
	for id := range t.deleted {
		delete(s.stocks, id)
	}
	for _, r := range t.created {
		s.reservations[r.ID] = r
		s.byKey[r.IdempotencyKey] = r.ID
	}
	for id, sc := range t.states {
		if r, ok := s.reservations[id]; ok {
			r.State = sc.state
			r.UpdatedAt = sc.updatedAt
		}
	}
	s.movements = append(s.movements, t.movements...)
	return nil
}
