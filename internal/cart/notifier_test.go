package cart

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/fekuna/omnipos-reservation-service/internal/inventory"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

func (r *recorder) record(req *http.Request) {
	r.mu.Lock()
	r.paths = append(r.paths, req.Method+" "+req.URL.Path)
	r.mu.Unlock()
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.record(req)
	w.WriteHeader(http.StatusNoContent)
}

func TestEventFor(t *testing.T) {
	tests := []struct {
		before, after int64
		want          string
	}{
		{5, 0, EventOutOfStock},
		{0, 3, EventBackInStock},
		{5, 2, ""},
		{0, 0, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EventFor(inventory.StockChange{ProductID: "P", AvailableBefore: tt.before, AvailableAfter: tt.after}))
	}

	assert.Equal(t, EventDeleted, EventFor(inventory.StockChange{ProductID: "P", Removed: true}))
	assert.Equal(t, EventDeleted, EventFor(inventory.StockChange{ProductID: "P", AvailableBefore: 3, Removed: true}))
}

func TestNotifier_PostsTransitions(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	n := NewNotifier(Config{ServiceURL: srv.URL + "/"}, logger.NewNop())
	require.NotNil(t, n)

	n.StockChanged(context.Background(), []inventory.StockChange{
		{ProductID: "sold", AvailableBefore: 1, AvailableAfter: 0},
		{ProductID: "back", AvailableBefore: 0, AvailableAfter: 4},
		{ProductID: "quiet", AvailableBefore: 9, AvailableAfter: 8},
	})
	n.Wait()

	sort.Strings(rec.paths)
	assert.Equal(t, []string{
		"POST /internal/cart/products/back/back-in-stock",
		"POST /internal/cart/products/sold/out-of-stock",
	}, rec.paths)
}

func TestNotifier_FailureIsLogged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.InfoLevel)
	n := NewNotifier(Config{ServiceURL: srv.URL}, logger.Wrap(zap.New(core)))

	ctx, cancel := context.WithCancel(context.Background())
	n.StockChanged(ctx, []inventory.StockChange{{ProductID: "P", AvailableBefore: 2, AvailableAfter: 0}})
	cancel()
	n.Wait()

	entries := logs.FilterMessage("cart webhook failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "P", entries[0].ContextMap()["product_id"])
}

func TestNotifier_DisabledWithoutURL(t *testing.T) {
	n := NewNotifier(Config{}, logger.NewNop())
	assert.Nil(t, n)

	n.StockChanged(context.Background(), []inventory.StockChange{{ProductID: "P", AvailableBefore: 1}})
	n.Wait()
}

func TestNotifier_DeliversOneProductInOrder(t *testing.T) {
	rec := &recorder{}
	release := make(chan struct{})
	var first sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		rec.record(req)
		first.Do(func() { <-release })
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewNotifier(Config{ServiceURL: srv.URL}, logger.NewNop())
	ctx := context.Background()

	n.StockChanged(ctx, []inventory.StockChange{{ProductID: "P", AvailableBefore: 1, AvailableAfter: 0}})
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	// Committed while the first webhook is still in flight.
	n.StockChanged(ctx, []inventory.StockChange{{ProductID: "P", AvailableBefore: 0, AvailableAfter: 5}})
	n.StockChanged(ctx, []inventory.StockChange{{ProductID: "P", AvailableBefore: 5, Removed: true}})
	assert.Never(t, func() bool { return rec.count() > 1 }, 100*time.Millisecond, 10*time.Millisecond)

	close(release)
	n.Wait()

	assert.Equal(t, []string{
		"POST /internal/cart/products/P/out-of-stock",
		"POST /internal/cart/products/P/back-in-stock",
		"POST /internal/cart/products/P/deleted",
	}, rec.paths)
}
