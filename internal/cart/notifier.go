package cart

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fekuna/omnipos-reservation-service/internal/inventory"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	EventOutOfStock  = "out-of-stock"
	EventBackInStock = "back-in-stock"
	EventDeleted     = "deleted"
)

type Config struct {
	ServiceURL     string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// Notifier tells the cart service when a product sells out, comes back or is
// removed. Calls are fire-and-forget: failures are logged and never reach the
// caller. Webhooks of one product are delivered one at a time, in commit order.
type Notifier struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	tracer     trace.Tracer
	logger     logger.ZapLogger
	wg         sync.WaitGroup

	mu      sync.Mutex
	pending map[string][]delivery // a key is present while its drain runs
}

type delivery struct {
	ctx   context.Context
	event string
}

var _ inventory.StockObserver = (*Notifier)(nil)

// NewNotifier returns nil when no cart service URL is configured. A nil
// Notifier ignores every change.
func NewNotifier(cfg Config, log logger.ZapLogger) *Notifier {
	base := strings.TrimRight(cfg.ServiceURL, "/")
	if base == "" {
		return nil
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 3 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}

	return &Notifier{
		baseURL: base,
		timeout: cfg.RequestTimeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
			},
		},
		tracer:  otel.Tracer("github.com/fekuna/omnipos-reservation-service/internal/cart"),
		logger:  log,
		pending: make(map[string][]delivery),
	}
}

// EventFor maps an availability change to a webhook, or "" when the product
// neither sold out, came back nor was removed.
func EventFor(c inventory.StockChange) string {
	switch {
	case c.Removed:
		return EventDeleted
	case c.AvailableBefore > 0 && c.AvailableAfter <= 0:
		return EventOutOfStock
	case c.AvailableBefore <= 0 && c.AvailableAfter > 0:
		return EventBackInStock
	}
	return ""
}

func (n *Notifier) StockChanged(ctx context.Context, changes []inventory.StockChange) {
	if n == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, c := range changes {
		if event := EventFor(c); event != "" {
			n.enqueue(ctx, c.ProductID, event)
		}
	}
}

func (n *Notifier) enqueue(ctx context.Context, productID, event string) {
	n.mu.Lock()
	queue, draining := n.pending[productID]
	n.pending[productID] = append(queue, delivery{ctx: ctx, event: event})
	if !draining {
		n.wg.Add(1)
	}
	n.mu.Unlock()

	if !draining {
		go n.drain(productID)
	}
}

// drain sends the queued webhooks of one product until the queue is empty.
func (n *Notifier) drain(productID string) {
	defer n.wg.Done()
	for {
		n.mu.Lock()
		queue := n.pending[productID]
		if len(queue) == 0 {
			delete(n.pending, productID)
			n.mu.Unlock()
			return
		}
		next := queue[0]
		n.pending[productID] = queue[1:]
		n.mu.Unlock()

		n.send(next.ctx, productID, next.event)
	}
}

func (n *Notifier) send(ctx context.Context, productID, event string) {
	if err := n.post(ctx, productID, event); err != nil {
		n.logger.Error("cart webhook failed",
			zap.String("event", event),
			zap.String("product_id", productID),
			zap.Error(err),
		)
		return
	}
	n.logger.Info("cart webhook sent", zap.String("event", event), zap.String("product_id", productID))
}

// Wait blocks until every in-flight webhook has finished.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

func (n *Notifier) post(ctx context.Context, productID, event string) error {
	target := fmt.Sprintf("%s/internal/cart/products/%s/%s", n.baseURL, url.PathEscape(productID), event)

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	ctx, span := n.tracer.Start(ctx, "cart."+event, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.url", target),
		attribute.String("http.method", http.MethodPost),
		attribute.String("product_id", productID),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		span.RecordError(err)
		return err
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := n.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("cart service returned %s", resp.Status)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
