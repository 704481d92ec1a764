package sweep

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/amorozov/storefront/internal/domain"
)

const (
	defaultInterval  = 5 * time.Minute
	defaultBatchSize = 200
)

var (
	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_reservation_sweep_runs_total",
		Help: "Total number of reservation sweep runs grouped by result.",
	}, []string{"result"})
	sweepReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_reservation_sweep_released_total",
		Help: "Total number of expired reservations released by the sweep.",
	})
	sweepRestockedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_reservation_sweep_restocked_units_total",
		Help: "Total number of stock units returned to the catalog by the sweep.",
	})
	sweepLastReleased = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_reservation_sweep_last_released",
		Help: "Number of reservations released during the last sweep run.",
	})
)

// Options задаёт параметры sweep-воркера.
type Options struct {
	Logger *log.Entry
	// Interval — период между проходами.
	Interval time.Duration
	// BatchSize — размер выборки за одну итерацию прохода.
	BatchSize int
}

// Option настраивает Worker.
type Option func(*Options)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithInterval задаёт период между проходами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) { opts.Interval = interval }
}

// WithBatchSize задаёт размер выборки за один проход.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) { opts.BatchSize = batchSize }
}

// Worker периодически гасит истёкшие складские резервы: возвращает остатки
// и отменяет заказы, чья онлайн-оплата так и не состоялась.
type Worker struct {
	orders   domain.OrderRepository
	products domain.ProductRepository

	logger    *log.Entry
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewWorker создаёт sweep-воркер.
func NewWorker(orders domain.OrderRepository, products domain.ProductRepository, options ...Option) *Worker {
	opts := Options{
		Interval:  defaultInterval,
		BatchSize: defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "reservation-sweep")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	return &Worker{
		orders:    orders,
		products:  products,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run запускает периодические проходы до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.orders == nil || w.products == nil {
		w.logger.Warn("reservation sweep is disabled: repositories are nil")
		return
	}

	w.ProcessOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один проход по истёкшим резервам, выбирая их
// батчами до исчерпания. Проход идемпотентен: заказ без активного
// резерва — no-op.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	now := w.now()
	released := 0

	for {
		batch, ok := w.sweepBatch(ctx, now)
		released += batch
		if !ok || batch < w.batchSize {
			break
		}
	}

	sweepRunsTotal.WithLabelValues("ok").Inc()
	sweepLastReleased.Set(float64(released))
	if released > 0 {
		w.logger.WithField("released", released).Info("reservation sweep completed")
	}
}

func (w *Worker) sweepBatch(ctx context.Context, before time.Time) (int, bool) {
	orders, err := w.orders.ListExpiredReservations(before, w.batchSize)
	if err != nil {
		sweepRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("failed to list expired reservations")
		return 0, false
	}

	released := 0
	for i := range orders {
		if ctx.Err() != nil {
			return released, false
		}
		if w.releaseOne(&orders[i]) {
			released++
		}
	}
	if len(orders) < w.batchSize {
		return released, false
	}
	return released, true
}

// releaseOne гасит резерв одного заказа: фиксирует погашенный маркер и
// только после этого возвращает остатки. Обратный порядок при конфликте
// версий (конкурентный retry перевзвёл резерв) вернул бы одни и те же
// позиции дважды.
func (w *Worker) releaseOne(order *domain.Order) bool {
	if !order.HasActiveReservation() || order.PaymentStatus == domain.PaymentStatusPaid {
		return false
	}

	order.ReservationReleased = true
	if order.Status == domain.OrderStatusPending {
		order.Status = domain.OrderStatusCanceled
		order.CancelledAt = w.now()
		order.CancelReason = "payment window expired, reservation released"
		if order.PaymentStatus == domain.PaymentStatusPending {
			order.PaymentStatus = domain.PaymentStatusCanceled
		}
	}
	order.UpdatedAt = w.now()

	if err := w.orders.Save(*order); err != nil {
		// Конфликт версий: заказ менялся конкурентно, остатки не трогаем.
		// Если резерв всё ещё истёк, его заберёт следующий проход.
		w.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to persist released reservation")
		return false
	}

	for _, item := range order.Items {
		if err := w.products.Restock(item.ProductID, item.Qty); err != nil {
			w.logger.WithError(err).WithFields(log.Fields{
				"order_id":   order.ID,
				"product_id": item.ProductID,
			}).Error("sweep restock failed")
			continue
		}
		sweepRestockedTotal.Add(float64(item.Qty))
	}

	sweepReleasedTotal.Inc()
	w.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"code":     order.Code,
	}).Info("expired reservation released")
	return true
}
