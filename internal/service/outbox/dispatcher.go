package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/amorozov/storefront/internal/domain"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

var (
	dispatchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_outbox_dispatch_attempts_total",
		Help: "Total number of outbox dispatch attempts grouped by channel and result.",
	}, []string{"channel", "result"})
	pendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_outbox_pending_records",
		Help: "Current number of pending records in transactional outbox.",
	})
	oldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending outbox record.",
	})
)

// DispatcherOptions задаёт параметры dispatcher.
type DispatcherOptions struct {
	Logger         *log.Entry
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// Option настраивает Dispatcher.
type Option func(*DispatcherOptions)

// WithLogger задаёт logger для dispatcher.
func WithLogger(logger *log.Entry) Option {
	return func(opts *DispatcherOptions) { opts.Logger = logger }
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *DispatcherOptions) { opts.PollInterval = interval }
}

// WithBatchSize задаёт размер батча из outbox.
func WithBatchSize(batchSize int) Option {
	return func(opts *DispatcherOptions) { opts.BatchSize = batchSize }
}

// WithMaxAttempts задаёт число попыток доставки перед пометкой failed.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *DispatcherOptions) { opts.MaxAttempts = maxAttempts }
}

// WithRetryBaseDelay задаёт базовый delay для exponential backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *DispatcherOptions) { opts.RetryBaseDelay = delay }
}

// Dispatcher доставляет pending-сообщения outbox, маршрутизируя их по
// каналу: события домена уходят в брокер, уведомления — в провайдеры
// почты и мессенджера.
type Dispatcher struct {
	repo       domain.OutboxRepository
	publishers map[string]domain.OutboxPublisher

	logger         *log.Entry
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// NewDispatcher создаёт dispatcher. Ключ publishers — канал outbox;
// сообщение канала без publisher помечается failed.
func NewDispatcher(repo domain.OutboxRepository, publishers map[string]domain.OutboxPublisher, options ...Option) *Dispatcher {
	opts := DispatcherOptions{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-dispatcher")
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}

	return &Dispatcher{
		repo:           repo,
		publishers:     publishers,
		logger:         logger,
		pollInterval:   opts.PollInterval,
		batchSize:      opts.BatchSize,
		maxAttempts:    opts.MaxAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
	}
}

// Run запускает периодический polling outbox до отмены ctx.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.repo == nil || len(d.publishers) == 0 {
		d.logger.Warn("outbox dispatcher is disabled: repo or publishers are missing")
		return
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один polling-цикл.
func (d *Dispatcher) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	d.refreshBacklogMetrics()

	messages, err := d.repo.PullPending(d.batchSize)
	if err != nil {
		d.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return
	}
	if len(messages) == 0 {
		return
	}

	for _, msg := range messages {
		if ctx.Err() != nil {
			return
		}

		if err := d.dispatchWithRetry(ctx, msg); err != nil {
			d.logger.WithError(err).WithFields(log.Fields{
				"outbox_id":  msg.ID,
				"channel":    msg.Channel,
				"event_type": msg.EventType,
			}).Error("outbox dispatch failed after retries")
			dispatchAttempts.WithLabelValues(msg.Channel, "failed").Inc()

			if markErr := d.repo.MarkFailed(msg.ID); markErr != nil {
				d.logger.WithError(markErr).WithField("outbox_id", msg.ID).Warn("failed to mark outbox as failed")
			}
			continue
		}

		if err := d.repo.MarkSent(msg.ID); err != nil {
			d.logger.WithError(err).WithField("outbox_id", msg.ID).Warn("failed to mark outbox as sent")
		}
	}

	d.refreshBacklogMetrics()
}

// RequeueFailed возвращает failed-сообщения в pending; вызывается из
// операционного HTTP-эндпоинта.
func (d *Dispatcher) RequeueFailed(limit int) (int, error) {
	if limit <= 0 {
		limit = d.batchSize
	}
	requeued, err := d.repo.RequeueFailed(limit)
	if err != nil {
		return 0, fmt.Errorf("requeue failed outbox messages: %w", err)
	}
	if requeued > 0 {
		d.logger.WithField("requeued", requeued).Info("failed outbox messages returned to pending")
	}
	return requeued, nil
}

func (d *Dispatcher) dispatchWithRetry(ctx context.Context, msg domain.OutboxMessage) error {
	publisher, ok := d.publishers[msg.Channel]
	if !ok {
		return fmt.Errorf("%w: no publisher for channel %q", domain.ErrOutboxPublish, msg.Channel)
	}

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		err := publisher.Publish(ctx, msg)
		if err == nil {
			dispatchAttempts.WithLabelValues(msg.Channel, "sent").Inc()
			return nil
		}
		lastErr = err
		dispatchAttempts.WithLabelValues(msg.Channel, "retry_error").Inc()

		if attempt >= d.maxAttempts {
			break
		}

		delay := d.retryBackoff(attempt)
		if delay <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("dispatch failed after %d attempts: %w", d.maxAttempts, lastErr)
}

func (d *Dispatcher) refreshBacklogMetrics() {
	stats, err := d.repo.Stats()
	if err != nil {
		d.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	pendingRecords.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		oldestPendingAge.Set(0)
		return
	}

	age := time.Since(stats.OldestPendingAt).Seconds()
	if age < 0 {
		age = 0
	}
	oldestPendingAge.Set(age)
}

func (d *Dispatcher) retryBackoff(attempt int) time.Duration {
	if d.retryBaseDelay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return d.retryBaseDelay
	}

	const maxDuration = time.Duration(1<<63 - 1)
	delay := d.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay > maxDuration/2 {
			return maxDuration
		}
		delay *= 2
	}
	return delay
}
