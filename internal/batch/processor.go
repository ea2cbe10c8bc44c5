// Package batch aggregates alerts before they are forwarded to a remote
// collector.
//
// Alerts are flushed to a BatchHandler when either the batch size or the
// wait time is reached. Close flushes whatever is left and waits for the
// processing goroutine to exit.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	fxerrors "fxalert/internal/errors"
	"fxalert/internal/logging"
	"fxalert/internal/models"

	"go.uber.org/zap"
)

var (
	ErrProcessorClosed = errors.New("batch processor is closed")
	// ErrBatchFull is returned by Add when DropOnFull is set and the buffer has no room.
	ErrBatchFull = errors.New("batch buffer is full")
	// ErrHandlerFailed wraps errors returned by a BatchHandler.
	ErrHandlerFailed = errors.New("batch handler failed")
)

// BatchHandler receives full or expired batches. It reports how many alerts
// of the batch were delivered; the rest are counted as dropped when it fails.
type BatchHandler interface {
	HandleBatch(ctx context.Context, batch []*models.Alert) (processed int, err error)
}

// BatchHandlerFunc lets a plain function serve as a BatchHandler.
type BatchHandlerFunc func(ctx context.Context, batch []*models.Alert) (int, error)

func (f BatchHandlerFunc) HandleBatch(ctx context.Context, batch []*models.Alert) (int, error) {
	return f(ctx, batch)
}

// Metrics is a snapshot of processor counters. Dropped counts both alerts
// refused by a full buffer and alerts a failing handler did not deliver.
type Metrics struct {
	TotalAlerts    int64
	TotalBatches   int64
	TotalProcessed int64
	TotalDropped   int64

	LastFlushTime     time.Time
	LastFlushDuration time.Duration
	LastBatchSize     int
}

// Config controls when batches are flushed.
type Config struct {
	// MaxBatchSize flushes a batch as soon as it holds this many alerts.
	MaxBatchSize int
	// MaxWaitTime flushes a non-empty batch on this interval.
	MaxWaitTime time.Duration
	// BufferSize is the capacity of the queue between Add and the batching loop.
	BufferSize int
	// FlushTimeout bounds one call to the handler.
	FlushTimeout time.Duration
	// DropOnFull makes Add fail fast with ErrBatchFull instead of blocking.
	DropOnFull bool

	Logger *zap.Logger
}

func DefaultConfig() *Config {
	return &Config{
		MaxBatchSize: 100,
		MaxWaitTime:  5 * time.Second,
		BufferSize:   10_000,
		FlushTimeout: 30 * time.Second,
		Logger:       logging.L(),
	}
}

func (c *Config) Validate() error {
	checks := []struct {
		field string
		value any
		ok    bool
	}{
		{"MaxBatchSize", c.MaxBatchSize, c.MaxBatchSize > 0},
		{"MaxWaitTime", c.MaxWaitTime, c.MaxWaitTime > 0},
		{"BufferSize", c.BufferSize, c.BufferSize > 0},
		{"FlushTimeout", c.FlushTimeout, c.FlushTimeout > 0},
	}
	for _, chk := range checks {
		if !chk.ok {
			return fxerrors.NewConfigValidationError(chk.field, chk.value, "must be positive")
		}
	}
	return nil
}

// Processor accumulates alerts and flushes them to a handler when either the batch
// size or time threshold is reached.
type Processor struct {
	config  *Config
	handler BatchHandler
	logger  *zap.Logger

	// sendMu orders Add against Close so nothing is sent on a closed channel
	sendMu  sync.RWMutex
	alertCh chan *models.Alert
	closed  atomic.Bool

	pendingMu sync.Mutex
	pending   []*models.Alert

	// ctx bounds in-flight flushes and is cancelled once the loop has exited
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	statsMu sync.Mutex
	stats   Metrics
}

// NewProcessor starts the batching loop. A nil cfg uses DefaultConfig.
func NewProcessor(cfg *Config, handler BatchHandler) (*Processor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fxerrors.NewConfigValidationError("handler", nil, "batch handler is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.L()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Processor{
		config:  cfg,
		handler: handler,
		logger:  logger.With(zap.String("component", "batch_processor")),
		alertCh: make(chan *models.Alert, cfg.BufferSize),
		pending: make([]*models.Alert, 0, cfg.MaxBatchSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	p.wg.Add(1)
	go p.run()

	p.logger.Debug("batching_alerts",
		logging.BatchSize(cfg.MaxBatchSize),
		zap.Duration("interval", cfg.MaxWaitTime),
		zap.Int("queue", cfg.BufferSize),
	)
	return p, nil
}

// Add queues an alert. With DropOnFull a full buffer drops the alert and
// returns ErrBatchFull; otherwise Add blocks until there is room.
func (p *Processor) Add(alert *models.Alert) error {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()

	if p.closed.Load() {
		return ErrProcessorClosed
	}
	if alert == nil {
		return nil
	}

	if !p.config.DropOnFull {
		p.alertCh <- alert
		p.record(func(m *Metrics) { m.TotalAlerts++ })
		return nil
	}

	select {
	case p.alertCh <- alert:
		p.record(func(m *Metrics) { m.TotalAlerts++ })
		return nil
	default:
		p.record(func(m *Metrics) { m.TotalDropped++ })
		p.logger.Warn("alert_dropped_buffer_full",
			logging.CurrencyPair(alert.CurrencyPair),
			logging.AlertKind(alert.Alert),
		)
		return ErrBatchFull
	}
}

// AddBatch queues alerts in order, stopping at the first error.
func (p *Processor) AddBatch(alerts []*models.Alert) error {
	for _, alert := range alerts {
		if err := p.Add(alert); err != nil {
			return err
		}
	}
	return nil
}

// Flush hands the pending batch to the handler now. Alerts still in the
// buffer are not included.
func (p *Processor) Flush(ctx context.Context) error {
	if p.closed.Load() {
		return ErrProcessorClosed
	}
	return p.flushBatch(ctx, p.take())
}

// Close stops accepting alerts, waits for the buffer to drain and flushes
// whatever is left. It returns the error of the final flush, if any.
func (p *Processor) Close() error {
	var closeErr error
	p.closeOnce.Do(func() {
		p.sendMu.Lock()
		p.closed.Store(true)
		close(p.alertCh)
		p.sendMu.Unlock()

		p.wg.Wait()
		p.cancel()

		if remaining := p.take(); len(remaining) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), p.config.FlushTimeout)
			closeErr = p.flushBatch(ctx, remaining)
			cancel()
			if closeErr != nil {
				p.logger.Error("final_flush_failed", zap.Error(closeErr))
			}
		}

		m := p.GetMetrics()
		p.logger.Info("batching_stopped",
			zap.Int64("total_alerts", m.TotalAlerts),
			zap.Int64("total_batches", m.TotalBatches),
			zap.Int64("total_processed", m.TotalProcessed),
			zap.Int64("total_dropped", m.TotalDropped),
		)
	})
	return closeErr
}

// GetMetrics returns a copy of the current metrics.
func (p *Processor) GetMetrics() Metrics {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

func (p *Processor) record(update func(*Metrics)) {
	p.statsMu.Lock()
	update(&p.stats)
	p.statsMu.Unlock()
}

// run moves alerts from the buffer into batches until the buffer is closed
// and empty.
func (p *Processor) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.MaxWaitTime)
	defer ticker.Stop()

	for {
		select {
		case alert, ok := <-p.alertCh:
			if !ok {
				return
			}
			if full := p.push(alert); full != nil {
				p.deliver(full, "size")
			}
		case <-ticker.C:
			if due := p.take(); len(due) > 0 {
				p.deliver(due, "interval")
			}
		}
	}
}

// push appends to the pending batch and returns it once it is full.
func (p *Processor) push(alert *models.Alert) []*models.Alert {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()

	p.pending = append(p.pending, alert)
	if len(p.pending) < p.config.MaxBatchSize {
		return nil
	}
	full := p.pending
	p.pending = make([]*models.Alert, 0, p.config.MaxBatchSize)
	return full
}

// take empties the pending batch.
func (p *Processor) take() []*models.Alert {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()

	batch := p.pending
	p.pending = make([]*models.Alert, 0, p.config.MaxBatchSize)
	return batch
}

func (p *Processor) deliver(batch []*models.Alert, trigger string) {
	ctx, cancel := context.WithTimeout(p.ctx, p.config.FlushTimeout)
	defer cancel()

	if err := p.flushBatch(ctx, batch); err != nil {
		p.logger.Error("batch_flush_failed", zap.String("trigger", trigger), zap.Error(err))
	}
}

// flushBatch hands batch to the handler and records the outcome.
func (p *Processor) flushBatch(ctx context.Context, batch []*models.Alert) error {
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	processed, err := p.handler.HandleBatch(ctx, batch)
	elapsed := time.Since(start)

	dropped := 0
	if err != nil {
		dropped = len(batch) - processed
	}
	p.record(func(m *Metrics) {
		m.TotalBatches++
		m.TotalProcessed += int64(processed)
		m.TotalDropped += int64(dropped)
		m.LastFlushTime = time.Now()
		m.LastFlushDuration = elapsed
		m.LastBatchSize = len(batch)
	})

	if err != nil {
		p.logger.Error("batch_handler_failed",
			logging.BatchSize(len(batch)),
			zap.Int("processed", processed),
			zap.Int("dropped", dropped),
			logging.Duration(elapsed),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrHandlerFailed, err)
	}

	p.logger.Debug("batch_flushed",
		logging.BatchSize(len(batch)),
		zap.Int("processed", processed),
		logging.Duration(elapsed),
	)
	return nil
}
