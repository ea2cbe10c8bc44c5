package alerting

import (
	"context"
	"time"

	fxerrors "fxalert/internal/errors"
	"fxalert/internal/logging"
	"fxalert/internal/models"
	"fxalert/internal/sink"

	"go.uber.org/zap"
)

// Processor runs a fixed set of alerters and sends alerts to a sink.
type Processor struct {
	alerters []Alerter
	sink     sink.Sink
	logger   *zap.Logger
}

// NewProcessor creates a processor. A nil alerter list selects
// DefaultAlerters and a nil sink writes to stdout.
func NewProcessor(alerters []Alerter, out sink.Sink, logger *zap.Logger) *Processor {
	if alerters == nil {
		alerters = DefaultAlerters()
	}
	if out == nil {
		out = sink.NewStdoutSink()
	}
	if logger == nil {
		logger = logging.L()
	}
	return &Processor{
		alerters: alerters,
		sink:     out,
		logger:   logger.With(zap.String("component", "alert_processor")),
	}
}

// Start processes a materialized list of rates in order.
func (p *Processor) Start(ctx context.Context, rates []*models.Rate) (Stats, error) {
	start := time.Now()
	p.logStart(len(rates))

	stats, err := Process(ctx, rates, p.alerters, p.emitter(ctx))
	p.logDone(stats, time.Since(start), err)
	return stats, err
}

// Stream processes rates as they arrive until the channel is closed or the
// context is cancelled.
func (p *Processor) Stream(ctx context.Context, rates <-chan *models.Rate) (Stats, error) {
	start := time.Now()
	p.logStart(-1)

	engine, err := NewEngine(p.alerters, p.emitter(ctx))
	if err != nil {
		return Stats{}, err
	}

	for {
		select {
		case <-ctx.Done():
			stats := engine.Stats()
			p.logDone(stats, time.Since(start), ctx.Err())
			return stats, ctx.Err()
		case rate, ok := <-rates:
			if !ok {
				stats := engine.Stats()
				p.logDone(stats, time.Since(start), nil)
				return stats, nil
			}
			if err := engine.Observe(rate); err != nil {
				stats := engine.Stats()
				p.logDone(stats, time.Since(start), err)
				return stats, err
			}
		}
	}
}

func (p *Processor) emitter(ctx context.Context) EmitFunc {
	return func(alert *models.Alert) error {
		p.logger.Debug("alert_emitted",
			logging.CurrencyPair(alert.CurrencyPair),
			logging.AlertKind(alert.Alert),
		)
		if err := p.sink.Emit(ctx, alert); err != nil {
			return fxerrors.NewProcessEmitError(p.sink.Name(), err)
		}
		return nil
	}
}

func (p *Processor) logStart(n int) {
	names := make([]string, 0, len(p.alerters))
	for _, a := range p.alerters {
		names = append(names, a.Name())
	}
	fields := []zap.Field{zap.Strings("alerters", names), zap.String("sink", p.sink.Name())}
	if n >= 0 {
		fields = append(fields, zap.Int("rates", n))
	}
	p.logger.Info("processing_started", fields...)
}

func (p *Processor) logDone(stats Stats, d time.Duration, err error) {
	fields := []zap.Field{
		zap.Int64("rates", stats.Rates),
		zap.Int("pairs", stats.Pairs),
		zap.Int64("alerts", stats.TotalAlerts()),
		logging.Duration(d),
	}
	if err != nil {
		p.logger.Error("processing_failed", append(fields,
			logging.ErrorCode(string(fxerrors.GetErrorCode(err))),
			zap.Error(err))...)
		return
	}
	p.logger.Info("processing_completed", fields...)
}
