package alerting

import (
	"context"

	fxerrors "fxalert/internal/errors"
	"fxalert/internal/models"
)

// EmitFunc receives every alert in the order it was raised. A non-nil error
// stops processing.
type EmitFunc func(alert *models.Alert) error

// Stats summarizes an engine run.
type Stats struct {
	Rates  int64
	Pairs  int
	Alerts map[string]int64
}

// TotalAlerts sums alerts of every kind.
func (s Stats) TotalAlerts() int64 {
	var total int64
	for _, n := range s.Alerts {
		total += n
	}
	return total
}

type alerterKey struct {
	index int
	pair  string
}

// Engine keeps the rolling windows and per-pair alerter clones. It is not
// safe for concurrent use.
type Engine struct {
	alerters  []Alerter
	emit      EmitFunc
	maxWindow int

	windows map[string][]*models.Rate
	running map[alerterKey]Alerter

	rates  int64
	alerts map[string]int64
}

// NewEngine creates an engine. alerters must not be empty.
func NewEngine(alerters []Alerter, emit EmitFunc) (*Engine, error) {
	if len(alerters) == 0 {
		return nil, fxerrors.NewProcessNoAlertersError()
	}
	if emit == nil {
		emit = func(*models.Alert) error { return nil }
	}

	maxWindow := 1
	for _, a := range alerters {
		if a.RequiredPeriods() > maxWindow {
			maxWindow = a.RequiredPeriods()
		}
	}

	return &Engine{
		alerters:  alerters,
		emit:      emit,
		maxWindow: maxWindow,
		windows:   make(map[string][]*models.Rate),
		running:   make(map[alerterKey]Alerter),
		alerts:    make(map[string]int64),
	}, nil
}

// MaxWindow is the number of rates retained per pair.
func (e *Engine) MaxWindow() int {
	return e.maxWindow
}

// Observe appends a rate to its pair's window and runs every alerter that
// has enough periods, in configured order.
func (e *Engine) Observe(rate *models.Rate) error {
	if rate == nil {
		return nil
	}
	e.rates++

	window := append(e.windows[rate.CurrencyPair], rate)
	if len(window) > e.maxWindow {
		window = append(window[:0], window[len(window)-e.maxWindow:]...)
	}
	e.windows[rate.CurrencyPair] = window

	for i, proto := range e.alerters {
		required := proto.RequiredPeriods()
		if len(window) < required {
			continue
		}

		key := alerterKey{index: i, pair: rate.CurrencyPair}
		alerter, ok := e.running[key]
		if !ok {
			alerter = proto.Clone()
			e.running[key] = alerter
		}

		alert := alerter.Check(rate.CurrencyPair, window[len(window)-required:])
		if alert == nil {
			continue
		}
		e.alerts[alert.Alert]++
		if err := e.emit(alert); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns counters for the rates observed so far.
func (e *Engine) Stats() Stats {
	alerts := make(map[string]int64, len(e.alerts))
	for k, v := range e.alerts {
		alerts[k] = v
	}
	return Stats{
		Rates:  e.rates,
		Pairs:  len(e.windows),
		Alerts: alerts,
	}
}

// Process runs alerters over rates in order and passes alerts to emit.
func Process(ctx context.Context, rates []*models.Rate, alerters []Alerter, emit EmitFunc) (Stats, error) {
	engine, err := NewEngine(alerters, emit)
	if err != nil {
		return Stats{}, err
	}
	for i, rate := range rates {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return engine.Stats(), err
			}
		}
		if err := engine.Observe(rate); err != nil {
			return engine.Stats(), err
		}
	}
	return engine.Stats(), nil
}
