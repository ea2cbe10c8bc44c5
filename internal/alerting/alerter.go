// Package alerting runs alerters over per-currency-pair rate windows.
//
// An Engine keeps a rolling window of the most recent rates for every pair,
// bounded by the largest RequiredPeriods of its alerters. Each alerter is
// cloned once per pair so stateful alerters never see another pair's rates.
package alerting

import (
	"fxalert/internal/config"
	fxerrors "fxalert/internal/errors"
	"fxalert/internal/models"
)

// ErrNoAlerters is returned when an engine is built with an empty alerter list.
var ErrNoAlerters = fxerrors.ErrProcessNoAlerters

// Alerter inspects the latest rates of one currency pair.
type Alerter interface {
	// Name identifies the alerter in logs and stats.
	Name() string

	// RequiredPeriods is the window length the alerter needs. Check is only
	// called once the pair has this many rates.
	RequiredPeriods() int

	// Check returns an alert for the window, or nil. The window holds exactly
	// RequiredPeriods rates, oldest first.
	Check(pair string, window []*models.Rate) *models.Alert

	// Clone returns a fresh alerter with the same parameters and no state.
	Clone() Alerter
}

// DefaultAlerters returns the stock alerters: a 300 period moving average
// with a 10% threshold and a 900 second trend throttled to once a minute.
func DefaultAlerters() []Alerter {
	return []Alerter{
		NewMovingAverageAlerter(300, 10),
		NewTrendingAlerter(900, 60),
	}
}

// FromConfig builds the enabled alerters in run order.
func FromConfig(cfg config.AlertersConfig) ([]Alerter, error) {
	var alerters []Alerter
	if cfg.MovingAverage.Enabled {
		alerters = append(alerters, NewMovingAverageAlerter(cfg.MovingAverage.Periods, cfg.MovingAverage.ThresholdPercent))
	}
	if cfg.Trending.Enabled {
		alerters = append(alerters, NewTrendingAlerter(cfg.Trending.MinimumTrendSeconds, cfg.Trending.ThrottleSeconds))
	}
	if len(alerters) == 0 {
		return nil, fxerrors.NewProcessNoAlertersError()
	}
	return alerters, nil
}
