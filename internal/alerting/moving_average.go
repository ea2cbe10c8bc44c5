package alerting

import (
	"fmt"
	"math"

	"fxalert/internal/models"
)

// MovingAverageAlerter raises spotChange when the latest rate differs from
// the average of the preceding periods by at least the threshold.
//
// The difference is relative to the midpoint of the two values:
//
//	|avg - last| / ((avg + last) / 2) >= threshold / 100
type MovingAverageAlerter struct {
	periods          int
	thresholdPercent float64
}

// NewMovingAverageAlerter averages periods rates and alerts at thresholdPercent.
func NewMovingAverageAlerter(periods int, thresholdPercent float64) *MovingAverageAlerter {
	if periods < 1 {
		periods = 1
	}
	return &MovingAverageAlerter{periods: periods, thresholdPercent: thresholdPercent}
}

// Name returns the alerter name.
func (a *MovingAverageAlerter) Name() string {
	return fmt.Sprintf("moving_average(%d,%g%%)", a.periods, a.thresholdPercent)
}

// RequiredPeriods is the averaged periods plus the tested one.
func (a *MovingAverageAlerter) RequiredPeriods() int {
	return a.periods + 1
}

// Check compares the last rate of the window with the average of the rest.
func (a *MovingAverageAlerter) Check(pair string, window []*models.Rate) *models.Alert {
	if len(window) < a.RequiredPeriods() {
		return nil
	}
	window = window[len(window)-a.RequiredPeriods():]

	var sum float64
	for _, r := range window[:a.periods] {
		sum += r.Rate
	}
	avg := sum / float64(a.periods)
	latest := window[a.periods]

	mid := (avg + latest.Rate) / 2
	if mid == 0 {
		return nil
	}
	diff := math.Abs((avg - latest.Rate) / mid)

	if diff >= a.thresholdPercent/100 {
		return models.NewAlert(latest.Timestamp, pair, models.AlertSpotChange)
	}
	return nil
}

// Clone returns a copy; the alerter is stateless.
func (a *MovingAverageAlerter) Clone() Alerter {
	return NewMovingAverageAlerter(a.periods, a.thresholdPercent)
}
