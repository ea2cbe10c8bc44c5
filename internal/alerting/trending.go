package alerting

import (
	"fmt"
	"time"

	"fxalert/internal/models"
)

// TrendingAlerter raises rising or falling when a pair has moved in one
// direction for at least the minimum trend length. Alerts are throttled to
// one per throttle period. It keeps state, so each pair needs its own clone.
type TrendingAlerter struct {
	minimumTrend time.Duration
	throttle     time.Duration

	last      *models.Rate
	trending  bool
	up        bool
	start     time.Time
	alerted   bool
	lastAlert time.Time
}

// NewTrendingAlerter alerts after minimumTrendSeconds of movement, at most
// once every throttleSeconds.
func NewTrendingAlerter(minimumTrendSeconds, throttleSeconds int64) *TrendingAlerter {
	return &TrendingAlerter{
		minimumTrend: time.Duration(minimumTrendSeconds) * time.Second,
		throttle:     time.Duration(throttleSeconds) * time.Second,
	}
}

// Name returns the alerter name.
func (a *TrendingAlerter) Name() string {
	return fmt.Sprintf("trending(%s,%s)", a.minimumTrend, a.throttle)
}

// RequiredPeriods is one; history is kept in the alerter itself.
func (a *TrendingAlerter) RequiredPeriods() int {
	return 1
}

// Check feeds the latest rate of the window into the trend state.
func (a *TrendingAlerter) Check(pair string, window []*models.Rate) *models.Alert {
	if len(window) == 0 {
		return nil
	}
	current := window[len(window)-1]

	if a.last == nil || current.Rate == a.last.Rate {
		a.last = current
		return nil
	}

	up := current.Rate > a.last.Rate
	if !a.trending || up != a.up {
		a.trending = true
		a.up = up
		a.start = a.last.Timestamp
	}
	a.last = current

	length := wholeSeconds(current.Timestamp.Sub(a.start))
	if length < wholeSeconds(a.minimumTrend) {
		return nil
	}
	if a.alerted && wholeSeconds(current.Timestamp.Sub(a.lastAlert)) < wholeSeconds(a.throttle) {
		return nil
	}

	a.alerted = true
	a.lastAlert = current.Timestamp

	kind := models.AlertFalling
	if a.up {
		kind = models.AlertRising
	}
	return models.NewTrendAlert(current.Timestamp, pair, kind, length)
}

// Clone returns a new alerter with the same settings and no history.
func (a *TrendingAlerter) Clone() Alerter {
	return &TrendingAlerter{minimumTrend: a.minimumTrend, throttle: a.throttle}
}

// wholeSeconds truncates toward negative infinity.
func wholeSeconds(d time.Duration) int64 {
	s := int64(d / time.Second)
	if d < 0 && d%time.Second != 0 {
		s--
	}
	return s
}
