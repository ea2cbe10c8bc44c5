// Package models defines the core data structures used across fxalert.
package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Alert kinds.
const (
	AlertSpotChange = "spotChange"
	AlertRising     = "rising"
	AlertFalling    = "falling"
)

// Rate is a single currency conversion rate (spot price) read from one input line.
//
//	{"timestamp": 1554933784.023, "currencyPair": "CNYAUD", "rate": 0.39281}
type Rate struct {
	// Timestamp of the quote
	Timestamp time.Time

	// CurrencyPair identifies the quoted pair, e.g. CNYAUD
	CurrencyPair string

	// Rate is the spot price
	Rate float64
}

type rateJSON struct {
	Timestamp    json.RawMessage `json:"timestamp"`
	CurrencyPair *string         `json:"currencyPair"`
	Rate         *float64        `json:"rate"`
}

// MarshalJSON writes the timestamp as decimal epoch seconds.
func (r Rate) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Timestamp    json.Number `json:"timestamp"`
		CurrencyPair string      `json:"currencyPair"`
		Rate         float64     `json:"rate"`
	}{
		Timestamp:    json.Number(FormatEpochSeconds(r.Timestamp)),
		CurrencyPair: r.CurrencyPair,
		Rate:         r.Rate,
	})
}

// UnmarshalJSON requires all three fields to be present.
func (r *Rate) UnmarshalJSON(data []byte) error {
	var raw rateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.CurrencyPair == nil {
		return fmt.Errorf("missing currencyPair")
	}
	if raw.Rate == nil {
		return fmt.Errorf("missing rate")
	}
	ts, err := decodeTimestamp(raw.Timestamp)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}

	r.Timestamp = ts
	r.CurrencyPair = *raw.CurrencyPair
	r.Rate = *raw.Rate
	return nil
}

// Validate reports whether the rate can be fed to an alerter.
func (r *Rate) Validate() error {
	if r.CurrencyPair == "" {
		return fmt.Errorf("currency pair is empty")
	}
	if math.IsNaN(r.Rate) || math.IsInf(r.Rate, 0) {
		return fmt.Errorf("rate %v is not finite", r.Rate)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is zero")
	}
	return nil
}

// ToJSON serializes the Rate to JSON bytes.
func (r *Rate) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// RateFromJSON deserializes a Rate from JSON bytes.
func RateFromJSON(data []byte) (*Rate, error) {
	var rate Rate
	if err := json.Unmarshal(data, &rate); err != nil {
		return nil, err
	}
	return &rate, nil
}

// Alert is emitted by an alerter for a currency pair.
type Alert struct {
	// Timestamp of the rate that triggered the alert
	Timestamp time.Time

	// CurrencyPair the alert applies to
	CurrencyPair string

	// Alert is the kind: spotChange, rising or falling
	Alert string

	// Seconds is the trend length for rising/falling alerts
	Seconds *int64
}

// NewAlert builds an alert without a duration.
func NewAlert(ts time.Time, pair, kind string) *Alert {
	return &Alert{Timestamp: ts, CurrencyPair: pair, Alert: kind}
}

// NewTrendAlert builds an alert that reports a trend length in seconds.
func NewTrendAlert(ts time.Time, pair, kind string, seconds int64) *Alert {
	return &Alert{Timestamp: ts, CurrencyPair: pair, Alert: kind, Seconds: &seconds}
}

type alertJSON struct {
	Timestamp    json.RawMessage `json:"timestamp"`
	CurrencyPair string          `json:"currencyPair"`
	Alert        string          `json:"alert"`
	Seconds      *int64          `json:"seconds,omitempty"`
}

// MarshalJSON writes the alert as a single JSON object; seconds is omitted when nil.
func (a Alert) MarshalJSON() ([]byte, error) {
	return json.Marshal(alertJSON{
		Timestamp:    json.RawMessage(FormatEpochSeconds(a.Timestamp)),
		CurrencyPair: a.CurrencyPair,
		Alert:        a.Alert,
		Seconds:      a.Seconds,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (a *Alert) UnmarshalJSON(data []byte) error {
	var raw alertJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := decodeTimestamp(raw.Timestamp)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	a.Timestamp = ts
	a.CurrencyPair = raw.CurrencyPair
	a.Alert = raw.Alert
	a.Seconds = raw.Seconds
	return nil
}

// ToJSON serializes the Alert to JSON bytes.
func (a *Alert) ToJSON() ([]byte, error) {
	return json.Marshal(a)
}

// AlertFromJSON deserializes an Alert from JSON bytes.
func AlertFromJSON(data []byte) (*Alert, error) {
	var alert Alert
	if err := json.Unmarshal(data, &alert); err != nil {
		return nil, err
	}
	return &alert, nil
}

// String renders the alert for log lines.
func (a *Alert) String() string {
	if a.Seconds != nil {
		return fmt.Sprintf("%s %s %s (%ds)", a.Timestamp.UTC().Format(time.RFC3339Nano), a.CurrencyPair, a.Alert, *a.Seconds)
	}
	return fmt.Sprintf("%s %s %s", a.Timestamp.UTC().Format(time.RFC3339Nano), a.CurrencyPair, a.Alert)
}
