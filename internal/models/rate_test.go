package models

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEpochSeconds(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{
			name:  "millisecond fraction is exact",
			input: "1554933784.023",
			want:  time.Unix(1554933784, 23_000_000).UTC(),
		},
		{
			name:  "whole seconds",
			input: "946684800",
			want:  time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "nanosecond fraction",
			input: "1.000000001",
			want:  time.Unix(1, 1).UTC(),
		},
		{
			name:  "digits past nanoseconds are dropped",
			input: "1.0000000019",
			want:  time.Unix(1, 1).UTC(),
		},
		{
			name:  "negative value",
			input: "-1.5",
			want:  time.Unix(-2, 500_000_000).UTC(),
		},
		{
			name:  "exponent notation",
			input: "1.5e3",
			want:  time.Unix(1500, 0).UTC(),
		},
		{name: "empty", input: "", wantErr: true},
		{name: "letters", input: "abc", wantErr: true},
		{name: "bad fraction", input: "12.3x", wantErr: true},
		{name: "lone dot", input: ".", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEpochSeconds(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
		})
	}
}

func TestFormatEpochSeconds(t *testing.T) {
	assert.Equal(t, "1554933784.023000000", FormatEpochSeconds(time.Unix(1554933784, 23_000_000)))
	assert.Equal(t, "0.000000000", FormatEpochSeconds(time.Unix(0, 0)))
	assert.Equal(t, "-1.500000000", FormatEpochSeconds(time.Unix(-2, 500_000_000)))
	assert.Equal(t, "-3.000000000", FormatEpochSeconds(time.Unix(-3, 0)))
}

func TestRate_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Rate
		wantErr string
	}{
		{
			name:  "epoch seconds",
			input: `{ "timestamp": 1554933784.023, "currencyPair": "CNYAUD", "rate": 0.39281 }`,
			want: Rate{
				Timestamp:    time.Unix(1554933784, 23_000_000).UTC(),
				CurrencyPair: "CNYAUD",
				Rate:         0.39281,
			},
		},
		{
			name:  "rfc3339 string",
			input: `{"timestamp": "2019-04-10T22:03:04.023Z", "currencyPair": "AUDNZD", "rate": 1.05}`,
			want: Rate{
				Timestamp:    time.Date(2019, 4, 10, 22, 3, 4, 23_000_000, time.UTC),
				CurrencyPair: "AUDNZD",
				Rate:         1.05,
			},
		},
		{
			name:  "epoch seconds as string",
			input: `{"timestamp": "946684801", "currencyPair": "AUDNZD", "rate": 2}`,
			want: Rate{
				Timestamp:    time.Date(2000, 1, 1, 0, 0, 1, 0, time.UTC),
				CurrencyPair: "AUDNZD",
				Rate:         2,
			},
		},
		{
			name:  "unknown fields ignored",
			input: `{"timestamp": 1, "currencyPair": "X", "rate": 1, "venue": "LDN"}`,
			want:  Rate{Timestamp: time.Unix(1, 0).UTC(), CurrencyPair: "X", Rate: 1},
		},
		{
			name:    "missing rate",
			input:   `{"timestamp": 1, "currencyPair": "CNYAUD"}`,
			wantErr: "missing rate",
		},
		{
			name:    "missing pair",
			input:   `{"timestamp": 1, "rate": 1}`,
			wantErr: "missing currencyPair",
		},
		{
			name:    "missing timestamp",
			input:   `{"currencyPair": "CNYAUD", "rate": 1}`,
			wantErr: "missing timestamp",
		},
		{
			name:    "null timestamp",
			input:   `{"timestamp": null, "currencyPair": "CNYAUD", "rate": 1}`,
			wantErr: "missing timestamp",
		},
		{
			name:    "not json",
			input:   `timestamp=1`,
			wantErr: "invalid character",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RateFromJSON([]byte(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Timestamp.Equal(got.Timestamp), "timestamp %v, want %v", got.Timestamp, tt.want.Timestamp)
			assert.Equal(t, tt.want.CurrencyPair, got.CurrencyPair)
			assert.Equal(t, tt.want.Rate, got.Rate)
		})
	}
}

func TestRate_ToJSON(t *testing.T) {
	r := &Rate{
		Timestamp:    time.Unix(1554933784, 23_000_000),
		CurrencyPair: "CNYAUD",
		Rate:         0.39281,
	}
	data, err := r.ToJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"timestamp":1554933784.023,"currencyPair":"CNYAUD","rate":0.39281}`, string(data))

	back, err := RateFromJSON(data)
	require.NoError(t, err)
	assert.True(t, r.Timestamp.Equal(back.Timestamp))
}

func TestRate_Validate(t *testing.T) {
	ts := time.Unix(1, 0)
	tests := []struct {
		name    string
		rate    Rate
		wantErr bool
	}{
		{"valid", Rate{Timestamp: ts, CurrencyPair: "AUDNZD", Rate: 1.1}, false},
		{"zero rate is valid", Rate{Timestamp: ts, CurrencyPair: "AUDNZD", Rate: 0}, false},
		{"empty pair", Rate{Timestamp: ts, Rate: 1}, true},
		{"nan", Rate{Timestamp: ts, CurrencyPair: "AUDNZD", Rate: math.NaN()}, true},
		{"inf", Rate{Timestamp: ts, CurrencyPair: "AUDNZD", Rate: math.Inf(1)}, true},
		{"zero time", Rate{CurrencyPair: "AUDNZD", Rate: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rate.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAlert_ToJSON(t *testing.T) {
	ts := time.Unix(1554933784, 23_000_000)

	tests := []struct {
		name  string
		alert *Alert
		want  string
	}{
		{
			name:  "spot change omits seconds",
			alert: NewAlert(ts, "CNYAUD", AlertSpotChange),
			want:  `{"timestamp":1554933784.023000000,"currencyPair":"CNYAUD","alert":"spotChange"}`,
		},
		{
			name:  "trend carries seconds",
			alert: NewTrendAlert(ts, "AUDNZD", AlertRising, 900),
			want:  `{"timestamp":1554933784.023000000,"currencyPair":"AUDNZD","alert":"rising","seconds":900}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.alert.ToJSON()
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestAlertFromJSON(t *testing.T) {
	data := []byte(`{"timestamp":946684806.000000000,"currencyPair":"AUDNZD","alert":"falling","seconds":5}`)

	alert, err := AlertFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, "AUDNZD", alert.CurrencyPair)
	assert.Equal(t, AlertFalling, alert.Alert)
	require.NotNil(t, alert.Seconds)
	assert.Equal(t, int64(5), *alert.Seconds)
	assert.True(t, time.Date(2000, 1, 1, 0, 0, 6, 0, time.UTC).Equal(alert.Timestamp))

	_, err = AlertFromJSON([]byte(`{"currencyPair":"AUDNZD"}`))
	assert.Error(t, err)
}

func TestAlert_String(t *testing.T) {
	ts := time.Date(2000, 1, 1, 0, 0, 6, 0, time.UTC)
	assert.Equal(t, "2000-01-01T00:00:06Z AUDNZD spotChange", NewAlert(ts, "AUDNZD", AlertSpotChange).String())
	assert.Equal(t, "2000-01-01T00:00:06Z AUDNZD rising (5s)", NewTrendAlert(ts, "AUDNZD", AlertRising, 5).String())

	// marshal through a slice to make sure the value receiver is used
	out, err := json.Marshal([]Alert{*NewAlert(ts, "X", AlertRising)})
	require.NoError(t, err)
	assert.Equal(t, `[{"timestamp":946684806.000000000,"currencyPair":"X","alert":"rising"}]`, string(out))
}
