package alerting

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	fxerrors "fxalert/internal/errors"
	"fxalert/internal/models"
	"fxalert/internal/sink"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type brokenSink struct{}

func (brokenSink) Name() string                                { return "broken" }
func (brokenSink) Emit(context.Context, *models.Alert) error { return errors.New("pipe closed") }
func (brokenSink) Close() error                                { return nil }

func TestProcessor_Start(t *testing.T) {
	var buf bytes.Buffer
	p := NewProcessor([]Alerter{NewTrendingAlerter(5, 60)}, sink.NewWriterSink("buffer", &buf), zap.NewNop())

	stats, err := p.Start(context.Background(), linear("AUDNZD", 6, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(6), stats.Rates)

	assert.Equal(t,
		`{"timestamp":946684806.000000000,"currencyPair":"AUDNZD","alert":"rising","seconds":5}`+"\n",
		buf.String())
}

func TestProcessor_StartDefaults(t *testing.T) {
	var buf bytes.Buffer
	p := NewProcessor(nil, sink.NewWriterSink("buffer", &buf), zap.NewNop())
	require.Len(t, p.alerters, 2)

	// 20 minutes of a steady climb: no spot change, trend alerts from 900s
	rates := make([]*models.Rate, 1200)
	for i := range rates {
		rates[i] = rate("CNYAUD", float64(i), 1+float64(i)*0.0001)
	}

	stats, err := p.Start(context.Background(), rates)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Alerts[models.AlertSpotChange])

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	alert, err := models.AlertFromJSON([]byte(lines[0]))
	require.NoError(t, err)
	assert.Equal(t, models.AlertRising, alert.Alert)
	assert.Equal(t, int64(900), *alert.Seconds)
	assert.True(t, at(900).Equal(alert.Timestamp))
}

func TestProcessor_StartSinkError(t *testing.T) {
	p := NewProcessor([]Alerter{NewTrendingAlerter(1, 0)}, brokenSink{}, zap.NewNop())

	_, err := p.Start(context.Background(), linear("X", 3, 1, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, fxerrors.ErrProcessEmitFailed)
	assert.Equal(t, fxerrors.ErrCodeProcessEmitFailed, fxerrors.GetErrorCode(err))
	assert.Contains(t, err.Error(), "broken")
}

func TestProcessor_StartNoAlerters(t *testing.T) {
	p := NewProcessor([]Alerter{}, sink.NewWriterSink("buffer", &bytes.Buffer{}), zap.NewNop())
	_, err := p.Start(context.Background(), linear("X", 3, 1, 1))
	assert.ErrorIs(t, err, ErrNoAlerters)
}

func TestProcessor_Stream(t *testing.T) {
	var buf bytes.Buffer
	p := NewProcessor([]Alerter{NewMovingAverageAlerter(4, 5)}, sink.NewWriterSink("buffer", &buf), zap.NewNop())

	rates := make(chan *models.Rate)
	go func() {
		defer close(rates)
		for _, r := range linear("CNYAUD", 5, 1, 1) {
			rates <- r
		}
	}()

	stats, err := p.Stream(context.Background(), rates)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Rates)
	assert.Equal(t, `{"timestamp":946684805.000000000,"currencyPair":"CNYAUD","alert":"spotChange"}`+"\n", buf.String())
}

func TestProcessor_StreamCancelled(t *testing.T) {
	p := NewProcessor(DefaultAlerters(), sink.NewWriterSink("buffer", &bytes.Buffer{}), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	rates := make(chan *models.Rate)

	done := make(chan error, 1)
	go func() {
		_, err := p.Stream(ctx, rates)
		done <- err
	}()

	rates <- rate("X", 1, 1)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Stream did not return after cancel")
	}
}
