package sink

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"fxalert/internal/batch"
	"fxalert/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var ts = time.Unix(1554933784, 23_000_000)

type failingSink struct {
	emits    int
	closeErr error
}

func (f *failingSink) Name() string { return "failing" }
func (f *failingSink) Emit(context.Context, *models.Alert) error {
	f.emits++
	return errors.New("disk full")
}
func (f *failingSink) Close() error { return f.closeErr }

func TestWriterSink_Emit(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink("buffer", &buf)

	require.NoError(t, s.Emit(context.Background(), models.NewAlert(ts, "CNYAUD", models.AlertSpotChange)))
	require.NoError(t, s.Emit(context.Background(), models.NewTrendAlert(ts, "AUDNZD", models.AlertRising, 900)))
	require.NoError(t, s.Close())

	assert.Equal(t,
		`{"timestamp":1554933784.023000000,"currencyPair":"CNYAUD","alert":"spotChange"}`+"\n"+
			`{"timestamp":1554933784.023000000,"currencyPair":"AUDNZD","alert":"rising","seconds":900}`+"\n",
		buf.String())
	assert.Equal(t, "buffer", s.Name())
}

func TestNewStdoutSink(t *testing.T) {
	s := NewStdoutSink()
	assert.Equal(t, "stdout", s.Name())
	assert.NoError(t, s.Close())
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "alerts.jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("stale\n"), 0644))

	s, err := NewFileSink(path)
	require.NoError(t, err)
	require.NoError(t, s.Emit(context.Background(), models.NewAlert(ts, "CNYAUD", models.AlertSpotChange)))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1, "existing content is truncated")
	assert.Contains(t, lines[0], `"currencyPair":"CNYAUD"`)
	assert.True(t, strings.HasPrefix(s.Name(), "file:"))
}

func TestFileSink_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "alerts.jsonl")
	s, err := NewFileSink(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.FileExists(t, path)
}

func TestMulti(t *testing.T) {
	var a, b bytes.Buffer
	failing := &failingSink{closeErr: errors.New("close failed")}
	m := NewMulti(NewWriterSink("a", &a), failing, NewWriterSink("b", &b))

	err := m.Emit(context.Background(), models.NewAlert(ts, "CNYAUD", models.AlertSpotChange))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing: disk full")

	// every sink was attempted
	assert.Equal(t, 1, failing.emits)
	assert.NotEmpty(t, a.String())
	assert.Equal(t, a.String(), b.String())

	err = m.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close failed")
	assert.Equal(t, "multi", m.Name())
}

func TestBatchSink(t *testing.T) {
	var mu sync.Mutex
	var got []*models.Alert
	handler := batch.BatchHandlerFunc(func(_ context.Context, alerts []*models.Alert) (int, error) {
		mu.Lock()
		got = append(got, alerts...)
		mu.Unlock()
		return len(alerts), nil
	})

	proc, err := batch.NewProcessor(&batch.Config{
		MaxBatchSize: 2,
		MaxWaitTime:  time.Second,
		BufferSize:   10,
		FlushTimeout: time.Second,
		Logger:       zap.NewNop(),
	}, handler)
	require.NoError(t, err)

	s := NewBatchSink("collector", proc)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Emit(context.Background(), models.NewAlert(ts.Add(time.Duration(i)*time.Second), "CNYAUD", models.AlertSpotChange)))
	}
	require.NoError(t, s.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	for i, a := range got {
		assert.True(t, ts.Add(time.Duration(i)*time.Second).Equal(a.Timestamp))
	}
	assert.Equal(t, int64(3), s.Metrics().TotalProcessed)
	assert.Equal(t, "collector", s.Name())

	assert.ErrorIs(t, s.Emit(context.Background(), models.NewAlert(ts, "X", models.AlertRising)), batch.ErrProcessorClosed)
}
