package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	fxerrors "fxalert/internal/errors"
	"fxalert/internal/parser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// countingSource records how many times Read was invoked.
type countingSource struct {
	lines []string
	reads int
}

func (s *countingSource) Read(ctx context.Context, out chan<- Line) error {
	s.reads++
	w := numberer{ch: out, source: "mem"}
	for _, text := range s.lines {
		if err := w.send(ctx, text); err != nil {
			return err
		}
	}
	return nil
}

func (s *countingSource) Name() string { return "mem" }
func (s *countingSource) Close() error { return nil }

func writeRates(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rates.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestCollect_PreservesOrder(t *testing.T) {
	var lines []string
	for i := 0; i < 1000; i++ {
		pair := "AUDNZD"
		if i%3 == 0 {
			pair = "CNYAUD"
		}
		lines = append(lines, `{"timestamp": `+strconv.Itoa(i+1)+`, "currencyPair": "`+pair+`", "rate": 1.5}`)
	}
	path := writeRates(t, strings.Join(lines, "\n"))

	reader := NewReader(NewFileSource(path, false, zap.NewNop()), nil)
	rates, err := Collect(context.Background(), reader)
	require.NoError(t, err)
	require.Len(t, rates, 1000)

	for i, r := range rates {
		assert.Equal(t, int64(i+1), r.Timestamp.Unix(), "rate %d out of order", i)
	}
	assert.Equal(t, ReadStats{Lines: 1000, Rates: 1000}, reader.Stats())
}

func TestCollect_EmptyInput(t *testing.T) {
	reader := NewReader(&countingSource{}, nil)
	rates, err := Collect(context.Background(), reader)
	require.NoError(t, err)
	assert.NotNil(t, rates)
	assert.Empty(t, rates)
}

func TestReader_ReadOnce(t *testing.T) {
	src := &countingSource{lines: []string{"1,AUDNZD,1"}}
	reader := NewReader(src, nil)

	rates, err := Collect(context.Background(), reader)
	require.NoError(t, err)
	assert.Len(t, rates, 1)
	assert.Equal(t, 1, src.reads)

	_, err = Collect(context.Background(), reader)
	assert.ErrorIs(t, err, ErrReaderConsumed)
	assert.Equal(t, 1, src.reads, "source must not be read twice")
}

func TestReader_BlankLinesIgnored(t *testing.T) {
	reader := NewReader(&countingSource{lines: []string{"", "1,AUDNZD,1", "   ", "timestamp,currencyPair,rate", "2,AUDNZD,2"}}, nil)

	rates, err := Collect(context.Background(), reader)
	require.NoError(t, err)
	assert.Len(t, rates, 2)
	assert.Equal(t, int64(0), reader.Stats().Skipped)
	assert.Equal(t, int64(5), reader.Stats().Lines)
}

func TestReader_StrictFailsOnMalformedLine(t *testing.T) {
	var lines []string
	for i := 0; i < 500; i++ {
		lines = append(lines, "1,AUDNZD,1")
	}
	lines[41] = "not a rate"
	reader := NewReader(&countingSource{lines: lines}, nil)

	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = Collect(context.Background(), reader)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Collect did not return after a malformed line")
	}

	require.Error(t, err)
	assert.ErrorIs(t, err, fxerrors.ErrIngestParseFailed)

	var fxErr *fxerrors.FxError
	require.True(t, errors.As(err, &fxErr))
	assert.Equal(t, 42, fxErr.Context["line_number"])
}

func TestReader_SkipInvalid(t *testing.T) {
	reader := NewReader(
		&countingSource{lines: []string{"1,AUDNZD,1", "garbage", `{"timestamp": 2, "rate": 1}`, "3,AUDNZD,1"}},
		nil,
		WithSkipInvalid(true),
		WithLogger(zap.NewNop()),
	)

	rates, err := Collect(context.Background(), reader)
	require.NoError(t, err)
	assert.Len(t, rates, 2)
	assert.Equal(t, ReadStats{Lines: 4, Rates: 2, Skipped: 2}, reader.Stats())
}

func TestReader_FormatRestriction(t *testing.T) {
	registry, err := parser.NewRegistryForFormat(parser.FormatJSON)
	require.NoError(t, err)

	reader := NewReader(&countingSource{lines: []string{"1,AUDNZD,1"}}, parser.NewMapper(registry))
	_, err = Collect(context.Background(), reader)
	assert.ErrorIs(t, err, fxerrors.ErrIngestParseFailed)
}

func TestReader_MissingFile(t *testing.T) {
	reader := NewReader(NewFileSource(filepath.Join(t.TempDir(), "nope.jsonl"), false, zap.NewNop()), nil)

	rates, err := Collect(context.Background(), reader)
	assert.Nil(t, rates)
	assert.ErrorIs(t, err, fxerrors.ErrIngestFileNotFound)
	assert.True(t, strings.HasSuffix(reader.Name(), "nope.jsonl"))
}

func TestReader_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var lines []string
	for i := 0; i < 1000; i++ {
		lines = append(lines, "1,AUDNZD,1")
	}
	_, err := Collect(ctx, NewReader(&countingSource{lines: lines}, nil))
	assert.ErrorIs(t, err, context.Canceled)
}
