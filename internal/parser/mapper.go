package parser

import (
	"errors"
	"strings"

	fxerrors "fxalert/internal/errors"
	"fxalert/internal/models"
)

// Mapper converts raw lines to rates and alerts to output lines.
type Mapper struct {
	registry *Registry
}

// NewMapper creates a mapper backed by the given registry. A nil registry
// auto-detects JSON and CSV.
func NewMapper(registry *Registry) *Mapper {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Mapper{registry: registry}
}

// Map parses one line. lineNum is 1-based and only used for error context.
// Blank lines and headers return ErrSkipLine.
func (m *Mapper) Map(line string, lineNum int) (*models.Rate, error) {
	rate, err := m.registry.Parse(line)
	if err != nil {
		if errors.Is(err, ErrSkipLine) {
			return nil, ErrSkipLine
		}
		return nil, fxerrors.NewIngestParseError(line, lineNum, err.Error())
	}
	if err := rate.Validate(); err != nil {
		return nil, fxerrors.NewIngestParseError(line, lineNum, err.Error())
	}
	return rate, nil
}

// Read maps every line in order and stops at the first malformed one.
func (m *Mapper) Read(lines []string) ([]*models.Rate, error) {
	rates := make([]*models.Rate, 0, len(lines))
	for i, line := range lines {
		rate, err := m.Map(line, i+1)
		if errors.Is(err, ErrSkipLine) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rates = append(rates, rate)
	}
	return rates, nil
}

// ReadMultiple is Read for chunks that may each hold several newline
// separated records.
func (m *Mapper) ReadMultiple(chunks []string) ([]*models.Rate, error) {
	var lines []string
	for _, chunk := range chunks {
		lines = append(lines, strings.Split(strings.TrimRight(chunk, "\r\n"), "\n")...)
	}
	for i := range lines {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}
	return m.Read(lines)
}

// Write renders an alert as one JSON line without the trailing newline.
func (m *Mapper) Write(alert *models.Alert) (string, error) {
	data, err := alert.ToJSON()
	if err != nil {
		return "", err
	}
	return string(data), nil
}
