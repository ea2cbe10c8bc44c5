// Package parser turns input lines into conversion rates.
package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fxalert/internal/models"
)

// Input formats accepted by NewRegistryForFormat.
const (
	FormatAuto = "auto"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

var (
	// ErrSkipLine marks lines that carry no record (blank lines, CSV headers).
	ErrSkipLine = errors.New("line carries no record")

	// ErrUnrecognized is returned when no registered parser accepts a line.
	ErrUnrecognized = errors.New("unrecognized line format")
)

// Parser recognizes and decodes one input format. CanParse is a cheap shape
// check; Parse does the real work and may still fail.
type Parser interface {
	Name() string
	CanParse(line string) bool
	Parse(line string) (*models.Rate, error)
}

// Registry routes each line to the first parser whose CanParse accepts it.
type Registry struct {
	parsers []Parser
}

// NewRegistry creates a registry that auto-detects JSON and CSV lines.
func NewRegistry() *Registry {
	return &Registry{
		parsers: []Parser{
			NewJSONParser(),
			NewCSVParser(),
		},
	}
}

// NewRegistryForFormat creates a registry restricted to one input format.
func NewRegistryForFormat(format string) (*Registry, error) {
	switch strings.ToLower(format) {
	case "", FormatAuto:
		return NewRegistry(), nil
	case FormatJSON:
		return &Registry{parsers: []Parser{NewJSONParser()}}, nil
	case FormatCSV:
		return &Registry{parsers: []Parser{NewCSVParser()}}, nil
	default:
		return nil, fmt.Errorf("unknown input format %q", format)
	}
}

// Register adds a parser to the registry with the highest priority.
func (r *Registry) Register(p Parser) {
	r.parsers = append([]Parser{p}, r.parsers...)
}

// Names lists the registered parsers in priority order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.parsers))
	for _, p := range r.parsers {
		names = append(names, p.Name())
	}
	return names
}

// Parse hands the line to the first parser that accepts it.
func (r *Registry) Parse(line string) (*models.Rate, error) {
	if strings.TrimSpace(line) == "" {
		return nil, ErrSkipLine
	}
	for _, p := range r.parsers {
		if p.CanParse(line) {
			rate, err := p.Parse(line)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", p.Name(), err)
			}
			return rate, nil
		}
	}
	return nil, ErrUnrecognized
}

// JSONParser parses the JSON lines format:
//
//	{"timestamp": 1554933784.023, "currencyPair": "CNYAUD", "rate": 0.39281}
type JSONParser struct{}

func NewJSONParser() *JSONParser { return &JSONParser{} }

func (p *JSONParser) Name() string { return FormatJSON }

func (p *JSONParser) CanParse(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")
}

func (p *JSONParser) Parse(line string) (*models.Rate, error) {
	return models.RateFromJSON([]byte(line))
}

// CSVParser parses "timestamp,currencyPair,rate" lines. A header line with
// those column names is skipped.
type CSVParser struct{}

func NewCSVParser() *CSVParser { return &CSVParser{} }

func (p *CSVParser) Name() string { return FormatCSV }

// CanParse accepts non-JSON lines with exactly three fields.
func (p *CSVParser) CanParse(line string) bool {
	trimmed := strings.TrimSpace(line)
	return !strings.HasPrefix(trimmed, "{") && strings.Count(trimmed, ",") == 2
}

func (p *CSVParser) Parse(line string) (*models.Rate, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = 3
	r.TrimLeadingSpace = true
	fields, err := r.Read()
	if err != nil {
		return nil, err
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	if strings.EqualFold(fields[0], "timestamp") {
		return nil, ErrSkipLine
	}

	ts, err := parseCSVTimestamp(fields[0])
	if err != nil {
		return nil, err
	}
	if fields[1] == "" {
		return nil, fmt.Errorf("missing currencyPair")
	}
	rate, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid rate %q", fields[2])
	}

	return &models.Rate{
		Timestamp:    ts,
		CurrencyPair: fields[1],
		Rate:         rate,
	}, nil
}

// csvTimeLayouts are tried before falling back to epoch seconds.
var csvTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02 15:04:05.000",
}

func parseCSVTimestamp(s string) (time.Time, error) {
	for _, layout := range csvTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if t, err := models.ParseEpochSeconds(s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
