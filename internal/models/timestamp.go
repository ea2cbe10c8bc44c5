package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseEpochSeconds parses a decimal epoch-seconds value such as
// "1554933784.023" into a UTC time. The fractional part is read digit by
// digit so ".023" becomes exactly 23ms. Exponent notation falls back to
// float parsing.
func ParseEpochSeconds(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty epoch timestamp")
	}
	if strings.ContainsAny(s, "eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return time.Time{}, fmt.Errorf("invalid epoch timestamp %q", s)
		}
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(), nil
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return time.Time{}, fmt.Errorf("invalid epoch timestamp %q", s)
	}

	var sec int64
	if whole != "" {
		v, err := strconv.ParseInt(whole, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid epoch seconds %q: %w", whole, err)
		}
		sec = v
	}

	var nsec int64
	for i := 0; i < len(frac); i++ {
		c := frac[i]
		if c < '0' || c > '9' {
			return time.Time{}, fmt.Errorf("invalid epoch fraction %q", frac)
		}
		if i < 9 {
			nsec = nsec*10 + int64(c-'0')
		}
	}
	for i := len(frac); i < 9; i++ {
		nsec *= 10
	}

	if neg {
		sec, nsec = -sec, -nsec
	}
	return time.Unix(sec, nsec).UTC(), nil
}

// FormatEpochSeconds renders t as decimal epoch seconds with nine
// fractional digits, e.g. "1554933784.023000000".
func FormatEpochSeconds(t time.Time) string {
	sec := t.Unix()
	nsec := int64(t.Nanosecond())
	sign := ""
	if sec < 0 {
		sign = "-"
		if nsec > 0 {
			sec = -(sec + 1)
			nsec = 1e9 - nsec
		} else {
			sec = -sec
		}
	}
	return fmt.Sprintf("%s%d.%09d", sign, sec, nsec)
}

// decodeTimestamp accepts either a JSON number of epoch seconds or an
// RFC 3339 string.
func decodeTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC(), nil
		}
		return ParseEpochSeconds(s)
	}
	return ParseEpochSeconds(string(raw))
}
