package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FieldError reports a screenshot or record field whose value could not be parsed.
type FieldError struct {
	Field string
	Value string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: cannot parse %q", e.Field, e.Value)
}

// ParseAmount reads a number the way the vision model tends to emit it:
// "+71.03 USDT", "12,5 %", "1,234.50", "-17.43". Empty input is zero.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	for _, unit := range []string{"USDT", "usdt", "%", "$"} {
		s = strings.ReplaceAll(s, unit, "")
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.TrimPrefix(s, "+")
	if s == "" || s == "-" {
		return decimal.Zero, nil
	}

	switch {
	case strings.Contains(s, ",") && strings.Contains(s, "."):
		// thousands separator
		if strings.LastIndex(s, ",") < strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		}
	case strings.Contains(s, ","):
		s = strings.ReplaceAll(s, ",", ".")
	}

	return decimal.NewFromString(s)
}

// flexAmount decodes a JSON number, numeric string or null into a decimal.
type flexAmount struct {
	d   decimal.Decimal
	raw string
	bad bool
}

func (f *flexAmount) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}
	d, err := ParseAmount(s)
	if err != nil {
		f.raw = s
		f.bad = true
		return nil
	}
	f.d = d
	return nil
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"02.01.2006",
}

// ParseDate accepts the timestamp layouts seen in screenshots and stored records.
// Layouts without a zone are read as UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
