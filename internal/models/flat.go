package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FlatRecord is a stored update in its wire form, read back for diffing and reporting.
type FlatRecord map[string]json.RawMessage

// ParseFlatRecord decodes a wire object. The payload may also arrive as a JSON
// string holding the serialized object.
func ParseFlatRecord(raw []byte) (FlatRecord, error) {
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, err
		}
		raw = []byte(inner)
	}
	var fr FlatRecord
	if err := json.Unmarshal(raw, &fr); err != nil {
		return nil, err
	}
	if fr == nil {
		return nil, fmt.Errorf("record is null")
	}
	return fr, nil
}

// String returns the textual value of key; numbers are returned in their JSON form.
func (f FlatRecord) String(key string) (string, bool) {
	raw, ok := f[key]
	if !ok || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return string(raw), true
}

// Decimal reads key as an amount. ok is false when the key is absent, null or unparseable.
func (f FlatRecord) Decimal(key string) (decimal.Decimal, bool) {
	s, ok := f.String(key)
	if !ok || strings.TrimSpace(s) == "" {
		return decimal.Zero, false
	}
	d, err := ParseAmount(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func (f FlatRecord) Time(key string) (time.Time, bool) {
	s, ok := f.String(key)
	if !ok {
		return time.Time{}, false
	}
	t, err := ParseDate(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (f FlatRecord) Int(key string) (int, bool) {
	d, ok := f.Decimal(key)
	if !ok {
		return 0, false
	}
	return int(d.IntPart()), true
}
