// Package duration converts bot runtime strings such as "1d 6h 53m" to hours and back.
package duration

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnparseable is returned when a runtime string holds no day/hour/minute/second token.
var ErrUnparseable = errors.New("runtime has no d/h/m/s token")

var tokenRegexp = regexp.MustCompile(`(?i)(\d+)\s*([dhms])`)

var unitHours = map[string]float64{
	"d": 24,
	"h": 1,
	"m": 1.0 / 60,
	"s": 1.0 / 3600,
}

// ParseDuration returns the number of hours in text. Unknown tokens count as
// zero, so a zero result means "unparseable" rather than "no runtime".
func ParseDuration(text string) float64 {
	var hours float64
	for _, m := range tokenRegexp.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		hours += float64(n) * unitHours[strings.ToLower(m[2])]
	}
	return hours
}

// FormatDuration renders hours as "Nd Nh Nm", dropping leading zero units.
// Seconds are rounded into minutes.
func FormatDuration(hours float64) string {
	if hours <= 0 || math.IsNaN(hours) || math.IsInf(hours, 0) {
		return "0m"
	}
	total := int64(math.Round(hours * 60))
	d := total / (24 * 60)
	h := (total % (24 * 60)) / 60
	m := total % 60

	switch {
	case d > 0:
		return fmt.Sprintf("%dd %dh %dm", d, h, m)
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

// Normalize reformats a runtime string into the canonical display form.
// Text without a runtime token is returned unchanged.
func Normalize(text string) string {
	hours := ParseDuration(text)
	if hours <= 0 {
		return text
	}
	return FormatDuration(hours)
}

// SubtractDuration back-computes a start time from an end time and a runtime string.
// The arithmetic is done in milliseconds so calendar months and DST never shift the result.
func SubtractDuration(end time.Time, runtime string) (time.Time, error) {
	hours := ParseDuration(runtime)
	if hours <= 0 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseable, runtime)
	}
	durationMs := int64(math.Round(hours * 3600000))
	return time.UnixMilli(end.UnixMilli() - durationMs).UTC(), nil
}
