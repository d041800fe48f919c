// Package watchlist holds the threshold rules and watchlist snapshot logic.
// Every function is pure: inputs are never mutated, updated copies are returned.
package watchlist

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kjannette/botdash-backend/internal/models"
)

var ErrInvalidThreshold = errors.New("invalid threshold")

// NormalizePair canonicalizes a trading pair symbol ("btc/usdt " -> "BTCUSDT").
func NormalizePair(pair string) string {
	p := strings.ToUpper(strings.TrimSpace(pair))
	for _, sep := range []string{"/", "-", "_", " "} {
		p = strings.ReplaceAll(p, sep, "")
	}
	return p
}

// ThresholdValue parses the configured level. ok is false for empty or unparseable values.
func ThresholdValue(th models.Threshold) (decimal.Decimal, bool) {
	if strings.TrimSpace(th.Value) == "" {
		return decimal.Zero, false
	}
	d, err := models.ParseAmount(th.Value)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Validate checks a user-supplied threshold and fills defaults.
func Validate(th models.Threshold) (models.Threshold, error) {
	th.Pair = NormalizePair(th.Pair)
	if _, ok := ThresholdValue(th); !ok {
		return th, fmt.Errorf("%w: value %q is not a number", ErrInvalidThreshold, th.Value)
	}
	if !th.NotifyOnIncrease && !th.NotifyOnDecrease {
		return th, fmt.Errorf("%w: no direction selected", ErrInvalidThreshold)
	}
	var err error
	if th.IncreaseFrequency, err = frequency(th.IncreaseFrequency); err != nil {
		return th, err
	}
	if th.DecreaseFrequency, err = frequency(th.DecreaseFrequency); err != nil {
		return th, err
	}
	return th, nil
}

func frequency(f models.Frequency) (models.Frequency, error) {
	switch f {
	case "":
		return models.FrequencyOnce, nil
	case models.FrequencyOnce, models.FrequencyRepeating:
		return f, nil
	}
	return "", fmt.Errorf("%w: unknown frequency %q", ErrInvalidThreshold, f)
}

// IsThresholdDue reports whether th fires at price.
func IsThresholdDue(th models.Threshold, price float64) bool {
	_, ok := Due(th, price)
	return ok
}

// Due returns the direction in which th fires at price. Inactive rules, rules
// with an unacknowledged alarm and rules without a parseable value never fire.
func Due(th models.Threshold, price float64) (models.Direction, bool) {
	if !th.IsActive || th.ActiveAlarmID != "" {
		return "", false
	}
	level, ok := ThresholdValue(th)
	if !ok {
		return "", false
	}
	p := decimal.NewFromFloat(price)
	switch {
	case th.NotifyOnIncrease && p.GreaterThanOrEqual(level):
		return models.DirectionIncrease, true
	case th.NotifyOnDecrease && p.LessThanOrEqual(level):
		return models.DirectionDecrease, true
	}
	return "", false
}

// Trigger records a firing in direction dir for the alarm alarmID.
// A once rule deactivates; a repeating rule counts the trigger and stays
// suppressed until alarmID is dismissed.
func Trigger(th models.Threshold, dir models.Direction, alarmID string) models.Threshold {
	f := th.IncreaseFrequency
	if dir == models.DirectionDecrease {
		f = th.DecreaseFrequency
	}
	if f == models.FrequencyRepeating {
		th.TriggerCount++
		th.ActiveAlarmID = alarmID
		return th
	}
	th.IsActive = false
	return th
}

// Dismiss clears the suppression marker, but only when it belongs to alarmID.
func Dismiss(th models.Threshold, alarmID string) models.Threshold {
	if th.ActiveAlarmID != "" && th.ActiveAlarmID == alarmID {
		th.ActiveAlarmID = ""
	}
	return th
}
