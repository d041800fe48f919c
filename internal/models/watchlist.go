package models

import "time"

type Frequency string

const (
	FrequencyOnce      Frequency = "einmalig"
	FrequencyRepeating Frequency = "wiederholend"
)

type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
)

// Threshold is a per-pair alarm rule.
type Threshold struct {
	ID                string    `json:"id"`
	Pair              string    `json:"pair"`
	Value             string    `json:"value"`
	NotifyOnIncrease  bool      `json:"notifyOnIncrease"`
	NotifyOnDecrease  bool      `json:"notifyOnDecrease"`
	IncreaseFrequency Frequency `json:"increaseFrequency"`
	DecreaseFrequency Frequency `json:"decreaseFrequency"`
	IsActive          bool      `json:"isActive"`
	ActiveAlarmID     string    `json:"activeAlarmId,omitempty"`
	TriggerCount      int       `json:"triggerCount"`
	Note              string    `json:"note,omitempty"`
}

type AlarmStatus string

const (
	AlarmPending   AlarmStatus = "pending"
	AlarmDismissed AlarmStatus = "dismissed"
)

type Alarm struct {
	ID             string      `json:"id"`
	ThresholdID    string      `json:"thresholdId"`
	Pair           string      `json:"pair"`
	Direction      Direction   `json:"direction"`
	ThresholdValue string      `json:"thresholdValue"`
	Price          float64     `json:"price"`
	TriggeredAt    time.Time   `json:"triggeredAt"`
	Status         AlarmStatus `json:"status"`
}

// Snapshot is one device's copy of the watchlist data. Each section carries
// its own logical timestamp (milliseconds) used when merging copies.
type Snapshot struct {
	DeviceID   string           `json:"deviceId"`
	Watchlist  WatchlistSection `json:"watchlist"`
	Thresholds ThresholdSection `json:"thresholds"`
	Alarms     AlarmSection     `json:"alarms"`
}

// WatchlistSection keeps a removal timestamp per dropped pair so that a
// removal survives merging with a stale copy that still lists the pair.
type WatchlistSection struct {
	Pairs     []string         `json:"pairs"`
	Removed   map[string]int64 `json:"removed,omitempty"`
	UpdatedAt int64            `json:"updatedAt"`
}

// ThresholdSection records when a pair's list was explicitly emptied, so a
// merge can tell a cleared pair from one that was never written.
type ThresholdSection struct {
	ByPair    map[string][]Threshold `json:"byPair"`
	Cleared   map[string]int64       `json:"cleared,omitempty"`
	UpdatedAt int64                  `json:"updatedAt"`
}

type AlarmSection struct {
	Items     []Alarm `json:"items"`
	UpdatedAt int64   `json:"updatedAt"`
}
