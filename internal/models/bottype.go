package models

import (
	"encoding/json"
	"time"
)

type BotType struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	StartDate   *time.Time `json:"startDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// StoredUpdate is one persisted version in a bot type's update lineage.
type StoredUpdate struct {
	ID        int64           `json:"id"`
	BotTypeID int64           `json:"botTypeId"`
	Version   int             `json:"version"`
	Status    Status          `json:"status"`
	Date      time.Time       `json:"date"`
	Values    json.RawMessage `json:"values"`
	CreatedAt time.Time       `json:"createdAt"`
}
