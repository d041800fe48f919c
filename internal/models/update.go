package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusUpdateMetrics Status = "Update Metrics"
	StatusClosedBots    Status = "Closed Bots"
)

func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusUpdateMetrics, StatusClosedBots:
		return Status(s), true
	case "":
		return StatusUpdateMetrics, true
	}
	return "", false
}

// Mode selects absolute totals (Neu) or deltas against the previous update (Vergleich).
type Mode string

const (
	ModeNeu       Mode = "Neu"
	ModeVergleich Mode = "Vergleich"
)

func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "neu":
		return ModeNeu, true
	case "vergleich":
		return ModeVergleich, true
	}
	return "", false
}

type Category string

const (
	CategoryInvestment Category = "investment"
	CategoryProfit     Category = "profit"
	CategoryTrend      Category = "trend"
	CategoryGrid       Category = "grid"
)

// Categories lists every metric category in output order.
var Categories = []Category{CategoryInvestment, CategoryProfit, CategoryTrend, CategoryGrid}

// Modes holds one selected Mode per category.
type Modes struct {
	Investment Mode `json:"investment"`
	Profit     Mode `json:"profit"`
	Trend      Mode `json:"trend"`
	Grid       Mode `json:"grid"`
}

func (m Modes) For(c Category) Mode {
	switch c {
	case CategoryInvestment:
		return m.Investment
	case CategoryProfit:
		return m.Profit
	case CategoryTrend:
		return m.Trend
	case CategoryGrid:
		return m.Grid
	}
	return ""
}

// Flat wire keys of an update record.
const (
	KeyInvestment               = "investment"
	KeyExtraMargin              = "extraMargin"
	KeyTotalInvestment          = "totalInvestment"
	KeyProfit                   = "profit"
	KeyProfitPercent            = "profitPercent"
	KeyTrendPnlUsdt             = "overallTrendPnlUsdt"
	KeyTrendPnlPercent          = "overallTrendPnlPercent"
	KeyGridProfitUsdt           = "overallGridProfitUsdt"
	KeyGridProfitPercent        = "overallGridProfitPercent"
	KeyHighestGridProfit        = "highestGridProfit"
	KeyHighestGridProfitPercent = "highestGridProfitPercent"
	KeyAvgGridProfitHour        = "avgGridProfitHour"
	KeyAvgGridProfitDay         = "avgGridProfitDay"
	KeyAvgGridProfitWeek        = "avgGridProfitWeek"
	KeyBotDirection             = "botDirection"
	KeyLeverage                 = "leverage"
	KeyLongestRuntime           = "longestRuntime"
	KeyAvgRuntime               = "avgRuntime"
	KeyDate                     = "date"
	KeyStartDate                = "startDate"
	KeyEndDate                  = "endDate"
	KeyVersion                  = "version"
	KeyStatus                   = "status"

	SuffixGesamtinvestment  = "_gesamtinvestment"
	SuffixInvestitionsmenge = "_investitionsmenge"
)

// Percent is either a NeuPercent (both bases) or a VergleichPercent (one growth rate).
type Percent interface {
	fields(key string) []Field
}

// NeuPercent carries a value as percent of total investment and of own investment.
type NeuPercent struct {
	Gesamtinvestment  decimal.Decimal
	Investitionsmenge decimal.Decimal
}

func (p NeuPercent) fields(key string) []Field {
	return []Field{
		{Key: key + SuffixGesamtinvestment, Value: Fixed2(p.Gesamtinvestment)},
		{Key: key + SuffixInvestitionsmenge, Value: Fixed2(p.Investitionsmenge)},
	}
}

// VergleichPercent is the growth rate of a delta against its previous value.
type VergleichPercent struct {
	Rate decimal.Decimal
}

func (p VergleichPercent) fields(key string) []Field {
	return []Field{{Key: key, Value: Fixed2(p.Rate)}}
}

// Field is one flat wire entry. Value is a string, an int or nil (JSON null).
type Field struct {
	Key   string
	Value any
}

// Fixed2 renders d with exactly two decimals, rounding half away from zero.
func Fixed2(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func nullable(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return Fixed2(*d)
}

// UpdateRecord is the result of one metrics calculation for a bot type.
type UpdateRecord struct {
	Investment      decimal.Decimal
	ExtraMargin     decimal.Decimal
	TotalInvestment decimal.Decimal

	Profit        decimal.Decimal
	ProfitPercent Percent

	OverallTrendPnlUsdt    decimal.Decimal
	OverallTrendPnlPercent Percent

	OverallGridProfitUsdt    decimal.Decimal
	OverallGridProfitPercent Percent

	HighestGridProfit        decimal.Decimal
	HighestGridProfitPercent NeuPercent

	// The averages are nil without a time basis; Week also needs a full week.
	AvgGridProfitHour *decimal.Decimal
	AvgGridProfitDay  *decimal.Decimal
	AvgGridProfitWeek *decimal.Decimal

	BotDirection   string
	Leverage       string
	LongestRuntime string
	AvgRuntime     string

	Date      time.Time
	StartDate *time.Time
	EndDate   *time.Time
	Version   int
	Status    Status

	// Modes is how each category was computed: Vergleich only where a
	// previous record was diffed. Stored beside the payload, not in it.
	Modes Modes

	overrides map[string]string
}

// WithOverrides returns a copy whose listed fields render as the given strings.
func (r *UpdateRecord) WithOverrides(overrides map[string]string) *UpdateRecord {
	cp := *r
	cp.overrides = make(map[string]string, len(r.overrides)+len(overrides))
	for k, v := range r.overrides {
		cp.overrides[k] = v
	}
	for k, v := range overrides {
		cp.overrides[k] = v
	}
	return &cp
}

// Overridden reports the manual value for key, if one was applied.
func (r *UpdateRecord) Overridden(key string) (string, bool) {
	v, ok := r.overrides[key]
	return v, ok
}

// Fields flattens the record into its wire keys, in a stable order.
func (r *UpdateRecord) Fields() []Field {
	out := []Field{
		{Key: KeyInvestment, Value: Fixed2(r.Investment)},
		{Key: KeyExtraMargin, Value: Fixed2(r.ExtraMargin)},
		{Key: KeyTotalInvestment, Value: Fixed2(r.TotalInvestment)},
		{Key: KeyProfit, Value: Fixed2(r.Profit)},
	}
	out = append(out, percentFields(KeyProfitPercent, r.ProfitPercent)...)
	out = append(out, Field{Key: KeyTrendPnlUsdt, Value: Fixed2(r.OverallTrendPnlUsdt)})
	out = append(out, percentFields(KeyTrendPnlPercent, r.OverallTrendPnlPercent)...)
	out = append(out, Field{Key: KeyGridProfitUsdt, Value: Fixed2(r.OverallGridProfitUsdt)})
	out = append(out, percentFields(KeyGridProfitPercent, r.OverallGridProfitPercent)...)
	out = append(out, Field{Key: KeyHighestGridProfit, Value: Fixed2(r.HighestGridProfit)})
	out = append(out, r.HighestGridProfitPercent.fields(KeyHighestGridProfitPercent)...)

	out = append(out,
		Field{Key: KeyAvgGridProfitHour, Value: nullable(r.AvgGridProfitHour)},
		Field{Key: KeyAvgGridProfitDay, Value: nullable(r.AvgGridProfitDay)},
		Field{Key: KeyAvgGridProfitWeek, Value: nullable(r.AvgGridProfitWeek)},
		Field{Key: KeyBotDirection, Value: r.BotDirection},
		Field{Key: KeyLeverage, Value: r.Leverage},
		Field{Key: KeyLongestRuntime, Value: r.LongestRuntime},
		Field{Key: KeyAvgRuntime, Value: r.AvgRuntime},
		Field{Key: KeyDate, Value: formatTime(r.Date)},
	)
	if r.StartDate != nil {
		out = append(out, Field{Key: KeyStartDate, Value: formatTime(*r.StartDate)})
	}
	if r.EndDate != nil {
		out = append(out, Field{Key: KeyEndDate, Value: formatTime(*r.EndDate)})
	}
	out = append(out,
		Field{Key: KeyVersion, Value: r.Version},
		Field{Key: KeyStatus, Value: string(r.Status)},
	)

	for i, f := range out {
		if v, ok := r.overrides[f.Key]; ok {
			out[i].Value = v
		}
	}
	return out
}

// HasField reports whether key is part of this record's wire shape.
func (r *UpdateRecord) HasField(key string) bool {
	for _, f := range r.Fields() {
		if f.Key == key {
			return true
		}
	}
	return false
}

// Value returns the rendered wire value for key ("" and false when absent or null).
func (r *UpdateRecord) Value(key string) (string, bool) {
	for _, f := range r.Fields() {
		if f.Key != key {
			continue
		}
		switch v := f.Value.(type) {
		case string:
			return v, true
		case int:
			return fmt.Sprint(v), true
		}
		return "", false
	}
	return "", false
}

// MarshalJSON writes the flat wire object with keys in Fields order.
func (r *UpdateRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.Fields() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(f.Key)
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", f.Key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func percentFields(key string, p Percent) []Field {
	if p == nil {
		return VergleichPercent{}.fields(key)
	}
	return p.fields(key)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
