package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DirectionLong  = "Long"
	DirectionShort = "Short"
	DirectionBoth  = "Beides"
)

// ScreenshotRecord is one bot instance as read from one uploaded screenshot.
type ScreenshotRecord struct {
	BotName     string          `json:"botName"`
	Direction   string          `json:"direction"`
	Leverage    string          `json:"leverage"`
	Runtime     string          `json:"runtime"`
	Investment  decimal.Decimal `json:"investment"`
	ExtraMargin decimal.Decimal `json:"extraMargin"`

	TotalProfitUsdt    decimal.Decimal `json:"totalProfitUsdt"`
	TotalProfitPercent decimal.Decimal `json:"totalProfitPercent"`
	GridProfitUsdt     decimal.Decimal `json:"gridProfitUsdt"`
	GridProfitPercent  decimal.Decimal `json:"gridProfitPercent"`
	TrendPnlUsdt       decimal.Decimal `json:"trendPnlUsdt"`
	TrendPnlPercent    decimal.Decimal `json:"trendPnlPercent"`

	// Date is the moment shown on the screenshot; for closed bots the close time.
	Date *time.Time `json:"date,omitempty"`
}

// TotalInvestment is principal plus extra margin.
func (s ScreenshotRecord) TotalInvestment() decimal.Decimal {
	return s.Investment.Add(s.ExtraMargin)
}

// NormalizedDirection maps free-form direction text to Long, Short or "".
func (s ScreenshotRecord) NormalizedDirection() string {
	switch strings.ToLower(strings.TrimSpace(s.Direction)) {
	case "long":
		return DirectionLong
	case "short":
		return DirectionShort
	}
	return ""
}

func (s *ScreenshotRecord) UnmarshalJSON(b []byte) error {
	var w struct {
		BotName     string     `json:"botName"`
		Direction   string     `json:"direction"`
		Leverage    string     `json:"leverage"`
		Runtime     string     `json:"runtime"`
		Date        *string    `json:"date"`
		Investment  flexAmount `json:"investment"`
		ExtraMargin flexAmount `json:"extraMargin"`

		TotalProfitUsdt    flexAmount `json:"totalProfitUsdt"`
		TotalProfitPercent flexAmount `json:"totalProfitPercent"`
		GridProfitUsdt     flexAmount `json:"gridProfitUsdt"`
		GridProfitPercent  flexAmount `json:"gridProfitPercent"`
		TrendPnlUsdt       flexAmount `json:"trendPnlUsdt"`
		TrendPnlPercent    flexAmount `json:"trendPnlPercent"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	amounts := []struct {
		name string
		src  flexAmount
		dst  *decimal.Decimal
	}{
		{"investment", w.Investment, &s.Investment},
		{"extraMargin", w.ExtraMargin, &s.ExtraMargin},
		{"totalProfitUsdt", w.TotalProfitUsdt, &s.TotalProfitUsdt},
		{"totalProfitPercent", w.TotalProfitPercent, &s.TotalProfitPercent},
		{"gridProfitUsdt", w.GridProfitUsdt, &s.GridProfitUsdt},
		{"gridProfitPercent", w.GridProfitPercent, &s.GridProfitPercent},
		{"trendPnlUsdt", w.TrendPnlUsdt, &s.TrendPnlUsdt},
		{"trendPnlPercent", w.TrendPnlPercent, &s.TrendPnlPercent},
	}
	for _, a := range amounts {
		if a.src.bad {
			return &FieldError{Field: a.name, Value: a.src.raw}
		}
		*a.dst = a.src.d
	}

	s.BotName = w.BotName
	s.Direction = w.Direction
	s.Leverage = w.Leverage
	s.Runtime = w.Runtime
	s.Date = nil
	if w.Date != nil && strings.TrimSpace(*w.Date) != "" {
		t, err := ParseDate(*w.Date)
		if err != nil {
			return &FieldError{Field: "date", Value: *w.Date}
		}
		s.Date = &t
	}
	return nil
}
