// Package report builds the dashboard's read-side summary over stored updates:
// totals for a date range plus chart series by bot name and by day.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kjannette/botdash-backend/internal/models"
)

const dayLayout = "2006-01-02"

// Row is one stored update as the report sees it. Amounts stay textual
// because manual overrides are stored verbatim.
type Row struct {
	BotTypeID       int64     `db:"bot_type_id"`
	BotName         string    `db:"bot_name"`
	Version         int       `db:"version"`
	Status          string    `db:"status"`
	Date            time.Time `db:"record_date"`
	TotalInvestment *string   `db:"total_investment"`
	Profit          *string   `db:"profit"`
	InvestmentMode  string    `db:"investment_mode"`
	ProfitMode      string    `db:"profit_mode"`
}

type Point struct {
	Label  string `json:"label"`
	Profit string `json:"profit"`
}

type Report struct {
	From            string  `json:"from"`
	To              string  `json:"to"`
	Updates         int     `json:"updates"`
	TotalInvestment string  `json:"totalInvestment"`
	TotalProfit     string  `json:"totalProfit"`
	ProfitPercent   string  `json:"profitPercent"`
	ByBotName       []Point `json:"profitByBotName"`
	ByDate          []Point `json:"profitByDate"`
}

// Range is an inclusive span of calendar days in UTC.
type Range struct {
	From time.Time
	To   time.Time
}

// ParseRange reads YYYY-MM-DD bounds. To is inclusive.
func ParseRange(from, to string) (Range, error) {
	f, err := time.Parse(dayLayout, from)
	if err != nil {
		return Range{}, fmt.Errorf("from: %w", err)
	}
	t, err := time.Parse(dayLayout, to)
	if err != nil {
		return Range{}, fmt.Errorf("to: %w", err)
	}
	if t.Before(f) {
		return Range{}, fmt.Errorf("to %s is before from %s", to, from)
	}
	return Range{From: f, To: t}, nil
}

// End is the exclusive upper instant of the range.
func (r Range) End() time.Time {
	return r.To.AddDate(0, 0, 1)
}

func (r Range) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(r.From) && t.Before(r.End())
}

// lineage separates running-bot updates from closed-bot updates of one bot type.
type lineage struct {
	botTypeID int64
	status    string
}

// Build summarizes rows that fall inside rng. Vergleich rows are first turned
// back into running totals, using earlier rows of the lineage even when they
// fall before rng. Each lineage then contributes its newest record to the
// totals and the by-name series, and its newest record of each day to the
// by-date series.
func Build(rows []Row, rng Range) *Report {
	rows = absolute(rows)
	latest := map[lineage]Row{}
	daily := map[string]map[lineage]Row{}
	n := 0

	for _, r := range rows {
		if !rng.Contains(r.Date) {
			continue
		}
		n++
		key := lineage{r.BotTypeID, r.Status}
		if cur, ok := latest[key]; !ok || newer(r, cur) {
			latest[key] = r
		}
		day := r.Date.UTC().Format(dayLayout)
		if daily[day] == nil {
			daily[day] = map[lineage]Row{}
		}
		if cur, ok := daily[day][key]; !ok || newer(r, cur) {
			daily[day][key] = r
		}
	}

	investment, profit := decimal.Zero, decimal.Zero
	byName := map[string]decimal.Decimal{}
	for _, r := range latest {
		investment = investment.Add(amount(r.TotalInvestment))
		p := amount(r.Profit)
		profit = profit.Add(p)
		byName[r.BotName] = byName[r.BotName].Add(p)
	}

	byDate := map[string]decimal.Decimal{}
	for day, bots := range daily {
		sum := decimal.Zero
		for _, r := range bots {
			sum = sum.Add(amount(r.Profit))
		}
		byDate[day] = sum
	}

	pct := decimal.Zero
	if !investment.IsZero() {
		pct = profit.Div(investment).Mul(decimal.NewFromInt(100))
	}

	return &Report{
		From:            rng.From.Format(dayLayout),
		To:              rng.To.Format(dayLayout),
		Updates:         n,
		TotalInvestment: models.Fixed2(investment),
		TotalProfit:     models.Fixed2(profit),
		ProfitPercent:   models.Fixed2(pct),
		ByBotName:       series(byName),
		ByDate:          series(byDate),
	}
}

// absolute rewrites Vergleich amounts as totals. A Vergleich amount is the
// difference to the previous stored amount of the same lineage, so adding that
// stored amount back recovers the figure the bot showed.
func absolute(rows []Row) []Row {
	byLineage := map[lineage][]Row{}
	for _, r := range rows {
		key := lineage{r.BotTypeID, r.Status}
		byLineage[key] = append(byLineage[key], r)
	}

	out := make([]Row, 0, len(rows))
	for _, rs := range byLineage {
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].Version < rs[j].Version })
		for i, r := range rs {
			if i > 0 {
				prev := rs[i-1]
				if models.Mode(r.InvestmentMode) == models.ModeVergleich {
					r.TotalInvestment = sum(r.TotalInvestment, prev.TotalInvestment)
				}
				if models.Mode(r.ProfitMode) == models.ModeVergleich {
					r.Profit = sum(r.Profit, prev.Profit)
				}
			}
			out = append(out, r)
		}
	}
	return out
}

func sum(a, b *string) *string {
	s := models.Fixed2(amount(a).Add(amount(b)))
	return &s
}

func newer(a, b Row) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.After(b.Date)
	}
	return a.Version > b.Version
}

// amount treats missing or unreadable values as zero.
func amount(s *string) decimal.Decimal {
	if s == nil {
		return decimal.Zero
	}
	d, err := models.ParseAmount(*s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func series(m map[string]decimal.Decimal) []Point {
	out := make([]Point, 0, len(m))
	for label, v := range m {
		out = append(out, Point{Label: label, Profit: models.Fixed2(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}
