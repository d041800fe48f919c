package calc

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kjannette/botdash-backend/internal/models"
)

var (
	hundred      = decimal.NewFromInt(100)
	hoursPerDay  = decimal.NewFromInt(24)
	hoursPerWeek = decimal.NewFromInt(168)
)

// DiffOptions carries the record-level values the differential step does not derive itself.
type DiffOptions struct {
	Date   time.Time
	Status models.Status
}

// Differential builds the update record from batch totals, the resolved modes
// and the previous record (nil on a first upload).
func Differential(t *Totals, res Resolutions, prev models.FlatRecord, opts DiffOptions) *models.UpdateRecord {
	rec := &models.UpdateRecord{
		BotDirection:   t.BotDirection,
		Leverage:       t.Leverage,
		LongestRuntime: t.LongestRuntime,
		AvgRuntime:     t.AvgRuntime,
		Date:           opts.Date,
		Status:         opts.Status,
		Version:        1,
		Modes:          effectiveModes(res),
	}
	if prev != nil {
		if v, ok := prev.Int(models.KeyVersion); ok {
			rec.Version = v + 1
		}
	}

	// Investment
	switch r := res[models.CategoryInvestment]; {
	case r.Zeroed():
	case r.Baseline:
		rec.Investment = delta(t.Investment, prev, models.KeyInvestment)
		rec.ExtraMargin = delta(t.ExtraMargin, prev, models.KeyExtraMargin)
		rec.TotalInvestment = delta(t.TotalInvestment, prev, models.KeyTotalInvestment)
	default:
		rec.Investment = round2(t.Investment)
		rec.ExtraMargin = round2(t.ExtraMargin)
		rec.TotalInvestment = round2(t.TotalInvestment)
	}

	rec.Profit, rec.ProfitPercent = categoryValue(res[models.CategoryProfit], t.Profit, t, prev, models.KeyProfit)
	rec.OverallTrendPnlUsdt, rec.OverallTrendPnlPercent = categoryValue(res[models.CategoryTrend], t.TrendPnl, t, prev, models.KeyTrendPnlUsdt)
	rec.OverallGridProfitUsdt, rec.OverallGridProfitPercent = categoryValue(res[models.CategoryGrid], t.GridProfit, t, prev, models.KeyGridProfitUsdt)

	h := t.Highest
	rec.HighestGridProfit = round2(h.GridProfitUsdt)
	rec.HighestGridProfitPercent = models.NeuPercent{
		Gesamtinvestment:  percentOf(h.GridProfitUsdt, h.TotalInvestment()),
		Investitionsmenge: percentOf(h.GridProfitUsdt, h.Investment),
	}

	hours := avgBasisHours(t, res[models.CategoryGrid], prev, opts.Date)
	if hours > 0 {
		perHour := rec.OverallGridProfitUsdt.Div(decimal.NewFromFloat(hours))
		hour := round2(perHour)
		day := round2(perHour.Mul(hoursPerDay))
		rec.AvgGridProfitHour = &hour
		rec.AvgGridProfitDay = &day
		if hours >= 168 {
			week := round2(perHour.Mul(hoursPerWeek))
			rec.AvgGridProfitWeek = &week
		}
	}

	return rec
}

// categoryValue computes a USDT field and its percent for the profit, trend and grid categories.
func categoryValue(r Resolution, current decimal.Decimal, t *Totals, prev models.FlatRecord, key string) (decimal.Decimal, models.Percent) {
	switch {
	case r.Zeroed():
		return decimal.Zero, models.VergleichPercent{}
	case r.Baseline:
		p, _ := prev.Decimal(key)
		d := current.Sub(p)
		rate := decimal.Zero
		if !p.IsZero() {
			rate = d.Div(p).Mul(hundred).Round(2)
		}
		return round2(d), models.VergleichPercent{Rate: rate}
	}
	return round2(current), models.NeuPercent{
		Gesamtinvestment:  percentOf(current, t.TotalInvestment),
		Investitionsmenge: percentOf(current, t.Investment),
	}
}

// avgBasisHours is the time span the resolved grid value covers: the gap since
// the previous upload for a diffed grid value, the average bot runtime otherwise.
func avgBasisHours(t *Totals, grid Resolution, prev models.FlatRecord, date time.Time) float64 {
	if grid.Baseline && prev != nil {
		if pd, ok := prev.Time(models.KeyDate); ok && date.After(pd) {
			return date.Sub(pd).Hours()
		}
	}
	return t.AvgRuntimeHours
}

// effectiveModes reports Vergleich only for categories holding real deltas.
// A zeroed first upload counts as Neu.
func effectiveModes(res Resolutions) models.Modes {
	mode := func(c models.Category) models.Mode {
		if res[c].Baseline {
			return models.ModeVergleich
		}
		return models.ModeNeu
	}
	return models.Modes{
		Investment: mode(models.CategoryInvestment),
		Profit:     mode(models.CategoryProfit),
		Trend:      mode(models.CategoryTrend),
		Grid:       mode(models.CategoryGrid),
	}
}

func delta(current decimal.Decimal, prev models.FlatRecord, key string) decimal.Decimal {
	p, _ := prev.Decimal(key)
	return round2(current.Sub(p))
}

func percentOf(value, base decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return value.Div(base).Mul(hundred).Round(2)
}

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
