package calc

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kjannette/botdash-backend/internal/duration"
	"github.com/kjannette/botdash-backend/internal/models"
)

// Totals is the batch-wide sum of one upload plus the derived descriptors.
type Totals struct {
	Investment      decimal.Decimal
	ExtraMargin     decimal.Decimal
	TotalInvestment decimal.Decimal
	Profit          decimal.Decimal
	GridProfit      decimal.Decimal
	TrendPnl        decimal.Decimal

	// Highest is the screenshot with the largest single grid profit.
	Highest models.ScreenshotRecord

	BotDirection string
	Leverage     string

	LongestRuntimeHours float64
	AvgRuntimeHours     float64
	LongestRuntime      string
	AvgRuntime          string

	ScreenshotCount int
	LatestDate      *time.Time
}

// Aggregate sums an upload batch. The result does not depend on screenshot order.
func Aggregate(batch []models.ScreenshotRecord) (*Totals, error) {
	if len(batch) == 0 {
		return nil, &ValidationError{Field: "screenshots", Reason: "at least one screenshot is required"}
	}

	t := &Totals{ScreenshotCount: len(batch)}
	var (
		longs, shorts int
		leverages     = map[string]struct{}{}
		runtimeSum    float64
		runtimeCount  int
	)

	for i, s := range batch {
		t.Investment = t.Investment.Add(s.Investment)
		t.ExtraMargin = t.ExtraMargin.Add(s.ExtraMargin)
		t.Profit = t.Profit.Add(s.TotalProfitUsdt)
		t.GridProfit = t.GridProfit.Add(s.GridProfitUsdt)
		t.TrendPnl = t.TrendPnl.Add(s.TrendPnlUsdt)

		if i == 0 || higherGridProfit(s, t.Highest) {
			t.Highest = s
		}

		switch s.NormalizedDirection() {
		case models.DirectionLong:
			longs++
		case models.DirectionShort:
			shorts++
		}

		if lev := normalizeLeverage(s.Leverage); lev != "" {
			leverages[lev] = struct{}{}
		}

		if strings.TrimSpace(s.Runtime) != "" {
			h := duration.ParseDuration(s.Runtime)
			if h <= 0 {
				return nil, &ValidationError{
					Field:  fmt.Sprintf("screenshots[%d].runtime", i),
					Reason: fmt.Sprintf("cannot parse %q", s.Runtime),
				}
			}
			runtimeSum += h
			runtimeCount++
			if h > t.LongestRuntimeHours {
				t.LongestRuntimeHours = h
			}
		}

		if s.Date != nil && (t.LatestDate == nil || s.Date.After(*t.LatestDate)) {
			d := *s.Date
			t.LatestDate = &d
		}
	}

	t.TotalInvestment = t.Investment.Add(t.ExtraMargin)

	switch {
	case longs == len(batch):
		t.BotDirection = models.DirectionLong
	case shorts == len(batch):
		t.BotDirection = models.DirectionShort
	default:
		t.BotDirection = models.DirectionBoth
	}

	t.Leverage = joinLeverages(leverages)

	if runtimeCount > 0 {
		t.AvgRuntimeHours = runtimeSum / float64(runtimeCount)
	}
	t.LongestRuntime = duration.FormatDuration(t.LongestRuntimeHours)
	t.AvgRuntime = duration.FormatDuration(t.AvgRuntimeHours)

	return t, nil
}

// higherGridProfit orders screenshots by grid profit, then by investment, so
// ties resolve the same way regardless of batch order.
func higherGridProfit(a, b models.ScreenshotRecord) bool {
	if c := a.GridProfitUsdt.Cmp(b.GridProfitUsdt); c != 0 {
		return c > 0
	}
	if c := a.Investment.Cmp(b.Investment); c != 0 {
		return c > 0
	}
	return a.ExtraMargin.Cmp(b.ExtraMargin) > 0
}

func normalizeLeverage(s string) string {
	s = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	if s == "" {
		return ""
	}
	if !strings.HasSuffix(s, "x") {
		s += "x"
	}
	return s
}

// joinLeverages returns the single leverage, or the distinct values sorted
// numerically and comma-joined.
func joinLeverages(set map[string]struct{}) string {
	if len(set) == 0 {
		return ""
	}
	levs := make([]string, 0, len(set))
	for l := range set {
		levs = append(levs, l)
	}
	sort.Slice(levs, func(i, j int) bool {
		a, aerr := strconv.ParseFloat(strings.TrimSuffix(levs[i], "x"), 64)
		b, berr := strconv.ParseFloat(strings.TrimSuffix(levs[j], "x"), 64)
		if aerr == nil && berr == nil && a != b {
			return a < b
		}
		return levs[i] < levs[j]
	})
	return strings.Join(levs, ", ")
}
