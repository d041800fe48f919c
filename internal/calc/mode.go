package calc

import (
	"github.com/kjannette/botdash-backend/internal/models"
)

// requiredHistory lists the previous-record keys a Vergleich diff reads, per category.
var requiredHistory = map[models.Category][]string{
	models.CategoryInvestment: {models.KeyInvestment, models.KeyExtraMargin, models.KeyTotalInvestment},
	models.CategoryProfit:     {models.KeyProfit},
	models.CategoryTrend:      {models.KeyTrendPnlUsdt},
	models.CategoryGrid:       {models.KeyGridProfitUsdt},
}

// Resolution is the effective treatment of one category.
type Resolution struct {
	Mode models.Mode
	// Baseline is set for Vergleich categories that have a previous record to diff against.
	// A Vergleich category without one is emitted as zeros.
	Baseline bool
}

// Zeroed reports a Vergleich category on a first upload.
func (r Resolution) Zeroed() bool {
	return r.Mode == models.ModeVergleich && !r.Baseline
}

type Resolutions map[models.Category]Resolution

// ResolveModes validates the per-category selection against the available history.
// prev must be nil for a start metric or when no earlier update exists.
func ResolveModes(modes models.Modes, prev models.FlatRecord) (Resolutions, error) {
	out := make(Resolutions, len(models.Categories))
	incomplete := &IncompleteHistoryError{}

	for _, c := range models.Categories {
		m, ok := models.ParseMode(string(modes.For(c)))
		if !ok {
			return nil, &ValidationError{
				Field:  "modes." + string(c),
				Reason: "expected Neu or Vergleich",
			}
		}

		res := Resolution{Mode: m}
		if m == models.ModeVergleich && prev != nil {
			var missing []string
			for _, key := range requiredHistory[c] {
				if _, ok := prev.Decimal(key); !ok {
					missing = append(missing, key)
				}
			}
			if len(missing) > 0 {
				incomplete.Categories = append(incomplete.Categories, c)
				incomplete.Missing = append(incomplete.Missing, missing...)
			}
			res.Baseline = true
		}
		out[c] = res
	}

	if len(incomplete.Missing) > 0 {
		return nil, incomplete
	}
	return out, nil
}
