package calc

import (
	"sort"

	"github.com/kjannette/botdash-backend/internal/models"
)

// storeOwned fields are assigned by the update store or date the stored row,
// so they cannot be patched.
var storeOwned = map[string]bool{
	models.KeyVersion:   true,
	models.KeyStatus:    true,
	models.KeyDate:      true,
	models.KeyStartDate: true,
	models.KeyEndDate:   true,
}

// ApplyOverrides replaces calculated fields with user-supplied strings, verbatim.
// Overrides only patch single-screenshot uploads; for larger batches they are
// ignored and rec is returned unchanged.
func ApplyOverrides(rec *models.UpdateRecord, screenshotCount int, overrides map[string]string) (*models.UpdateRecord, error) {
	if len(overrides) == 0 || screenshotCount != 1 {
		return rec, nil
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if storeOwned[k] || !rec.HasField(k) {
			return nil, &ValidationError{
				Field:  "manualOverrides." + k,
				Reason: "not an overridable field of this update",
			}
		}
	}
	return rec.WithOverrides(overrides), nil
}
