// Package calc turns the screenshots of one upload into an update record:
// aggregation, per-category Neu/Vergleich resolution, the differential step
// and manual overrides. Everything here is pure and safe for concurrent use.
package calc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kjannette/botdash-backend/internal/duration"
	"github.com/kjannette/botdash-backend/internal/models"
)

type Input struct {
	Screenshots          Screenshots       `json:"screenshots"`
	Modes                models.Modes      `json:"modes"`
	IsStartMetric        bool              `json:"isStartMetric"`
	PreviousUpdateRecord json.RawMessage   `json:"previousUpdateRecord,omitempty"`
	ManualOverrides      map[string]string `json:"manualOverrides,omitempty"`
	Status               models.Status     `json:"status,omitempty"`

	// UploadedAt dates the record when no screenshot carries a date.
	UploadedAt time.Time `json:"uploadedAt"`
}

// Screenshots is an upload batch. Decoding names the failing entry, so an
// unreadable amount reports as screenshots[i].field.
type Screenshots []models.ScreenshotRecord

func (s *Screenshots) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(Screenshots, len(raw))
	for i, r := range raw {
		if err := json.Unmarshal(r, &out[i]); err != nil {
			field := fmt.Sprintf("screenshots[%d]", i)
			var fe *models.FieldError
			if errors.As(err, &fe) {
				return &ValidationError{Field: field + "." + fe.Field, Reason: fmt.Sprintf("cannot parse %q", fe.Value)}
			}
			return &ValidationError{Field: field, Reason: err.Error()}
		}
	}
	*s = out
	return nil
}

type Result struct {
	Values *models.UpdateRecord `json:"values"`
}

// Calculate runs the full pipeline for one upload.
func Calculate(in Input) (*Result, error) {
	status, ok := models.ParseStatus(string(in.Status))
	if !ok {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", in.Status)}
	}

	totals, err := Aggregate(in.Screenshots)
	if err != nil {
		return nil, err
	}

	prev, err := previousRecord(in)
	if err != nil {
		return nil, err
	}

	res, err := ResolveModes(in.Modes, prev)
	if err != nil {
		return nil, err
	}

	date := in.UploadedAt.UTC()
	if totals.LatestDate != nil {
		date = *totals.LatestDate
	}
	if date.IsZero() {
		return nil, &ValidationError{Field: "uploadedAt", Reason: "no screenshot date and no upload time"}
	}

	rec := Differential(totals, res, prev, DiffOptions{Date: date, Status: status})

	if status == models.StatusClosedBots {
		start, end, err := closedBotSpan(in.Screenshots)
		if err != nil {
			return nil, err
		}
		rec.StartDate = &start
		rec.EndDate = &end
		rec.Date = end
	}

	rec, err = ApplyOverrides(rec, len(in.Screenshots), in.ManualOverrides)
	if err != nil {
		return nil, err
	}
	return &Result{Values: rec}, nil
}

// previousRecord decodes the previous update. A start metric is never diffed,
// so its previous record is ignored.
func previousRecord(in Input) (models.FlatRecord, error) {
	raw := bytes.TrimSpace(in.PreviousUpdateRecord)
	if in.IsStartMetric || len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	prev, err := models.ParseFlatRecord(raw)
	if err != nil {
		return nil, &MalformedJSONError{Source: "previousUpdateRecord", Err: err}
	}
	return prev, nil
}

// closedBotSpan takes the close time from each screenshot and derives the start
// by subtracting the reported runtime.
func closedBotSpan(batch []models.ScreenshotRecord) (start, end time.Time, err error) {
	for i, s := range batch {
		if s.Date == nil {
			return time.Time{}, time.Time{}, &ValidationError{
				Field:  fmt.Sprintf("screenshots[%d].date", i),
				Reason: "closed bots need the close date",
			}
		}
		st, serr := duration.SubtractDuration(*s.Date, s.Runtime)
		if serr != nil {
			return time.Time{}, time.Time{}, &ValidationError{
				Field:  fmt.Sprintf("screenshots[%d].runtime", i),
				Reason: serr.Error(),
			}
		}
		if i == 0 || st.Before(start) {
			start = st
		}
		if i == 0 || s.Date.After(end) {
			end = s.Date.UTC()
		}
	}
	return start, end, nil
}
