package watchlist

import (
	"sort"
	"time"

	"github.com/kjannette/botdash-backend/internal/models"
)

// Tick advances a logical clock: wall time in milliseconds, but always past last.
func Tick(last int64, now time.Time) int64 {
	ms := now.UnixMilli()
	if ms <= last {
		return last + 1
	}
	return ms
}

// Clock returns the newest timestamp carried by s.
func Clock(s models.Snapshot) int64 {
	return max(s.Watchlist.UpdatedAt, s.Thresholds.UpdatedAt, s.Alarms.UpdatedAt)
}

// Clone deep-copies a snapshot.
func Clone(s models.Snapshot) models.Snapshot {
	out := s
	out.Watchlist.Pairs = append([]string(nil), s.Watchlist.Pairs...)
	if s.Watchlist.Removed != nil {
		out.Watchlist.Removed = make(map[string]int64, len(s.Watchlist.Removed))
		for k, v := range s.Watchlist.Removed {
			out.Watchlist.Removed[k] = v
		}
	}
	if s.Thresholds.Cleared != nil {
		out.Thresholds.Cleared = make(map[string]int64, len(s.Thresholds.Cleared))
		for k, v := range s.Thresholds.Cleared {
			out.Thresholds.Cleared[k] = v
		}
	}
	out.Thresholds.ByPair = make(map[string][]models.Threshold, len(s.Thresholds.ByPair))
	for k, v := range s.Thresholds.ByPair {
		out.Thresholds.ByPair[k] = append([]models.Threshold(nil), v...)
	}
	out.Alarms.Items = append([]models.Alarm(nil), s.Alarms.Items...)
	return out
}

func HasPair(s models.Snapshot, pair string) bool {
	pair = NormalizePair(pair)
	for _, p := range s.Watchlist.Pairs {
		if p == pair {
			return true
		}
	}
	return false
}

// AddPair puts pair on the watchlist. Existing thresholds for the pair are
// left exactly as they are; nothing is reactivated.
func AddPair(s models.Snapshot, pair string, at int64) models.Snapshot {
	out := Clone(s)
	pair = NormalizePair(pair)
	if pair == "" || HasPair(out, pair) {
		return out
	}
	out.Watchlist.Pairs = sortedSet(append(out.Watchlist.Pairs, pair))
	delete(out.Watchlist.Removed, pair)
	out.Watchlist.UpdatedAt = at
	return out
}

// RemovePair drops pair from the watchlist and deactivates all of its thresholds.
func RemovePair(s models.Snapshot, pair string, at int64) models.Snapshot {
	out := Clone(s)
	pair = NormalizePair(pair)

	kept := out.Watchlist.Pairs[:0]
	for _, p := range out.Watchlist.Pairs {
		if p != pair {
			kept = append(kept, p)
		}
	}
	out.Watchlist.Pairs = kept
	if out.Watchlist.Removed == nil {
		out.Watchlist.Removed = map[string]int64{}
	}
	out.Watchlist.Removed[pair] = at
	out.Watchlist.UpdatedAt = at

	if ths := out.Thresholds.ByPair[pair]; len(ths) > 0 {
		for i := range ths {
			ths[i].IsActive = false
			ths[i].ActiveAlarmID = ""
		}
		out.Thresholds.UpdatedAt = at
	}
	return out
}

// SetThresholds replaces the thresholds of one pair. An empty list clears the
// pair and stamps the clear.
func SetThresholds(s models.Snapshot, pair string, ths []models.Threshold, at int64) models.Snapshot {
	out := Clone(s)
	pair = NormalizePair(pair)
	out.Thresholds.UpdatedAt = at
	if len(ths) == 0 {
		delete(out.Thresholds.ByPair, pair)
		if out.Thresholds.Cleared == nil {
			out.Thresholds.Cleared = map[string]int64{}
		}
		out.Thresholds.Cleared[pair] = at
		return out
	}
	delete(out.Thresholds.Cleared, pair)
	list := make([]models.Threshold, len(ths))
	for i, th := range ths {
		th.Pair = pair
		list[i] = th
	}
	out.Thresholds.ByPair[pair] = list
	return out
}

// Evaluate fires every due threshold of the watched pairs at the given prices.
// newID supplies alarm IDs. It returns the updated snapshot and the new alarms.
func Evaluate(s models.Snapshot, prices map[string]float64, now time.Time, newID func() string, at int64) (models.Snapshot, []models.Alarm) {
	out := Clone(s)
	var fired []models.Alarm

	for _, pair := range out.Watchlist.Pairs {
		price, ok := prices[pair]
		if !ok {
			continue
		}
		ths := out.Thresholds.ByPair[pair]
		for i, th := range ths {
			dir, due := Due(th, price)
			if !due {
				continue
			}
			alarm := models.Alarm{
				ID:             newID(),
				ThresholdID:    th.ID,
				Pair:           pair,
				Direction:      dir,
				ThresholdValue: th.Value,
				Price:          price,
				TriggeredAt:    now.UTC(),
				Status:         models.AlarmPending,
			}
			ths[i] = Trigger(th, dir, alarm.ID)
			fired = append(fired, alarm)
		}
	}

	if len(fired) > 0 {
		out.Thresholds.UpdatedAt = at
		out.Alarms.Items = append(out.Alarms.Items, fired...)
		out.Alarms.UpdatedAt = at
	}
	return out, fired
}

// DismissAlarm marks an alarm dismissed and releases the threshold it suppressed.
// ok is false when no pending alarm has that id.
func DismissAlarm(s models.Snapshot, alarmID string, at int64) (models.Snapshot, bool) {
	out := Clone(s)
	found := false
	for i, a := range out.Alarms.Items {
		if a.ID == alarmID && a.Status == models.AlarmPending {
			out.Alarms.Items[i].Status = models.AlarmDismissed
			found = true
		}
	}
	if !found {
		return out, false
	}
	out.Alarms.UpdatedAt = at

	for pair, ths := range out.Thresholds.ByPair {
		for i, th := range ths {
			if d := Dismiss(th, alarmID); d != th {
				out.Thresholds.ByPair[pair][i] = d
				out.Thresholds.UpdatedAt = at
			}
		}
	}
	return out, true
}

func sortedSet(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, dup := seen[it]; dup || it == "" {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}
