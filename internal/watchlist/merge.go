package watchlist

import (
	"github.com/kjannette/botdash-backend/internal/models"
)

// Merge combines the local snapshot with a remote copy. For each section the
// copy with the strictly newer timestamp wins; on a tie local wins. Two
// exceptions:
//   - watchlist pairs are unioned, minus pairs removed after the copy that lists them was written;
//   - a pair whose winning threshold list is empty keeps the other copy's
//     non-empty list, unless the winner cleared the pair no earlier than the
//     other copy was last written.
//
// The result carries the local device id and the newest timestamp of each section.
func Merge(local, remote models.Snapshot) models.Snapshot {
	out := models.Snapshot{DeviceID: local.DeviceID}
	out.Watchlist = mergeWatchlist(local.Watchlist, remote.Watchlist)
	out.Thresholds = mergeThresholds(local.Thresholds, remote.Thresholds)

	alarms := local.Alarms
	if remote.Alarms.UpdatedAt > local.Alarms.UpdatedAt {
		alarms = remote.Alarms
	}
	out.Alarms = models.AlarmSection{
		Items:     append([]models.Alarm(nil), alarms.Items...),
		UpdatedAt: max(local.Alarms.UpdatedAt, remote.Alarms.UpdatedAt),
	}
	return out
}

func mergeWatchlist(a, b models.WatchlistSection) models.WatchlistSection {
	removed := map[string]int64{}
	for _, side := range []models.WatchlistSection{a, b} {
		for p, at := range side.Removed {
			if at > removed[p] {
				removed[p] = at
			}
		}
	}

	var pairs []string
	for _, side := range []models.WatchlistSection{a, b} {
		for _, p := range side.Pairs {
			// the listing copy was written after the removal: it re-added the pair
			if side.UpdatedAt >= removed[p] {
				pairs = append(pairs, p)
			}
		}
	}
	pairs = sortedSet(pairs)
	for _, p := range pairs {
		delete(removed, p)
	}

	out := models.WatchlistSection{
		Pairs:     pairs,
		UpdatedAt: max(a.UpdatedAt, b.UpdatedAt),
	}
	if len(removed) > 0 {
		out.Removed = removed
	}
	return out
}

func mergeThresholds(local, remote models.ThresholdSection) models.ThresholdSection {
	winner, loser := local, remote
	if remote.UpdatedAt > local.UpdatedAt {
		winner, loser = remote, local
	}

	byPair := make(map[string][]models.Threshold, len(winner.ByPair))
	for p, ths := range winner.ByPair {
		if len(ths) > 0 {
			byPair[p] = append([]models.Threshold(nil), ths...)
		}
	}
	for p, ths := range loser.ByPair {
		if len(ths) == 0 || len(byPair[p]) > 0 {
			continue
		}
		if at, ok := winner.Cleared[p]; ok && at >= loser.UpdatedAt {
			continue
		}
		byPair[p] = append([]models.Threshold(nil), ths...)
	}

	var cleared map[string]int64
	for _, side := range []models.ThresholdSection{winner, loser} {
		for p, at := range side.Cleared {
			if len(byPair[p]) > 0 {
				continue
			}
			if cleared == nil {
				cleared = map[string]int64{}
			}
			cleared[p] = max(cleared[p], at)
		}
	}

	return models.ThresholdSection{
		ByPair:    byPair,
		Cleared:   cleared,
		UpdatedAt: max(local.UpdatedAt, remote.UpdatedAt),
	}
}
