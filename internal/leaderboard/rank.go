package leaderboard

import "sort"

// Rank orders authors by count descending and returns at most topN
// entries. Ties keep first-seen order from the scan, so repeated runs
// over identical input are reproducible. Empty input yields an empty
// result, not an error.
func Rank(counts *ActivityCounts, topN int) []Entry {
	if counts == nil || counts.Distinct() == 0 || topN < 1 {
		return nil
	}

	entries := make([]Entry, 0, counts.Distinct())
	for _, id := range counts.order {
		entries = append(entries, Entry{AuthorID: id, Count: counts.counts[id]})
	}

	// Stable sort over a first-seen-ordered slice: equal counts stay in
	// encounter order.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})

	if len(entries) > topN {
		entries = entries[:topN]
	}
	return entries
}
