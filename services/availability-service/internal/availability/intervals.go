package availability

import (
	"slices"

	"github.com/md-rashed-zaman/freeslots/services/availability-service/internal/model"
)

// Merge returns the intervals sorted by (Start, End) with every overlapping or
// touching pair folded together, so the result is pairwise disjoint and
// non-adjacent. The input slice is not modified. Merge is idempotent.
func Merge(intervals []model.Interval) []model.Interval {
	if len(intervals) == 0 {
		return []model.Interval{}
	}
	sorted := slices.Clone(intervals)
	slices.SortStableFunc(sorted, func(a, b model.Interval) int {
		if a.Start != b.Start {
			return a.Start - b.Start
		}
		return a.End - b.End
	})

	merged := []model.Interval{sorted[0]}
	for _, next := range sorted[1:] {
		cur := &merged[len(merged)-1]
		if next.Start <= cur.End {
			cur.End = max(cur.End, next.End)
			continue
		}
		merged = append(merged, next)
	}
	return merged
}

// Subtract returns the free intervals of bound once every busy interval is
// removed from it. Busy intervals that do not overlap bound are ignored; the
// result is sorted, disjoint and inside bound. An empty or inverted bound
// yields no free time.
func Subtract(bound model.Interval, busy []model.Interval) []model.Interval {
	free := []model.Interval{}
	if bound.End <= bound.Start {
		return free
	}

	relevant := make([]model.Interval, 0, len(busy))
	for _, b := range busy {
		// Half-open intervals: no overlap iff b.End <= bound.Start or b.Start >= bound.End.
		if b.End <= bound.Start || b.Start >= bound.End {
			continue
		}
		relevant = append(relevant, b)
	}

	cursor := bound.Start
	for _, b := range Merge(relevant) {
		if b.Start > cursor {
			free = append(free, model.Interval{Start: cursor, End: b.Start})
		}
		cursor = max(cursor, b.End)
	}
	if cursor < bound.End {
		free = append(free, model.Interval{Start: cursor, End: bound.End})
	}
	return free
}

// Covers reports whether slot lies entirely inside a single free interval.
// A slot split across two free blocks is not covered.
func Covers(free []model.Interval, slot model.Interval) bool {
	for _, f := range free {
		if f.Contains(slot) {
			return true
		}
	}
	return false
}

// Slots cuts [start, end) into consecutive slots of size minutes beginning at
// start. A trailing partial slot is dropped, so a size larger than the
// window gives no slots.
func Slots(start, end, size int) []model.Interval {
	var slots []model.Interval
	if size <= 0 {
		return slots
	}
	for t := start; t < end && size <= end-t; t += size {
		slots = append(slots, model.Interval{Start: t, End: t + size})
	}
	return slots
}
