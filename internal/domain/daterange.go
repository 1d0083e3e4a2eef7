package domain

import "time"

// DateLayout is the ISO date format used on the wire and in CLI flags.
const DateLayout = "2006-01-02"

// DateRange is an inclusive [Start, End] span of calendar days. Both bounds
// are UTC midnights; End is part of the range.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

// MonthRanges splits r into calendar-month sub-ranges clipped to r's bounds.
// The sub-ranges are ordered, non-overlapping, and their union equals r.
// Callers must ensure r.Start <= r.End; the result for a reversed range is
// empty, not an error.
func MonthRanges(r DateRange) []DateRange {
	var ranges []DateRange
	cur := time.Date(r.Start.Year(), r.Start.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(r.End) {
		monthEnd := cur.AddDate(0, 1, -1)
		ranges = append(ranges, DateRange{
			Start: laterOf(r.Start, cur),
			End:   earlierOf(r.End, monthEnd),
		})
		cur = cur.AddDate(0, 1, 0)
	}
	return ranges
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlierOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
