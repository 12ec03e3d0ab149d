package scheduler

import "time"

// QuietHours is the daily window [Start:00, End:00) in Location during which no message may go out.
type QuietHours struct {
	Start    int
	End      int
	Location *time.Location
}

func DefaultQuietHours(loc *time.Location) QuietHours {
	return QuietHours{Start: 21, End: 8, Location: loc}
}

// Next returns base+delayHours, pushed forward to End:00 when it lands in the quiet window.
// A candidate at or after Start moves to the next calendar day; one before End stays on its day.
func (q QuietHours) Next(base time.Time, delayHours int) time.Time {
	loc := q.location()
	candidate := base.In(loc).Add(time.Duration(delayHours) * time.Hour)

	y, m, d := candidate.Date()
	switch h := candidate.Hour(); {
	case h >= q.Start:
		return time.Date(y, m, d+1, q.End, 0, 0, 0, loc)
	case h < q.End:
		return time.Date(y, m, d, q.End, 0, 0, 0, loc)
	}
	return candidate
}

// Quiet reports whether t falls inside the quiet window.
func (q QuietHours) Quiet(t time.Time) bool {
	h := t.In(q.location()).Hour()
	return h >= q.Start || h < q.End
}

// MonthStart returns 00:00 on the first day of t's calendar month in Location.
func (q QuietHours) MonthStart(t time.Time) time.Time {
	loc := q.location()
	y, m, _ := t.In(loc).Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, loc)
}

func (q QuietHours) location() *time.Location {
	if q.Location == nil {
		return time.UTC
	}
	return q.Location
}
