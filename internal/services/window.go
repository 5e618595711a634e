package services

import "time"

// Window is a resolved query range: inclusive Start, exclusive End, both in
// the configured timezone. Start is always a local midnight and End is the
// local midnight after the last requested day, so two requests covering the
// same calendar span resolve to the identical window no matter how they were
// expressed (relative day count or explicit dates).
type Window struct {
	Start time.Time
	End   time.Time
	Days  int
}

// WindowOptions carries the clamping bounds for window resolution.
type WindowOptions struct {
	DefaultDays int
	MaxDays     int
}

// ResolveWindow turns raw query inputs into a Window. An explicit start/end
// pair (2006-01-02) wins when both parse and end >= start; otherwise the
// relative day count applies, clamped into [1, MaxDays] with DefaultDays as
// the fallback. A reversed explicit range falls back to the relative default
// rather than erroring. days=1 means today: local midnight to now.
func ResolveWindow(days int, startStr, endStr string, now time.Time, loc *time.Location, opts WindowOptions) Window {
	if opts.DefaultDays <= 0 {
		opts.DefaultDays = 14
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = 90
	}

	if startStr != "" && endStr != "" {
		start, errStart := time.ParseInLocation("2006-01-02", startStr, loc)
		end, errEnd := time.ParseInLocation("2006-01-02", endStr, loc)
		if errStart == nil && errEnd == nil && !end.Before(start) {
			s := dayStart(start, loc)
			e := dayStart(end, loc)
			return Window{Start: s, End: addDays(e, 1, loc), Days: spanDays(s, e)}
		}
	}

	if days == 0 {
		days = opts.DefaultDays
	}
	days = clampInt(days, 1, opts.MaxDays)
	today := dayStart(now, loc)
	return Window{Start: addDays(today, -(days - 1), loc), End: addDays(today, 1, loc), Days: days}
}

// dayStart returns the local midnight of the calendar day containing t.
func dayStart(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// addDays steps whole calendar days. Going through time.Date keeps the
// result on a real local midnight across DST transitions, where naive
// 24h arithmetic drifts.
func addDays(t time.Time, n int, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day()+n, 0, 0, 0, 0, loc)
}

// spanDays counts the calendar days from the day of start to the day of end
// inclusive. Both arguments must be local midnights. The distance between
// two local midnights is not always a multiple of 24h (DST days run 23 or
// 25 hours), so the division rounds to the nearest whole day.
func spanDays(start, end time.Time) int {
	diff := end.Sub(start)
	return int((diff+12*time.Hour)/(24*time.Hour)) + 1
}

// LocalDate formats the calendar date of an instant in the given zone.
func LocalDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clampFilter length-caps a free-form filter string instead of rejecting it.
func clampFilter(s string, max int) string {
	if max > 0 && len(s) > max {
		return s[:max]
	}
	return s
}
