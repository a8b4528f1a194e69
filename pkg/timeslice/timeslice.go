// Package timeslice provides the canonical hourly time-slice type and
// conversions used throughout the chargeback pipeline.
package timeslice

import "time"

// HoursPerDay is fixed; slices never cross DST boundaries because all
// slicing happens in UTC.
const HoursPerDay = 24

// HourOf normalizes t to the containing hourly slice in UTC. Every
// time.Time used as part of a ledger key must pass through here.
func HourOf(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// DayOf normalizes t to the containing UTC day.
func DayOf(t time.Time) time.Time {
	return t.UTC().Truncate(HoursPerDay * time.Hour)
}

// HoursBetween returns the number of whole hourly slices in [start, end).
func HoursBetween(start, end time.Time) int {
	s, e := HourOf(start), HourOf(end)
	if !e.After(s) {
		return 0
	}
	return int(e.Sub(s) / time.Hour)
}

// Hours enumerates every hourly slice in [start, end).
func Hours(start, end time.Time) []time.Time {
	n := HoursBetween(start, end)
	out := make([]time.Time, 0, n)
	for h, i := HourOf(start), 0; i < n; h, i = h.Add(time.Hour), i+1 {
		out = append(out, h)
	}
	return out
}

// Next returns the following hourly slice.
func Next(slice time.Time) time.Time {
	return HourOf(slice).Add(time.Hour)
}
