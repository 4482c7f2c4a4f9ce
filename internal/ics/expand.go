package ics

import (
	"cmp"
	"slices"
	"time"

	"cityfeed/internal/model"
)

// DefaultHorizonDays is the lookahead used when the caller passes a
// non-positive horizon.
const DefaultHorizonDays = 30

// Window is the inclusive lookahead interval [Start, End].
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow returns [now, now+horizonDays].
func NewWindow(now time.Time, horizonDays int) Window {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	now = now.UTC()
	return Window{Start: now, End: now.AddDate(0, 0, horizonDays)}
}

// Contains reports whether t lies inside the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// claim marks one day of a series as taken by an override record.
type claim struct {
	baseID string
	day    Day
}

// Expand turns raw feed text into the concrete occurrences starting in
// [now, now+horizonDays], sorted by start then id. It has no side effects
// and never reads the clock: the same arguments always give the same
// result. Malformed input is skipped, never reported.
func Expand(text string, now time.Time, horizonDays int) []model.Occurrence {
	return ExpandRecords(ParseRecords(text), NewWindow(now, horizonDays))
}

// ExpandRecords expands already parsed records inside win.
func ExpandRecords(records []RawEventRecord, win Window) []model.Occurrence {
	claims := make(map[claim]struct{})
	for _, rec := range records {
		if day, ok := rec.OverrideOf.Get(); ok {
			claims[claim{baseID: rec.BaseID, day: day}] = struct{}{}
		}
	}

	out := make([]model.Occurrence, 0, len(records))
	for _, rec := range records {
		if rec.IsOverride() {
			continue
		}
		rule, ok := rec.RRule.Get()
		if !ok || !rule.Expands() {
			if _, taken := claims[claim{baseID: rec.BaseID, day: LocalDay(rec.Start.Instant)}]; taken {
				continue
			}
			out = appendSingle(out, rec, win)
			continue
		}
		out = append(out, expandSeries(rec, rule, claims, win)...)
	}

	// Overrides are emitted as they are; the base records above already
	// left their days free.
	for _, rec := range records {
		if rec.IsOverride() {
			out = appendSingle(out, rec, win)
		}
	}

	slices.SortFunc(out, func(a, b model.Occurrence) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func appendSingle(out []model.Occurrence, rec RawEventRecord, win Window) []model.Occurrence {
	if !win.Contains(rec.Start.Instant) {
		return out
	}
	return append(out, occurrenceAt(rec, rec.ID, rec.Start.Instant, rec.Duration()))
}

// expandSeries generates the instances of a DAILY or WEEKLY record that
// start inside win, skipping exception days and days claimed by
// overrides.
func expandSeries(rec RawEventRecord, rule Rule, claims map[claim]struct{}, win Window) []model.Occurrence {
	var out []model.Occurrence
	dur := rec.Duration()

	for current := range newSeries(rule, rec.Start, win.End).instants() {
		if !win.Contains(current) {
			continue
		}
		day := LocalDay(current)
		if _, skip := rec.ExDates[day]; skip {
			continue
		}
		if _, taken := claims[claim{baseID: rec.BaseID, day: day}]; taken {
			continue
		}
		out = append(out, occurrenceAt(rec, instanceID(rec.BaseID, day), current, dur))
	}
	return out
}

func occurrenceAt(rec RawEventRecord, id string, start time.Time, dur time.Duration) model.Occurrence {
	occ := model.Occurrence{
		ID:          id,
		Summary:     rec.Summary,
		Description: rec.Description,
		Location:    rec.Location,
		AllDay:      rec.AllDay,
		Start:       start.UTC(),
	}
	if dur > 0 {
		end := occ.Start.Add(dur)
		occ.End = &end
	}
	return occ
}
