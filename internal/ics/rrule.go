package ics

import (
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/samber/mo"
)

const (
	FreqDaily  = "DAILY"
	FreqWeekly = "WEEKLY"
)

// Rule is the subset of an RRULE the expander understands.
type Rule struct {
	Raw      string
	Freq     string
	Interval int
	Until    mo.Option[time.Time]
	Count    mo.Option[int]

	// ByDay is read but not applied: series always advance from the
	// weekday of DTSTART, so multi-weekday rules yield a single weekday.
	ByDay []string
}

// ParseRule reads FREQ, INTERVAL, UNTIL, COUNT and BYDAY from a raw rule
// value such as "FREQ=WEEKLY;INTERVAL=2;COUNT=10". Unknown parts are
// ignored; malformed INTERVAL falls back to 1, malformed UNTIL and COUNT
// are treated as absent.
func ParseRule(raw string) Rule {
	r := Rule{Raw: raw, Interval: 1}

	for _, part := range strings.Split(raw, ";") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)

		switch strings.ToUpper(key) {
		case "FREQ":
			r.Freq = strings.ToUpper(val)
		case "INTERVAL":
			if n, err := strconv.Atoi(val); err == nil && n > 0 {
				r.Interval = n
			}
		case "UNTIL":
			if ts, ok := ParseTimestamp(val).Get(); ok {
				r.Until = mo.Some(ts.Instant)
			}
		case "COUNT":
			if n, err := strconv.Atoi(val); err == nil && n >= 0 {
				r.Count = mo.Some(n)
			}
		case "BYDAY":
			for _, d := range strings.Split(val, ",") {
				if d = strings.TrimSpace(d); d != "" {
					r.ByDay = append(r.ByDay, strings.ToUpper(d))
				}
			}
		}
	}
	return r
}

// Expands reports whether the rule drives a generated series. Other
// frequencies degrade to a single, non-recurring instance.
func (r Rule) Expands() bool {
	return r.Freq == FreqDaily || r.Freq == FreqWeekly
}

// stepDays is the distance between two consecutive instances.
func (r Rule) stepDays() int {
	if r.Freq == FreqWeekly {
		return 7 * r.Interval
	}
	return r.Interval
}

// series walks the theoretical instants of a rule anchored at start. The
// walk can never pass until, and stops after Count instants when set, so
// it terminates even for rules with neither COUNT nor UNTIL.
type series struct {
	rule  Rule
	start Timestamp
	until time.Time
}

func newSeries(rule Rule, start Timestamp, windowEnd time.Time) series {
	until := windowEnd
	if u, ok := rule.Until.Get(); ok && u.Before(until) {
		until = u
	}
	return series{rule: rule, start: start, until: until}
}

// instants yields every instant of the series up to the bound. Each
// instant counts against COUNT whether or not the caller keeps it.
func (s series) instants() iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		step := s.rule.stepDays()
		if step <= 0 {
			return
		}
		limit, counted := s.rule.Count.Get()

		for n := 0; ; n++ {
			if counted && n >= limit {
				return
			}
			current := s.at(n * step)
			if current.After(s.until) {
				return
			}
			if !yield(current) {
				return
			}
		}
	}
}

// at returns the instant days after the anchor. Floating local series keep
// their host-city wall-clock time across DST switches; UTC and date
// anchored series move in whole UTC days.
func (s series) at(days int) time.Time {
	if s.start.Kind == KindLocal {
		return addLocalDays(s.start.Instant, days)
	}
	return s.start.Instant.AddDate(0, 0, days)
}
