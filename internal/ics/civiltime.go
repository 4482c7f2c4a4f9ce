package ics

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/mo"
)

// The host city keeps Central European time: UTC+1 in winter, UTC+2 from
// the last Sunday of March 01:00 UTC until the last Sunday of October
// 01:00 UTC. The rule is evaluated arithmetically so the binary does not
// depend on a system timezone database.
const (
	standardOffset = 1 * time.Hour
	summerOffset   = 2 * time.Hour
	switchHourUTC  = 1

	layoutUTC   = "20060102T150405Z"
	layoutLocal = "20060102T150405"
	layoutDate  = "20060102"
)

// Kind tells how a raw date/time token was written.
type Kind int

const (
	// KindUTC is a date-time ending in the UTC marker "Z".
	KindUTC Kind = iota
	// KindLocal is a floating date-time read as host-city wall clock.
	KindLocal
	// KindDate is a bare YYYYMMDD date, taken as midnight UTC.
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindUTC:
		return "utc"
	case KindLocal:
		return "local"
	case KindDate:
		return "date"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Timestamp is a resolved date/time token.
type Timestamp struct {
	Raw     string
	Kind    Kind
	Instant time.Time // always in UTC
}

// Day is a calendar day in host-city civil time.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Compact renders the day as YYYYMMDD, as used in occurrence ids.
func (d Day) Compact() string {
	return fmt.Sprintf("%04d%02d%02d", d.Year, int(d.Month), d.Day)
}

// ParseTimestamp resolves a raw token. It returns mo.None when the token
// matches none of the supported shapes, leaving the caller to decide
// between skipping the value and substituting a default.
func ParseTimestamp(token string) mo.Option[Timestamp] {
	token = strings.TrimSpace(token)

	switch {
	case strings.HasSuffix(token, "Z"):
		t, err := time.Parse(layoutUTC, token)
		if err != nil {
			return mo.None[Timestamp]()
		}
		return mo.Some(Timestamp{Raw: token, Kind: KindUTC, Instant: t})

	case len(token) >= len(layoutLocal) && strings.Contains(token, "T"):
		wall, err := time.Parse(layoutLocal, token[:len(layoutLocal)])
		if err != nil {
			return mo.None[Timestamp]()
		}
		return mo.Some(Timestamp{Raw: token, Kind: KindLocal, Instant: fromWallClock(wall)})

	case len(token) == len(layoutDate) && isDigits(token):
		t, err := time.Parse(layoutDate, token)
		if err != nil {
			return mo.None[Timestamp]()
		}
		return mo.Some(Timestamp{Raw: token, Kind: KindDate, Instant: t})
	}

	return mo.None[Timestamp]()
}

// Resolve converts token to an absolute instant. Unparseable tokens fall
// back to fallback when present, otherwise to now. now is supplied by the
// caller; Resolve never reads the wall clock.
func Resolve(token string, fallback mo.Option[time.Time], now time.Time) time.Time {
	if ts, ok := ParseTimestamp(token).Get(); ok {
		return ts.Instant
	}
	return fallback.OrElse(now)
}

// HostOffset returns the host-city UTC offset in effect at instant t.
func HostOffset(t time.Time) time.Duration {
	if isSummer(t) {
		return summerOffset
	}
	return standardOffset
}

// HostZone returns a fixed zone carrying the host-city offset at t, for
// presenting instants as local wall-clock time.
func HostZone(t time.Time) *time.Location {
	if isSummer(t) {
		return time.FixedZone("CEST", int(summerOffset/time.Second))
	}
	return time.FixedZone("CET", int(standardOffset/time.Second))
}

// LocalDay returns the host-city calendar day containing instant t.
func LocalDay(t time.Time) Day {
	wall := t.UTC().Add(HostOffset(t))
	y, m, d := wall.Date()
	return Day{Year: y, Month: m, Day: d}
}

// addLocalDays moves t by n host-city calendar days, keeping its
// wall-clock time across DST switches.
func addLocalDays(t time.Time, n int) time.Time {
	wall := t.UTC().Add(HostOffset(t)).AddDate(0, 0, n)
	return fromWallClock(wall)
}

// fromWallClock interprets the UTC-labelled fields of wall as host-city
// wall clock and returns the matching instant. The standard-time reading
// is tried first; if it already lies in summer time the summer offset is
// used. Autumn-overlap wall times therefore get the later (standard)
// instant.
func fromWallClock(wall time.Time) time.Time {
	guess := wall.Add(-standardOffset)
	if isSummer(guess) {
		return wall.Add(-summerOffset)
	}
	return guess
}

func isSummer(t time.Time) bool {
	t = t.UTC()
	y := t.Year()
	start := time.Date(y, time.March, lastSunday(y, time.March), switchHourUTC, 0, 0, 0, time.UTC)
	end := time.Date(y, time.October, lastSunday(y, time.October), switchHourUTC, 0, 0, 0, time.UTC)
	return !t.Before(start) && t.Before(end)
}

// lastSunday returns the day-of-month of the last Sunday in month,
// derived from the month's final day and its weekday.
func lastSunday(year int, month time.Month) int {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
	return last.Day() - int(last.Weekday())
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
