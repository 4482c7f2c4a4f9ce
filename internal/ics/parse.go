package ics

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

const (
	beginEvent = "BEGIN:VEVENT"
	endEvent   = "END:VEVENT"
)

// RawEventRecord is one parsed VEVENT block. Records are rebuilt on every
// parse pass and never persisted.
type RawEventRecord struct {
	// ID identifies the record: its UID, for base and override records
	// alike.
	ID string
	// BaseID is the series the record belongs to (its UID).
	BaseID string

	Summary     string
	Description string
	Location    string

	Start  Timestamp
	End    mo.Option[Timestamp]
	AllDay bool

	RRule      mo.Option[Rule]
	ExDates    map[Day]struct{}
	OverrideOf mo.Option[Day] // RECURRENCE-ID day, only on override records
}

// IsOverride reports whether the record replaces one instance of another
// record's series.
func (r RawEventRecord) IsOverride() bool {
	return r.OverrideOf.IsPresent()
}

// Duration returns DTEND-DTSTART, or zero when there is no usable end.
func (r RawEventRecord) Duration() time.Duration {
	end, ok := r.End.Get()
	if !ok {
		return 0
	}
	if d := end.Instant.Sub(r.Start.Instant); d > 0 {
		return d
	}
	return 0
}

// ParseRecords unfolds text and turns every complete VEVENT block into a
// RawEventRecord. Blocks without END:VEVENT, without SUMMARY or without a
// parsable DTSTART are skipped.
func ParseRecords(text string) []RawEventRecord {
	fragments := strings.Split(Unfold(text), beginEvent)
	if len(fragments) < 2 {
		return nil
	}

	records := make([]RawEventRecord, 0, len(fragments)-1)
	// fragments[0] is whatever precedes the first event (VCALENDAR header).
	for _, frag := range fragments[1:] {
		end := strings.Index(frag, endEvent)
		if end < 0 {
			continue
		}
		if rec, ok := parseBlock(frag[:end]); ok {
			records = append(records, rec)
		}
	}
	return records
}

func parseBlock(block string) (RawEventRecord, bool) {
	var rec RawEventRecord
	lines := eventLines(block)

	summary, ok := lines.First("SUMMARY")
	if !ok || strings.TrimSpace(summary) == "" {
		return rec, false
	}
	rawStart, ok := lines.First("DTSTART")
	if !ok {
		return rec, false
	}
	start, ok := ParseTimestamp(rawStart).Get()
	if !ok {
		return rec, false
	}

	uid, _ := lines.First("UID")
	uid = strings.TrimSpace(uid)
	if uid == "" {
		// Stable across parses of the same text.
		uid = uuid.NewSHA1(uuid.NameSpaceOID, []byte(block)).String()
	}

	rec.ID = uid
	rec.BaseID = uid
	rec.Summary = unescapeText(strings.TrimSpace(summary))
	rec.Start = start
	rec.AllDay = start.Kind == KindDate || strings.EqualFold(lines.Params("DTSTART")["VALUE"], "DATE")

	if v, ok := lines.First("LOCATION"); ok {
		rec.Location = unescapeText(strings.TrimSpace(v))
	}
	if v, ok := lines.First("DESCRIPTION"); ok {
		rec.Description = unescapeText(strings.TrimSpace(v))
	}
	if v, ok := lines.First("DTEND"); ok {
		rec.End = ParseTimestamp(v)
	}
	if v, ok := lines.First("RRULE"); ok && strings.TrimSpace(v) != "" {
		rec.RRule = mo.Some(ParseRule(strings.TrimSpace(v)))
	}

	rec.ExDates = make(map[Day]struct{})
	for _, v := range lines.All("EXDATE") {
		for _, part := range strings.Split(v, ",") {
			if ts, ok := ParseTimestamp(part).Get(); ok {
				rec.ExDates[LocalDay(ts.Instant)] = struct{}{}
			}
		}
	}

	if v, ok := lines.First("RECURRENCE-ID"); ok {
		if ts, ok := ParseTimestamp(v).Get(); ok {
			day := LocalDay(ts.Instant)
			rec.OverrideOf = mo.Some(day)
		}
	}

	return rec, true
}

// eventLines returns the block's logical lines, leaving out nested
// components such as VALARM whose properties would shadow the event's.
func eventLines(block string) Lines {
	all := SplitLines(block)
	out := make(Lines, 0, len(all))
	depth := 0
	for _, l := range all {
		upper := strings.ToUpper(l)
		switch {
		case strings.HasPrefix(upper, "BEGIN:"):
			depth++
			continue
		case strings.HasPrefix(upper, "END:"):
			if depth > 0 {
				depth--
			}
			continue
		}
		if depth == 0 {
			out = append(out, l)
		}
	}
	return out
}

// instanceID is the id of a series instance on day.
func instanceID(baseID string, day Day) string {
	return baseID + "_" + day.Compact()
}

var textUnescaper = strings.NewReplacer(
	`\n`, "\n",
	`\N`, "\n",
	`\,`, ",",
	`\;`, ";",
	`\\`, `\`,
)

func unescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	return textUnescaper.Replace(s)
}
