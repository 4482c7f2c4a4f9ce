package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(blocks ...string) string {
	return "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
		strings.Join(blocks, "") +
		"END:VCALENDAR\r\n"
}

func vevent(lines ...string) string {
	return "BEGIN:VEVENT\r\n" + strings.Join(lines, "\r\n") + "\r\nEND:VEVENT\r\n"
}

func TestParseRecords_Fields(t *testing.T) {
	text := feed(vevent(
		"UID:jazz-1",
		"SUMMARY:Jazz\\, live",
		"DTSTART;TZID=Europe/Vienna:20260508T190000",
		"DTEND;TZID=Europe/Vienna:20260508T213000",
		"LOCATION:Porgy & Bess\\; Riemergasse 11",
		"DESCRIPTION:Line one\\nLine two with a very long tail that the publisher",
		"  folded onto a continuation line",
		"RRULE:FREQ=WEEKLY;BYDAY=FR",
		"EXDATE:20260515T190000,20260522T190000",
		"EXDATE:20260529",
	))

	records := ParseRecords(text)
	require.Len(t, records, 1)
	rec := records[0]

	assert.Equal(t, "jazz-1", rec.ID)
	assert.Equal(t, "jazz-1", rec.BaseID)
	assert.Equal(t, "Jazz, live", rec.Summary)
	assert.Equal(t, "Porgy & Bess; Riemergasse 11", rec.Location)
	assert.Equal(t, "Line one\nLine two with a very long tail that the publisher folded onto a continuation line", rec.Description)
	assert.Equal(t, KindLocal, rec.Start.Kind)
	assert.Equal(t, utc(2026, time.May, 8, 17, 0), rec.Start.Instant)
	assert.Equal(t, 150*time.Minute, rec.Duration())
	assert.False(t, rec.AllDay)
	assert.False(t, rec.IsOverride())

	rule, ok := rec.RRule.Get()
	require.True(t, ok)
	assert.Equal(t, FreqWeekly, rule.Freq)
	assert.Equal(t, []string{"FR"}, rule.ByDay)

	assert.Len(t, rec.ExDates, 3)
	assert.Contains(t, rec.ExDates, Day{2026, time.May, 15})
	assert.Contains(t, rec.ExDates, Day{2026, time.May, 22})
	assert.Contains(t, rec.ExDates, Day{2026, time.May, 29})
}

func TestParseRecords_SkipsMalformedBlocks(t *testing.T) {
	text := "BEGIN:VCALENDAR\n" +
		"BEGIN:VEVENT\nUID:unterminated\nSUMMARY:Lost\nDTSTART:20260508T190000\n" +
		"BEGIN:VEVENT\nUID:no-summary\nDTSTART:20260508T190000\nEND:VEVENT\n" +
		"BEGIN:VEVENT\nUID:no-start\nSUMMARY:Nowhere\nEND:VEVENT\n" +
		"BEGIN:VEVENT\nUID:bad-start\nSUMMARY:Someday\nDTSTART:soon\nEND:VEVENT\n" +
		"BEGIN:VEVENT\nUID:ok\nSUMMARY:Kept\nDTSTART:20260508T190000\nEND:VEVENT\n" +
		"END:VCALENDAR\n"

	records := ParseRecords(text)
	require.Len(t, records, 1)
	assert.Equal(t, "ok", records[0].ID)
}

func TestParseRecords_IgnoresNestedAlarm(t *testing.T) {
	text := feed(vevent(
		"UID:a1",
		"BEGIN:VALARM",
		"ACTION:DISPLAY",
		"DESCRIPTION:Reminder",
		"END:VALARM",
		"SUMMARY:Reading",
		"DTSTART:20260508T190000",
		"DESCRIPTION:The real description",
	))

	records := ParseRecords(text)
	require.Len(t, records, 1)
	assert.Equal(t, "The real description", records[0].Description)
}

func TestParseRecords_Override(t *testing.T) {
	text := feed(vevent(
		"UID:series-7",
		"RECURRENCE-ID;TZID=Europe/Vienna:20260508T190000",
		"SUMMARY:Moved",
		"DTSTART:20260508T210000",
	))

	records := ParseRecords(text)
	require.Len(t, records, 1)
	rec := records[0]

	assert.True(t, rec.IsOverride())
	assert.Equal(t, "series-7", rec.BaseID)
	assert.Equal(t, "series-7", rec.ID)
	assert.Equal(t, Day{2026, time.May, 8}, rec.OverrideOf.MustGet())
}

func TestParseRecords_AllDay(t *testing.T) {
	text := feed(
		vevent("UID:d1", "SUMMARY:Flea market", "DTSTART;VALUE=DATE:20260509", "DTEND;VALUE=DATE:20260510"),
	)

	records := ParseRecords(text)
	require.Len(t, records, 1)
	assert.True(t, records[0].AllDay)
	assert.Equal(t, KindDate, records[0].Start.Kind)
	assert.Equal(t, 24*time.Hour, records[0].Duration())
}

func TestParseRecords_MissingUIDIsStable(t *testing.T) {
	text := feed(vevent("SUMMARY:Anonymous", "DTSTART:20260508T190000"))

	first := ParseRecords(text)
	second := ParseRecords(text)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.NotEmpty(t, first[0].ID)
	assert.Equal(t, first[0].ID, second[0].ID)
}

func TestParseRecords_EndBeforeStartHasNoDuration(t *testing.T) {
	text := feed(vevent("UID:x", "SUMMARY:Odd", "DTSTART:20260508T190000", "DTEND:20260508T180000"))

	records := ParseRecords(text)
	require.Len(t, records, 1)
	assert.Zero(t, records[0].Duration())
}

func TestParseRecords_NoEvents(t *testing.T) {
	assert.Empty(t, ParseRecords(""))
	assert.Empty(t, ParseRecords("BEGIN:VCALENDAR\nEND:VCALENDAR\n"))
}
