package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"cityfeed/internal/model"
)

const productID = "-//cityfeed//occurrences//EN"

// Export renders occurrences as a flat ICS feed: one VEVENT per
// occurrence, no recurrence rules. stamp becomes every event's DTSTAMP so
// that identical input serializes identically.
func Export(occurrences []model.Occurrence, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)

	for _, occ := range occurrences {
		ev := cal.AddEvent(occ.Key())
		ev.SetDtStampTime(stamp.UTC())
		ev.SetSummary(occ.Summary)
		if occ.Description != "" {
			ev.SetDescription(occ.Description)
		}
		if occ.Location != "" {
			ev.SetLocation(occ.Location)
		}

		if occ.AllDay {
			ev.SetAllDayStartAt(occ.Start)
			if occ.End != nil {
				ev.SetAllDayEndAt(*occ.End)
			}
			continue
		}
		ev.SetStartAt(occ.Start)
		if occ.End != nil {
			ev.SetEndAt(*occ.End)
		}
	}

	return cal.Serialize()
}
