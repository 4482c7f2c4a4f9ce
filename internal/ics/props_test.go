package ics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnfold(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"crlf with space", "DESCRIPTION:Long\r\n  text\r\nUID:1", "DESCRIPTION:Long text\nUID:1"},
		{"lf with tab", "SUMMARY:Jazz\n\tnight\nUID:1", "SUMMARY:Jazznight\nUID:1"},
		{"multiple folds", "X:a\n b\n c", "X:abc"},
		{"nothing to do", "A:1\nB:2", "A:1\nB:2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Unfold(tt.in))
		})
	}
}

func TestLines_FirstAndAll(t *testing.T) {
	lines := SplitLines(Unfold("UID:abc\n" +
		"DTSTART;TZID=Europe/Vienna:20260508T190000\n" +
		"SUMMARY:Open stage: poetry\n" +
		"EXDATE:20260515T190000\n" +
		"EXDATE;TZID=Europe/Vienna:20260522T190000,20260529T190000\n" +
		"X-SUMMARY-NOTE:not a summary\n"))

	v, ok := lines.First("DTSTART")
	assert.True(t, ok)
	assert.Equal(t, "20260508T190000", v)

	v, ok = lines.First("SUMMARY")
	assert.True(t, ok)
	assert.Equal(t, "Open stage: poetry", v, "value runs from the first colon to the end")

	v, ok = lines.First("summary")
	assert.True(t, ok, "property names match case-insensitively")
	assert.Equal(t, "Open stage: poetry", v)

	_, ok = lines.First("LOCATION")
	assert.False(t, ok)

	assert.Equal(t, []string{"20260515T190000", "20260522T190000,20260529T190000"}, lines.All("EXDATE"))
	assert.Empty(t, lines.All("RRULE"))
}

func TestLines_Params(t *testing.T) {
	lines := SplitLines("DTSTART;VALUE=DATE;TZID=\"Europe/Vienna\":20260508\nDTEND:20260509")

	assert.Equal(t, map[string]string{"VALUE": "DATE", "TZID": "Europe/Vienna"}, lines.Params("DTSTART"))
	assert.Empty(t, lines.Params("DTEND"))
	assert.Nil(t, lines.Params("RRULE"))
}
