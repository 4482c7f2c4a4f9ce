package model

import "time"

// Occurrence represents a single concrete instance of an event
// (after recurrence expansion), ready for downstream consumers.
type Occurrence struct {
	// SourceID is the feed the occurrence came from. The expansion engine
	// leaves it empty; the refresh pipeline fills it in.
	SourceID string `json:"source_id,omitempty"`

	// ID is the base UID for single and override instances, and the base
	// UID plus a day suffix for generated series instances.
	ID string `json:"id"`

	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	AllDay bool `json:"all_day"`

	// Start / End are absolute instants (UTC).
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

// Duration returns End-Start, or zero when the occurrence has no end.
func (o Occurrence) Duration() time.Duration {
	if o.End == nil {
		return 0
	}
	return o.End.Sub(o.Start)
}

// Key is the deduplication key downstream stores use: source and id.
func (o Occurrence) Key() string {
	if o.SourceID == "" {
		return o.ID
	}
	return o.SourceID + "/" + o.ID
}
