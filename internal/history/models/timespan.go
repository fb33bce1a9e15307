package models

import (
	"fmt"
	"time"

	dErrors "borderhist/pkg/domain-errors"
)

// Timespan is the half-open interval [Start, End) during which a fact was
// valid. A nil End means the span is still open. Using half-open spans keeps
// consecutive unit states disjoint: closing a state at a change date and
// opening the next one at the same date never produces an overlap.
type Timespan struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

// NewTimespan builds a closed span and validates ordering.
func NewTimespan(start, end time.Time) (Timespan, error) {
	ts := Timespan{Start: start, End: &end}
	if err := ts.Validate(); err != nil {
		return Timespan{}, err
	}
	return ts, nil
}

// OpenTimespan builds a span with no end date.
func OpenTimespan(start time.Time) Timespan {
	return Timespan{Start: start}
}

func (t Timespan) Validate() error {
	if t.End != nil && t.End.Before(t.Start) {
		return dErrors.Newf(dErrors.CodeValidation, "timespan end %s precedes start %s",
			t.End.Format(time.DateOnly), t.Start.Format(time.DateOnly))
	}
	return nil
}

// Contains reports whether date falls inside [Start, End).
func (t Timespan) Contains(date time.Time) bool {
	if date.Before(t.Start) {
		return false
	}
	return t.End == nil || date.Before(*t.End)
}

// Overlaps reports whether the two spans share any instant. Spans that only
// touch at a boundary date do not overlap.
func (t Timespan) Overlaps(other Timespan) bool {
	if t.End != nil && !other.Start.Before(*t.End) {
		return false
	}
	if other.End != nil && !t.Start.Before(*other.End) {
		return false
	}
	return true
}

// Equal is value equality on (Start, End).
func (t Timespan) Equal(other Timespan) bool {
	if !t.Start.Equal(other.Start) {
		return false
	}
	if (t.End == nil) != (other.End == nil) {
		return false
	}
	return t.End == nil || t.End.Equal(*other.End)
}

// Open reports whether the span has no end date yet.
func (t Timespan) Open() bool { return t.End == nil }

func (t Timespan) String() string {
	if t.End == nil {
		return fmt.Sprintf("[%s, open)", t.Start.Format(time.DateOnly))
	}
	return fmt.Sprintf("[%s, %s)", t.Start.Format(time.DateOnly), t.End.Format(time.DateOnly))
}

func (t Timespan) clone() Timespan {
	out := Timespan{Start: t.Start}
	if t.End != nil {
		end := *t.End
		out.End = &end
	}
	return out
}
