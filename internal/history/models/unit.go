package models

import (
	"strings"
	"time"

	dErrors "borderhist/pkg/domain-errors"
)

// UnitKind distinguishes the two parallel registries.
type UnitKind string

const (
	UnitKindRegion   UnitKind = "Region"
	UnitKindDistrict UnitKind = "District"
)

func (k UnitKind) IsValid() bool {
	return k == UnitKindRegion || k == UnitKindDistrict
}

// UnitState is one dated attribute snapshot of a unit. Attributes that change
// through time (name, seat, type, homeland classification) live here;
// attributes fixed for the unit's whole life live on Unit.
type UnitState struct {
	CurrentName     string   `json:"current_name"`
	CurrentSeatName string   `json:"current_seat_name,omitempty"`
	CurrentDistType string   `json:"current_dist_type,omitempty"` // districts only
	Homeland        bool     `json:"homeland,omitempty"`          // regions only
	Timespan        Timespan `json:"timespan"`

	// Territory is an opaque geometry reference. The engine stores and
	// transfers it but never interprets it.
	Territory any `json:"territory,omitempty"`
}

func (s UnitState) clone() UnitState {
	out := s
	out.Timespan = s.Timespan.clone()
	return out
}

// Unit is one administrative entity (region or district) with its full
// attribute-state history. Units are never deleted: abolition closes the last
// state's timespan and the history stays queryable.
type Unit struct {
	NameID           string      `json:"name_id"`
	Kind             UnitKind    `json:"unit_kind"`
	NameVariants     []string    `json:"name_variants"`
	SeatNameVariants []string    `json:"seat_name_variants,omitempty"`
	States           []UnitState `json:"states"`
}

func (u *Unit) Validate() error {
	if u.NameID == "" {
		return dErrors.New(dErrors.CodeValidation, "unit name_id is required")
	}
	if !u.Kind.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "unit %s has unknown kind %q", u.NameID, u.Kind)
	}
	if len(u.States) == 0 {
		return dErrors.Newf(dErrors.CodeValidation, "unit %s has no states", u.NameID)
	}
	for i, st := range u.States {
		if err := st.Timespan.Validate(); err != nil {
			return err
		}
		for j := i + 1; j < len(u.States); j++ {
			if st.Timespan.Overlaps(u.States[j].Timespan) {
				return dErrors.Newf(dErrors.CodeValidation,
					"unit %s has overlapping state timespans %s and %s",
					u.NameID, st.Timespan, u.States[j].Timespan)
			}
		}
	}
	return nil
}

// CurrentState returns the chronologically last state.
func (u *Unit) CurrentState() *UnitState {
	if len(u.States) == 0 {
		return nil
	}
	return &u.States[len(u.States)-1]
}

// CurrentName is the unit's name in its latest state, falling back to the
// stable identifier for units loaded without states.
func (u *Unit) CurrentName() string {
	if st := u.CurrentState(); st != nil && st.CurrentName != "" {
		return st.CurrentName
	}
	return u.NameID
}

// StateAt returns the state whose timespan covers date, or nil.
func (u *Unit) StateAt(date time.Time) *UnitState {
	for i := range u.States {
		if u.States[i].Timespan.Contains(date) {
			return &u.States[i]
		}
	}
	return nil
}

// ExistsAt reports whether the unit has a state covering date.
func (u *Unit) ExistsAt(date time.Time) bool { return u.StateAt(date) != nil }

// Active reports whether the latest state is still open.
func (u *Unit) Active() bool {
	st := u.CurrentState()
	return st != nil && st.Timespan.Open()
}

// CreateNextState closes the state covering date at that date and opens a new
// state starting there, copying the previous attributes. The caller mutates
// the returned state with the reformed attributes.
func (u *Unit) CreateNextState(date time.Time) (*UnitState, error) {
	prev := u.StateAt(date)
	if prev == nil {
		return nil, dErrors.Newf(dErrors.CodeOutOfRange,
			"unit %s has no state covering %s", u.NameID, date.Format(time.DateOnly))
	}
	next := prev.clone()
	end := date
	prev.Timespan.End = &end
	next.Timespan.Start = date
	u.States = append(u.States, next)
	return &u.States[len(u.States)-1], nil
}

// Abolish closes the state covering date, marking the unit inactive from that
// date on. The unit and its history remain in the registry.
func (u *Unit) Abolish(date time.Time) error {
	st := u.StateAt(date)
	if st == nil {
		return dErrors.Newf(dErrors.CodeOutOfRange,
			"unit %s has no state covering %s", u.NameID, date.Format(time.DateOnly))
	}
	end := date
	st.Timespan.End = &end
	return nil
}

// matchesCurrentName reports a case-insensitive match against the unit's
// current name or stable identifier.
func (u *Unit) matchesCurrentName(name string) bool {
	return strings.EqualFold(u.CurrentName(), name) || strings.EqualFold(u.NameID, name)
}

// matchesVariant reports a case-insensitive match against any historical or
// alternative name.
func (u *Unit) matchesVariant(name string) bool {
	for _, v := range u.NameVariants {
		if strings.EqualFold(v, name) {
			return true
		}
	}
	for i := range u.States {
		if strings.EqualFold(u.States[i].CurrentName, name) {
			return true
		}
	}
	return false
}

// Clone deep-copies the unit and its state history.
func (u *Unit) Clone() *Unit { return u.clone() }

func (u *Unit) clone() *Unit {
	out := &Unit{
		NameID:           u.NameID,
		Kind:             u.Kind,
		NameVariants:     append([]string(nil), u.NameVariants...),
		SeatNameVariants: append([]string(nil), u.SeatNameVariants...),
		States:           make([]UnitState, len(u.States)),
	}
	for i := range u.States {
		out.States[i] = u.States[i].clone()
	}
	return out
}
