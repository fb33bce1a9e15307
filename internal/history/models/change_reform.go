package models

import (
	"fmt"
	"strings"
	"time"

	dErrors "borderhist/pkg/domain-errors"
)

// ReformAttrs names the attributes a reform touches. ToReform carries the
// expected pre-reform values, AfterReform the new ones; the same fields must
// be set in both.
type ReformAttrs struct {
	Name     *string `json:"name,omitempty"`
	Seat     *string `json:"seat,omitempty"`
	DistType *string `json:"dist_type,omitempty"`
}

func (a ReformAttrs) sameShape(other ReformAttrs) bool {
	return (a.Name == nil) == (other.Name == nil) &&
		(a.Seat == nil) == (other.Seat == nil) &&
		(a.DistType == nil) == (other.DistType == nil)
}

func (a ReformAttrs) empty() bool {
	return a.Name == nil && a.Seat == nil && a.DistType == nil
}

// UnitReform renames, retypes, or reseats a unit in place. With
// CreateIfAbsent the AfterReform attributes double as the full definition of
// a unit that does not exist yet.
type UnitReform struct {
	ChangeMeta
	CurrentName string      `json:"current_name"`
	ToReform    ReformAttrs `json:"to_reform"`
	AfterReform ReformAttrs `json:"after_reform"`

	CreateIfAbsent bool `json:"create_if_absent,omitempty"`
	// TargetRegion places a created district; ignored for regions.
	TargetRegion string `json:"target_region,omitempty"`
	// AlternativeNames seeds the registry variants of a created unit.
	AlternativeNames []string `json:"alternative_names,omitempty"`
}

func (c *UnitReform) Validate() error {
	if err := c.validateMeta(); err != nil {
		return err
	}
	if c.Type != ChangeTypeUnitReform {
		return dErrors.Newf(dErrors.CodeValidation, "change type %q is not UnitReform", c.Type)
	}
	if c.CurrentName == "" {
		return dErrors.New(dErrors.CodeValidation, "reform requires current_name")
	}
	if !c.ToReform.sameShape(c.AfterReform) {
		return dErrors.New(dErrors.CodeValidation,
			"to_reform and after_reform must name the same attributes")
	}
	if c.AfterReform.empty() && !c.CreateIfAbsent {
		return dErrors.New(dErrors.CodeValidation, "reform changes no attributes")
	}
	if c.CreateIfAbsent {
		if c.AfterReform.Name == nil {
			return dErrors.New(dErrors.CodeValidation, "creating a unit requires after_reform.name")
		}
		if c.UnitKind == UnitKindDistrict && c.TargetRegion == "" {
			return dErrors.New(dErrors.CodeValidation, "creating a district requires target_region")
		}
	}
	return nil
}

func (c *UnitReform) Describe() string {
	var parts []string
	if c.AfterReform.Name != nil {
		parts = append(parts, fmt.Sprintf("renamed to %q", *c.AfterReform.Name))
	}
	if c.AfterReform.Seat != nil {
		parts = append(parts, fmt.Sprintf("seat moved to %q", *c.AfterReform.Seat))
	}
	if c.AfterReform.DistType != nil {
		parts = append(parts, fmt.Sprintf("retyped to %q", *c.AfterReform.DistType))
	}
	return fmt.Sprintf("%s the %s %s was reformed: %s (%s)",
		c.Date.Format(time.DateOnly), strings.ToLower(string(c.UnitKind)), c.CurrentName,
		strings.Join(parts, ", "), c.Source)
}

func (c *UnitReform) apply(ctx *applyContext) error {
	unit, err := ctx.resolveUnit(c.UnitKind, c.CurrentName)
	if err != nil {
		if c.CreateIfAbsent && dErrors.HasCode(err, dErrors.CodeUnresolvedUnit) {
			return c.applyCreate(ctx)
		}
		return err
	}

	prev := unit.CurrentState()
	if err := c.checkExpectations(prev); err != nil {
		return err
	}

	next, err := unit.CreateNextState(ctx.date)
	if err != nil {
		return err
	}
	oldName := prev.CurrentName
	if c.AfterReform.Name != nil {
		next.CurrentName = *c.AfterReform.Name
	}
	if c.AfterReform.Seat != nil {
		next.CurrentSeatName = *c.AfterReform.Seat
	}
	if c.AfterReform.DistType != nil {
		next.CurrentDistType = *c.AfterReform.DistType
	}

	switch c.UnitKind {
	case UnitKindDistrict:
		regionName, entry := ctx.state.FindDistrict(oldName)
		if entry == nil {
			return dErrors.Newf(dErrors.CodeNotFound,
				"district %q is registered but missing from the state", oldName)
		}
		reformed, err := ctx.state.PopDistrict(regionName, entry.Name)
		if err != nil {
			return err
		}
		reformed.Name = next.CurrentName
		reformed.Seat = next.CurrentSeatName
		reformed.Type = next.CurrentDistType
		if err := ctx.state.AddDistrictIfAbsent(regionName, reformed); err != nil {
			return err
		}
		ctx.report.addBoundary(unit.NameID)
	case UnitKindRegion:
		entry := ctx.state.Region(oldName)
		if entry == nil {
			return dErrors.Newf(dErrors.CodeNotFound,
				"region %q is registered but missing from the state", oldName)
		}
		entry.Name = next.CurrentName
		ctx.report.addRegion(unit.NameID)
	}
	return nil
}

// checkExpectations verifies the declared pre-reform values against the
// unit's current state, mirroring the source-record cross-check the change
// lists carry.
func (c *UnitReform) checkExpectations(prev *UnitState) error {
	if c.ToReform.Name != nil && !strings.EqualFold(*c.ToReform.Name, prev.CurrentName) {
		return dErrors.Newf(dErrors.CodeValidation,
			"reform expects name %q but the unit is named %q", *c.ToReform.Name, prev.CurrentName)
	}
	if c.ToReform.Seat != nil && !strings.EqualFold(*c.ToReform.Seat, prev.CurrentSeatName) {
		return dErrors.Newf(dErrors.CodeValidation,
			"reform expects seat %q but the unit's seat is %q", *c.ToReform.Seat, prev.CurrentSeatName)
	}
	if c.ToReform.DistType != nil && *c.ToReform.DistType != prev.CurrentDistType {
		return dErrors.Newf(dErrors.CodeValidation,
			"reform expects type %q but the unit's type is %q", *c.ToReform.DistType, prev.CurrentDistType)
	}
	return nil
}

func (c *UnitReform) applyCreate(ctx *applyContext) error {
	name := *c.AfterReform.Name
	state := UnitState{
		CurrentName: name,
		Timespan:    OpenTimespan(ctx.date),
	}
	if c.AfterReform.Seat != nil {
		state.CurrentSeatName = *c.AfterReform.Seat
	}
	if c.AfterReform.DistType != nil {
		state.CurrentDistType = *c.AfterReform.DistType
	}
	unit := &Unit{
		NameID:       name,
		Kind:         c.UnitKind,
		NameVariants: appendUnique(append([]string(nil), c.AlternativeNames...), name),
		States:       []UnitState{state},
	}

	reg, _ := ctx.regs.ByKind(c.UnitKind)
	if err := reg.AddUnit(unit); err != nil {
		return err
	}

	switch c.UnitKind {
	case UnitKindDistrict:
		entry := DistrictEntry{
			Name:             name,
			Seat:             state.CurrentSeatName,
			Type:             state.CurrentDistType,
			AlternativeNames: append([]string(nil), c.AlternativeNames...),
		}
		if err := ctx.state.AddDistrictIfAbsent(c.TargetRegion, entry); err != nil {
			return err
		}
		ctx.report.addCreated(unit.NameID)
	case UnitKindRegion:
		if err := ctx.state.AddRegion(RegionEntry{Name: name, Homeland: true}); err != nil {
			return err
		}
		ctx.report.addRegion(unit.NameID)
	}
	return nil
}
