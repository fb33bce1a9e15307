package models

import (
	dErrors "borderhist/pkg/domain-errors"
)

// TransferSource is one unit giving territory away in a split or merge.
type TransferSource struct {
	Name string `json:"current_name"`
	// Weight is the fraction of the source transferred, in (0, 1]. Zero
	// means "unset" and defaults to a full share. Only merges read it;
	// splits carry weights on the destinations.
	Weight float64 `json:"weight,omitempty"`
	// DeleteUnit abolishes the source after the transfer. A transferred
	// share below 1 then leaves a remainder that is administratively
	// dissolved rather than reassigned.
	DeleteUnit bool `json:"delete_unit"`
}

// TransferDest is one unit receiving territory in a split or merge.
type TransferDest struct {
	Name   string  `json:"current_name"`
	Create bool    `json:"create,omitempty"`
	Weight float64 `json:"weight,omitempty"`
	// Region places the district entry when the destination is created.
	Region string `json:"region,omitempty"`
	// District is the full definition of a destination created by the
	// change; required when Create is set.
	District *DistrictEntry `json:"district,omitempty"`
	// AlternativeNames seeds the registry variants of a created unit.
	AlternativeNames []string `json:"alternative_names,omitempty"`
}

func (d *TransferDest) validate() error {
	if d.Create {
		if d.District == nil || d.District.Name == "" {
			return dErrors.New(dErrors.CodeValidation,
				"a full district definition is required when create is set")
		}
		if d.Region == "" {
			return dErrors.New(dErrors.CodeValidation,
				"a target region is required when create is set")
		}
		return nil
	}
	if d.Name == "" {
		return dErrors.New(dErrors.CodeValidation,
			"a destination name is required when create is not set")
	}
	return nil
}

// destName returns the effective destination name regardless of whether the
// unit is created or resolved.
func (d *TransferDest) destName() string {
	if d.Create {
		return d.District.Name
	}
	return d.Name
}

// weightOrFull treats an unset weight as a full share.
func weightOrFull(w float64) float64 {
	if w == 0 {
		return 1
	}
	return w
}

// createDistrict registers a new district unit from a destination definition
// and inserts its entry into the working state.
func (ctx *applyContext) createDistrict(d *TransferDest) (*Unit, error) {
	entry := d.District.clone()
	entry.AlternativeNames = appendUniqueAll(entry.AlternativeNames, d.AlternativeNames)
	unit := &Unit{
		NameID:       entry.Name,
		Kind:         UnitKindDistrict,
		NameVariants: appendUnique(append([]string(nil), entry.AlternativeNames...), entry.Name),
		States: []UnitState{{
			CurrentName:     entry.Name,
			CurrentSeatName: entry.Seat,
			CurrentDistType: entry.Type,
			Timespan:        OpenTimespan(ctx.date),
		}},
	}
	if err := ctx.regs.Districts.AddUnit(unit); err != nil {
		return nil, err
	}
	if err := ctx.state.AddDistrictIfAbsent(d.Region, entry); err != nil {
		return nil, err
	}
	ctx.report.addCreated(unit.NameID)
	return unit, nil
}

// removeDistrict abolishes the unit and drops its entry from the state.
func (ctx *applyContext) removeDistrict(unit *Unit) error {
	regionName, entry := ctx.state.FindDistrict(unit.CurrentName())
	if entry == nil {
		return dErrors.Newf(dErrors.CodeNotFound,
			"district %q is registered but missing from the state", unit.CurrentName())
	}
	if _, err := ctx.state.PopDistrict(regionName, entry.Name); err != nil {
		return err
	}
	if err := unit.Abolish(ctx.date); err != nil {
		return err
	}
	ctx.report.addAbolished(unit.NameID)
	return nil
}

// advanceDistrict opens a new unit state at the change date for a retained
// unit whose territory changed. The new state's territory is left unset;
// geometry is imputed downstream (the engine never interprets it).
func (ctx *applyContext) advanceDistrict(unit *Unit) error {
	next, err := unit.CreateNextState(ctx.date)
	if err != nil {
		return err
	}
	next.Territory = nil
	ctx.report.addBoundary(unit.NameID)
	return nil
}

func appendUniqueAll(list []string, names []string) []string {
	for _, n := range names {
		list = appendUnique(list, n)
	}
	return list
}
