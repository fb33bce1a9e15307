package models

import (
	"fmt"
	"strings"
	"time"

	dErrors "borderhist/pkg/domain-errors"
)

// Address locates a unit within the administrative hierarchy: a region by
// name and classification, or a district within a region. District empty
// means the address is region-level.
type Address struct {
	Homeland bool   `json:"homeland"`
	Region   string `json:"region"`
	District string `json:"district,omitempty"`
}

func (a Address) regionLevel() bool { return a.District == "" }

// ChangeAdmState moves a unit's administrative classification without
// altering territory or naming: a region between homeland and abroad, or a
// district between regions.
type ChangeAdmState struct {
	ChangeMeta
	TakeFrom Address `json:"take_from"`
	TakeTo   Address `json:"take_to"`
}

func (c *ChangeAdmState) Validate() error {
	if err := c.validateMeta(); err != nil {
		return err
	}
	if c.Type != ChangeTypeChangeAdmState {
		return dErrors.Newf(dErrors.CodeValidation, "change type %q is not ChangeAdmState", c.Type)
	}
	if c.TakeFrom.Region == "" || c.TakeTo.Region == "" {
		return dErrors.New(dErrors.CodeValidation, "both addresses require a region")
	}
	if c.TakeFrom.regionLevel() != c.TakeTo.regionLevel() {
		return dErrors.New(dErrors.CodeValidation,
			"take_from and take_to must both be region-level or both district-level")
	}
	switch c.UnitKind {
	case UnitKindRegion:
		if !c.TakeFrom.regionLevel() {
			return dErrors.New(dErrors.CodeValidation,
				"a region-level change must not name a district")
		}
		if !strings.EqualFold(c.TakeFrom.Region, c.TakeTo.Region) {
			return dErrors.New(dErrors.CodeValidation,
				"a region keeps its name when its classification changes")
		}
		if c.TakeFrom.Homeland == c.TakeTo.Homeland {
			return dErrors.New(dErrors.CodeValidation, "the classification does not change")
		}
	case UnitKindDistrict:
		if c.TakeFrom.regionLevel() {
			return dErrors.New(dErrors.CodeValidation,
				"a district-level change must name a district")
		}
		if !strings.EqualFold(c.TakeFrom.District, c.TakeTo.District) {
			return dErrors.New(dErrors.CodeValidation,
				"a district keeps its name when it changes regions")
		}
		if strings.EqualFold(c.TakeFrom.Region, c.TakeTo.Region) {
			return dErrors.New(dErrors.CodeValidation, "the district's region does not change")
		}
	}
	return nil
}

func (c *ChangeAdmState) Describe() string {
	date := c.Date.Format(time.DateOnly)
	if c.UnitKind == UnitKindRegion {
		to := "abroad"
		if c.TakeTo.Homeland {
			to = "the homeland"
		}
		return fmt.Sprintf("%s the region %s was reclassified as part of %s (%s)",
			date, c.TakeFrom.Region, to, c.Source)
	}
	return fmt.Sprintf("%s the district %s was moved from region %s to region %s (%s)",
		date, c.TakeFrom.District, c.TakeFrom.Region, c.TakeTo.Region, c.Source)
}

func (c *ChangeAdmState) apply(ctx *applyContext) error {
	switch c.UnitKind {
	case UnitKindRegion:
		unit, err := ctx.resolveUnit(UnitKindRegion, c.TakeFrom.Region)
		if err != nil {
			return err
		}
		entry := ctx.state.Region(unit.CurrentName())
		if entry == nil {
			return dErrors.Newf(dErrors.CodeNotFound,
				"region %q is registered but missing from the state", unit.CurrentName())
		}
		next, err := unit.CreateNextState(ctx.date)
		if err != nil {
			return err
		}
		next.Homeland = c.TakeTo.Homeland
		entry.Homeland = c.TakeTo.Homeland
		ctx.report.addRegion(unit.NameID)
		return nil

	case UnitKindDistrict:
		unit, err := ctx.resolveUnit(UnitKindDistrict, c.TakeFrom.District)
		if err != nil {
			return err
		}
		entry, err := ctx.state.PopDistrict(c.TakeFrom.Region, unit.CurrentName())
		if err != nil {
			return err
		}
		if err := ctx.state.AddDistrictIfAbsent(c.TakeTo.Region, entry); err != nil {
			return err
		}
		if _, err := unit.CreateNextState(ctx.date); err != nil {
			return err
		}
		ctx.report.addBoundary(unit.NameID)
		ctx.report.addRegion(c.TakeFrom.Region)
		ctx.report.addRegion(c.TakeTo.Region)
		return nil
	}
	return dErrors.Newf(dErrors.CodeValidation, "unknown unit type %q", c.UnitKind)
}
