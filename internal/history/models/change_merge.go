package models

import (
	"fmt"
	"strings"
	"time"

	dErrors "borderhist/pkg/domain-errors"
)

// ManyToOne merges territory from several sources into exactly one
// destination, created first when absent. Each source carries its own weight
// (the fraction of that source moved) and its own delete flag.
type ManyToOne struct {
	ChangeMeta
	TakeFrom []TransferSource `json:"take_from"`
	TakeTo   TransferDest     `json:"take_to"`
}

func (c *ManyToOne) Validate() error {
	if err := c.validateMeta(); err != nil {
		return err
	}
	if c.Type != ChangeTypeManyToOne {
		return dErrors.Newf(dErrors.CodeValidation, "change type %q is not ManyToOne", c.Type)
	}
	if c.UnitKind != UnitKindDistrict {
		return dErrors.New(dErrors.CodeValidation, "merges are only supported for districts")
	}
	if len(c.TakeFrom) == 0 {
		return dErrors.New(dErrors.CodeValidation, "merge requires at least one source")
	}
	for _, src := range c.TakeFrom {
		if src.Name == "" {
			return dErrors.New(dErrors.CodeValidation, "merge requires source names")
		}
		w := weightOrFull(src.Weight)
		if w <= 0 || w > 1 {
			return dErrors.Newf(dErrors.CodeValidation,
				"weight %.3f for source %q must be in (0, 1]", src.Weight, src.Name)
		}
	}
	if err := c.TakeTo.validate(); err != nil {
		return err
	}
	return nil
}

func (c *ManyToOne) Describe() string {
	var partial, whole []string
	for _, src := range c.TakeFrom {
		if src.DeleteUnit {
			whole = append(whole, src.Name)
		} else {
			partial = append(partial, src.Name)
		}
	}
	var parts []string
	if len(partial) > 0 {
		parts = append(parts, fmt.Sprintf("part of %s", strings.Join(partial, ", ")))
	}
	if len(whole) > 0 {
		parts = append(parts, fmt.Sprintf("the entire territory of %s", strings.Join(whole, ", ")))
	}
	date := c.Date.Format(time.DateOnly)
	if c.TakeTo.Create {
		return fmt.Sprintf("%s from %s the district %s was created (%s)",
			date, strings.Join(parts, " and "), c.TakeTo.destName(), c.Source)
	}
	return fmt.Sprintf("%s %s was merged into the district %s (%s)",
		date, strings.Join(parts, " and "), c.TakeTo.destName(), c.Source)
}

func (c *ManyToOne) apply(ctx *applyContext) error {
	sources := make([]*Unit, len(c.TakeFrom))
	for i, src := range c.TakeFrom {
		unit, err := ctx.resolveUnit(UnitKindDistrict, src.Name)
		if err != nil {
			return err
		}
		sources[i] = unit
	}

	var dest *Unit
	var err error
	if c.TakeTo.Create {
		dest, err = ctx.createDistrict(&c.TakeTo)
	} else {
		dest, err = ctx.resolveUnit(UnitKindDistrict, c.TakeTo.Name)
		if err == nil {
			err = ctx.advanceDistrict(dest)
		}
	}
	if err != nil {
		return err
	}

	for i, src := range c.TakeFrom {
		unit := sources[i]
		if err := ctx.recordTransfer(unit.NameID, dest.NameID, weightOrFull(src.Weight)); err != nil {
			return err
		}
		if src.DeleteUnit {
			if err := ctx.removeDistrict(unit); err != nil {
				return err
			}
		} else if err := ctx.advanceDistrict(unit); err != nil {
			return err
		}
	}
	return nil
}
