package models

import (
	"fmt"
	"strings"
	"time"

	dErrors "borderhist/pkg/domain-errors"
)

// OneToMany distributes one source unit's territory among one or more
// destinations. Weights are fractions of the source, never renormalized: a
// total below 1 leaves the remainder with a retained source, or dissolves it
// when the source is deleted.
type OneToMany struct {
	ChangeMeta
	TakeFrom TransferSource  `json:"take_from"`
	TakeTo   []TransferDest  `json:"take_to"`
}

func (c *OneToMany) Validate() error {
	if err := c.validateMeta(); err != nil {
		return err
	}
	if c.Type != ChangeTypeOneToMany {
		return dErrors.Newf(dErrors.CodeValidation, "change type %q is not OneToMany", c.Type)
	}
	if c.UnitKind != UnitKindDistrict {
		// Region-level territory exchange has no representation in the
		// change lists; only districts carry territory shares.
		return dErrors.New(dErrors.CodeValidation, "splits are only supported for districts")
	}
	if c.TakeFrom.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "split requires a source name")
	}
	if len(c.TakeTo) == 0 {
		return dErrors.New(dErrors.CodeValidation, "split requires at least one destination")
	}

	total := 0.0
	for i := range c.TakeTo {
		dest := &c.TakeTo[i]
		if err := dest.validate(); err != nil {
			return err
		}
		w := dest.Weight
		if w == 0 && len(c.TakeTo) == 1 {
			w = 1
		}
		if w <= 0 || w > 1 {
			return dErrors.Newf(dErrors.CodeValidation,
				"weight %.3f for destination %q must be in (0, 1]", dest.Weight, dest.destName())
		}
		total += w
	}
	if total > 1+1e-9 {
		return dErrors.Newf(dErrors.CodeValidation,
			"destination weights sum to %.3f, exceeding the source's full share", total)
	}
	return nil
}

func (c *OneToMany) Describe() string {
	names := make([]string, len(c.TakeTo))
	for i := range c.TakeTo {
		names[i] = c.TakeTo[i].destName()
	}
	destinations := strings.Join(names, ", ")
	date := c.Date.Format(time.DateOnly)
	if c.TakeFrom.DeleteUnit {
		return fmt.Sprintf("%s the district %s was abolished and its territory was integrated into %s (%s)",
			date, c.TakeFrom.Name, destinations, c.Source)
	}
	return fmt.Sprintf("%s part of the territory of the district %s was integrated into %s (%s)",
		date, c.TakeFrom.Name, destinations, c.Source)
}

func (c *OneToMany) apply(ctx *applyContext) error {
	source, err := ctx.resolveUnit(UnitKindDistrict, c.TakeFrom.Name)
	if err != nil {
		return err
	}

	for i := range c.TakeTo {
		dest := &c.TakeTo[i]
		var unit *Unit
		if dest.Create {
			unit, err = ctx.createDistrict(dest)
		} else {
			unit, err = ctx.resolveUnit(UnitKindDistrict, dest.Name)
			if err == nil {
				err = ctx.advanceDistrict(unit)
			}
		}
		if err != nil {
			return err
		}
		weight := dest.Weight
		if weight == 0 && len(c.TakeTo) == 1 {
			weight = 1
		}
		if err := ctx.recordTransfer(source.NameID, unit.NameID, weight); err != nil {
			return err
		}
	}

	if c.TakeFrom.DeleteUnit {
		return ctx.removeDistrict(source)
	}
	return ctx.advanceDistrict(source)
}
