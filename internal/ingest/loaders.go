package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"borderhist/internal/history/models"
	dErrors "borderhist/pkg/domain-errors"
	pstrings "borderhist/pkg/platform/strings"
)

type initialStateFile struct {
	ValidFrom string               `json:"valid_from" validate:"required,datetime=2006-01-02"`
	Regions   []models.RegionEntry `json:"regions" validate:"required,min=1"`
}

// DecodeInitialState reads the opening snapshot of a history. District lists
// are sorted on construction so the snapshot satisfies the export contract
// regardless of input order.
func DecodeInitialState(r io.Reader) (*models.AdministrativeState, error) {
	var file initialStateFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid initial state document")
	}
	if err := validate.Struct(file); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid initial state")
	}
	validFrom, err := time.Parse(dateLayout, file.ValidFrom)
	if err != nil {
		return nil, dErrors.Newf(dErrors.CodeValidation, "invalid valid_from %q", file.ValidFrom)
	}

	st := &models.AdministrativeState{ValidFrom: validFrom}
	for _, region := range file.Regions {
		if region.Name == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "region entry without a name")
		}
		districts := region.Districts
		region.Districts = nil
		st.Regions = append(st.Regions, region)
		for _, d := range districts {
			if err := st.AddDistrictIfAbsent(region.Name, d); err != nil {
				return nil, err
			}
		}
	}
	return st, nil
}

type unitStateFile struct {
	CurrentName     string  `json:"current_name" validate:"required"`
	CurrentSeatName string  `json:"current_seat_name"`
	CurrentDistType string  `json:"current_dist_type"`
	Homeland        bool    `json:"homeland"`
	Start           string  `json:"start" validate:"required,datetime=2006-01-02"`
	End             *string `json:"end" validate:"omitempty,datetime=2006-01-02"`
}

type unitFile struct {
	NameID           string          `json:"name_id" validate:"required"`
	NameVariants     []string        `json:"name_variants"`
	SeatNameVariants []string        `json:"seat_name_variants"`
	States           []unitStateFile `json:"states" validate:"required,min=1,dive"`
}

// DecodeRegistry reads a JSON array of unit records into a registry of the
// given kind.
func DecodeRegistry(r io.Reader, kind models.UnitKind) (*models.UnitRegistry, error) {
	var files []unitFile
	if err := json.NewDecoder(r).Decode(&files); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "registry document is not a JSON array")
	}

	reg := models.NewUnitRegistry(kind)
	for _, f := range files {
		if err := validate.Struct(f); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("invalid unit record %q", f.NameID))
		}
		u := &models.Unit{
			NameID:           f.NameID,
			Kind:             kind,
			NameVariants:     pstrings.DedupeAndTrim(f.NameVariants),
			SeatNameVariants: pstrings.DedupeAndTrim(f.SeatNameVariants),
		}
		for _, s := range f.States {
			start, err := time.Parse(dateLayout, s.Start)
			if err != nil {
				return nil, dErrors.Newf(dErrors.CodeValidation, "unit %s: invalid state start %q", f.NameID, s.Start)
			}
			state := models.UnitState{
				CurrentName:     s.CurrentName,
				CurrentSeatName: s.CurrentSeatName,
				CurrentDistType: s.CurrentDistType,
				Homeland:        s.Homeland,
				Timespan:        models.Timespan{Start: start},
			}
			if s.End != nil {
				end, err := time.Parse(dateLayout, *s.End)
				if err != nil {
					return nil, dErrors.Newf(dErrors.CodeValidation, "unit %s: invalid state end %q", f.NameID, *s.End)
				}
				state.Timespan.End = &end
			}
			u.States = append(u.States, state)
		}
		if err := reg.AddUnit(u); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// BuildRegistries derives region and district registries from an opening
// snapshot, for histories loaded without explicit registry files. Every unit
// opens at the snapshot's valid_from with the attributes the snapshot shows.
func BuildRegistries(st *models.AdministrativeState) (*models.Registries, error) {
	regs := &models.Registries{
		Regions:   models.NewRegionRegistry(),
		Districts: models.NewDistrictRegistry(),
	}
	for _, region := range st.Regions {
		ru := &models.Unit{
			NameID: region.Name,
			Kind:   models.UnitKindRegion,
			States: []models.UnitState{{
				CurrentName: region.Name,
				Homeland:    region.Homeland,
				Timespan:    models.Timespan{Start: st.ValidFrom},
			}},
		}
		if err := regs.Regions.AddUnit(ru); err != nil {
			return nil, err
		}
		for _, d := range region.Districts {
			du := &models.Unit{
				NameID:       d.Name,
				Kind:         models.UnitKindDistrict,
				NameVariants: pstrings.DedupeAndTrim(d.AlternativeNames),
				States: []models.UnitState{{
					CurrentName:     d.Name,
					CurrentSeatName: d.Seat,
					CurrentDistType: d.Type,
					Timespan:        models.Timespan{Start: st.ValidFrom},
				}},
			}
			if err := regs.Districts.AddUnit(du); err != nil {
				return nil, err
			}
		}
	}
	return regs, nil
}

// LoadChanges reads a change list from disk.
func LoadChanges(path string) ([]models.Change, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open change list: %w", err)
	}
	defer f.Close()
	return DecodeChanges(f)
}

// LoadInitialState reads an opening snapshot from disk.
func LoadInitialState(path string) (*models.AdministrativeState, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open initial state: %w", err)
	}
	defer f.Close()
	return DecodeInitialState(f)
}

// LoadRegistry reads a unit registry of the given kind from disk.
func LoadRegistry(path string, kind models.UnitKind) (*models.UnitRegistry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s registry: %w", kind, err)
	}
	defer f.Close()
	return DecodeRegistry(f, kind)
}
