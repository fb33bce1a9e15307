package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	dErrors "borderhist/pkg/domain-errors"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

type ChangeSuite struct {
	suite.Suite
	state *AdministrativeState
	regs  *Registries
}

func TestChangeSuite(t *testing.T) {
	suite.Run(t, new(ChangeSuite))
}

func (s *ChangeSuite) SetupTest() {
	s.state = &AdministrativeState{
		ValidFrom: date(1920, 1, 1),
		Regions: []RegionEntry{
			{Name: "A", Homeland: true, Districts: []DistrictEntry{
				{Name: "district_a", Seat: "seat_a", Type: "rural", AlternativeNames: []string{"alt_a"}},
				{Name: "district_b", Seat: "seat_b", Type: "urban"},
			}},
			{Name: "territory", Homeland: true, Districts: []DistrictEntry{
				{Name: "district_c", Seat: "seat_c", Type: "rural"},
				{Name: "district_d", Seat: "seat_d", Type: "rural"},
			}},
			{Name: "outland", Homeland: false, Districts: []DistrictEntry{
				{Name: "district_x", Seat: "seat_x", Type: "rural"},
			}},
		},
	}
	s.regs = s.registriesFor(s.state)
}

// registriesFor builds region and district registries matching the state,
// with every unit opening at the state's valid_from.
func (s *ChangeSuite) registriesFor(st *AdministrativeState) *Registries {
	regs := NewRegistries()
	for _, r := range st.Regions {
		s.Require().NoError(regs.Regions.AddUnit(&Unit{
			NameID:       r.Name,
			Kind:         UnitKindRegion,
			NameVariants: []string{r.Name},
			States: []UnitState{{
				CurrentName: r.Name,
				Homeland:    r.Homeland,
				Timespan:    OpenTimespan(st.ValidFrom),
			}},
		}))
		for _, d := range r.Districts {
			s.Require().NoError(regs.Districts.AddUnit(&Unit{
				NameID:       d.Name,
				Kind:         UnitKindDistrict,
				NameVariants: append(append([]string(nil), d.AlternativeNames...), d.Name),
				States: []UnitState{{
					CurrentName:     d.Name,
					CurrentSeatName: d.Seat,
					CurrentDistType: d.Type,
					Timespan:        OpenTimespan(st.ValidFrom),
				}},
			}))
		}
	}
	return regs
}

func (s *ChangeSuite) apply(changes ...Change) (*AdministrativeState, *Report, []LineageEdge) {
	next, report, edges, err := s.state.ApplyChanges(changes, s.regs, NewLineageSet())
	s.Require().NoError(err)
	return next, report, edges
}

func (s *ChangeSuite) TestUnitReformRename() {
	reform := &UnitReform{
		ChangeMeta:  ChangeMeta{Type: ChangeTypeUnitReform, UnitKind: UnitKindDistrict, Date: date(1950, 2, 1), Source: "Dz.U. 1950 nr 10"},
		CurrentName: "district_a",
		ToReform:    ReformAttrs{Name: strPtr("district_a")},
		AfterReform: ReformAttrs{Name: strPtr("district_a_Reformed")},
	}

	next, report, edges := s.apply(reform)

	s.Run("the successor state carries the new name", func() {
		region, entry := next.FindDistrict("district_a_Reformed")
		s.Equal("A", region)
		s.Require().NotNil(entry)
		s.Equal("seat_a", entry.Seat)
	})

	s.Run("the prior state is untouched", func() {
		region, entry := s.state.FindDistrict("district_a")
		s.Equal("A", region)
		s.NotNil(entry)
		s.Nil(s.state.ValidTo)
	})

	s.Run("the unit gained a second non-overlapping state", func() {
		unit := s.regs.Districts.Get("district_a")
		s.Require().NotNil(unit)
		s.Require().Len(unit.States, 2)
		s.Require().NotNil(unit.States[0].Timespan.End)
		s.True(unit.States[0].Timespan.End.Equal(date(1950, 2, 1)))
		s.True(unit.States[1].Timespan.Start.Equal(date(1950, 2, 1)))
		s.Nil(unit.States[1].Timespan.End)
		s.Equal("district_a_Reformed", unit.States[1].CurrentName)
		s.NoError(unit.Validate())
	})

	s.Run("the reformed name resolves after reindexing", func() {
		unit, err := s.regs.Districts.ResolveOne("district_a_Reformed")
		s.Require().NoError(err)
		s.Equal("district_a", unit.NameID)
	})

	s.Contains(report.BoundaryChanged, "district_a")
	s.Empty(edges, "renames move no territory")
}

func (s *ChangeSuite) TestUnitReformExpectationMismatch() {
	reform := &UnitReform{
		ChangeMeta:  ChangeMeta{Type: ChangeTypeUnitReform, UnitKind: UnitKindDistrict, Date: date(1950, 2, 1)},
		CurrentName: "district_a",
		ToReform:    ReformAttrs{Seat: strPtr("not_the_seat")},
		AfterReform: ReformAttrs{Seat: strPtr("new_seat")},
	}
	_, _, _, err := s.state.ApplyChanges([]Change{reform}, s.regs, NewLineageSet())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ChangeSuite) TestUnitReformCreateIfAbsent() {
	reform := &UnitReform{
		ChangeMeta:     ChangeMeta{Type: ChangeTypeUnitReform, UnitKind: UnitKindDistrict, Date: date(1950, 2, 1)},
		CurrentName:    "district_new",
		AfterReform:    ReformAttrs{Name: strPtr("district_new"), Seat: strPtr("seat_new")},
		ToReform:       ReformAttrs{Name: strPtr("district_new"), Seat: strPtr("seat_new")},
		CreateIfAbsent: true,
		TargetRegion:   "A",
	}

	next, report, _ := s.apply(reform)

	s.Equal(s.state.DistrictCount()+1, next.DistrictCount())
	s.Contains(report.CreatedDistricts, "district_new")
	_, err := s.regs.Districts.ResolveOne("district_new")
	s.NoError(err)
}

func (s *ChangeSuite) TestManyToOneMerge() {
	merge := &ManyToOne{
		ChangeMeta: ChangeMeta{Type: ChangeTypeManyToOne, UnitKind: UnitKindDistrict, Date: date(1955, 1, 1), Source: "Dz.U. 1955 nr 1"},
		TakeFrom: []TransferSource{
			{Name: "district_c", Weight: 0.6, DeleteUnit: true},
			{Name: "district_d", Weight: 0.4, DeleteUnit: true},
		},
		TakeTo: TransferDest{
			Create:   true,
			Region:   "territory",
			District: &DistrictEntry{Name: "district_e", Seat: "seat_e", Type: "rural"},
		},
	}

	next, report, edges := s.apply(merge)

	s.Run("the sources vanish and the destination appears", func() {
		s.Equal(s.state.DistrictCount()-1, next.DistrictCount())
		region, entry := next.FindDistrict("district_e")
		s.Equal("territory", region)
		s.NotNil(entry)
		_, gone := next.FindDistrict("district_c")
		s.Nil(gone)
	})

	s.Run("both sources contribute a lineage edge", func() {
		s.Require().Len(edges, 2)
		weights := map[string]float64{}
		for _, e := range edges {
			s.Equal("district_e", e.ToUnit)
			s.True(e.Date.Equal(date(1955, 1, 1)))
			weights[e.FromUnit] = e.Weight
		}
		s.InDelta(0.6, weights["district_c"], 1e-9)
		s.InDelta(0.4, weights["district_d"], 1e-9)
	})

	s.Run("abolished units close their final state", func() {
		unit := s.regs.Districts.Get("district_c")
		s.Require().NotNil(unit)
		s.False(unit.Active())
	})

	s.ElementsMatch([]string{"district_c", "district_d"}, report.AbolishedDistricts)
	s.Contains(report.CreatedDistricts, "district_e")
}

func (s *ChangeSuite) TestSingleDestinationSplitEqualsRename() {
	split := &OneToMany{
		ChangeMeta: ChangeMeta{Type: ChangeTypeOneToMany, UnitKind: UnitKindDistrict, Date: date(1960, 7, 1)},
		TakeFrom:   TransferSource{Name: "district_b", DeleteUnit: true},
		TakeTo: []TransferDest{{
			Create:   true,
			Region:   "A",
			District: &DistrictEntry{Name: "district_b_prime", Seat: "seat_b", Type: "urban"},
		}},
	}
	splitNext, _, splitEdges := s.apply(split)

	renameState := s.state.Clone()
	renameRegs := s.registriesFor(renameState)
	rename := &UnitReform{
		ChangeMeta:  ChangeMeta{Type: ChangeTypeUnitReform, UnitKind: UnitKindDistrict, Date: date(1960, 7, 1)},
		CurrentName: "district_b",
		ToReform:    ReformAttrs{Name: strPtr("district_b")},
		AfterReform: ReformAttrs{Name: strPtr("district_b_prime")},
	}
	renameNext, _, _, err := renameState.ApplyChanges([]Change{rename}, renameRegs, NewLineageSet())
	s.Require().NoError(err)

	s.Equal(renameNext.ToRDList(false, false), splitNext.ToRDList(false, false))
	s.Require().Len(splitEdges, 1)
	s.InDelta(1.0, splitEdges[0].Weight, 1e-9, "the single unset destination takes the full share")
}

func (s *ChangeSuite) TestMergeReversesSplit() {
	original := s.state.ToRDList(false, false)

	split := &OneToMany{
		ChangeMeta: ChangeMeta{Type: ChangeTypeOneToMany, UnitKind: UnitKindDistrict, Date: date(1950, 1, 1)},
		TakeFrom:   TransferSource{Name: "district_b", DeleteUnit: true},
		TakeTo: []TransferDest{
			{Create: true, Weight: 0.5, Region: "A", District: &DistrictEntry{Name: "b_north", Type: "rural"}},
			{Create: true, Weight: 0.5, Region: "A", District: &DistrictEntry{Name: "b_south", Type: "rural"}},
		},
	}
	afterSplit, _, _ := s.apply(split)

	merge := &ManyToOne{
		ChangeMeta: ChangeMeta{Type: ChangeTypeManyToOne, UnitKind: UnitKindDistrict, Date: date(1951, 1, 1)},
		TakeFrom: []TransferSource{
			{Name: "b_north", DeleteUnit: true},
			{Name: "b_south", DeleteUnit: true},
		},
		TakeTo: TransferDest{
			Create:   true,
			Region:   "A",
			District: &DistrictEntry{Name: "district_b_restored", Seat: "seat_b", Type: "urban"},
		},
	}
	afterMerge, _, _, err := afterSplit.ApplyChanges([]Change{merge}, s.regs, NewLineageSet())
	s.Require().NoError(err)

	// Pair sets match up to the restored district's name.
	restored := afterMerge.ToRDList(false, false)
	s.Require().Len(restored, len(original))
	for i, p := range restored {
		if p.District == "district_b_restored" {
			restored[i].District = "district_b"
		}
	}
	sortPairs(restored)
	s.Equal(original, restored)
}

func (s *ChangeSuite) TestChangeAdmStateRegion() {
	change := &ChangeAdmState{
		ChangeMeta: ChangeMeta{Type: ChangeTypeChangeAdmState, UnitKind: UnitKindRegion, Date: date(1945, 5, 9)},
		TakeFrom:   Address{Region: "outland", Homeland: false},
		TakeTo:     Address{Region: "outland", Homeland: true},
	}

	next, report, edges := s.apply(change)

	s.True(next.Region("outland").Homeland)
	s.False(s.state.Region("outland").Homeland)
	s.Contains(report.ChangedRegions, "outland")
	s.Empty(edges)

	s.Run("the reclassified region now exports as homeland", func() {
		s.Contains(next.ToRDList(true, false), RDPair{Region: "outland", District: "district_x"})
	})
}

func (s *ChangeSuite) TestChangeAdmStateDistrictMove() {
	change := &ChangeAdmState{
		ChangeMeta: ChangeMeta{Type: ChangeTypeChangeAdmState, UnitKind: UnitKindDistrict, Date: date(1946, 1, 1)},
		TakeFrom:   Address{Region: "A", District: "district_b", Homeland: true},
		TakeTo:     Address{Region: "territory", District: "district_b", Homeland: true},
	}

	next, report, _ := s.apply(change)

	region, entry := next.FindDistrict("district_b")
	s.Equal("territory", region)
	s.NotNil(entry)
	s.Equal(s.state.DistrictCount(), next.DistrictCount(), "a move neither creates nor abolishes")
	s.Contains(report.ChangedRegions, "A")
	s.Contains(report.ChangedRegions, "territory")
	s.Contains(report.BoundaryChanged, "district_b")
}

func (s *ChangeSuite) TestApplyChangesErrors() {
	reformAt := func(day int) Change {
		return &UnitReform{
			ChangeMeta:  ChangeMeta{Type: ChangeTypeUnitReform, UnitKind: UnitKindDistrict, Date: date(1950, 1, day)},
			CurrentName: "district_a",
			AfterReform: ReformAttrs{Seat: strPtr("seat_z")},
			ToReform:    ReformAttrs{Seat: strPtr("seat_a")},
		}
	}

	s.Run("empty batch", func() {
		_, _, _, err := s.state.ApplyChanges(nil, s.regs, NewLineageSet())
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("mixed dates in one batch", func() {
		_, _, _, err := s.state.ApplyChanges([]Change{reformAt(1), reformAt(2)}, s.regs, NewLineageSet())
		s.True(dErrors.HasCode(err, dErrors.CodeInconsistentDate))
	})

	s.Run("change date not after the state", func() {
		old := &UnitReform{
			ChangeMeta:  ChangeMeta{Type: ChangeTypeUnitReform, UnitKind: UnitKindDistrict, Date: date(1920, 1, 1)},
			CurrentName: "district_a",
			AfterReform: ReformAttrs{Seat: strPtr("seat_z")},
			ToReform:    ReformAttrs{Seat: strPtr("seat_a")},
		}
		_, _, _, err := s.state.ApplyChanges([]Change{old}, s.regs, NewLineageSet())
		s.True(dErrors.HasCode(err, dErrors.CodeNonMonotonicChange))
	})

	s.Run("unit of the wrong kind", func() {
		mismatch := &UnitReform{
			ChangeMeta:  ChangeMeta{Type: ChangeTypeUnitReform, UnitKind: UnitKindDistrict, Date: date(1950, 1, 1)},
			CurrentName: "territory",
			AfterReform: ReformAttrs{Name: strPtr("renamed")},
			ToReform:    ReformAttrs{Name: strPtr("territory")},
		}
		_, _, _, err := s.state.ApplyChanges([]Change{mismatch}, s.regs, NewLineageSet())
		s.True(dErrors.HasCode(err, dErrors.CodeTypeMismatch))
	})

	s.Run("unresolvable unit", func() {
		missing := &UnitReform{
			ChangeMeta:  ChangeMeta{Type: ChangeTypeUnitReform, UnitKind: UnitKindDistrict, Date: date(1950, 1, 1)},
			CurrentName: "no_such_district",
			AfterReform: ReformAttrs{Name: strPtr("renamed")},
			ToReform:    ReformAttrs{Name: strPtr("no_such_district")},
		}
		_, _, _, err := s.state.ApplyChanges([]Change{missing}, s.regs, NewLineageSet())
		s.True(dErrors.HasCode(err, dErrors.CodeUnresolvedUnit))
	})
}

func (s *ChangeSuite) TestDuplicateApplicationIsRejected() {
	split := &OneToMany{
		ChangeMeta: ChangeMeta{Type: ChangeTypeOneToMany, UnitKind: UnitKindDistrict, Date: date(1950, 1, 1)},
		TakeFrom:   TransferSource{Name: "district_c"},
		TakeTo:     []TransferDest{{Name: "district_d", Weight: 0.3}},
	}
	_, _, edges := s.apply(split)
	s.Require().Len(edges, 1)

	// The same transfer against the original state, with the committed
	// lineage presented as prior edges.
	freshRegs := s.registriesFor(s.state)
	_, _, _, err := s.state.ApplyChanges([]Change{split}, freshRegs, NewLineageSet(edges...))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNonMonotonicChange))
}

func (s *ChangeSuite) TestFailedBatchLeavesStateUntouched() {
	before := s.state.ToRDList(false, false)
	batch := []Change{
		&UnitReform{
			ChangeMeta:  ChangeMeta{Type: ChangeTypeUnitReform, UnitKind: UnitKindDistrict, Date: date(1950, 1, 1)},
			CurrentName: "district_a",
			AfterReform: ReformAttrs{Name: strPtr("district_a_ok")},
			ToReform:    ReformAttrs{Name: strPtr("district_a")},
		},
		&UnitReform{
			ChangeMeta:  ChangeMeta{Type: ChangeTypeUnitReform, UnitKind: UnitKindDistrict, Date: date(1950, 1, 1)},
			CurrentName: "no_such_district",
			AfterReform: ReformAttrs{Name: strPtr("renamed")},
			ToReform:    ReformAttrs{Name: strPtr("no_such_district")},
		},
	}
	_, _, _, err := s.state.ApplyChanges(batch, s.regs, NewLineageSet())
	s.Require().Error(err)
	s.Equal(before, s.state.ToRDList(false, false), "the receiver never mutates")
}

func (s *ChangeSuite) TestSplitValidation() {
	s.Run("weights must not exceed the full share", func() {
		split := &OneToMany{
			ChangeMeta: ChangeMeta{Type: ChangeTypeOneToMany, UnitKind: UnitKindDistrict, Date: date(1950, 1, 1)},
			TakeFrom:   TransferSource{Name: "district_c"},
			TakeTo: []TransferDest{
				{Name: "district_a", Weight: 0.7},
				{Name: "district_b", Weight: 0.7},
			},
		}
		s.True(dErrors.HasCode(split.Validate(), dErrors.CodeValidation))
	})

	s.Run("region-level splits are rejected", func() {
		split := &OneToMany{
			ChangeMeta: ChangeMeta{Type: ChangeTypeOneToMany, UnitKind: UnitKindRegion, Date: date(1950, 1, 1)},
			TakeFrom:   TransferSource{Name: "A"},
			TakeTo:     []TransferDest{{Name: "territory", Weight: 1}},
		}
		s.True(dErrors.HasCode(split.Validate(), dErrors.CodeValidation))
	})
}

func (s *ChangeSuite) TestSortChanges() {
	mk := func(d time.Time, order *int, name string) Change {
		return &UnitReform{
			ChangeMeta:  ChangeMeta{Type: ChangeTypeUnitReform, UnitKind: UnitKindDistrict, Date: d, Order: order},
			CurrentName: name,
			AfterReform: ReformAttrs{Name: strPtr(name + "_x")},
			ToReform:    ReformAttrs{Name: strPtr(name)},
		}
	}

	changes := []Change{
		mk(date(1950, 1, 1), nil, "late_unordered"),
		mk(date(1950, 1, 1), intPtr(2), "second"),
		mk(date(1949, 1, 1), nil, "earlier_date"),
		mk(date(1950, 1, 1), intPtr(1), "first"),
	}
	SortChanges(changes)

	got := []string{}
	for _, c := range changes {
		got = append(got, c.(*UnitReform).CurrentName)
	}
	s.Equal([]string{"earlier_date", "first", "second", "late_unordered"}, got)
}

func (s *ChangeSuite) TestDescribe() {
	merge := &ManyToOne{
		ChangeMeta: ChangeMeta{Type: ChangeTypeManyToOne, UnitKind: UnitKindDistrict, Date: date(1955, 1, 1), Source: "Dz.U. 1955 nr 1"},
		TakeFrom:   []TransferSource{{Name: "district_c", DeleteUnit: true}},
		TakeTo:     TransferDest{Name: "district_d"},
	}
	s.Equal("1955-01-01 the entire territory of district_c was merged into the district district_d (Dz.U. 1955 nr 1)", merge.Describe())
}
