package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"borderhist/internal/audit"
	"borderhist/internal/history/models"
	"borderhist/internal/history/store"
	dErrors "borderhist/pkg/domain-errors"
)

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func strPtr(s string) *string { return &s }

type HistorySuite struct {
	suite.Suite
	ctx     context.Context
	store   *store.InMemoryStore
	sink    *audit.InMemoryStore
	history *History
}

func TestHistorySuite(t *testing.T) {
	suite.Run(t, new(HistorySuite))
}

func (s *HistorySuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewInMemory()
	s.sink = audit.NewInMemoryStore()

	initial := &models.AdministrativeState{
		ValidFrom: date(1920, 1, 1),
		Regions: []models.RegionEntry{
			{Name: "A", Homeland: true, Districts: []models.DistrictEntry{
				{Name: "district_a", Seat: "seat_a", Type: "rural"},
				{Name: "district_b", Seat: "seat_b", Type: "urban"},
			}},
			{Name: "territory", Homeland: true, Districts: []models.DistrictEntry{
				{Name: "district_c", Seat: "seat_c", Type: "rural"},
				{Name: "district_d", Seat: "seat_d", Type: "rural"},
			}},
		},
	}
	regs := models.NewRegistries()
	for _, r := range initial.Regions {
		s.Require().NoError(regs.Regions.AddUnit(&models.Unit{
			NameID:       r.Name,
			Kind:         models.UnitKindRegion,
			NameVariants: []string{r.Name},
			States: []models.UnitState{{
				CurrentName: r.Name,
				Homeland:    r.Homeland,
				Timespan:    models.OpenTimespan(initial.ValidFrom),
			}},
		}))
		for _, d := range r.Districts {
			s.Require().NoError(regs.Districts.AddUnit(&models.Unit{
				NameID:       d.Name,
				Kind:         models.UnitKindDistrict,
				NameVariants: []string{d.Name},
				States: []models.UnitState{{
					CurrentName:     d.Name,
					CurrentSeatName: d.Seat,
					CurrentDistType: d.Type,
					Timespan:        models.OpenTimespan(initial.ValidFrom),
				}},
			}))
		}
	}

	history, err := New(s.ctx, initial, regs, s.store, WithAuditPublisher(audit.NewPublisher(s.sink)))
	s.Require().NoError(err)
	s.history = history
}

func (s *HistorySuite) rename(day time.Time, from, to string) models.Change {
	return &models.UnitReform{
		ChangeMeta: models.ChangeMeta{
			Type:     models.ChangeTypeUnitReform,
			UnitKind: models.UnitKindDistrict,
			Date:     day,
			Source:   "Dz.U.",
		},
		CurrentName: from,
		ToReform:    models.ReformAttrs{Name: strPtr(from)},
		AfterReform: models.ReformAttrs{Name: strPtr(to)},
	}
}

func (s *HistorySuite) merge(day time.Time) models.Change {
	return &models.ManyToOne{
		ChangeMeta: models.ChangeMeta{
			Type:     models.ChangeTypeManyToOne,
			UnitKind: models.UnitKindDistrict,
			Date:     day,
		},
		TakeFrom: []models.TransferSource{
			{Name: "district_c", Weight: 0.6, DeleteUnit: true},
			{Name: "district_d", Weight: 0.4, DeleteUnit: true},
		},
		TakeTo: models.TransferDest{
			Create:   true,
			Region:   "territory",
			District: &models.DistrictEntry{Name: "district_e", Seat: "seat_e", Type: "rural"},
		},
	}
}

func (s *HistorySuite) TestApplyBatchCommitsAndPersists() {
	next, report, err := s.history.ApplyBatch(s.ctx, []models.Change{s.rename(date(1950, 2, 1), "district_a", "district_a_Reformed")})
	s.Require().NoError(err)
	s.Contains(report.BoundaryChanged, "district_a")

	s.Run("the prior snapshot closes at the batch date", func() {
		states, err := s.history.States(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(states, 2)
		s.Require().NotNil(states[0].ValidTo)
		s.True(states[0].ValidTo.Equal(next.ValidFrom))
		s.Nil(states[1].ValidTo)
	})

	s.Run("the store holds both snapshots", func() {
		stored, err := s.store.ListStates(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(stored, 2)
		s.Require().NotNil(stored[0].ValidTo)
	})

	s.Run("an audit event narrates the change", func() {
		events, err := s.sink.List(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal("UnitReform", events[0].ChangeType)
		s.Contains(events[0].Summary, "district_a")
	})
}

func (s *HistorySuite) TestApplyBatchRejectionLeavesHistoryIntact() {
	bad := s.rename(date(1950, 2, 1), "no_such_district", "whatever")
	_, _, err := s.history.ApplyBatch(s.ctx, []models.Change{bad})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnresolvedUnit))

	states, err := s.history.States(s.ctx)
	s.Require().NoError(err)
	s.Len(states, 1)

	events, err := s.sink.List(s.ctx)
	s.Require().NoError(err)
	s.Empty(events, "rejected batches emit no audit events")
}

func (s *HistorySuite) TestAsOf() {
	_, _, err := s.history.ApplyBatch(s.ctx, []models.Change{s.rename(date(1950, 2, 1), "district_a", "district_a_Reformed")})
	s.Require().NoError(err)

	s.Run("a date inside the first span resolves to it", func() {
		st, err := s.history.AsOf(s.ctx, date(1930, 6, 15))
		s.Require().NoError(err)
		s.True(st.ValidFrom.Equal(date(1920, 1, 1)))
	})

	s.Run("the batch date itself resolves to the successor", func() {
		st, err := s.history.AsOf(s.ctx, date(1950, 2, 1))
		s.Require().NoError(err)
		s.True(st.ValidFrom.Equal(date(1950, 2, 1)))
	})

	s.Run("a date after the last snapshot resolves to it", func() {
		st, err := s.history.AsOf(s.ctx, date(2000, 1, 1))
		s.Require().NoError(err)
		s.True(st.ValidFrom.Equal(date(1950, 2, 1)))
	})

	s.Run("a date before the history is out of range", func() {
		_, err := s.history.AsOf(s.ctx, date(1900, 1, 1))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeOutOfRange))
	})
}

func (s *HistorySuite) TestApplyAllGroupsByDate() {
	changes := []models.Change{
		s.merge(date(1955, 1, 1)),
		s.rename(date(1950, 2, 1), "district_a", "district_a_Reformed"),
		s.rename(date(1950, 2, 1), "district_b", "district_b_Reformed"),
	}

	applied, err := s.history.ApplyAll(s.ctx, changes)
	s.Require().NoError(err)
	s.Equal(2, applied, "two dates, two batches")

	states, err := s.history.States(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(states, 3)
	s.True(states[1].ValidFrom.Equal(date(1950, 2, 1)))
	s.True(states[2].ValidFrom.Equal(date(1955, 1, 1)))
}

func (s *HistorySuite) TestDuplicateBatchRejected() {
	merge := s.merge(date(1955, 1, 1))
	_, _, err := s.history.ApplyBatch(s.ctx, []models.Change{merge})
	s.Require().NoError(err)

	_, _, err = s.history.ApplyBatch(s.ctx, []models.Change{merge})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNonMonotonicChange))
}

func (s *HistorySuite) TestLineageQueries() {
	_, _, err := s.history.ApplyBatch(s.ctx, []models.Change{s.merge(date(1955, 1, 1))})
	s.Require().NoError(err)

	into, err := s.history.LineageInto(s.ctx, "district_e")
	s.Require().NoError(err)
	s.Len(into, 2)

	from, err := s.history.LineageFrom(s.ctx, "district_c")
	s.Require().NoError(err)
	s.Require().Len(from, 1)
	s.InDelta(0.6, from[0].Weight, 1e-9)
}

func (s *HistorySuite) TestLookupUnit() {
	_, _, err := s.history.ApplyBatch(s.ctx, []models.Change{s.rename(date(1950, 2, 1), "district_a", "district_a_Reformed")})
	s.Require().NoError(err)

	unit, err := s.history.LookupUnit(s.ctx, models.UnitKindDistrict, "district_a_Reformed")
	s.Require().NoError(err)
	s.Equal("district_a", unit.NameID)
	s.Len(unit.States, 2)

	_, err = s.history.LookupUnit(s.ctx, models.UnitKindRegion, "district_a")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnresolvedUnit))
}

func (s *HistorySuite) TestIdentifyState() {
	_, _, err := s.history.ApplyBatch(s.ctx, []models.Change{s.merge(date(1955, 1, 1))})
	s.Require().NoError(err)

	s.Run("an exact match returns a single state", func() {
		latest, err := s.history.Latest(s.ctx)
		s.Require().NoError(err)
		matches, err := s.history.IdentifyState(s.ctx, latest.ToRDList(false, false), false)
		s.Require().NoError(err)
		s.Require().Len(matches, 1)
		s.Zero(matches[0].Distance)
		s.True(matches[0].ValidFrom.Equal(date(1955, 1, 1)))
	})

	s.Run("no exact match returns the closest states", func() {
		pairs := []models.RDPair{
			{Region: "A", District: "district_a"},
			{Region: "A", District: "district_b"},
			{Region: "territory", District: "district_e"},
			{Region: "territory", District: "phantom"},
		}
		matches, err := s.history.IdentifyState(s.ctx, pairs, false)
		s.Require().NoError(err)
		s.Require().Len(matches, 2)
		s.True(matches[0].ValidFrom.Equal(date(1955, 1, 1)), "closest first")
		s.Equal(1, matches[0].Distance)
	})
}

func (s *HistorySuite) TestVerifyConsistency() {
	_, err := s.history.ApplyAll(s.ctx, []models.Change{
		s.rename(date(1950, 2, 1), "district_a", "district_a_Reformed"),
		s.merge(date(1955, 1, 1)),
	})
	s.Require().NoError(err)

	issues, err := s.history.VerifyConsistency(s.ctx)
	s.Require().NoError(err)
	s.Empty(issues)
}

func (s *HistorySuite) TestRestore() {
	_, _, err := s.history.ApplyBatch(s.ctx, []models.Change{s.merge(date(1955, 1, 1))})
	s.Require().NoError(err)

	restored, err := Restore(s.ctx, nil, s.store)
	s.Require().NoError(err)

	states, err := restored.States(s.ctx)
	s.Require().NoError(err)
	s.Len(states, 2)

	into, err := restored.LineageInto(s.ctx, "district_e")
	s.Require().NoError(err)
	s.Len(into, 2)
}
