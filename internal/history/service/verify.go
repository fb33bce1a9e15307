package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"borderhist/internal/history/models"
)

// StateMatch scores one snapshot against a target pair list.
type StateMatch struct {
	ValidFrom time.Time  `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`
	Distance  int        `json:"distance"`
}

// IdentifyState finds the snapshot whose pair list matches the target. An
// exact match returns that single snapshot; otherwise the three closest
// snapshots are returned in ascending distance.
func (h *History) IdentifyState(ctx context.Context, target []models.RDPair, homelandOnly bool) ([]StateMatch, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	matches := make([]StateMatch, 0, len(h.states))
	for _, st := range h.states {
		distance, _, _ := st.CompareToRDList(target, homelandOnly)
		m := StateMatch{ValidFrom: st.ValidFrom, ValidTo: st.ValidTo, Distance: distance}
		if distance == 0 {
			return []StateMatch{m}, nil
		}
		matches = append(matches, m)
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > 3 {
		matches = matches[:3]
	}
	return matches, nil
}

// VerifyConsistency cross-checks every snapshot against the registries: each
// region and district in a structure must be registered with a unit state
// covering the snapshot's start, and each district unit alive at that date
// must appear in the structure. It returns one message per discrepancy.
func (h *History) VerifyConsistency(ctx context.Context) ([]string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var issues []string
	for _, st := range h.states {
		at := st.ValidFrom
		day := at.Format(time.DateOnly)

		for i := range st.Regions {
			region := &st.Regions[i]
			if unit := h.unitAliveAt(h.regs.Regions, region.Name, at); unit == nil {
				issues = append(issues, fmt.Sprintf(
					"state %s: region %q has no registered unit alive at that date", day, region.Name))
			}
			for _, d := range region.Districts {
				if unit := h.unitAliveAt(h.regs.Districts, d.Name, at); unit == nil {
					issues = append(issues, fmt.Sprintf(
						"state %s: district %q in region %q has no registered unit alive at that date",
						day, d.Name, region.Name))
				}
			}
		}

		for _, unit := range h.regs.Districts.UnitsAt(at) {
			name := unit.StateAt(at).CurrentName
			if _, entry := st.FindDistrict(name); entry == nil {
				issues = append(issues, fmt.Sprintf(
					"state %s: district unit %q is alive but missing from the structure", day, name))
			}
		}
	}
	return issues, nil
}

// unitAliveAt resolves a name and checks the unit has a state covering date.
// Ambiguous or unknown names count as absent.
func (h *History) unitAliveAt(reg *models.UnitRegistry, name string, date time.Time) *models.Unit {
	unit, err := reg.ResolveOne(name)
	if err != nil || !unit.ExistsAt(date) {
		return nil
	}
	return unit
}
