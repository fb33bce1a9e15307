package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	dErrors "borderhist/pkg/domain-errors"
)

// DistrictEntry is one district row in a state's structure.
type DistrictEntry struct {
	Name             string   `json:"district_name"`
	Type             string   `json:"district_type,omitempty"`
	Seat             string   `json:"seat,omitempty"`
	AlternativeNames []string `json:"alternative_names,omitempty"`
}

func (d DistrictEntry) clone() DistrictEntry {
	out := d
	out.AlternativeNames = append([]string(nil), d.AlternativeNames...)
	return out
}

// matches reports a name match against the district's current or alternative
// names, case-insensitively.
func (d DistrictEntry) matches(name string) bool {
	if strings.EqualFold(d.Name, name) {
		return true
	}
	for _, alt := range d.AlternativeNames {
		if strings.EqualFold(alt, name) {
			return true
		}
	}
	return false
}

// RegionEntry is one region row with its district list. District lists are
// kept sorted by district name; region order is insertion order, matching the
// historical change-application order.
type RegionEntry struct {
	Name      string          `json:"region_name"`
	Homeland  bool            `json:"homeland"`
	Districts []DistrictEntry `json:"districts"`
}

func (r RegionEntry) clone() RegionEntry {
	out := RegionEntry{Name: r.Name, Homeland: r.Homeland, Districts: make([]DistrictEntry, len(r.Districts))}
	for i, d := range r.Districts {
		out.Districts[i] = d.clone()
	}
	return out
}

// RDPair is one (region, district) row of the export contract.
type RDPair struct {
	Region   string `json:"region"`
	District string `json:"district"`
}

// AdministrativeState is the region→district structure valid for one
// historical interval. States are immutable once superseded: ApplyChanges
// works on a copy and the history keeps every prior snapshot.
type AdministrativeState struct {
	ValidFrom time.Time   `json:"valid_from"`
	ValidTo   *time.Time  `json:"valid_to,omitempty"`
	Regions   []RegionEntry `json:"regions"`
}

// Clone deep-copies the state.
func (st *AdministrativeState) Clone() *AdministrativeState {
	out := &AdministrativeState{ValidFrom: st.ValidFrom, Regions: make([]RegionEntry, len(st.Regions))}
	if st.ValidTo != nil {
		to := *st.ValidTo
		out.ValidTo = &to
	}
	for i, r := range st.Regions {
		out.Regions[i] = r.clone()
	}
	return out
}

// Timespan returns the validity interval of the snapshot.
func (st *AdministrativeState) Timespan() Timespan {
	return Timespan{Start: st.ValidFrom, End: st.ValidTo}
}

// Region returns the region entry with the given name, or nil.
func (st *AdministrativeState) Region(name string) *RegionEntry {
	for i := range st.Regions {
		if strings.EqualFold(st.Regions[i].Name, name) {
			return &st.Regions[i]
		}
	}
	return nil
}

// AddRegion appends a region entry. Fails when a same-named region already
// exists.
func (st *AdministrativeState) AddRegion(entry RegionEntry) error {
	if st.Region(entry.Name) != nil {
		return dErrors.Newf(dErrors.CodeDuplicateUnit, "region %q already exists in the state", entry.Name)
	}
	sort.Slice(entry.Districts, func(i, j int) bool {
		return entry.Districts[i].Name < entry.Districts[j].Name
	})
	st.Regions = append(st.Regions, entry)
	return nil
}

// FindDistrict searches current and alternative district names across all
// regions. The first structural match wins; region iteration follows
// insertion order, so results are deterministic.
func (st *AdministrativeState) FindDistrict(name string) (string, *DistrictEntry) {
	for i := range st.Regions {
		region := &st.Regions[i]
		for j := range region.Districts {
			if region.Districts[j].matches(name) {
				return region.Name, &region.Districts[j]
			}
		}
	}
	return "", nil
}

// PopDistrict removes and returns the named district from the given region.
func (st *AdministrativeState) PopDistrict(regionName, districtName string) (DistrictEntry, error) {
	region := st.Region(regionName)
	if region == nil {
		return DistrictEntry{}, dErrors.Newf(dErrors.CodeNotFound, "region %q not found in the state", regionName)
	}
	for i := range region.Districts {
		if strings.EqualFold(region.Districts[i].Name, districtName) {
			d := region.Districts[i]
			region.Districts = append(region.Districts[:i], region.Districts[i+1:]...)
			return d, nil
		}
	}
	return DistrictEntry{}, dErrors.Newf(dErrors.CodeNotFound,
		"district %q not found in region %q", districtName, regionName)
}

// AddDistrictIfAbsent inserts the district into the region, rejecting name
// collisions against both current and alternative names. The district list is
// kept sorted by name.
func (st *AdministrativeState) AddDistrictIfAbsent(regionName string, entry DistrictEntry) error {
	if entry.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "district entry requires a name")
	}
	region := st.Region(regionName)
	if region == nil {
		return dErrors.Newf(dErrors.CodeNotFound, "region %q not found in the state", regionName)
	}
	for _, existing := range region.Districts {
		if existing.matches(entry.Name) {
			return dErrors.Newf(dErrors.CodeDuplicateDistrict,
				"district %q already exists in region %q", entry.Name, regionName)
		}
		for _, alt := range entry.AlternativeNames {
			if existing.matches(alt) {
				return dErrors.Newf(dErrors.CodeDuplicateDistrict,
					"district %q collides with %q in region %q via alternative name %q",
					entry.Name, existing.Name, regionName, alt)
			}
		}
	}
	region.Districts = append(region.Districts, entry)
	sort.Slice(region.Districts, func(i, j int) bool {
		return region.Districts[i].Name < region.Districts[j].Name
	})
	return nil
}

// DistrictCount returns the total number of districts across all regions.
func (st *AdministrativeState) DistrictCount() int {
	n := 0
	for i := range st.Regions {
		n += len(st.Regions[i].Districts)
	}
	return n
}

// ToRDList exports the state as (region, district) pairs sorted by region
// then district name. This ordering is a committed contract: CSV exports and
// comparison consumers depend on it. With homelandOnly, regions classified
// abroad are skipped; with altNames, each district additionally contributes
// one pair per alternative name.
func (st *AdministrativeState) ToRDList(homelandOnly, altNames bool) []RDPair {
	var pairs []RDPair
	for i := range st.Regions {
		region := &st.Regions[i]
		if homelandOnly && !region.Homeland {
			continue
		}
		for _, d := range region.Districts {
			pairs = append(pairs, RDPair{Region: region.Name, District: d.Name})
			if altNames {
				for _, alt := range d.AlternativeNames {
					pairs = append(pairs, RDPair{Region: region.Name, District: alt})
				}
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Region != pairs[j].Region {
			return pairs[i].Region < pairs[j].Region
		}
		return pairs[i].District < pairs[j].District
	})
	return pairs
}

// CompareToRDList computes the symmetric difference between the state's
// (region, district) pairs and a target list. It returns the distance (size
// of the symmetric difference), the pairs missing from the target, and the
// pairs missing from the state. Used as a consistency oracle after applying a
// batch, not during application.
func (st *AdministrativeState) CompareToRDList(target []RDPair, homelandOnly bool) (int, []RDPair, []RDPair) {
	own := st.ToRDList(homelandOnly, false)
	ownSet := make(map[RDPair]bool, len(own))
	for _, p := range own {
		ownSet[p] = true
	}
	targetSet := make(map[RDPair]bool, len(target))
	for _, p := range target {
		targetSet[p] = true
	}

	var missingFromTarget, missingFromState []RDPair
	for _, p := range own {
		if !targetSet[p] {
			missingFromTarget = append(missingFromTarget, p)
		}
	}
	for p := range targetSet {
		if !ownSet[p] {
			missingFromState = append(missingFromState, p)
		}
	}
	sortPairs(missingFromTarget)
	sortPairs(missingFromState)
	return len(missingFromTarget) + len(missingFromState), missingFromTarget, missingFromState
}

func sortPairs(pairs []RDPair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Region != pairs[j].Region {
			return pairs[i].Region < pairs[j].Region
		}
		return pairs[i].District < pairs[j].District
	})
}

func (st *AdministrativeState) String() string {
	return fmt.Sprintf("<AdministrativeState %s regions=%d districts=%d>",
		st.Timespan(), len(st.Regions), st.DistrictCount())
}
