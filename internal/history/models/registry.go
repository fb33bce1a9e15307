package models

import (
	"strings"
	"time"

	dErrors "borderhist/pkg/domain-errors"
)

// UnitRegistry is the authoritative collection of all units of one kind,
// keyed by stable identifier. A derived lower-cased name index is maintained
// on insert so lookups stay deterministic without scanning mutable lists.
type UnitRegistry struct {
	kind  UnitKind
	units []*Unit
	byID  map[string]*Unit
	// index maps folded names (identifiers, variants, historical current
	// names) to candidate units in insertion order.
	index map[string][]*Unit
}

func NewUnitRegistry(kind UnitKind) *UnitRegistry {
	return &UnitRegistry{
		kind:  kind,
		byID:  make(map[string]*Unit),
		index: make(map[string][]*Unit),
	}
}

// NewDistrictRegistry returns a registry holding districts.
func NewDistrictRegistry() *UnitRegistry { return NewUnitRegistry(UnitKindDistrict) }

// NewRegionRegistry returns a registry holding regions.
func NewRegionRegistry() *UnitRegistry { return NewUnitRegistry(UnitKindRegion) }

func (r *UnitRegistry) Kind() UnitKind { return r.kind }

// Units returns all units in insertion order.
func (r *UnitRegistry) Units() []*Unit { return r.units }

// Len returns the number of registered units.
func (r *UnitRegistry) Len() int { return len(r.units) }

// AddUnit registers a unit. The stable identifier must be unique within the
// registry.
func (r *UnitRegistry) AddUnit(u *Unit) error {
	if u.Kind == "" {
		u.Kind = r.kind
	}
	if u.Kind != r.kind {
		return dErrors.Newf(dErrors.CodeTypeMismatch,
			"cannot add %s %s to the %s registry", u.Kind, u.NameID, r.kind)
	}
	if err := u.Validate(); err != nil {
		return err
	}
	if _, ok := r.byID[foldName(u.NameID)]; ok {
		return dErrors.Newf(dErrors.CodeDuplicateUnit,
			"%s %s is already registered", r.kind, u.NameID)
	}
	r.units = append(r.units, u)
	r.byID[foldName(u.NameID)] = u
	r.indexUnit(u)
	return nil
}

// Get returns the unit with the given stable identifier, or nil.
func (r *UnitRegistry) Get(nameID string) *Unit {
	return r.byID[foldName(nameID)]
}

// FindUnit resolves a free-text name to registered units. Matching is
// case-insensitive; an exact current-name (or identifier) match takes
// precedence over alternative-name matches. With allowNonUnique false, more
// than one candidate is an error; the full candidate set is never silently
// narrowed to one. An empty result means the name is unresolved and the
// caller decides how to report it.
func (r *UnitRegistry) FindUnit(name string, allowNonUnique bool) ([]*Unit, error) {
	candidates := r.index[foldName(name)]
	if len(candidates) == 0 {
		return nil, nil
	}

	var current, variant []*Unit
	for _, u := range candidates {
		switch {
		case u.matchesCurrentName(name):
			current = append(current, u)
		case u.matchesVariant(name):
			variant = append(variant, u)
		}
	}
	matched := current
	if len(matched) == 0 {
		matched = variant
	}
	if len(matched) > 1 && !allowNonUnique {
		ids := make([]string, len(matched))
		for i, u := range matched {
			ids[i] = u.NameID
		}
		return nil, dErrors.Newf(dErrors.CodeAmbiguousName,
			"name %q matches multiple %ss: %s", name, strings.ToLower(string(r.kind)), strings.Join(ids, ", "))
	}
	return matched, nil
}

// ResolveOne resolves a name to exactly one unit, translating an empty result
// into an unresolved-unit error.
func (r *UnitRegistry) ResolveOne(name string) (*Unit, error) {
	matched, err := r.FindUnit(name, false)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, dErrors.Newf(dErrors.CodeUnresolvedUnit,
			"%s %q is not in the registry", strings.ToLower(string(r.kind)), name)
	}
	return matched[0], nil
}

// UnitsAt returns all units existing at date, in insertion order.
func (r *UnitRegistry) UnitsAt(date time.Time) []*Unit {
	var out []*Unit
	for _, u := range r.units {
		if u.ExistsAt(date) {
			out = append(out, u)
		}
	}
	return out
}

// Reindex rebuilds the name index. Change application calls it after renames
// so reformed names resolve in subsequent batches.
func (r *UnitRegistry) Reindex() {
	r.index = make(map[string][]*Unit, len(r.index))
	for _, u := range r.units {
		r.indexUnit(u)
	}
}

func (r *UnitRegistry) indexUnit(u *Unit) {
	seen := make(map[string]bool)
	add := func(name string) {
		if name == "" {
			return
		}
		folded := foldName(name)
		if seen[folded] {
			return
		}
		seen[folded] = true
		r.index[folded] = append(r.index[folded], u)
	}
	add(u.NameID)
	for _, v := range u.NameVariants {
		add(v)
	}
	for i := range u.States {
		add(u.States[i].CurrentName)
	}
}

// Clone deep-copies the registry for copy-on-write batch application.
func (r *UnitRegistry) Clone() *UnitRegistry {
	out := NewUnitRegistry(r.kind)
	for _, u := range r.units {
		c := u.clone()
		out.units = append(out.units, c)
		out.byID[foldName(c.NameID)] = c
		out.indexUnit(c)
	}
	return out
}

func foldName(name string) string { return strings.ToLower(name) }

// Registries bundles the two parallel registries that every change batch
// resolves names against.
type Registries struct {
	Regions   *UnitRegistry
	Districts *UnitRegistry
}

func NewRegistries() *Registries {
	return &Registries{
		Regions:   NewRegionRegistry(),
		Districts: NewDistrictRegistry(),
	}
}

func (r *Registries) Clone() *Registries {
	return &Registries{
		Regions:   r.Regions.Clone(),
		Districts: r.Districts.Clone(),
	}
}

// ByKind returns the registry for the given unit kind together with its
// counterpart, used for type-mismatch detection.
func (r *Registries) ByKind(kind UnitKind) (reg, other *UnitRegistry) {
	if kind == UnitKindRegion {
		return r.Regions, r.Districts
	}
	return r.Districts, r.Regions
}
