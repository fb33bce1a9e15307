package models

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "borderhist/pkg/domain-errors"
)

// ChangeType tags the closed set of change variants.
type ChangeType string

const (
	ChangeTypeUnitReform     ChangeType = "UnitReform"
	ChangeTypeOneToMany      ChangeType = "OneToMany"
	ChangeTypeManyToOne      ChangeType = "ManyToOne"
	ChangeTypeChangeAdmState ChangeType = "ChangeAdmState"
)

func (t ChangeType) IsValid() bool {
	switch t {
	case ChangeTypeUnitReform, ChangeTypeOneToMany, ChangeTypeManyToOne, ChangeTypeChangeAdmState:
		return true
	}
	return false
}

// ChangeMeta is the header shared by all change variants.
type ChangeMeta struct {
	ID          uuid.UUID  `json:"id"`
	Type        ChangeType `json:"change_type"`
	UnitKind    UnitKind   `json:"unit_type"`
	Date        time.Time  `json:"date"`
	Source      string     `json:"source,omitempty"`
	Description string     `json:"description,omitempty"`
	// Order fixes the application sequence among changes sharing one date.
	// Changes without an order are applied last.
	Order *int `json:"order,omitempty"`
}

func (m *ChangeMeta) Meta() *ChangeMeta { return m }

func (m *ChangeMeta) validateMeta() error {
	if !m.Type.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown change type %q", m.Type)
	}
	if !m.UnitKind.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown unit type %q", m.UnitKind)
	}
	if m.Date.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "change date is required")
	}
	return nil
}

// Change is one dated operation transforming a state. Variants implement
// apply against a working copy; the dispatch pair (ChangeType, UnitKind) is
// closed and each variant matches exhaustively on the unit kind it supports.
type Change interface {
	Meta() *ChangeMeta
	// Describe returns a human-readable English sentence for narration,
	// CLI output, and audit events.
	Describe() string
	Validate() error

	apply(ctx *applyContext) error
}

// applyContext carries the mutable working set one batch operates on. All of
// it is discarded when any change fails.
type applyContext struct {
	date    time.Time
	state   *AdministrativeState
	regs    *Registries
	lineage *LineageSet
	edges   []LineageEdge
	report  *Report
}

// recordTransfer registers a lineage edge, rejecting duplicate transfers
// (the same change applied twice).
func (ctx *applyContext) recordTransfer(from, to string, weight float64) error {
	e := NewLineageEdge(from, to, ctx.date, weight)
	if err := e.Validate(); err != nil {
		return err
	}
	if err := ctx.lineage.Add(e); err != nil {
		return err
	}
	ctx.edges = append(ctx.edges, e)
	return nil
}

// resolveUnit resolves a name in the registry for kind. A name resolvable
// only in the counterpart registry is a type mismatch; a name resolvable in
// neither is an unresolved unit.
func (ctx *applyContext) resolveUnit(kind UnitKind, name string) (*Unit, error) {
	reg, other := ctx.regs.ByKind(kind)
	matched, err := reg.FindUnit(name, false)
	if err != nil {
		return nil, err
	}
	if len(matched) == 1 {
		return matched[0], nil
	}
	crossMatched, _ := other.FindUnit(name, true)
	if len(crossMatched) > 0 {
		return nil, dErrors.Newf(dErrors.CodeTypeMismatch,
			"%q names a %s, not a %s", name, strings.ToLower(string(other.Kind())), strings.ToLower(string(kind)))
	}
	return nil, dErrors.Newf(dErrors.CodeUnresolvedUnit,
		"%s %q cannot be resolved in the registry", strings.ToLower(string(kind)), name)
}

// ApplyChanges applies a batch of same-dated changes against this state and
// returns the successor state together with the affected-units report and the
// lineage edges the batch produced. The receiver is never mutated; the passed
// registries are working copies the caller clones beforehand and commits only
// on success. prior holds the already-committed lineage edges used for
// duplicate-application detection.
func (st *AdministrativeState) ApplyChanges(batch []Change, regs *Registries, prior *LineageSet) (*AdministrativeState, *Report, []LineageEdge, error) {
	if len(batch) == 0 {
		return nil, nil, nil, dErrors.New(dErrors.CodeBadRequest, "change batch is empty")
	}

	date := batch[0].Meta().Date
	for _, c := range batch {
		if !c.Meta().Date.Equal(date) {
			return nil, nil, nil, dErrors.Newf(dErrors.CodeInconsistentDate,
				"change batch mixes dates %s and %s",
				date.Format(time.DateOnly), c.Meta().Date.Format(time.DateOnly))
		}
	}
	if !date.After(st.ValidFrom) {
		return nil, nil, nil, dErrors.Newf(dErrors.CodeNonMonotonicChange,
			"change date %s is not after the state's valid_from %s",
			date.Format(time.DateOnly), st.ValidFrom.Format(time.DateOnly))
	}

	working := st.Clone()
	working.ValidFrom = date
	working.ValidTo = nil

	var priorEdges []LineageEdge
	if prior != nil {
		priorEdges = prior.Edges()
	}
	ctx := &applyContext{
		date:    date,
		state:   working,
		regs:    regs,
		lineage: NewLineageSet(priorEdges...),
		report:  &Report{},
	}

	for _, c := range batch {
		if err := c.Validate(); err != nil {
			return nil, nil, nil, err
		}
		if err := c.apply(ctx); err != nil {
			return nil, nil, nil, err
		}
	}

	// Reformed and newly created names must resolve in later batches.
	regs.Regions.Reindex()
	regs.Districts.Reindex()

	return working, ctx.report, ctx.edges, nil
}

// SortChanges orders a change list chronologically, breaking date ties by the
// declared order with unordered changes last.
func SortChanges(changes []Change) {
	sort.SliceStable(changes, func(i, j int) bool {
		am, bm := changes[i].Meta(), changes[j].Meta()
		if !am.Date.Equal(bm.Date) {
			return am.Date.Before(bm.Date)
		}
		switch {
		case am.Order == nil && bm.Order == nil:
			return false
		case am.Order == nil:
			return false
		case bm.Order == nil:
			return true
		default:
			return *am.Order < *bm.Order
		}
	})
}
