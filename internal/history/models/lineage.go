package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	dErrors "borderhist/pkg/domain-errors"
)

// LineageEdge records one territorial transfer between a source and a
// destination unit. Weight is the fraction of the source's attribute moved,
// in (0, 1]. The set of edges answers "which modern unit descends from which
// historical unit".
type LineageEdge struct {
	ID       uuid.UUID `json:"id"`
	FromUnit string    `json:"from_unit"`
	ToUnit   string    `json:"to_unit"`
	Date     time.Time `json:"date"`
	Weight   float64   `json:"weight"`
}

func NewLineageEdge(from, to string, date time.Time, weight float64) LineageEdge {
	return LineageEdge{ID: uuid.New(), FromUnit: from, ToUnit: to, Date: date, Weight: weight}
}

func (e LineageEdge) Validate() error {
	if e.FromUnit == "" || e.ToUnit == "" {
		return dErrors.New(dErrors.CodeValidation, "lineage edge requires both endpoints")
	}
	if e.Weight <= 0 || e.Weight > 1 {
		return dErrors.Newf(dErrors.CodeValidation,
			"lineage weight %.3f for %s -> %s must be in (0, 1]", e.Weight, e.FromUnit, e.ToUnit)
	}
	return nil
}

func (e LineageEdge) key() string {
	return fmt.Sprintf("%s|%s|%s", e.FromUnit, e.ToUnit, e.Date.Format(time.DateOnly))
}

// LineageSet indexes recorded edges for duplicate-transfer detection. An
// identical (from, to, date) transfer appearing twice means the same change
// is being applied twice.
type LineageSet struct {
	edges []LineageEdge
	keys  map[string]bool
}

func NewLineageSet(edges ...LineageEdge) *LineageSet {
	s := &LineageSet{keys: make(map[string]bool, len(edges))}
	for _, e := range edges {
		s.edges = append(s.edges, e)
		s.keys[e.key()] = true
	}
	return s
}

// Contains reports whether an identical transfer is already recorded.
func (s *LineageSet) Contains(e LineageEdge) bool { return s.keys[e.key()] }

// Add records an edge. Duplicate transfers are rejected.
func (s *LineageSet) Add(e LineageEdge) error {
	if s.Contains(e) {
		return dErrors.Newf(dErrors.CodeNonMonotonicChange,
			"transfer %s -> %s on %s is already recorded; the change was applied before",
			e.FromUnit, e.ToUnit, e.Date.Format(time.DateOnly))
	}
	s.edges = append(s.edges, e)
	s.keys[e.key()] = true
	return nil
}

// Edges returns all recorded edges in insertion order.
func (s *LineageSet) Edges() []LineageEdge {
	return append([]LineageEdge(nil), s.edges...)
}

// Into returns the edges whose destination is the given unit.
func (s *LineageSet) Into(unit string) []LineageEdge {
	var out []LineageEdge
	for _, e := range s.edges {
		if e.ToUnit == unit {
			out = append(out, e)
		}
	}
	return out
}

// From returns the edges whose source is the given unit.
func (s *LineageSet) From(unit string) []LineageEdge {
	var out []LineageEdge
	for _, e := range s.edges {
		if e.FromUnit == unit {
			out = append(out, e)
		}
	}
	return out
}
