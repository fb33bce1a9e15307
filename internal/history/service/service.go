package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"borderhist/internal/audit"
	historymetrics "borderhist/internal/history/metrics"
	"borderhist/internal/history/models"
	"borderhist/internal/history/store"
	dErrors "borderhist/pkg/domain-errors"
)

// AuditPublisher receives one event per applied change.
type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// History owns the ordered snapshot list, both unit registries, and the
// lineage graph. All mutations go through ApplyBatch; reads return copies so
// callers never observe a half-applied batch.
type History struct {
	mu      sync.RWMutex
	states  []*models.AdministrativeState
	regs    *models.Registries
	lineage *models.LineageSet

	store          store.Store
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *historymetrics.Metrics
	tracer         trace.Tracer
}

type Option func(h *History)

func WithLogger(logger *slog.Logger) Option {
	return func(h *History) {
		h.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(h *History) {
		h.auditPublisher = publisher
	}
}

func WithMetrics(m *historymetrics.Metrics) Option {
	return func(h *History) {
		h.metrics = m
	}
}

// New constructs a History from an initial snapshot and its registries, and
// persists the snapshot as the first stored state.
func New(ctx context.Context, initial *models.AdministrativeState, regs *models.Registries, st store.Store, opts ...Option) (*History, error) {
	if initial == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "an initial state is required")
	}
	if regs == nil {
		regs = models.NewRegistries()
	}
	h := newHistory(st, opts)
	if err := st.SaveState(ctx, initial); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist the initial state")
	}
	h.states = []*models.AdministrativeState{initial.Clone()}
	h.regs = regs.Clone()
	h.lineage = models.NewLineageSet()
	h.publishSize()
	return h, nil
}

// Restore rebuilds a History from previously persisted snapshots and lineage
// edges. The registries must match the persisted history; they are not stored.
func Restore(ctx context.Context, regs *models.Registries, st store.Store, opts ...Option) (*History, error) {
	states, err := st.ListStates(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load states")
	}
	if len(states) == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, "the store holds no states to restore")
	}
	edges, err := st.ListEdges(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load lineage")
	}
	if regs == nil {
		regs = models.NewRegistries()
	}
	h := newHistory(st, opts)
	h.states = states
	h.regs = regs.Clone()
	h.lineage = models.NewLineageSet(edges...)
	h.publishSize()
	return h, nil
}

func newHistory(st store.Store, opts []Option) *History {
	h := &History{
		store:  st,
		logger: slog.Default(),
		tracer: otel.Tracer("borderhist/history"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Latest returns a copy of the most recent snapshot.
func (h *History) Latest(ctx context.Context) (*models.AdministrativeState, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.states[len(h.states)-1].Clone(), nil
}

// States returns copies of all snapshots in chronological order.
func (h *History) States(ctx context.Context) ([]*models.AdministrativeState, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*models.AdministrativeState, len(h.states))
	for i, st := range h.states {
		out[i] = st.Clone()
	}
	return out, nil
}

// AsOf returns a copy of the snapshot valid at date. Dates before the first
// snapshot are out of range; dates after the last snapshot resolve to it.
func (h *History) AsOf(ctx context.Context, date time.Time) (*models.AdministrativeState, error) {
	start := time.Now()
	defer h.observeAsOf(start)

	h.mu.RLock()
	defer h.mu.RUnlock()

	idx := sort.Search(len(h.states), func(i int) bool {
		return h.states[i].ValidFrom.After(date)
	}) - 1
	if idx < 0 {
		return nil, dErrors.Newf(dErrors.CodeOutOfRange,
			"no state is valid at %s; the history starts at %s",
			date.Format(time.DateOnly), h.states[0].ValidFrom.Format(time.DateOnly))
	}
	return h.states[idx].Clone(), nil
}

// Pairs returns the (region, district) pair list of the snapshot valid at
// date.
func (h *History) Pairs(ctx context.Context, date time.Time, homelandOnly, altNames bool) ([]models.RDPair, error) {
	state, err := h.AsOf(ctx, date)
	if err != nil {
		return nil, err
	}
	return state.ToRDList(homelandOnly, altNames), nil
}

// ComparisonResult reports how far a snapshot's pair list is from a target
// list.
type ComparisonResult struct {
	Distance          int              `json:"distance"`
	MissingFromTarget []models.RDPair  `json:"missing_from_target,omitempty"`
	MissingFromState  []models.RDPair  `json:"missing_from_state,omitempty"`
}

// Compare measures the snapshot valid at date against a target pair list.
func (h *History) Compare(ctx context.Context, date time.Time, target []models.RDPair, homelandOnly bool) (*ComparisonResult, error) {
	state, err := h.AsOf(ctx, date)
	if err != nil {
		return nil, err
	}
	distance, missingTarget, missingState := state.CompareToRDList(target, homelandOnly)
	return &ComparisonResult{
		Distance:          distance,
		MissingFromTarget: missingTarget,
		MissingFromState:  missingState,
	}, nil
}

// LookupUnit resolves a region or district by any of its names and returns a
// copy with its full state history.
func (h *History) LookupUnit(ctx context.Context, kind models.UnitKind, name string) (*models.Unit, error) {
	if !kind.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "unknown unit type %q", kind)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	reg, _ := h.regs.ByKind(kind)
	unit, err := reg.ResolveOne(name)
	if err != nil {
		return nil, err
	}
	return unit.Clone(), nil
}

// LineageInto returns the edges feeding territory into the unit.
func (h *History) LineageInto(ctx context.Context, unit string) ([]models.LineageEdge, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lineage.Into(unit), nil
}

// LineageFrom returns the edges carrying territory out of the unit.
func (h *History) LineageFrom(ctx context.Context, unit string) ([]models.LineageEdge, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lineage.From(unit), nil
}

func (h *History) publishSize() {
	if h.metrics == nil {
		return
	}
	latest := h.states[len(h.states)-1]
	h.metrics.SetHistorySize(len(h.states), latest.DistrictCount())
}

func (h *History) observeAsOf(start time.Time) {
	if h.metrics != nil {
		h.metrics.ObserveAsOf(start)
	}
}
