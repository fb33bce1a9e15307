package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"borderhist/internal/audit"
	"borderhist/internal/history/models"
	dErrors "borderhist/pkg/domain-errors"
)

// ApplyBatch applies one same-dated change batch all-or-nothing: on any
// error the snapshot list, registries, and lineage are untouched. On success
// the prior snapshot is closed at the batch date, the successor is appended
// and persisted, and one audit event per change is emitted.
func (h *History) ApplyBatch(ctx context.Context, batch []models.Change) (*models.AdministrativeState, *models.Report, error) {
	ctx, span := h.tracer.Start(ctx, "history.ApplyBatch")
	defer span.End()
	start := time.Now()
	defer func() {
		if h.metrics != nil {
			h.metrics.ObserveApply(start)
		}
	}()

	h.mu.Lock()
	defer h.mu.Unlock()

	latest := h.states[len(h.states)-1]
	workingRegs := h.regs.Clone()
	next, report, edges, err := latest.ApplyChanges(batch, workingRegs, h.lineage)
	if err != nil {
		h.rejectBatch(ctx, err)
		return nil, nil, err
	}
	span.SetAttributes(
		attribute.String("batch.date", next.ValidFrom.Format(time.DateOnly)),
		attribute.Int("batch.changes", len(batch)),
		attribute.Int("batch.edges", len(edges)),
	)

	// Persist before committing memory so a storage failure leaves the
	// in-memory history at the prior snapshot.
	if err := h.store.CloseState(ctx, latest.ValidFrom, next.ValidFrom); err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to close the prior state")
	}
	if err := h.store.SaveState(ctx, next); err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist the new state")
	}
	if err := h.store.SaveEdges(ctx, edges); err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist lineage")
	}

	validTo := next.ValidFrom
	latest.ValidTo = &validTo
	h.states = append(h.states, next)
	h.regs = workingRegs
	for _, e := range edges {
		if err := h.lineage.Add(e); err != nil {
			// ApplyChanges already checked the committed set.
			return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record lineage")
		}
	}

	h.emitApplied(ctx, batch, report)
	h.recordApplied(batch, edges)
	h.logger.InfoContext(ctx, "change batch applied",
		slog.String("date", next.ValidFrom.Format(time.DateOnly)),
		slog.Int("changes", len(batch)),
		slog.Int("created", len(report.CreatedDistricts)),
		slog.Int("abolished", len(report.AbolishedDistricts)),
		slog.Int("districts", next.DistrictCount()),
	)
	return next.Clone(), report, nil
}

// ApplyAll sorts a change list chronologically, groups it into same-dated
// batches, and applies them in order. It stops at the first failing batch and
// returns the number of batches applied.
func (h *History) ApplyAll(ctx context.Context, changes []models.Change) (int, error) {
	if len(changes) == 0 {
		return 0, nil
	}
	ordered := make([]models.Change, len(changes))
	copy(ordered, changes)
	models.SortChanges(ordered)

	applied := 0
	for start := 0; start < len(ordered); {
		end := start + 1
		for end < len(ordered) && ordered[end].Meta().Date.Equal(ordered[start].Meta().Date) {
			end++
		}
		if _, _, err := h.ApplyBatch(ctx, ordered[start:end]); err != nil {
			return applied, err
		}
		applied++
		start = end
	}
	return applied, nil
}

func (h *History) rejectBatch(ctx context.Context, err error) {
	code := string(dErrors.CodeOf(err))
	if h.metrics != nil {
		h.metrics.IncrementBatchRejected(code)
	}
	h.logger.WarnContext(ctx, "change batch rejected",
		slog.String("code", code),
		slog.String("error", err.Error()),
	)
}

// emitApplied sends one audit event per change. The batch is committed at
// this point; audit failures are logged, not propagated.
func (h *History) emitApplied(ctx context.Context, batch []models.Change, report *models.Report) {
	if h.auditPublisher == nil {
		return
	}
	affected := make([]string, 0, len(report.CreatedDistricts)+len(report.AbolishedDistricts)+len(report.BoundaryChanged))
	affected = append(affected, report.CreatedDistricts...)
	affected = append(affected, report.AbolishedDistricts...)
	affected = append(affected, report.BoundaryChanged...)

	for _, c := range batch {
		meta := c.Meta()
		event := audit.Event{
			ChangeDate: meta.Date,
			ChangeType: string(meta.Type),
			Summary:    c.Describe(),
			Units:      affected,
			Source:     meta.Source,
		}
		if err := h.auditPublisher.Emit(ctx, event); err != nil {
			h.logger.WarnContext(ctx, "audit emit failed", slog.String("error", err.Error()))
		}
	}
}

func (h *History) recordApplied(batch []models.Change, edges []models.LineageEdge) {
	if h.metrics == nil {
		return
	}
	h.metrics.IncrementBatchApplied()
	for _, c := range batch {
		h.metrics.IncrementChangeApplied(string(c.Meta().Type))
	}
	h.metrics.AddLineageEdges(len(edges))
	h.publishSize()
}
