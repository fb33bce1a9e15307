package store

import (
	"context"
	"time"

	"borderhist/internal/history/models"
)

// Store persists the materialized history: snapshots in chronological order
// plus the lineage edges the changes produced. Stores are pure I/O; ordering
// rules and duplicate-application checks belong to the service. Implementations
// return sentinel errors for infrastructure facts.
type Store interface {
	// SaveState persists a snapshot. A snapshot with the same valid_from
	// already persisted is a conflict.
	SaveState(ctx context.Context, state *models.AdministrativeState) error
	// CloseState sets valid_to on the snapshot opened at validFrom.
	CloseState(ctx context.Context, validFrom, validTo time.Time) error
	// ListStates returns all snapshots ordered by valid_from.
	ListStates(ctx context.Context) ([]*models.AdministrativeState, error)

	// SaveEdges persists the lineage edges of one committed batch.
	SaveEdges(ctx context.Context, edges []models.LineageEdge) error
	// ListEdges returns all lineage edges ordered by date.
	ListEdges(ctx context.Context) ([]models.LineageEdge, error)
}
