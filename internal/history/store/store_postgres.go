package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"borderhist/internal/history/models"
	"borderhist/pkg/platform/sentinel"
)

// PostgresStore persists snapshots and lineage edges in PostgreSQL. The
// region structure is stored as one JSONB document per snapshot; the engine
// always reads whole snapshots, so rows are never partially updated.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed history store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the history tables when they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS admin_states (
			valid_from TIMESTAMPTZ PRIMARY KEY,
			valid_to   TIMESTAMPTZ,
			regions    JSONB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS lineage_edges (
			id        UUID PRIMARY KEY,
			from_unit TEXT NOT NULL,
			to_unit   TEXT NOT NULL,
			edge_date TIMESTAMPTZ NOT NULL,
			weight    DOUBLE PRECISION NOT NULL,
			UNIQUE (from_unit, to_unit, edge_date)
		);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate history schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveState(ctx context.Context, state *models.AdministrativeState) error {
	if state == nil {
		return fmt.Errorf("state is required")
	}
	regions, err := json.Marshal(state.Regions)
	if err != nil {
		return fmt.Errorf("encode state regions: %w", err)
	}
	query := `
		INSERT INTO admin_states (valid_from, valid_to, regions)
		VALUES ($1, $2, $3)
	`
	if _, err := s.db.ExecContext(ctx, query, state.ValidFrom, state.ValidTo, regions); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("state at %s: %w", state.ValidFrom.Format(time.DateOnly), sentinel.ErrConflict)
		}
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (s *PostgresStore) CloseState(ctx context.Context, validFrom, validTo time.Time) error {
	query := `UPDATE admin_states SET valid_to = $2 WHERE valid_from = $1`
	res, err := s.db.ExecContext(ctx, query, validFrom, validTo)
	if err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("state at %s: %w", validFrom.Format(time.DateOnly), sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListStates(ctx context.Context) ([]*models.AdministrativeState, error) {
	query := `
		SELECT valid_from, valid_to, regions
		FROM admin_states
		ORDER BY valid_from
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	defer rows.Close()

	var states []*models.AdministrativeState
	for rows.Next() {
		var (
			st      models.AdministrativeState
			validTo sql.NullTime
			regions []byte
		)
		if err := rows.Scan(&st.ValidFrom, &validTo, &regions); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		if validTo.Valid {
			to := validTo.Time
			st.ValidTo = &to
		}
		if err := json.Unmarshal(regions, &st.Regions); err != nil {
			return nil, fmt.Errorf("decode state regions: %w", err)
		}
		states = append(states, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	return states, nil
}

func (s *PostgresStore) SaveEdges(ctx context.Context, edges []models.LineageEdge) error {
	if len(edges) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save edges: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO lineage_edges (id, from_unit, to_unit, edge_date, weight)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, e := range edges {
		if _, err := tx.ExecContext(ctx, query, e.ID, e.FromUnit, e.ToUnit, e.Date, e.Weight); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("lineage edge %s -> %s: %w", e.FromUnit, e.ToUnit, sentinel.ErrConflict)
			}
			return fmt.Errorf("save edge: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save edges: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEdges(ctx context.Context) ([]models.LineageEdge, error) {
	query := `
		SELECT id, from_unit, to_unit, edge_date, weight
		FROM lineage_edges
		ORDER BY edge_date, from_unit, to_unit
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	defer rows.Close()

	var edges []models.LineageEdge
	for rows.Next() {
		var e models.LineageEdge
		if err := rows.Scan(&e.ID, &e.FromUnit, &e.ToUnit, &e.Date, &e.Weight); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	return edges, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
