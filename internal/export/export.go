package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"borderhist/internal/history/models"
)

// exportConcurrency bounds parallel CSV writers in ExportAll.
const exportConcurrency = 4

// Source yields the snapshots to export.
type Source interface {
	States(ctx context.Context) ([]*models.AdministrativeState, error)
}

// Exporter writes one CSV file per snapshot, named by the snapshot's start
// date. Pair lists are cached when a cache is configured.
type Exporter struct {
	source Source
	dir    string

	logger *slog.Logger
	cache  PairCache

	homelandOnly bool
	altNames     bool
}

type Option func(e *Exporter)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) {
		e.logger = logger
	}
}

func WithCache(cache PairCache) Option {
	return func(e *Exporter) {
		e.cache = cache
	}
}

// WithHomelandOnly restricts exports to homeland regions.
func WithHomelandOnly(on bool) Option {
	return func(e *Exporter) {
		e.homelandOnly = on
	}
}

// WithAlternativeNames expands alternative district names into extra rows.
func WithAlternativeNames(on bool) Option {
	return func(e *Exporter) {
		e.altNames = on
	}
}

func New(source Source, dir string, opts ...Option) *Exporter {
	e := &Exporter{
		source: source,
		dir:    dir,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FileName returns the CSV file name for a snapshot starting at validFrom.
func FileName(validFrom time.Time) string {
	return fmt.Sprintf("state_%s.csv", validFrom.Format(time.DateOnly))
}

// ExportAll writes every snapshot to its own file and returns the written
// paths in chronological order. Files are written concurrently; the first
// failure cancels the remaining writes.
func (e *Exporter) ExportAll(ctx context.Context) ([]string, error) {
	states, err := e.source.States(ctx)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}

	paths := make([]string, len(states))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(exportConcurrency)
	for i, st := range states {
		g.Go(func() error {
			path, err := e.exportState(ctx, st)
			if err != nil {
				return err
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Strings(paths)
	e.logger.InfoContext(ctx, "history exported",
		"states", len(paths),
		"dir", e.dir,
	)
	return paths, nil
}

// ExportState writes a single snapshot and returns the file path.
func (e *Exporter) ExportState(ctx context.Context, st *models.AdministrativeState) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}
	return e.exportState(ctx, st)
}

func (e *Exporter) exportState(ctx context.Context, st *models.AdministrativeState) (string, error) {
	pairs, err := e.pairsFor(ctx, st)
	if err != nil {
		return "", err
	}

	path := filepath.Join(e.dir, FileName(st.ValidFrom))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"region", "district"}); err != nil {
		return "", fmt.Errorf("write header: %w", err)
	}
	for _, p := range pairs {
		if err := w.Write([]string{p.Region, p.District}); err != nil {
			return "", fmt.Errorf("write pair: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush export file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close export file: %w", err)
	}
	return path, nil
}

// pairsFor computes the pair list, going through the cache when one is
// configured. Cache failures are logged and fall back to recomputing.
func (e *Exporter) pairsFor(ctx context.Context, st *models.AdministrativeState) ([]models.RDPair, error) {
	if e.cache == nil {
		return st.ToRDList(e.homelandOnly, e.altNames), nil
	}

	key := cacheKey(st.ValidFrom, e.homelandOnly, e.altNames)
	cached, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.WarnContext(ctx, "pair cache lookup failed", "key", key, "error", err.Error())
	} else if ok {
		return cached, nil
	}

	pairs := st.ToRDList(e.homelandOnly, e.altNames)
	if err := e.cache.Set(ctx, key, pairs); err != nil {
		e.logger.WarnContext(ctx, "pair cache store failed", "key", key, "error", err.Error())
	}
	return pairs, nil
}
