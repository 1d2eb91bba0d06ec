package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/knowledge-engine/catalogsearch/internal/catalog"
	"github.com/knowledge-engine/catalogsearch/internal/config"
	"github.com/knowledge-engine/catalogsearch/internal/metrics"
	"github.com/knowledge-engine/catalogsearch/internal/search"
	"github.com/knowledge-engine/catalogsearch/internal/storage"
)

// Snapshot is one immutable generation of the fitted model, its document
// matrix and the catalog the matrix rows map onto.
type Snapshot struct {
	Model     *search.Model
	Matrix    *search.Matrix
	Catalog   *catalog.Catalog
	RunID     string
	CreatedAt time.Time
	LoadedAt  time.Time
}

// NewSnapshot checks that the three parts line up.
func NewSnapshot(model *search.Model, matrix *search.Matrix, cat *catalog.Catalog, runID string) (*Snapshot, error) {
	const op = "build snapshot"

	if model == nil || matrix == nil || cat == nil {
		return nil, search.Errorf(search.KindLoad, op, "model, matrix and catalog are required")
	}
	if matrix.NumRows() != cat.Len() {
		return nil, search.Errorf(search.KindLoad, op, "matrix has %d rows but catalog has %d records", matrix.NumRows(), cat.Len())
	}
	if matrix.Cols != model.Dim() {
		return nil, search.Errorf(search.KindLoad, op, "matrix has %d columns but vectorizer has %d terms", matrix.Cols, model.Dim())
	}
	return &Snapshot{
		Model:    model,
		Matrix:   matrix,
		Catalog:  cat,
		RunID:    runID,
		LoadedAt: time.Now(),
	}, nil
}

// Result is one ranked catalog record.
type Result struct {
	Rank   int
	Score  float64
	Record catalog.Record
}

// Engine serves queries from the current snapshot. Readers never block:
// a reload or retrain builds a complete new snapshot and swaps it in.
type Engine struct {
	Config  *config.Config
	Logger  *logrus.Entry
	Store   storage.ModelStore
	Fetcher *catalog.Fetcher

	snapshot atomic.Pointer[Snapshot]
	reloadMu sync.Mutex
	trainMu  sync.Mutex

	// Stats
	searches atomic.Int64
	failures atomic.Int64
	reloads  atomic.Int64
}

type EngineStats struct {
	Searches int64
	Failures int64
	Reloads  int64
}

func NewEngine(cfg *config.Config, logger *logrus.Entry, store storage.ModelStore) *Engine {
	return &Engine{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		Fetcher: catalog.NewFetcher(cfg.Catalog.FetchTimeout),
	}
}

// Snapshot returns the published snapshot, or nil before the first load.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// Publish makes s the snapshot served to new queries.
func (e *Engine) Publish(s *Snapshot) {
	e.snapshot.Store(s)
	metrics.SetSnapshot(s.Catalog.Len(), s.Model.Dim())
	e.Logger.WithFields(logrus.Fields{
		"run_id":     s.RunID,
		"documents":  s.Catalog.Len(),
		"vocabulary": s.Model.Dim(),
		"params":     s.Model.Params.String(),
	}).Info("Published model snapshot")
}

// Reload reads the persisted artifacts and the catalog and publishes them.
// The current snapshot stays in service if anything fails.
func (e *Engine) Reload(ctx context.Context) error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	s, err := e.loadSnapshot(ctx)
	metrics.ObserveReload(err == nil)
	if err != nil {
		e.Logger.WithError(err).Error("Failed to reload model snapshot")
		return err
	}
	e.reloads.Add(1)
	e.Publish(s)
	return nil
}

func (e *Engine) loadSnapshot(ctx context.Context) (*Snapshot, error) {
	artifacts, err := e.Store.Load()
	if err != nil {
		return nil, search.Wrap(search.KindLoad, "load artifacts", err)
	}

	cat, err := catalog.Load(ctx, e.Config.Paths.CatalogPath, e.catalogOptions(), e.Fetcher)
	if err != nil {
		return nil, err
	}

	s, err := NewSnapshot(artifacts.Model, artifacts.Matrix, cat, artifacts.RunID)
	if err != nil {
		return nil, err
	}
	// Same row count is not enough: every row must still be the same record
	if len(artifacts.DocIDs) != cat.Len() {
		return nil, search.Errorf(search.KindLoad, "build snapshot", "matrix names %d records but catalog has %d", len(artifacts.DocIDs), cat.Len())
	}
	for i, id := range cat.IDs() {
		if artifacts.DocIDs[i] != id {
			return nil, search.Errorf(search.KindLoad, "build snapshot", "catalog record %d is %q but the matrix row was built for %q", i, id, artifacts.DocIDs[i])
		}
	}
	s.CreatedAt = artifacts.CreatedAt
	return s, nil
}

// Search ranks the catalog against query and returns up to topN records.
func (e *Engine) Search(ctx context.Context, query string, topN int) ([]Result, error) {
	start := time.Now()
	results, err := e.search(ctx, query, topN)

	e.searches.Add(1)
	kind := ""
	if err != nil {
		e.failures.Add(1)
		kind = string(search.KindOf(err))
	}
	metrics.ObserveSearch(time.Since(start), kind)
	return results, err
}

func (e *Engine) search(ctx context.Context, query string, topN int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := e.snapshot.Load()
	if s == nil {
		return nil, search.Errorf(search.KindLoad, "search", "no model loaded")
	}

	hits, err := search.Rank(s.Model, query, s.Matrix, s.Catalog.Len(), topN)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{
			Rank:   i + 1,
			Score:  h.Score,
			Record: s.Catalog.Records[h.Index],
		}
	}
	return results, nil
}

// Stats returns request counters.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Searches: e.searches.Load(),
		Failures: e.failures.Load(),
		Reloads:  e.reloads.Load(),
	}
}

func (e *Engine) catalogOptions() catalog.Options {
	return catalog.Options{
		IDColumn:    e.Config.Catalog.IDColumn,
		TextColumns: e.Config.Catalog.TextColumns,
		StripMarkup: e.Config.Catalog.StripMarkup,
	}
}
