package engine

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/knowledge-engine/catalogsearch/internal/catalog"
	"github.com/knowledge-engine/catalogsearch/internal/metrics"
	"github.com/knowledge-engine/catalogsearch/internal/search"
	"github.com/knowledge-engine/catalogsearch/internal/text"
)

// TrainReport summarizes a finished training run.
type TrainReport struct {
	RunID      string
	Params     search.Params
	Score      float64
	Searched   bool
	Documents  int
	Vocabulary int
	Candidates []search.CandidateScore
	Duration   time.Duration
}

// judgmentFile is the on-disk form of labeled queries, keyed by record ID.
type judgmentFile struct {
	Judgments []struct {
		Query    string   `yaml:"query"`
		Relevant []string `yaml:"relevant"`
	} `yaml:"judgments"`
}

// LoadJudgments reads labeled queries and resolves record IDs to catalog
// indices.
func LoadJudgments(path string, cat *catalog.Catalog) ([]search.Judgment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, search.Wrap(search.KindLoad, "read judgments", err)
	}
	var jf judgmentFile
	if err := yaml.Unmarshal(data, &jf); err != nil {
		return nil, search.Wrap(search.KindLoad, "parse judgments", err)
	}

	index := cat.IndexByID()

	judgments := make([]search.Judgment, 0, len(jf.Judgments))
	for _, j := range jf.Judgments {
		relevant := make([]int, 0, len(j.Relevant))
		for _, id := range j.Relevant {
			idx, ok := index[id]
			if !ok {
				return nil, search.Errorf(search.KindTraining, "resolve judgments", "query %q references unknown id %q", j.Query, id)
			}
			relevant = append(relevant, idx)
		}
		judgments = append(judgments, search.Judgment{Query: j.Query, Relevant: relevant})
	}
	return judgments, nil
}

// Train runs the full pipeline: load the catalog, normalize it, select
// parameters, fit, build the matrix and persist both artifacts. On success
// the new snapshot is published; concurrent training runs are refused.
func (e *Engine) Train(ctx context.Context) (*TrainReport, error) {
	if !e.trainMu.TryLock() {
		return nil, search.Errorf(search.KindTraining, "train", "a training run is already in progress")
	}
	defer e.trainMu.Unlock()

	start := time.Now()
	log := e.Logger.WithField("catalog", e.Config.Paths.CatalogPath)
	log.Info("Training started")

	cat, err := catalog.Load(ctx, e.Config.Paths.CatalogPath, e.catalogOptions(), e.Fetcher)
	if err != nil {
		log.WithError(err).Error("Failed to load catalog")
		return nil, err
	}
	if cat.Len() == 0 {
		return nil, search.Errorf(search.KindTraining, "train", "catalog %s has no records", e.Config.Paths.CatalogPath)
	}
	docs := text.NormalizeAll(cat.Texts())
	log.WithField("catalog", cat.String()).Info("Catalog normalized")

	grid := search.GridConfig{
		Folds:   e.Config.Training.Folds,
		Workers: e.Config.Training.Workers,
	}
	if path := e.Config.Training.JudgmentsPath; path != "" {
		judgments, err := LoadJudgments(path, cat)
		if err != nil {
			log.WithError(err).Error("Failed to load judgments")
			return nil, err
		}
		grid.Objective = search.RelevanceObjective{Judgments: judgments}
		log.WithField("judgments", len(judgments)).Info("Cross-validating hyperparameters")
	} else {
		log.Info("No judgments configured, fitting default hyperparameters")
	}

	model, matrix, result, err := search.Train(ctx, docs, grid)
	if err != nil {
		log.WithError(err).Error("Failed to fit vectorizer")
		return nil, err
	}
	for _, c := range result.Candidates {
		metrics.ObserveCandidate(c.Err == nil)
		fields := logrus.Fields{"params": c.Params.String(), "score": c.MeanScore, "folds": c.Folds}
		if c.Err != nil {
			log.WithFields(fields).WithError(c.Err).Debug("Candidate discarded")
			continue
		}
		log.WithFields(fields).Debug("Candidate scored")
	}

	runID, err := e.Store.Save(model, matrix, cat.IDs())
	if err != nil {
		log.WithError(err).Error("Failed to save model")
		return nil, search.Wrap(search.KindTraining, "save artifacts", err)
	}

	s, err := NewSnapshot(model, matrix, cat, runID)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = time.Now().UTC()
	e.Publish(s)

	report := &TrainReport{
		RunID:      runID,
		Params:     result.Best,
		Score:      result.BestScore,
		Searched:   result.Searched,
		Documents:  len(docs),
		Vocabulary: model.Dim(),
		Candidates: result.Candidates,
		Duration:   time.Since(start),
	}
	log.WithFields(logrus.Fields{
		"run_id":     report.RunID,
		"params":     report.Params.String(),
		"vocabulary": report.Vocabulary,
		"duration":   report.Duration.String(),
	}).Info("Training finished and artifacts saved")
	return report, nil
}
