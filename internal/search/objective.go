package search

import (
	"errors"

	"github.com/knowledge-engine/catalogsearch/internal/text"
)

// Fold is one cross-validation split. Train and Test index into Docs, the
// full normalized corpus.
type Fold struct {
	Index int
	Train []int
	Test  []int
	Docs  []string
}

// Objective scores a model fitted on a fold's training documents. Higher is
// better. An error excludes the fold from the combination's mean.
type Objective interface {
	Score(m *Model, f Fold) (float64, error)
}

// ObjectiveFunc adapts a function to Objective.
type ObjectiveFunc func(m *Model, f Fold) (float64, error)

func (fn ObjectiveFunc) Score(m *Model, f Fold) (float64, error) {
	return fn(m, f)
}

// Judgment is a labeled query: the corpus indices a good ranking surfaces.
type Judgment struct {
	Query    string `yaml:"query" json:"query"`
	Relevant []int  `yaml:"relevant" json:"relevant"`
}

// DefaultCutoff is how deep RelevanceObjective looks for a relevant hit.
const DefaultCutoff = 10

// RelevanceObjective scores folds by mean reciprocal rank over caller
// supplied judgments. Only judgments with a relevant document in the test
// fold count, so the score reflects documents the vectorizer never saw.
type RelevanceObjective struct {
	Judgments []Judgment
	Cutoff    int
}

var errNoJudgments = errors.New("no judgment targets this fold")

func (o RelevanceObjective) Score(m *Model, f Fold) (float64, error) {
	cutoff := o.Cutoff
	if cutoff <= 0 {
		cutoff = DefaultCutoff
	}

	inTest := make(map[int]bool, len(f.Test))
	for _, idx := range f.Test {
		inTest[idx] = true
	}

	var matrix *Matrix
	var total float64
	scored := 0
	for _, j := range o.Judgments {
		relevant := make(map[int]bool, len(j.Relevant))
		targetsFold := false
		for _, idx := range j.Relevant {
			relevant[idx] = true
			if inTest[idx] {
				targetsFold = true
			}
		}
		if !targetsFold {
			continue
		}

		if matrix == nil {
			matrix = m.TransformAll(f.Docs)
		}
		hits := RankVector(m.Transform(text.Normalize(j.Query)), matrix, cutoff)
		total += reciprocalRank(hits, relevant)
		scored++
	}

	if scored == 0 {
		return 0, errNoJudgments
	}
	return total / float64(scored), nil
}

func reciprocalRank(hits []Hit, relevant map[int]bool) float64 {
	for rank, h := range hits {
		if h.Score > 0 && relevant[h.Index] {
			return 1 / float64(rank+1)
		}
	}
	return 0
}
