package search

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// DefaultFolds is the cross-validation fold count.
const DefaultFolds = 5

// ParamGrid returns every candidate combination in evaluation order.
func ParamGrid() []Params {
	var grid []Params
	for _, maxDF := range []float64{0.5, 0.75, 1.0} {
		for _, minDF := range []int{1, 2, 3} {
			for _, ngram := range []NGramRange{Unigram, UnigramBigram} {
				grid = append(grid, Params{MaxDF: maxDF, MinDF: minDF, NGram: ngram})
			}
		}
	}
	return grid
}

// GridConfig controls hyperparameter selection.
type GridConfig struct {
	// Objective scores a fold. Without one no search runs and
	// DefaultParams is fitted directly.
	Objective Objective
	Folds     int
	Workers   int
	// Grid overrides ParamGrid when non-empty.
	Grid []Params
}

// CandidateScore is the cross-validated result for one combination.
type CandidateScore struct {
	Params    Params
	MeanScore float64
	Folds     int
	Err       error
}

// SearchResult describes how the final model's parameters were chosen.
type SearchResult struct {
	Best       Params
	BestScore  float64
	Searched   bool
	Candidates []CandidateScore
	Model      *Model
}

// GridSearch selects hyperparameters by k-fold cross-validation and refits
// the winner on the whole corpus. Ties go to the earliest combination.
func GridSearch(ctx context.Context, docs []string, cfg GridConfig) (*SearchResult, error) {
	const op = "grid search"

	if len(docs) == 0 {
		return nil, Errorf(KindTraining, op, "empty corpus")
	}

	if cfg.Objective == nil {
		m, err := Fit(docs, DefaultParams())
		if err != nil {
			return nil, err
		}
		return &SearchResult{Best: m.Params, Model: m}, nil
	}

	k := cfg.Folds
	if k <= 0 {
		k = DefaultFolds
	}
	if k < 2 {
		return nil, Errorf(KindTraining, op, "need at least 2 folds, got %d", k)
	}
	if len(docs) < k {
		return nil, Errorf(KindTraining, op, "cannot split %d documents into %d folds", len(docs), k)
	}

	grid := cfg.Grid
	if len(grid) == 0 {
		grid = ParamGrid()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, Wrap(KindInternal, op, err)
	}
	defer pool.Release()

	folds := KFold(len(docs), k)
	candidates := make([]CandidateScore, len(grid))

	var wg sync.WaitGroup
	for i, p := range grid {
		i, p := i, p
		wg.Add(1)
		task := func() {
			defer wg.Done()
			candidates[i] = crossValidate(ctx, docs, folds, p, cfg.Objective)
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			candidates[i] = CandidateScore{Params: p, Err: err}
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, Wrap(KindTraining, op, err)
	}

	best := -1
	for i, c := range candidates {
		if c.Err != nil {
			continue
		}
		if best < 0 || c.MeanScore > candidates[best].MeanScore {
			best = i
		}
	}
	if best < 0 {
		return nil, Errorf(KindTraining, op, "no parameter combination could be scored (degenerate search)")
	}

	winner := candidates[best]
	m, err := Fit(docs, winner.Params)
	if err != nil {
		return nil, err
	}
	return &SearchResult{
		Best:       winner.Params,
		BestScore:  winner.MeanScore,
		Searched:   true,
		Candidates: candidates,
		Model:      m,
	}, nil
}

var errNoFoldScored = errors.New("no fold could be scored")

func crossValidate(ctx context.Context, docs []string, folds []Fold, p Params, obj Objective) CandidateScore {
	result := CandidateScore{Params: p}

	var total float64
	for _, f := range folds {
		if err := ctx.Err(); err != nil {
			result.Err = err
			return result
		}

		train := make([]string, len(f.Train))
		for i, idx := range f.Train {
			train[i] = docs[idx]
		}
		m, err := Fit(train, p)
		if err != nil {
			continue
		}

		f.Docs = docs
		score, err := obj.Score(m, f)
		if err != nil {
			continue
		}
		total += score
		result.Folds++
	}

	if result.Folds == 0 {
		result.Err = errNoFoldScored
		return result
	}
	result.MeanScore = total / float64(result.Folds)
	return result
}

// KFold splits n documents into k contiguous folds in corpus order. The
// first n%k folds carry one extra document.
func KFold(n, k int) []Fold {
	folds := make([]Fold, 0, k)
	start := 0
	for i := 0; i < k; i++ {
		size := n / k
		if i < n%k {
			size++
		}
		end := start + size

		f := Fold{Index: i}
		for idx := 0; idx < n; idx++ {
			if idx >= start && idx < end {
				f.Test = append(f.Test, idx)
			} else {
				f.Train = append(f.Train, idx)
			}
		}
		folds = append(folds, f)
		start = end
	}
	return folds
}

// Train selects parameters, fits the model and builds the document matrix
// for the same corpus.
func Train(ctx context.Context, docs []string, cfg GridConfig) (*Model, *Matrix, *SearchResult, error) {
	result, err := GridSearch(ctx, docs, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return result.Model, result.Model.TransformAll(docs), result, nil
}
