package search

import (
	"fmt"
	"math"
	"sort"
)

// Params are the vectorizer hyperparameters.
type Params struct {
	// MaxDF drops terms present in more than this proportion of documents.
	MaxDF float64 `json:"max_df" yaml:"max_df"`
	// MinDF drops terms present in fewer than this many documents.
	MinDF int        `json:"min_df" yaml:"min_df"`
	NGram NGramRange `json:"ngram" yaml:"ngram"`
}

// DefaultParams is used when no objective is available to drive a search.
func DefaultParams() Params {
	return Params{MaxDF: 1.0, MinDF: 1, NGram: Unigram}
}

func (p Params) String() string {
	return fmt.Sprintf("max_df=%g min_df=%d ngram=%s", p.MaxDF, p.MinDF, p.NGram)
}

// Validate checks that p can drive a fit.
func (p Params) Validate() error {
	if p.MaxDF <= 0 || p.MaxDF > 1 {
		return fmt.Errorf("max_df must be in (0, 1], got %g", p.MaxDF)
	}
	if p.MinDF < 1 {
		return fmt.Errorf("min_df must be at least 1, got %d", p.MinDF)
	}
	if p.NGram != Unigram && p.NGram != UnigramBigram {
		return fmt.Errorf("unsupported ngram range %d", int(p.NGram))
	}
	return nil
}

// Model is a fitted TF-IDF vectorizer. It is never mutated after Fit
// returns, so one Model can serve any number of concurrent readers.
type Model struct {
	Vocabulary map[string]int
	IDF        []float64
	Params     Params
	DocCount   int
}

// Fit builds the vocabulary and smoothed IDF weights over normalized docs.
func Fit(docs []string, p Params) (*Model, error) {
	const op = "fit"

	if len(docs) == 0 {
		return nil, Errorf(KindTraining, op, "empty corpus")
	}
	if err := p.Validate(); err != nil {
		return nil, Wrap(KindTraining, op, err)
	}

	// 1. Document frequency per term
	docFreq := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool)
		for _, term := range Analyze(doc, p.NGram) {
			if !seen[term] {
				docFreq[term]++
				seen[term] = true
			}
		}
	}

	// 2. Prune by document frequency
	n := len(docs)
	maxCount := int(math.Floor(p.MaxDF * float64(n)))
	if maxCount < p.MinDF {
		return nil, Errorf(KindTraining, op, "max_df=%g keeps at most %d documents, below min_df=%d", p.MaxDF, maxCount, p.MinDF)
	}

	terms := make([]string, 0, len(docFreq))
	for term, df := range docFreq {
		if df >= p.MinDF && df <= maxCount {
			terms = append(terms, term)
		}
	}
	if len(terms) == 0 {
		return nil, Errorf(KindTraining, op, "empty vocabulary after pruning with %s", p)
	}
	sort.Strings(terms)

	// 3. Vocabulary and IDF, indexed in term order
	m := &Model{
		Vocabulary: make(map[string]int, len(terms)),
		IDF:        make([]float64, len(terms)),
		Params:     p,
		DocCount:   n,
	}
	for i, term := range terms {
		m.Vocabulary[term] = i
		// idf = ln((1 + n) / (1 + df)) + 1
		m.IDF[i] = math.Log(float64(1+n)/float64(1+docFreq[term])) + 1
	}
	return m, nil
}

// Dim is the vector dimensionality.
func (m *Model) Dim() int {
	return len(m.IDF)
}

// Terms lists the vocabulary in index order.
func (m *Model) Terms() []string {
	terms := make([]string, len(m.Vocabulary))
	for term, idx := range m.Vocabulary {
		terms[idx] = term
	}
	return terms
}

// Transform converts normalized text into an L2-normalized TF-IDF vector.
// Terms missing from the vocabulary contribute nothing.
func (m *Model) Transform(text string) SparseVector {
	counts := make(map[int]float64)
	for _, term := range Analyze(text, m.Params.NGram) {
		if idx, ok := m.Vocabulary[term]; ok {
			counts[idx]++
		}
	}
	if len(counts) == 0 {
		return SparseVector{}
	}

	indices := make([]int, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	values := make([]float64, len(indices))
	var norm float64
	for i, idx := range indices {
		w := counts[idx] * m.IDF[idx]
		values[i] = w
		norm += w * w
	}
	norm = math.Sqrt(norm)
	for i := range values {
		values[i] /= norm
	}
	return SparseVector{Indices: indices, Values: values}
}

// TransformAll builds the document matrix, one row per doc in input order.
func (m *Model) TransformAll(docs []string) *Matrix {
	rows := make([]SparseVector, len(docs))
	for i, doc := range docs {
		rows[i] = m.Transform(doc)
	}
	return &Matrix{Rows: rows, Cols: m.Dim()}
}
