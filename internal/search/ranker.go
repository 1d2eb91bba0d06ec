package search

import (
	"math"
	"sort"

	"github.com/knowledge-engine/catalogsearch/internal/text"
)

// Hit is one ranked document: its corpus index and cosine score.
type Hit struct {
	Index int
	Score float64
}

// Rank normalizes and vectorizes query, scores it against every row of
// matrix and returns the best topN hits. Scores are sorted descending with
// ties broken by ascending document index. corpusSize is the number of
// records the caller maps hit indices back into; it must match the matrix.
func Rank(m *Model, query string, matrix *Matrix, corpusSize, topN int) ([]Hit, error) {
	const op = "rank"

	if topN <= 0 {
		return nil, Errorf(KindRanking, op, "top_n must be positive, got %d", topN)
	}
	if m == nil || matrix == nil {
		return nil, Errorf(KindRanking, op, "model and matrix are required")
	}
	if matrix.NumRows() != corpusSize {
		return nil, Errorf(KindRanking, op, "matrix has %d rows, corpus has %d documents", matrix.NumRows(), corpusSize)
	}
	if matrix.Cols != m.Dim() {
		return nil, Errorf(KindRanking, op, "matrix has %d columns, vectorizer has %d terms", matrix.Cols, m.Dim())
	}

	queryVector := m.Transform(text.Normalize(query))
	return RankVector(queryVector, matrix, topN), nil
}

// RankVector scores an already transformed query against matrix.
func RankVector(query SparseVector, matrix *Matrix, topN int) []Hit {
	hits := make([]Hit, len(matrix.Rows))
	for i, row := range matrix.Rows {
		hits[i] = Hit{Index: i, Score: CosineSimilarity(query, row)}
	}

	// Sort by descending score, then ascending index
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Index < hits[j].Index
	})

	if len(hits) > topN {
		return hits[:topN]
	}
	return hits
}

// CosineSimilarity computes dot(a, b) / (|a| |b|) with a merge-join over
// the sorted indices. Returns 0 when either vector has zero magnitude.
func CosineSimilarity(a, b SparseVector) float64 {
	if a.Len() == 0 || b.Len() == 0 {
		return 0
	}

	var dot, normA, normB float64
	i, j := 0, 0
	for i < len(a.Indices) && j < len(b.Indices) {
		switch {
		case a.Indices[i] == b.Indices[j]:
			dot += a.Values[i] * b.Values[j]
			normA += a.Values[i] * a.Values[i]
			normB += b.Values[j] * b.Values[j]
			i++
			j++
		case a.Indices[i] < b.Indices[j]:
			normA += a.Values[i] * a.Values[i]
			i++
		default:
			normB += b.Values[j] * b.Values[j]
			j++
		}
	}
	for ; i < len(a.Indices); i++ {
		normA += a.Values[i] * a.Values[i]
	}
	for ; j < len(b.Indices); j++ {
		normB += b.Values[j] * b.Values[j]
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
