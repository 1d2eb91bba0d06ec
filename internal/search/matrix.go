package search

import "math"

// SparseVector holds the non-zero entries of a vector. Indices are strictly
// ascending.
type SparseVector struct {
	Indices []int     `json:"indices"`
	Values  []float64 `json:"values"`
}

// Len is the number of non-zero entries.
func (v SparseVector) Len() int {
	return len(v.Indices)
}

// Norm is the Euclidean length of v.
func (v SparseVector) Norm() float64 {
	var sum float64
	for _, x := range v.Values {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Matrix is the document matrix: one sparse row per document in corpus
// order, Cols wide.
type Matrix struct {
	Rows []SparseVector `json:"rows"`
	Cols int            `json:"cols"`
}

// NumRows is the number of documents in the matrix.
func (m *Matrix) NumRows() int {
	if m == nil {
		return 0
	}
	return len(m.Rows)
}
