package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/knowledge-engine/catalogsearch/internal/search"
)

// formatVersion is bumped whenever the on-disk layout changes.
const formatVersion = 1

// ModelStore persists a fitted model together with its document matrix.
type ModelStore interface {
	Save(model *search.Model, matrix *search.Matrix, docIDs []string) (string, error)
	Load() (*Artifacts, error)
}

// Artifacts is a model and matrix loaded from one training run. DocIDs
// names the catalog record behind each matrix row.
type Artifacts struct {
	Model     *search.Model
	Matrix    *search.Matrix
	DocIDs    []string
	RunID     string
	CreatedAt time.Time
}

type vectorizerFile struct {
	Version   int           `json:"version"`
	RunID     string        `json:"run_id"`
	CreatedAt time.Time     `json:"created_at"`
	Params    search.Params `json:"params"`
	DocCount  int           `json:"doc_count"`
	Terms     []string      `json:"terms"`
	IDF       []float64     `json:"idf"`
}

type matrixFile struct {
	Version int                   `json:"version"`
	RunID   string                `json:"run_id"`
	Cols    int                   `json:"cols"`
	DocIDs  []string              `json:"doc_ids"`
	Rows    []search.SparseVector `json:"rows"`
}

// FileStore writes the vectorizer and the matrix as two JSON files. Both
// carry the run ID of the training run that produced them and Load refuses
// a pair whose run IDs differ.
type FileStore struct {
	modelPath  string
	matrixPath string
	mu         sync.RWMutex
}

// NewFileStore creates a store for the given artifact paths
func NewFileStore(modelPath, matrixPath string) (*FileStore, error) {
	if modelPath == "" || matrixPath == "" {
		return nil, fmt.Errorf("model and matrix paths are required")
	}
	if modelPath == matrixPath {
		return nil, fmt.Errorf("model and matrix paths must differ")
	}
	return &FileStore{
		modelPath:  modelPath,
		matrixPath: matrixPath,
	}, nil
}

// Save writes both artifacts under a fresh run ID and returns it. docIDs
// holds one record ID per matrix row.
func (fs *FileStore) Save(model *search.Model, matrix *search.Matrix, docIDs []string) (string, error) {
	if model == nil || matrix == nil {
		return "", fmt.Errorf("model and matrix are required")
	}
	if matrix.Cols != model.Dim() {
		return "", fmt.Errorf("matrix has %d columns, model has %d terms", matrix.Cols, model.Dim())
	}
	if len(docIDs) != matrix.NumRows() {
		return "", fmt.Errorf("%d document ids for %d matrix rows", len(docIDs), matrix.NumRows())
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	runID := uuid.NewString()
	vf := vectorizerFile{
		Version:   formatVersion,
		RunID:     runID,
		CreatedAt: time.Now().UTC(),
		Params:    model.Params,
		DocCount:  model.DocCount,
		Terms:     model.Terms(),
		IDF:       model.IDF,
	}
	mf := matrixFile{
		Version: formatVersion,
		RunID:   runID,
		Cols:    matrix.Cols,
		DocIDs:  docIDs,
		Rows:    matrix.Rows,
	}

	// Matrix first: a crash between the two writes leaves a mismatched
	// pair that Load rejects instead of a new model over an old matrix.
	if err := writeAtomic(fs.matrixPath, mf); err != nil {
		return "", fmt.Errorf("failed to write matrix: %w", err)
	}
	if err := writeAtomic(fs.modelPath, vf); err != nil {
		return "", fmt.Errorf("failed to write vectorizer: %w", err)
	}
	return runID, nil
}

// Load reads both artifacts. Missing files, malformed data and mixed runs
// are load errors.
func (fs *FileStore) Load() (*Artifacts, error) {
	const op = "load artifacts"

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var vf vectorizerFile
	if err := readJSON(fs.modelPath, &vf); err != nil {
		return nil, search.Wrap(search.KindLoad, op, err)
	}
	var mf matrixFile
	if err := readJSON(fs.matrixPath, &mf); err != nil {
		return nil, search.Wrap(search.KindLoad, op, err)
	}

	if vf.Version != formatVersion || mf.Version != formatVersion {
		return nil, search.Errorf(search.KindLoad, op, "unsupported format version %d/%d", vf.Version, mf.Version)
	}
	if vf.RunID == "" || vf.RunID != mf.RunID {
		return nil, search.Errorf(search.KindLoad, op, "vectorizer run %q does not match matrix run %q", vf.RunID, mf.RunID)
	}

	model, err := vf.model()
	if err != nil {
		return nil, search.Wrap(search.KindLoad, op, err)
	}
	matrix := &search.Matrix{Rows: mf.Rows, Cols: mf.Cols}
	if err := validateMatrix(matrix, model.Dim()); err != nil {
		return nil, search.Wrap(search.KindLoad, op, err)
	}
	if len(mf.DocIDs) != matrix.NumRows() {
		return nil, search.Errorf(search.KindLoad, op, "matrix has %d rows but %d document ids", matrix.NumRows(), len(mf.DocIDs))
	}

	return &Artifacts{
		Model:     model,
		Matrix:    matrix,
		DocIDs:    mf.DocIDs,
		RunID:     vf.RunID,
		CreatedAt: vf.CreatedAt,
	}, nil
}

func (vf *vectorizerFile) model() (*search.Model, error) {
	if err := vf.Params.Validate(); err != nil {
		return nil, err
	}
	if len(vf.Terms) == 0 {
		return nil, fmt.Errorf("empty vocabulary")
	}
	if len(vf.Terms) != len(vf.IDF) {
		return nil, fmt.Errorf("%d terms but %d idf weights", len(vf.Terms), len(vf.IDF))
	}
	vocab := make(map[string]int, len(vf.Terms))
	for i, term := range vf.Terms {
		if _, dup := vocab[term]; dup {
			return nil, fmt.Errorf("duplicate term %q", term)
		}
		vocab[term] = i
	}
	return &search.Model{
		Vocabulary: vocab,
		IDF:        vf.IDF,
		Params:     vf.Params,
		DocCount:   vf.DocCount,
	}, nil
}

func validateMatrix(m *search.Matrix, dim int) error {
	if m.Cols != dim {
		return fmt.Errorf("matrix has %d columns, vectorizer has %d terms", m.Cols, dim)
	}
	for r, row := range m.Rows {
		if len(row.Indices) != len(row.Values) {
			return fmt.Errorf("row %d: %d indices but %d values", r, len(row.Indices), len(row.Values))
		}
		prev := -1
		for _, idx := range row.Indices {
			if idx <= prev || idx >= dim {
				return fmt.Errorf("row %d: index %d out of order or range", r, idx)
			}
			prev = idx
		}
	}
	return nil
}

// writeAtomic marshals v to JSON and renames it into place.
func writeAtomic(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}
	return nil
}
