package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/knowledge-engine/catalogsearch/internal/catalog"
	"github.com/knowledge-engine/catalogsearch/internal/config"
	"github.com/knowledge-engine/catalogsearch/internal/engine"
	"github.com/knowledge-engine/catalogsearch/internal/search"
	"github.com/knowledge-engine/catalogsearch/internal/storage"
)

const productsCSV = `product_id,product_name,product_description,price
p1,Red Shoes,Running shoes,49.99
p2,Blue Shoes,Running shoes,59.99
p3,Red Hat,Wool hat,19.99
p4,Green Scarf,Silk scarf,29.99
p5,Blue Hat,Wool hat,21.99
p6,Hiking Boots,Leather boots,89.99
p7,Red Boots,Leather boots,99.99
p8,Green Jacket,Running jacket,79.99
p9,Winter Jacket,Wool jacket,129.99
p10,Evening Scarf,Silk scarf,39.99
`

// Mocks

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Save(model *search.Model, matrix *search.Matrix, docIDs []string) (string, error) {
	args := m.Called(model, matrix, docIDs)
	return args.String(0), args.Error(1)
}

func (m *MockStore) Load() (*storage.Artifacts, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Artifacts), args.Error(1)
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	return logger.WithField("test", "engine")
}

func setupEngine(t *testing.T) (*engine.Engine, *config.Config) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Paths.CatalogPath = filepath.Join(dir, "products.csv")
	cfg.Paths.ModelPath = filepath.Join(dir, "models", "vectorizer.json")
	cfg.Paths.MatrixPath = filepath.Join(dir, "models", "matrix.json")
	require.NoError(t, os.WriteFile(cfg.Paths.CatalogPath, []byte(productsCSV), 0644))

	store, err := storage.NewFileStore(cfg.Paths.ModelPath, cfg.Paths.MatrixPath)
	require.NoError(t, err)
	return engine.NewEngine(cfg, testLogger(), store), cfg
}

func ids(results []engine.Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Record.ID
	}
	return out
}

func TestSearchBeforeLoad(t *testing.T) {
	eng, _ := setupEngine(t)

	_, err := eng.Search(context.Background(), "red", 10)
	assert.ErrorIs(t, err, search.ErrLoad)
	assert.Nil(t, eng.Snapshot())
	assert.Equal(t, int64(1), eng.Stats().Failures)
}

func TestTrainAndSearch(t *testing.T) {
	eng, cfg := setupEngine(t)

	report, err := eng.Train(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.False(t, report.Searched)
	assert.Equal(t, search.DefaultParams(), report.Params)
	assert.Equal(t, 10, report.Documents)
	assert.Greater(t, report.Vocabulary, 0)
	assert.FileExists(t, cfg.Paths.ModelPath)
	assert.FileExists(t, cfg.Paths.MatrixPath)

	snap := eng.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, report.RunID, snap.RunID)

	results, err := eng.Search(context.Background(), "red leather boots", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "p7", results[0].Record.ID)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, "99.99", results[0].Record.Attributes["price"])
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestSearchReturnsWholeCatalogWhenTopNIsLarge(t *testing.T) {
	eng, _ := setupEngine(t)
	_, err := eng.Train(context.Background())
	require.NoError(t, err)

	results, err := eng.Search(context.Background(), "the of and", 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8", "p9", "p10"}, ids(results))
	for _, r := range results {
		assert.Equal(t, 0.0, r.Score)
	}
}

func TestSearchErrors(t *testing.T) {
	eng, _ := setupEngine(t)
	_, err := eng.Train(context.Background())
	require.NoError(t, err)

	_, err = eng.Search(context.Background(), "red", 0)
	assert.ErrorIs(t, err, search.ErrRanking)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = eng.Search(ctx, "red", 5)
	assert.ErrorIs(t, err, context.Canceled)

	stats := eng.Stats()
	assert.Equal(t, int64(2), stats.Searches)
	assert.Equal(t, int64(2), stats.Failures)
}

func TestReloadMatchesTrainedSnapshot(t *testing.T) {
	trained, cfg := setupEngine(t)
	_, err := trained.Train(context.Background())
	require.NoError(t, err)

	store, err := storage.NewFileStore(cfg.Paths.ModelPath, cfg.Paths.MatrixPath)
	require.NoError(t, err)
	fresh := engine.NewEngine(cfg, testLogger(), store)
	require.NoError(t, fresh.Reload(context.Background()))

	assert.Equal(t, trained.Snapshot().RunID, fresh.Snapshot().RunID)
	assert.Equal(t, int64(1), fresh.Stats().Reloads)

	for _, q := range []string{"red shoes", "silk scarf", "wool", "nothing matches"} {
		want, err := trained.Search(context.Background(), q, 5)
		require.NoError(t, err)
		got, err := fresh.Search(context.Background(), q, 5)
		require.NoError(t, err)
		assert.Equal(t, want, got, "query %q", q)
	}
}

func TestReloadFailureKeepsSnapshot(t *testing.T) {
	eng, _ := setupEngine(t)
	_, err := eng.Train(context.Background())
	require.NoError(t, err)
	before := eng.Snapshot()

	failing := new(MockStore)
	failing.On("Load").Return(nil, errors.New("disk on fire"))
	eng.Store = failing

	err = eng.Reload(context.Background())
	assert.ErrorIs(t, err, search.ErrLoad)
	assert.Same(t, before, eng.Snapshot())
	failing.AssertExpectations(t)
}

func TestReloadRejectsCatalogMismatch(t *testing.T) {
	eng, cfg := setupEngine(t)
	_, err := eng.Train(context.Background())
	require.NoError(t, err)

	// Catalog gained a record after training
	extra := productsCSV + "p11,Purple Gloves,Cashmere gloves,15.00\n"
	require.NoError(t, os.WriteFile(cfg.Paths.CatalogPath, []byte(extra), 0644))

	err = eng.Reload(context.Background())
	assert.ErrorIs(t, err, search.ErrLoad)
	assert.Equal(t, 10, eng.Snapshot().Catalog.Len())
}

func TestReloadRejectsReorderedCatalog(t *testing.T) {
	eng, cfg := setupEngine(t)
	_, err := eng.Train(context.Background())
	require.NoError(t, err)
	before := eng.Snapshot()

	// Same row count, but p1 and p2 swap places
	swapped := strings.Replace(productsCSV, "p1,Red Shoes,Running shoes,49.99\np2,Blue Shoes,Running shoes,59.99",
		"p2,Blue Shoes,Running shoes,59.99\np1,Red Shoes,Running shoes,49.99", 1)
	require.NotEqual(t, productsCSV, swapped)
	require.NoError(t, os.WriteFile(cfg.Paths.CatalogPath, []byte(swapped), 0644))

	err = eng.Reload(context.Background())
	assert.ErrorIs(t, err, search.ErrLoad)
	assert.Contains(t, err.Error(), "p2")
	assert.Same(t, before, eng.Snapshot())
}

func TestTrainSavesRecordIDs(t *testing.T) {
	eng, _ := setupEngine(t)

	recording := new(MockStore)
	recording.On("Save", mock.Anything, mock.Anything, []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8", "p9", "p10"}).Return("run-ids", nil)
	eng.Store = recording

	_, err := eng.Train(context.Background())
	require.NoError(t, err)
	recording.AssertExpectations(t)
}

func TestTrainWithJudgments(t *testing.T) {
	eng, cfg := setupEngine(t)

	judgments := `
judgments:
  - query: red boots
    relevant: [p7]
  - query: silk scarf
    relevant: [p4, p10]
  - query: wool hat
    relevant: [p3, p5]
  - query: running jacket
    relevant: [p8]
  - query: blue shoes
    relevant: [p2]
`
	cfg.Training.JudgmentsPath = filepath.Join(t.TempDir(), "judgments.yaml")
	require.NoError(t, os.WriteFile(cfg.Training.JudgmentsPath, []byte(judgments), 0644))

	report, err := eng.Train(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Searched)
	assert.Len(t, report.Candidates, 18)
	assert.Contains(t, search.ParamGrid(), report.Params)
}

func TestLoadJudgmentsUnknownID(t *testing.T) {
	cat := &catalog.Catalog{Records: []catalog.Record{{ID: "p1", Text: "red shoes"}}}
	path := filepath.Join(t.TempDir(), "judgments.yaml")
	require.NoError(t, os.WriteFile(path, []byte("judgments:\n  - query: red\n    relevant: [p9]\n"), 0644))

	_, err := engine.LoadJudgments(path, cat)
	assert.ErrorIs(t, err, search.ErrTraining)

	_, err = engine.LoadJudgments(filepath.Join(t.TempDir(), "missing.yaml"), cat)
	assert.ErrorIs(t, err, search.ErrLoad)
}

func TestTrainEmptyCatalog(t *testing.T) {
	eng, cfg := setupEngine(t)
	require.NoError(t, os.WriteFile(cfg.Paths.CatalogPath, []byte("product_id,product_name\n"), 0644))

	_, err := eng.Train(context.Background())
	assert.ErrorIs(t, err, search.ErrTraining)
	assert.Nil(t, eng.Snapshot())
}

func TestTrainSaveFailureDoesNotPublish(t *testing.T) {
	eng, _ := setupEngine(t)

	failing := new(MockStore)
	failing.On("Save", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("read-only filesystem"))
	eng.Store = failing

	_, err := eng.Train(context.Background())
	assert.ErrorIs(t, err, search.ErrTraining)
	assert.Nil(t, eng.Snapshot())
}

func TestTrainRefusesConcurrentRun(t *testing.T) {
	eng, _ := setupEngine(t)

	started := make(chan struct{})
	release := make(chan struct{})
	blocking := new(MockStore)
	blocking.On("Save", mock.Anything, mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return("run-1", nil)
	eng.Store = blocking

	done := make(chan error, 1)
	go func() {
		_, err := eng.Train(context.Background())
		done <- err
	}()

	<-started
	_, err := eng.Train(context.Background())
	assert.ErrorIs(t, err, search.ErrTraining)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, "run-1", eng.Snapshot().RunID)
}

func TestConcurrentSearchDuringReload(t *testing.T) {
	eng, _ := setupEngine(t)
	_, err := eng.Train(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				results, err := eng.Search(context.Background(), "red", 3)
				assert.NoError(t, err)
				assert.Len(t, results, 3)
			}
		}()
	}
	for i := 0; i < 3; i++ {
		assert.NoError(t, eng.Reload(context.Background()))
	}
	wg.Wait()
}

func TestNewSnapshotValidation(t *testing.T) {
	docs := []string{"red shoes", "blue hat"}
	m, err := search.Fit(docs, search.DefaultParams())
	require.NoError(t, err)
	matrix := m.TransformAll(docs)

	one := &catalog.Catalog{Records: []catalog.Record{{ID: "a"}}}
	_, err = engine.NewSnapshot(m, matrix, one, "run")
	assert.ErrorIs(t, err, search.ErrLoad)

	_, err = engine.NewSnapshot(nil, matrix, one, "run")
	assert.ErrorIs(t, err, search.ErrLoad)

	two := &catalog.Catalog{Records: []catalog.Record{{ID: "a"}, {ID: "b"}}}
	s, err := engine.NewSnapshot(m, matrix, two, "run")
	require.NoError(t, err)
	assert.Equal(t, "run", s.RunID)
}
