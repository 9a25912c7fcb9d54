package modelstore

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/internal/features"
	"github.com/ducminhle1904/crypto-risk-engine/internal/model"
)

func trainedModel(t *testing.T, seed uint64) *model.SignalModel {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, 2))
	m := features.Matrix{Columns: []string{"a", "b"}}
	for i := 0; i < 120; i++ {
		a, b := rng.Float64()-0.5, rng.Float64()-0.5
		y := 0
		if a+0.2*b > 0 {
			y = 1
		}
		m.X = append(m.X, []float64{a, b})
		m.Y = append(m.Y, y)
	}
	params := model.DefaultParams()
	params.Rounds = 15
	sm := model.NewSignalModel(params)
	_, err := sm.Train(m, nil)
	require.NoError(t, err)
	return sm
}

func TestSaveAssignsIncreasingVersions(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	m := trainedModel(t, 1)

	p1, err := store.Save(m, "BTC", nil)
	require.NoError(t, err)
	p2, err := store.Save(m, "BTC", map[string]string{"note": "retrain"})
	require.NoError(t, err)

	assert.Equal(t, "v1", filepath.Base(p1))
	assert.Equal(t, "v2", filepath.Base(p2))
	assert.FileExists(t, filepath.Join(p2, modelFile))
	assert.FileExists(t, filepath.Join(p2, metadataFile))

	versions, err := store.ListVersions("BTC")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "BTC", versions[1].TokenID)
	assert.Equal(t, 2, versions[1].Version)
	assert.Equal(t, "retrain", versions[1].Labels["note"])
	assert.Equal(t, m.Metrics(), versions[1].TrainingMetrics)
}

func TestVersionsSurviveRestart(t *testing.T) {
	root := t.TempDir()
	m := trainedModel(t, 1)

	first, err := New(root)
	require.NoError(t, err)
	_, err = first.Save(m, "ETH", nil)
	require.NoError(t, err)

	second, err := New(root)
	require.NoError(t, err)
	path, err := second.Save(m, "ETH", nil)
	require.NoError(t, err)
	assert.Equal(t, "v2", filepath.Base(path))
}

func TestSaveArchivesBeyondRetention(t *testing.T) {
	store, err := New(t.TempDir(), WithMaxVersions(2))
	require.NoError(t, err)
	m := trainedModel(t, 1)

	for i := 0; i < 4; i++ {
		_, err := store.Save(m, "SOL", nil)
		require.NoError(t, err)
	}

	active, err := store.ListVersions("SOL")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, 3, active[0].Version)
	assert.Equal(t, 4, active[1].Version)

	archived, err := store.ListArchived("SOL")
	require.NoError(t, err)
	require.Len(t, archived, 2)
	assert.True(t, archived[0].Archived)

	// archived versions still count towards numbering and remain loadable
	path, err := store.Save(m, "SOL", nil)
	require.NoError(t, err)
	assert.Equal(t, "v5", filepath.Base(path))

	_, meta, err := store.Load("SOL", 1)
	require.NoError(t, err)
	assert.True(t, meta.Archived)
}

func TestLoadRoundTripIsBitIdentical(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	m := trainedModel(t, 3)

	_, err = store.Save(m, "BTC", nil)
	require.NoError(t, err)
	loaded, meta, err := store.Load("BTC", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.Version)
	assert.Equal(t, features.SchemaVersion, meta.SchemaVersion)

	rng := rand.New(rand.NewPCG(42, 42))
	for i := 0; i < 50; i++ {
		row := map[string]float64{"a": rng.Float64() - 0.5, "b": rng.Float64() - 0.5}
		want, err := m.PredictProbability(row)
		require.NoError(t, err)
		got, err := loaded.PredictProbability(row)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestLoadLatest(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	m, meta, err := store.LoadLatest("NONE")
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.Nil(t, meta)

	_, err = store.Save(trainedModel(t, 1), "BTC", nil)
	require.NoError(t, err)
	_, err = store.Save(trainedModel(t, 2), "BTC", nil)
	require.NoError(t, err)

	m, meta, err = store.LoadLatest("BTC")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 2, meta.Version)
}

func TestLoadMissingVersion(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	_, _, err = store.Load("BTC", 9)
	assert.ErrorIs(t, err, engineerrors.ErrModelNotFound)
}

func TestArchiveAndCleanup(t *testing.T) {
	store, err := New(t.TempDir(), WithMaxVersions(10))
	require.NoError(t, err)
	m := trainedModel(t, 1)
	for i := 0; i < 3; i++ {
		_, err := store.Save(m, "ADA", nil)
		require.NoError(t, err)
	}

	require.NoError(t, store.Archive("ADA", 2))
	assert.ErrorIs(t, store.Archive("ADA", 2), engineerrors.ErrModelNotFound)

	archived, err := store.Cleanup("ADA", 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, archived)

	active, err := store.ListVersions("ADA")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 3, active[0].Version)
}

func TestInvalidToken(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	for _, token := range []string{"", "..", "a/b", ".lock", "archive"} {
		_, err := store.Save(trainedModel(t, 1), token, nil)
		assert.ErrorIs(t, err, engineerrors.ErrInvalidParameter, token)
	}
}

func TestSaveUntrainedModel(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = store.Save(model.NewSignalModel(model.DefaultParams()), "BTC", nil)
	assert.ErrorIs(t, err, engineerrors.ErrUntrainedModel)
}

func TestConcurrentSavesDoNotCollide(t *testing.T) {
	root := t.TempDir()
	m := trainedModel(t, 1)

	const writers = 8
	var wg sync.WaitGroup
	paths := make([]string, writers)
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// separate Store values mimic separate processes
			store, err := New(root, WithMaxVersions(100))
			if err != nil {
				errs[i] = err
				return
			}
			paths[i], errs[i] = store.Save(m, "BTC", nil)
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[paths[i]], "duplicate version %s", paths[i])
		seen[paths[i]] = true
	}
	store, err := New(root)
	require.NoError(t, err)
	versions, err := store.ListVersions("BTC")
	require.NoError(t, err)
	assert.Len(t, versions, writers)
}

func TestStaleLockIsReclaimed(t *testing.T) {
	root := t.TempDir()
	tokenDir := filepath.Join(root, "BTC")
	require.NoError(t, os.MkdirAll(filepath.Join(tokenDir, lockDirName), 0755))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(tokenDir, lockDirName), old, old))

	store, err := New(root, WithLockTimeout(200*time.Millisecond), WithStaleLockAge(time.Minute))
	require.NoError(t, err)
	_, err = store.Save(trainedModel(t, 1), "BTC", nil)
	require.NoError(t, err)
}

func TestHeldLockTimesOut(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "BTC", lockDirName), 0755))

	store, err := New(root, WithLockTimeout(50*time.Millisecond))
	require.NoError(t, err)
	_, err = store.Save(trainedModel(t, 1), "BTC", nil)
	assert.Error(t, err)
}

func TestLoadFallsBackToArchiveWhenMovedMidRead(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	require.NoError(t, err)
	_, err = store.Save(trainedModel(t, 1), "SOL", nil)
	require.NoError(t, err)
	require.NoError(t, store.Archive("SOL", 1))

	// active directory left with only the model file, as seen by a reader
	// that opened model.json just before the directory was moved
	active := filepath.Join(root, "SOL", versionDir(1))
	require.NoError(t, os.MkdirAll(active, 0755))
	data, err := os.ReadFile(filepath.Join(root, "SOL", archiveDir, versionDir(1), modelFile))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(active, modelFile), data, 0644))

	m, meta, err := store.Load("SOL", 1)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.True(t, meta.Archived)
	assert.Equal(t, 1, meta.Version)
}

func TestReclaimStaleLeavesFreshLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), lockDirName)
	require.NoError(t, os.Mkdir(path, 0755))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))
	seen, err := os.Stat(path)
	require.NoError(t, err)

	// another waiter reclaims first and takes the lock
	require.NoError(t, os.RemoveAll(path))
	require.NoError(t, os.Mkdir(path, 0755))

	assert.False(t, reclaimStale(path, seen))
	_, err = os.Stat(path)
	assert.NoError(t, err, "fresh lock must survive")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, os.Chtimes(path, old, old))
	fresh, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, reclaimStale(path, fresh))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
