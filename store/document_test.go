package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"adunlock/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addKey(userID, scriptID string, k int) func(*models.State) error {
	return func(st *models.State) error {
		st.User(userID).Keys(scriptID).Add(k)
		return nil
	}
}

func keysOf(t *testing.T, s Store, userID, scriptID string) []int {
	t.Helper()
	var keys []int
	require.NoError(t, s.View(context.Background(), func(st *models.State) error {
		keys = st.CompletedKeys(userID, scriptID).Sorted()
		return nil
	}))
	return keys
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	s, err := OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, addKey("u1", "s1", 3)))
	require.NoError(t, s.Close())

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, keysOf(t, reopened, "u1", "s1"))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := OpenFileStore(path)
	assert.Error(t, err)
}

func TestFileStoreEmptyFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	s, err := OpenFileStore(path)
	require.NoError(t, err)
	assert.Empty(t, keysOf(t, s, "u1", "s1"))
}

func TestFileStoreWriteFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s, err := OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, addKey("u1", "s1", 1)))

	// Point the store at a path whose parent is a regular file.
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	s.path = filepath.Join(blocker, "state.json")

	err = s.Update(ctx, addKey("u1", "s1", 2))
	require.Error(t, err)
	assert.Equal(t, []int{1}, keysOf(t, s, "u1", "s1"))
}

func TestDocumentStoreUpdateErrorDiscardsChanges(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	boom := errors.New("boom")

	err := s.Update(ctx, func(st *models.State) error {
		st.User("u1").Keys("s1").Add(7)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, keysOf(t, s, "u1", "s1"))
}

func TestDocumentStoreSerializesWriters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			assert.NoError(t, s.Update(ctx, addKey("u1", "s1", k)))
		}(i)
	}
	wg.Wait()

	assert.Len(t, keysOf(t, s, "u1", "s1"), writers)
}

func TestDocumentStoreClosed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Update(context.Background(), addKey("u1", "s1", 0)), ErrClosed)
	assert.ErrorIs(t, s.View(context.Background(), func(*models.State) error { return nil }), ErrClosed)
}

func TestDocumentStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewMemoryStore()
	assert.ErrorIs(t, s.Update(ctx, addKey("u1", "s1", 0)), context.Canceled)
}
