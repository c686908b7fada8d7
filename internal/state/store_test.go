package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowlet/scanner/internal/crawler"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "crawl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBoltStoreSaveLoadRoundTrip(t *testing.T) {
	store := openTestStore(t)

	visited := []string{"http://site.test", "http://site.test/a"}
	frontier := []crawler.FrontierItem{
		{URL: "http://site.test/b", Depth: 1},
		{URL: "http://site.test/c", Depth: 2},
	}
	require.NoError(t, store.Save(visited, frontier))

	gotVisited, gotFrontier, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, visited, gotVisited)
	assert.Equal(t, frontier, gotFrontier)
}

func TestBoltStoreLoadFreshDatabase(t *testing.T) {
	store := openTestStore(t)

	visited, frontier, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, visited)
	assert.Empty(t, frontier)
}

func TestBoltStoreSaveOverwrites(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Save([]string{"http://site.test"}, []crawler.FrontierItem{{URL: "http://site.test/a", Depth: 1}}))
	require.NoError(t, store.Save([]string{"http://site.test", "http://site.test/a"}, nil))

	visited, frontier, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, visited, 2)
	assert.Empty(t, frontier)
}

func TestBoltStoreClear(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Save([]string{"http://site.test"}, []crawler.FrontierItem{{URL: "http://site.test/a", Depth: 1}}))
	require.NoError(t, store.Clear())

	visited, frontier, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, visited)
	assert.Empty(t, frontier)
}

func TestBoltStoreReopenKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crawl.db")
	store, err := NewBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Save([]string{"http://site.test"}, nil))
	require.NoError(t, store.Close())

	reopened, err := NewBoltStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	visited, _, err := reopened.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://site.test"}, visited)
}
