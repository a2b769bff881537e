package snapshots

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tapescan/tapescan/internal/database"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "snapshots.db"),
		Profile: database.ProfileCache,
		Name:    "snapshots",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewRepository(db, zerolog.Nop())
	require.NoError(t, repo.EnsureSchema())
	return repo
}

func TestSaveAndLoad(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.Save(StateKey, "2025-03-14", []byte{0x82, 0x01, 0x02}))

	payload, day, err := repo.Load(StateKey)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-14", day)
	assert.Equal(t, []byte{0x82, 0x01, 0x02}, payload)
}

func TestSaveOverwrites(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.Save(StateKey, "2025-03-14", []byte("old")))
	require.NoError(t, repo.Save(StateKey, "2025-03-17", []byte("new")))

	payload, day, err := repo.Load(StateKey)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-17", day)
	assert.Equal(t, []byte("new"), payload)
}

func TestLoadMissingKey(t *testing.T) {
	repo := newTestRepository(t)

	payload, day, err := repo.Load("nothing")
	require.NoError(t, err)
	assert.Nil(t, payload)
	assert.Empty(t, day)
}

func TestDelete(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.Save(StateKey, "2025-03-14", []byte("x")))
	require.NoError(t, repo.Delete(StateKey))

	payload, _, err := repo.Load(StateKey)
	require.NoError(t, err)
	assert.Nil(t, payload)

	// Deleting an absent key is not an error.
	require.NoError(t, repo.Delete(StateKey))
}
