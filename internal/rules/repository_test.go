package rules

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
		Path: filepath.Join(t.TempDir(), "rules.db"),
		Name: "rules",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewRepository(db, zerolog.Nop())
	require.NoError(t, repo.EnsureSchema())
	return repo
}

func TestRepositoryInsertListCount(t *testing.T) {
	repo := newTestRepository(t)

	id1, err := repo.Insert(&UserRuleRow{
		UserID:     "alice",
		Name:       "gap and go",
		Enabled:    true,
		Parameters: `{"min_gap_percent": 3}`,
		Priority:   1,
	})
	require.NoError(t, err)
	assert.Greater(t, id1, int64(0))

	_, err = repo.Insert(&UserRuleRow{
		UserID:     "bob",
		Name:       "disabled scan",
		Enabled:    false,
		Parameters: `{"min_rvol": 2}`,
	})
	require.NoError(t, err)

	enabled, err := repo.ListEnabled()
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "alice", enabled[0].UserID)
	assert.Equal(t, "scan", enabled[0].FilterType)
	assert.Greater(t, enabled[0].CreatedAt, int64(0))

	count, err := repo.CountEnabled()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRepositoryListEnabledOrdering(t *testing.T) {
	repo := newTestRepository(t)

	for _, r := range []UserRuleRow{
		{UserID: "zed", Enabled: true, Parameters: `{"min_price": 1}`},
		{UserID: "ann", Enabled: true, Parameters: `{"min_price": 2}`},
		{UserID: "ann", Enabled: true, Parameters: `{"min_price": 3}`},
	} {
		row := r
		_, err := repo.Insert(&row)
		require.NoError(t, err)
	}

	enabled, err := repo.ListEnabled()
	require.NoError(t, err)
	require.Len(t, enabled, 3)
	assert.Equal(t, "ann", enabled[0].UserID)
	assert.Equal(t, "ann", enabled[1].UserID)
	assert.Equal(t, "zed", enabled[2].UserID)
	assert.Less(t, enabled[0].ID, enabled[1].ID)
}

func TestRepositoryGetUpdateDelete(t *testing.T) {
	repo := newTestRepository(t)

	id, err := repo.Insert(&UserRuleRow{
		UserID:     "alice",
		Name:       "v1",
		Enabled:    true,
		Parameters: `{"min_price": 5}`,
	})
	require.NoError(t, err)

	row, err := repo.Get(id)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "v1", row.Name)

	row.Name = "v2"
	row.Enabled = false
	ok, err := repo.Update(row)
	require.NoError(t, err)
	assert.True(t, ok)

	count, err := repo.CountEnabled()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	ok, err = repo.Delete(id)
	require.NoError(t, err)
	assert.True(t, ok)

	gone, err := repo.Get(id)
	require.NoError(t, err)
	assert.Nil(t, gone)

	ok, err = repo.Delete(id)
	require.NoError(t, err)
	assert.False(t, ok, "deleting a missing row reports false")
}

func TestRepositoryListByUser(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.Insert(&UserRuleRow{UserID: "alice", Enabled: true, Parameters: `{"min_price": 1}`})
	require.NoError(t, err)
	_, err = repo.Insert(&UserRuleRow{UserID: "alice", Enabled: false, Parameters: `{"min_price": 2}`})
	require.NoError(t, err)
	_, err = repo.Insert(&UserRuleRow{UserID: "bob", Enabled: true, Parameters: `{"min_price": 3}`})
	require.NoError(t, err)

	mine, err := repo.ListByUser("alice")
	require.NoError(t, err)
	assert.Len(t, mine, 2, "ListByUser returns disabled rows too")
}
