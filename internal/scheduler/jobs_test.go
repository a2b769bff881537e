package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tapescan/tapescan/internal/database"
	"github.com/tapescan/tapescan/internal/domain"
	"github.com/tapescan/tapescan/internal/scanner"
	"github.com/tapescan/tapescan/internal/snapshots"
)

func newSnapshotRepo(t *testing.T) *snapshots.Repository {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "snapshots.db"),
		Profile: database.ProfileCache,
		Name:    "snapshots",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := snapshots.NewRepository(db, zerolog.Nop())
	require.NoError(t, repo.EnsureSchema())
	return repo
}

func TestStateSnapshotJob(t *testing.T) {
	state := scanner.NewStateManager()
	clock, err := scanner.NewSessionClock("America/New_York", 5)
	require.NoError(t, err)
	repo := newSnapshotRepo(t)

	job := NewStateSnapshotJob(state, clock, repo, zerolog.Nop())
	assert.Equal(t, "state_snapshot", job.Name())

	// Empty state: nothing written.
	require.NoError(t, job.Run())
	payload, _, err := repo.Load(snapshots.StateKey)
	require.NoError(t, err)
	assert.Nil(t, payload)

	state.Update("AAA", domain.Float64(10.5), domain.Float64(1000), domain.Int64(5), time.Now())
	require.NoError(t, job.Run())

	payload, day, err := repo.Load(snapshots.StateKey)
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, clock.DayKey(clock.Now()), day)

	// The blob round-trips into a fresh manager.
	restored := scanner.NewStateManager()
	restoredDay, err := restored.Restore(payload)
	require.NoError(t, err)
	assert.Equal(t, day, restoredDay)
	assert.Equal(t, 1, restored.Count())
}

func TestMaintenanceJob(t *testing.T) {
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "rules.db"),
		Profile: database.ProfileStandard,
		Name:    "rules",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE t (x INTEGER)`)
	require.NoError(t, err)

	job := NewMaintenanceJob(map[string]*database.DB{"rules": db}, zerolog.Nop())
	assert.Equal(t, "maintenance", job.Name())
	require.NoError(t, job.Run())
}

func TestSchedulerRunsJobs(t *testing.T) {
	s := New(zerolog.Nop())

	done := make(chan struct{}, 1)
	require.NoError(t, s.AddJob("@every 10ms", &funcJob{name: "tick", fn: func() error {
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	}}))

	s.Start()
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled job never ran")
	}
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	err := s.AddJob("not a schedule", &funcJob{name: "bad"})
	assert.Error(t, err)
}

type funcJob struct {
	name string
	fn   func() error
}

func (j *funcJob) Run() error {
	if j.fn == nil {
		return nil
	}
	return j.fn()
}

func (j *funcJob) Name() string { return j.name }
