package scheduler

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tapescan/tapescan/internal/database"
	"github.com/tapescan/tapescan/internal/rete"
	"github.com/tapescan/tapescan/internal/scanner"
	"github.com/tapescan/tapescan/internal/snapshots"
)

// SafetyReloadJob reconciles the live rule network against the rule store.
// It backstops the pub/sub reload path: a missed notification is corrected
// on the next tick.
type SafetyReloadJob struct {
	manager *rete.Manager
	log     zerolog.Logger
}

// NewSafetyReloadJob creates a new safety reload job.
func NewSafetyReloadJob(manager *rete.Manager, log zerolog.Logger) *SafetyReloadJob {
	return &SafetyReloadJob{
		manager: manager,
		log:     log.With().Str("job", "safety_reload").Logger(),
	}
}

// Run executes the safety reload check.
func (j *SafetyReloadJob) Run() error {
	if err := j.manager.SafetyCheck(); err != nil {
		return fmt.Errorf("safety reload failed: %w", err)
	}
	return nil
}

// Name returns the job name for scheduler
func (j *SafetyReloadJob) Name() string {
	return "safety_reload"
}

// StateSnapshotJob persists the pipeline's session state so a restart
// mid-session resumes with warm rolling windows.
type StateSnapshotJob struct {
	state *scanner.StateManager
	clock *scanner.SessionClock
	repo  *snapshots.Repository
	log   zerolog.Logger
}

// NewStateSnapshotJob creates a new state snapshot job.
func NewStateSnapshotJob(
	state *scanner.StateManager,
	clock *scanner.SessionClock,
	repo *snapshots.Repository,
	log zerolog.Logger,
) *StateSnapshotJob {
	return &StateSnapshotJob{
		state: state,
		clock: clock,
		repo:  repo,
		log:   log.With().Str("job", "state_snapshot").Logger(),
	}
}

// Run exports the session state and upserts it under the current day key.
func (j *StateSnapshotJob) Run() error {
	if j.state.Count() == 0 {
		j.log.Debug().Msg("No session state to snapshot")
		return nil
	}

	startTime := time.Now()
	day := j.clock.DayKey(j.clock.Now())

	blob, err := j.state.Export(day)
	if err != nil {
		return fmt.Errorf("failed to export session state: %w", err)
	}
	if err := j.repo.Save(snapshots.StateKey, day, blob); err != nil {
		return fmt.Errorf("failed to persist session state: %w", err)
	}

	j.log.Debug().
		Str("day", day).
		Int("tickers", j.state.Count()).
		Int("bytes", len(blob)).
		Dur("duration_ms", time.Since(startTime)).
		Msg("Session state snapshot saved")
	return nil
}

// Name returns the job name for scheduler
func (j *StateSnapshotJob) Name() string {
	return "state_snapshot"
}

// MaintenanceJob performs nightly database maintenance: WAL checkpoints to
// prevent bloat, plus a size report.
type MaintenanceJob struct {
	databases map[string]*database.DB
	log       zerolog.Logger
}

// NewMaintenanceJob creates a new maintenance job.
func NewMaintenanceJob(databases map[string]*database.DB, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		databases: databases,
		log:       log.With().Str("job", "maintenance").Logger(),
	}
}

// Run executes the maintenance job.
func (j *MaintenanceJob) Run() error {
	j.log.Info().Msg("Starting nightly maintenance")
	startTime := time.Now()

	for name, db := range j.databases {
		j.log.Debug().Str("database", name).Msg("Running WAL checkpoint")

		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().
				Str("database", name).
				Err(err).
				Msg("WAL checkpoint failed")
			// Not critical; the autocheckpoint still bounds growth.
			continue
		}

		stats, err := db.GetStats()
		if err != nil {
			j.log.Warn().Str("database", name).Err(err).Msg("Failed to read database stats")
			continue
		}
		j.log.Info().
			Str("database", name).
			Float64("size_mb", float64(stats.SizeBytes)/1024/1024).
			Float64("wal_size_mb", float64(stats.WALSizeBytes)/1024/1024).
			Msg("Database metrics")
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Nightly maintenance completed")
	return nil
}

// Name returns the job name for scheduler
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}
