package di

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tapescan/tapescan/internal/archive"
	"github.com/tapescan/tapescan/internal/config"
	"github.com/tapescan/tapescan/internal/database"
	"github.com/tapescan/tapescan/internal/events"
	"github.com/tapescan/tapescan/internal/metrics"
	"github.com/tapescan/tapescan/internal/publish"
	"github.com/tapescan/tapescan/internal/rete"
	"github.com/tapescan/tapescan/internal/rules"
	"github.com/tapescan/tapescan/internal/scanner"
	"github.com/tapescan/tapescan/internal/scheduler"
	"github.com/tapescan/tapescan/internal/server"
	"github.com/tapescan/tapescan/internal/snapshots"
	"github.com/tapescan/tapescan/internal/store"
)

// Wire initializes all dependencies and returns a fully configured container.
// Order of operations:
// 1. Shared store (Redis) and local databases
// 2. Repositories and schemas
// 3. Rule network (initial load is fatal on error)
// 4. Scanner state, restored from the last snapshot when still fresh
// 5. Publisher, pipeline and listeners
// 6. Archive, scheduler jobs and the HTTP server
func Wire(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{
		Config:  cfg,
		Log:     log,
		Bus:     events.NewBus(log),
		Metrics: metrics.New(),
	}

	// Step 1: shared store. The scanner is useless without it, so an
	// unreachable store fails startup instead of limping along.
	c.Store = store.New(cfg.Redis, log)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Store.Ping(pingCtx); err != nil {
		c.Close()
		return nil, fmt.Errorf("store unreachable: %w", err)
	}

	rulesDB, err := database.New(database.Config{
		Path:    cfg.RulesDBPath,
		Profile: database.ProfileStandard,
		Name:    "rules",
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize rules database: %w", err)
	}
	c.RulesDB = rulesDB

	snapshotsDB, err := database.New(database.Config{
		Path:    cfg.SnapshotsDBPath,
		Profile: database.ProfileCache,
		Name:    "snapshots",
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize snapshots database: %w", err)
	}
	c.SnapshotsDB = snapshotsDB

	// Step 2: repositories.
	c.RulesRepo = rules.NewRepository(rulesDB, log)
	if err := c.RulesRepo.EnsureSchema(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to apply rules schema: %w", err)
	}

	c.SnapshotsRepo = snapshots.NewRepository(snapshotsDB, log)
	if err := c.SnapshotsRepo.EnsureSchema(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to apply snapshots schema: %w", err)
	}

	// Step 3: rule network. A failed initial load means rules are silently
	// not evaluated, so it is fatal; later reload failures keep the last
	// good network instead.
	c.RuleManager = rete.NewManager(rete.ManagerConfig{
		Source:  c.RulesRepo,
		Store:   c.Store,
		Bus:     c.Bus,
		Metrics: c.Metrics,
		Log:     log,
	})
	if err := c.RuleManager.Load(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to load rule network: %w", err)
	}

	// Step 4: scanner state.
	clock, err := scanner.NewSessionClock(cfg.Scan.MarketTimezone, cfg.Scan.SlotMinutes)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize session clock: %w", err)
	}
	c.Clock = clock
	c.State = scanner.NewStateManager()
	c.Detector = scanner.NewChangeDetector()

	restoreState(c, log)

	// Step 5: fan-out and pipeline. The pipeline must subscribe to session
	// events before the archive service: the close handler freezes the
	// last-close hash that the archive then uploads.
	c.Hub = publish.NewHub(c.Metrics, log)
	c.Publisher = publish.NewPublisher(c.Hub, c.Store, c.Metrics, log)

	c.Pipeline = scanner.NewPipeline(scanner.PipelineConfig{
		Store:     c.Store,
		State:     c.State,
		Detector:  c.Detector,
		Clock:     c.Clock,
		Evaluator: c.RuleManager,
		Sink:      c.Publisher,
		Bus:       c.Bus,
		Metrics:   c.Metrics,
		Log:       log,
		Interval:  cfg.Scan.Interval,
	})

	c.SessionListener = scanner.NewSessionListener(c.Store, c.Bus, log)

	// Step 6: optional archive, jobs, HTTP server.
	if cfg.Archive.Enabled {
		client, err := archive.NewClient(ctx, cfg.Archive, log)
		if err != nil {
			log.Warn().Err(err).Msg("Archive client unavailable, continuing without it")
		} else {
			c.ArchiveService = archive.NewService(c.Store, client, c.Bus, log)
			log.Info().Str("bucket", cfg.Archive.Bucket).Msg("Last-close archive enabled")
		}
	}

	if err := registerJobs(c, cfg, log); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	c.Server = server.New(server.ServerConfig{
		Config:    cfg,
		Log:       log,
		Pipeline:  c.Pipeline,
		Manager:   c.RuleManager,
		Publisher: c.Publisher,
		Rules:     c.RulesRepo,
		Store:     c.Store,
		Bus:       c.Bus,
		Metrics:   c.Metrics,
		Databases: map[string]*database.DB{
			"rules":     rulesDB,
			"snapshots": snapshotsDB,
		},
	})

	log.Info().Msg("Dependency injection wiring completed successfully")

	return c, nil
}

// restoreState loads the persisted ticker state when it belongs to the
// current trading day. A stale or unreadable snapshot is discarded; the
// pipeline rebuilds state from the next cycle's snapshot.
func restoreState(c *Container, log zerolog.Logger) {
	blob, day, err := c.SnapshotsRepo.Load(snapshots.StateKey)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read state snapshot, starting cold")
		return
	}
	if blob == nil {
		return
	}

	today := c.Clock.DayKey(c.Clock.Now())
	if day != today {
		log.Info().
			Str("snapshot_day", day).
			Str("today", today).
			Msg("State snapshot is stale, starting cold")
		if err := c.SnapshotsRepo.Delete(snapshots.StateKey); err != nil {
			log.Warn().Err(err).Msg("Failed to drop stale state snapshot")
		}
		return
	}

	if _, err := c.State.Restore(blob); err != nil {
		log.Warn().Err(err).Msg("Failed to restore state snapshot, starting cold")
		return
	}

	log.Info().
		Str("day", day).
		Int("tickers", c.State.Count()).
		Msg("Restored state snapshot")
}

// registerJobs schedules the recurring background jobs.
func registerJobs(c *Container, cfg *config.Config, log zerolog.Logger) error {
	c.Scheduler = scheduler.New(log)

	databases := map[string]*database.DB{
		"rules":     c.RulesDB,
		"snapshots": c.SnapshotsDB,
	}

	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{fmt.Sprintf("@every %s", cfg.Scan.SafetyReloadInterval), scheduler.NewSafetyReloadJob(c.RuleManager, log)},
		{fmt.Sprintf("@every %s", cfg.Scan.StateSnapshotInterval), scheduler.NewStateSnapshotJob(c.State, c.Clock, c.SnapshotsRepo, log)},
		{"0 0 3 * * *", scheduler.NewMaintenanceJob(databases, log)},
	}

	for _, entry := range jobs {
		if err := c.Scheduler.AddJob(entry.schedule, entry.job); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", entry.job.Name(), err)
		}
	}

	return nil
}
