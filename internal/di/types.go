// Package di wires the scanner's components in dependency order.
//
// The Container is the single source of truth for live instances. Wire()
// builds it; main owns the shutdown sequence and calls Close() last.
package di

import (
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

// Container holds all application dependencies.
type Container struct {
	Config  *config.Config
	Log     zerolog.Logger
	Bus     *events.Bus
	Metrics *metrics.Metrics

	// Shared store and local databases
	Store       *store.Store // Redis: snapshots, enriched hash, pub/sub
	RulesDB     *database.DB // SQLite: user scan rules
	SnapshotsDB *database.DB // SQLite: persisted scanner state

	// Repositories
	RulesRepo     *rules.Repository
	SnapshotsRepo *snapshots.Repository

	// Scanner core
	State    *scanner.StateManager
	Detector *scanner.ChangeDetector
	Clock    *scanner.SessionClock
	Pipeline *scanner.Pipeline

	// Rule network
	RuleManager *rete.Manager

	// Delta fan-out
	Hub       *publish.Hub
	Publisher *publish.Publisher

	// Pub/sub bridge for day and session transitions
	SessionListener *scanner.SessionListener

	// Optional last-close archive; nil when disabled
	ArchiveService *archive.Service

	// Background jobs
	Scheduler *scheduler.Scheduler

	// HTTP surface
	Server *server.Server
}

// Close releases connections and file handles. Callers stop the scheduler,
// the HTTP server and the background loops first; Close only tears down
// what remains.
func (c *Container) Close() {
	if c.Publisher != nil {
		c.Publisher.Close()
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			c.Log.Warn().Err(err).Msg("Failed to close store")
		}
	}
	if c.RulesDB != nil {
		if err := c.RulesDB.Close(); err != nil {
			c.Log.Warn().Err(err).Msg("Failed to close rules database")
		}
	}
	if c.SnapshotsDB != nil {
		if err := c.SnapshotsDB.Close(); err != nil {
			c.Log.Warn().Err(err).Msg("Failed to close snapshots database")
		}
	}
}
