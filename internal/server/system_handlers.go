package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tapescan/tapescan/internal/database"
)

// SystemHandlers serves host-level statistics: CPU, memory, uptime, and
// the size of the local databases.
type SystemHandlers struct {
	databases   map[string]*database.DB
	log         zerolog.Logger
	startupTime time.Time
}

// NewSystemHandlers creates system handlers.
func NewSystemHandlers(databases map[string]*database.DB, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		databases:   databases,
		log:         log.With().Str("component", "system_handlers").Logger(),
		startupTime: time.Now(),
	}
}

// UptimeSeconds reports seconds since process start.
func (h *SystemHandlers) UptimeSeconds() float64 {
	return time.Since(h.startupTime).Seconds()
}

// HandleSystemStats returns CPU, memory, goroutine and database statistics.
func (h *SystemHandlers) HandleSystemStats(w http.ResponseWriter, r *http.Request) {
	cpuPercent, ramPercent := h.getSystemStats()

	databases := make(map[string]interface{}, len(h.databases))
	for name, db := range h.databases {
		stats, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", name).Msg("Failed to get database stats")
			continue
		}
		databases[name] = map[string]interface{}{
			"size_mb":     float64(stats.SizeBytes) / 1024 / 1024,
			"wal_size_mb": float64(stats.WALSizeBytes) / 1024 / 1024,
			"page_count":  stats.PageCount,
		}
	}

	response := map[string]interface{}{
		"cpu_percent":  cpuPercent,
		"ram_percent":  ramPercent,
		"uptime_hours": time.Since(h.startupTime).Hours(),
		"goroutines":   runtime.NumGoroutine(),
		"go_version":   runtime.Version(),
		"databases":    databases,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// getSystemStats calculates CPU and RAM usage percentages.
// Uses a short interval (100ms) so the API call is not blocked for long.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}
