package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tapescan/tapescan/internal/rules"
)

// handleStatus reports the composite health of the scanner: pipeline
// position, rule network counters, reload history, publish fan-out and
// store reachability in one payload.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	storeHealthy := true
	if err := s.store.Ping(ctx); err != nil {
		storeHealthy = false
		s.log.Warn().Err(err).Msg("Store ping failed during status check")
	}

	response := map[string]interface{}{
		"pipeline":        s.pipeline.Status(),
		"rules":           s.manager.Status(),
		"cycle_durations": s.statusMonitor.Percentiles(),
		"subscribers":     s.publisher.SubscriberCount(),
		"active_channels": len(s.publisher.ActiveChannels()),
		"store_healthy":   storeHealthy,
		"uptime_seconds":  s.systemHandlers.UptimeSeconds(),
		"timestamp":       time.Now().Format(time.RFC3339),
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleNetwork exposes the discrimination network: node counters plus a
// per-rule summary of what is currently loaded.
func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	network := s.manager.Network()

	loaded := network.Rules()
	summaries := make([]map[string]interface{}, 0, len(loaded))
	for _, rule := range loaded {
		summaries = append(summaries, map[string]interface{}{
			"id":         rule.ID,
			"name":       rule.Name,
			"owner":      rule.OwnerKey(),
			"channel":    rule.Channel(),
			"conditions": len(rule.Conditions),
			"priority":   rule.Priority,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats": network.Stats(),
		"rules": summaries,
	})
}

// handleChannels lists every channel a client can subscribe to: the
// built-in system categories plus any user channel with a live match set.
func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	system := rules.SystemCategories()

	user := make([]string, 0)
	for _, channel := range s.publisher.ActiveChannels() {
		if !isSystemChannel(channel, system) {
			user = append(user, channel)
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"system": system,
		"user":   user,
	})
}

// handleMatches returns the current match set for one channel, as of the
// last completed cycle.
func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	if channel == "" {
		s.writeError(w, http.StatusBadRequest, "channel is required")
		return
	}

	symbols := s.publisher.CurrentMatches(channel)
	if symbols == nil {
		symbols = []string{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"channel": channel,
		"symbols": symbols,
		"count":   len(symbols),
	})
}

func isSystemChannel(channel string, system []string) bool {
	for _, name := range system {
		if channel == name {
			return true
		}
	}
	return false
}
