package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tapescan/tapescan/internal/rules"
)

// rulePayload is the request body for creating and updating user rules.
type rulePayload struct {
	UserID     string          `json:"user_id"`
	Name       string          `json:"name"`
	Enabled    *bool           `json:"enabled"`
	FilterType string          `json:"filter_type"`
	Parameters json.RawMessage `json:"parameters"`
	Priority   *int            `json:"priority"`
}

// handleListRules returns the rule rows for one user, or every enabled row
// when no user_id is given.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")

	var (
		rows []rules.UserRuleRow
		err  error
	)
	if userID != "" {
		rows, err = s.rules.ListByUser(userID)
	} else {
		rows, err = s.rules.ListEnabled()
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list rules")
		s.writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rows,
		"count": len(rows),
	})
}

// handleGetRule returns one rule row by id.
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ruleID(w, r)
	if !ok {
		return
	}

	row, err := s.rules.Get(id)
	if err != nil {
		s.log.Error().Err(err).Int64("rule_id", id).Msg("Failed to get rule")
		s.writeError(w, http.StatusInternalServerError, "failed to get rule")
		return
	}
	if row == nil {
		s.writeError(w, http.StatusNotFound, "rule not found")
		return
	}

	s.writeJSON(w, http.StatusOK, row)
}

// handleCreateRule inserts a rule row and kicks off a reload so the new
// rule is live before the response returns.
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.decodeRulePayload(w, r)
	if !ok {
		return
	}
	if payload.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if payload.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	row := &rules.UserRuleRow{
		UserID:     payload.UserID,
		Name:       payload.Name,
		Enabled:    payload.Enabled == nil || *payload.Enabled,
		FilterType: payload.FilterType,
		Parameters: string(payload.Parameters),
	}
	if payload.Priority != nil {
		row.Priority = *payload.Priority
	}
	if !s.validateParameters(w, row) {
		return
	}

	if _, err := s.rules.Insert(row); err != nil {
		s.log.Error().Err(err).Msg("Failed to insert rule")
		s.writeError(w, http.StatusInternalServerError, "failed to insert rule")
		return
	}

	s.notifyRulesChanged()
	s.writeJSON(w, http.StatusCreated, row)
}

// handleUpdateRule rewrites an existing rule row and reloads.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ruleID(w, r)
	if !ok {
		return
	}

	existing, err := s.rules.Get(id)
	if err != nil {
		s.log.Error().Err(err).Int64("rule_id", id).Msg("Failed to get rule")
		s.writeError(w, http.StatusInternalServerError, "failed to get rule")
		return
	}
	if existing == nil {
		s.writeError(w, http.StatusNotFound, "rule not found")
		return
	}

	payload, ok := s.decodeRulePayload(w, r)
	if !ok {
		return
	}

	if payload.Name != "" {
		existing.Name = payload.Name
	}
	if payload.Enabled != nil {
		existing.Enabled = *payload.Enabled
	}
	if payload.FilterType != "" {
		existing.FilterType = payload.FilterType
	}
	if len(payload.Parameters) > 0 {
		existing.Parameters = string(payload.Parameters)
	}
	if payload.Priority != nil {
		existing.Priority = *payload.Priority
	}
	if !s.validateParameters(w, existing) {
		return
	}

	updated, err := s.rules.Update(existing)
	if err != nil {
		s.log.Error().Err(err).Int64("rule_id", id).Msg("Failed to update rule")
		s.writeError(w, http.StatusInternalServerError, "failed to update rule")
		return
	}
	if !updated {
		s.writeError(w, http.StatusNotFound, "rule not found")
		return
	}

	s.notifyRulesChanged()
	s.writeJSON(w, http.StatusOK, existing)
}

// handleDeleteRule removes a rule row and reloads.
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ruleID(w, r)
	if !ok {
		return
	}

	deleted, err := s.rules.Delete(id)
	if err != nil {
		s.log.Error().Err(err).Int64("rule_id", id).Msg("Failed to delete rule")
		s.writeError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}
	if !deleted {
		s.writeError(w, http.StatusNotFound, "rule not found")
		return
	}

	s.notifyRulesChanged()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": id})
}

// ruleID parses the {id} route parameter.
func (s *Server) ruleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid rule id")
		return 0, false
	}
	return id, true
}

func (s *Server) decodeRulePayload(w http.ResponseWriter, r *http.Request) (*rulePayload, bool) {
	var payload rulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	return &payload, true
}

// validateParameters compiles the row once, before it is stored, so a rule
// that would be silently discarded on reload is rejected here instead.
func (s *Server) validateParameters(w http.ResponseWriter, row *rules.UserRuleRow) bool {
	probe := *row
	if probe.ID == 0 {
		probe.ID = 1
	}
	if probe.Parameters == "" {
		probe.Parameters = "{}"
	}
	if _, err := rules.CompileUserRule(&probe, s.log); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid parameters: "+err.Error())
		return false
	}
	return true
}

// notifyRulesChanged reloads the local network and tells other replicas to
// do the same. The local reload makes the change visible to the very next
// cycle; the pub/sub message is best-effort.
func (s *Server) notifyRulesChanged() {
	if err := s.manager.Reload("api"); err != nil {
		s.log.Error().Err(err).Msg("Rule reload after API change failed")
	}

	// Detached from the request context: the notification should go out
	// even when the client has already hung up.
	publishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.PublishRulesChanged(publishCtx, "api"); err != nil {
		s.log.Warn().Err(err).Msg("Failed to publish rules-changed notification")
	}
}
