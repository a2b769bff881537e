package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/tapescan/tapescan/internal/rules"
)

const (
	streamHeartbeat    = 30 * time.Second
	streamWriteTimeout = 10 * time.Second
)

// handleStream upgrades to a WebSocket and relays delta events. The first
// event per subscribed channel is a full "initial" snapshot; everything
// after is an increment. Slow readers are dropped by the hub, not buffered
// indefinitely.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	channels, err := parseChannels(r.URL.Query().Get("channels"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream terminated")

	sub := s.publisher.Subscribe(channels)
	defer sub.Close()

	s.log.Info().
		Str("subscriber_id", sub.ID.String()).
		Strs("channels", channels).
		Msg("Stream subscriber connected")

	// CloseRead drains the connection and cancels the context when the
	// client goes away; pongs are still processed underneath it.
	ctx := conn.CloseRead(r.Context())

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case <-heartbeat.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				s.log.Debug().
					Str("subscriber_id", sub.ID.String()).
					Msg("Stream heartbeat failed, dropping subscriber")
				return
			}

		case event, ok := <-sub.Events():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "publisher shutting down")
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.log.Error().Err(err).Msg("Failed to marshal delta event")
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				status := websocket.CloseStatus(err)
				if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
					s.log.Debug().Err(err).Msg("Stream write failed")
				}
				return
			}
		}
	}
}

// parseChannels splits and validates the channels query parameter. An
// empty parameter subscribes to every channel.
func parseChannels(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}

	system := make(map[string]bool)
	for _, name := range rules.SystemCategories() {
		system[name] = true
	}

	parts := strings.Split(raw, ",")
	channels := make([]string, 0, len(parts))
	for _, part := range parts {
		channel := strings.TrimSpace(part)
		if channel == "" {
			continue
		}
		if !system[channel] && !validUserChannel(channel) {
			return nil, fmt.Errorf("unknown channel %q", channel)
		}
		channels = append(channels, channel)
	}
	if len(channels) == 0 {
		return nil, errors.New("channels parameter names no channels")
	}
	return channels, nil
}

// validUserChannel reports whether channel has the user:<uid>:scan:<id>
// shape. Whether such a scan exists is not checked; subscribing ahead of
// rule creation is allowed.
func validUserChannel(channel string) bool {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 || parts[0] != "user" || parts[2] != "scan" {
		return false
	}
	if parts[1] == "" {
		return false
	}
	_, err := strconv.ParseInt(parts[3], 10, 64)
	return err == nil
}
