// Package store wraps the shared Redis instance: the raw-snapshot input,
// the enriched-hash output, reference caches, and the pub/sub channels.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/tapescan/tapescan/internal/config"
	"github.com/tapescan/tapescan/internal/domain"
)

// MetaField is the enriched-hash field carrying cycle metadata.
const MetaField = "__meta__"

// Store is the scanner's Redis client. Every operation applies the
// configured per-operation timeout; callers treat failures as transient
// and retry on the next cycle.
type Store struct {
	client *redis.Client
	cfg    config.RedisConfig
	log    zerolog.Logger
}

// New creates a Redis store from connection settings.
func New(cfg config.RedisConfig, log zerolog.Logger) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Store{
		client: client,
		cfg:    cfg,
		log:    log.With().Str("component", "redis_store").Logger(),
	}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.client.Ping(opCtx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client exposes the raw client for pub/sub consumers.
func (s *Store) Client() *redis.Client {
	return s.client
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.OpTimeout)
}

// ReadSnapshot fetches and decodes the raw snapshot written by the upstream
// ingester. Returns (nil, nil) when no snapshot exists yet.
func (s *Store) ReadSnapshot(ctx context.Context) (*domain.RawSnapshot, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	raw, err := s.client.Get(opCtx, s.cfg.SnapshotKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read raw snapshot: %w", err)
	}

	var snapshot domain.RawSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode raw snapshot: %w", err)
	}
	return &snapshot, nil
}

// WriteEnrichedDelta applies one cycle's changes to the enriched hash in a
// single pipeline: changed fields are overwritten, vanished symbols are
// deleted, __meta__ is refreshed, and the TTL is re-armed.
func (s *Store) WriteEnrichedDelta(ctx context.Context, changed map[string][]byte, removed []string, meta domain.SnapshotMeta) error {
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode enriched meta: %w", err)
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	pipe := s.client.Pipeline()
	if len(changed) > 0 {
		fields := make(map[string]interface{}, len(changed))
		for symbol, body := range changed {
			fields[symbol] = body
		}
		pipe.HSet(opCtx, s.cfg.EnrichedKey, fields)
	}
	if len(removed) > 0 {
		pipe.HDel(opCtx, s.cfg.EnrichedKey, removed...)
	}
	pipe.HSet(opCtx, s.cfg.EnrichedKey, MetaField, metaBytes)
	pipe.Expire(opCtx, s.cfg.EnrichedKey, s.cfg.EnrichedTTL)

	if _, err := pipe.Exec(opCtx); err != nil {
		return fmt.Errorf("failed to write enriched delta: %w", err)
	}
	return nil
}

// WriteSlotRVOL publishes the current-slot RVOL values. Stale symbols age
// out with the key's short TTL.
func (s *Store) WriteSlotRVOL(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	fields := make(map[string]interface{}, len(values))
	for symbol, v := range values {
		fields[symbol] = v
	}

	pipe := s.client.Pipeline()
	pipe.HSet(opCtx, s.cfg.RVOLSlotKey, fields)
	pipe.Expire(opCtx, s.cfg.RVOLSlotKey, s.cfg.RVOLSlotTTL)

	if _, err := pipe.Exec(opCtx); err != nil {
		return fmt.Errorf("failed to write slot rvol: %w", err)
	}
	return nil
}

// CopyEnrichedToLastClose freezes the enriched hash into the last-close key
// at session close.
func (s *Store) CopyEnrichedToLastClose(ctx context.Context) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	copied, err := s.client.Copy(opCtx, s.cfg.EnrichedKey, s.cfg.LastCloseKey, s.cfg.DB, true).Result()
	if err != nil {
		return fmt.Errorf("failed to copy enriched hash to last close: %w", err)
	}
	if copied == 0 {
		s.log.Warn().Msg("No enriched hash present at session close")
		return nil
	}

	if err := s.client.Expire(opCtx, s.cfg.LastCloseKey, s.cfg.LastCloseTTL).Err(); err != nil {
		return fmt.Errorf("failed to set last close TTL: %w", err)
	}
	return nil
}

// ReadLastClose returns the frozen last-close hash, symbol to canonical JSON.
func (s *Store) ReadLastClose(ctx context.Context) (map[string]string, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	fields, err := s.client.HGetAll(opCtx, s.cfg.LastCloseKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read last close hash: %w", err)
	}
	return fields, nil
}

// ReadEnrichedMeta returns the __meta__ record of the enriched hash, or nil
// when absent.
func (s *Store) ReadEnrichedMeta(ctx context.Context) (*domain.SnapshotMeta, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	raw, err := s.client.HGet(opCtx, s.cfg.EnrichedKey, MetaField).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read enriched meta: %w", err)
	}

	var meta domain.SnapshotMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode enriched meta: %w", err)
	}
	return &meta, nil
}

// FetchATRBatch reads cached ATR values for the given symbols. Cache misses
// are simply absent from the result. Values may be bare numbers or small
// JSON objects with an "atr" member.
func (s *Store) FetchATRBatch(ctx context.Context, symbols []string) (map[string]float64, error) {
	values, err := s.hmGet(ctx, s.cfg.ATRKey, symbols)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch atr batch: %w", err)
	}

	out := make(map[string]float64, len(symbols))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
			out[symbols[i]] = f
			continue
		}
		var obj struct {
			ATR float64 `json:"atr"`
		}
		if err := json.Unmarshal([]byte(str), &obj); err == nil && obj.ATR != 0 {
			out[symbols[i]] = obj.ATR
		}
	}
	return out, nil
}

// FetchSlotAverages reads historical average cumulative volume at one slot
// index. Fields are keyed "<symbol>:<slot>".
func (s *Store) FetchSlotAverages(ctx context.Context, slot int, symbols []string) (map[string]float64, error) {
	fields := make([]string, len(symbols))
	for i, symbol := range symbols {
		fields[i] = fmt.Sprintf("%s:%d", symbol, slot)
	}

	values, err := s.hmGet(ctx, s.cfg.SlotAvgKey, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch slot averages: %w", err)
	}

	out := make(map[string]float64, len(symbols))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
			out[symbols[i]] = f
		}
	}
	return out, nil
}

// FetchTradeStats reads the 5-day trade-count baselines, JSON-encoded per
// symbol.
func (s *Store) FetchTradeStats(ctx context.Context, symbols []string) (map[string]domain.TradeStats, error) {
	values, err := s.hmGet(ctx, s.cfg.TradeStatsKey, symbols)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trade stats: %w", err)
	}

	out := make(map[string]domain.TradeStats, len(symbols))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var stats domain.TradeStats
		if err := json.Unmarshal([]byte(str), &stats); err != nil {
			s.log.Debug().Str("symbol", symbols[i]).Msg("Skipping malformed trade stats entry")
			continue
		}
		out[symbols[i]] = stats
	}
	return out, nil
}

// FetchVWAPBatch reads externally maintained VWAP values.
func (s *Store) FetchVWAPBatch(ctx context.Context, symbols []string) (map[string]float64, error) {
	values, err := s.hmGet(ctx, s.cfg.VWAPKey, symbols)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch vwap batch: %w", err)
	}

	out := make(map[string]float64, len(symbols))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
			out[symbols[i]] = f
		}
	}
	return out, nil
}

func (s *Store) hmGet(ctx context.Context, key string, fields []string) ([]interface{}, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.client.HMGet(opCtx, key, fields...).Result()
}

// PublishRulesChanged notifies every scanner instance that the rule table
// was edited. Any non-empty payload triggers a reload.
func (s *Store) PublishRulesChanged(ctx context.Context, payload string) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.client.Publish(opCtx, s.cfg.RulesChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish rules changed: %w", err)
	}
	return nil
}

// PublishDelta mirrors one channel's delta event onto Redis pub/sub for
// out-of-process subscribers.
func (s *Store) PublishDelta(ctx context.Context, event *domain.DeltaEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode delta event: %w", err)
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	channel := s.cfg.DeltaChannelPrefix + event.Channel
	if err := s.client.Publish(opCtx, channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish delta event: %w", err)
	}
	return nil
}

// SubscribeRulesChanged opens the rules-changed subscription. The caller
// owns the returned PubSub and must Close it.
func (s *Store) SubscribeRulesChanged(ctx context.Context) *redis.PubSub {
	return s.client.Subscribe(ctx, s.cfg.RulesChannel)
}

// SubscribeSessionEvents opens the day-changed and session-changed
// subscription. The caller owns the returned PubSub and must Close it.
func (s *Store) SubscribeSessionEvents(ctx context.Context) *redis.PubSub {
	return s.client.Subscribe(ctx, s.cfg.DayChannel, s.cfg.SessionChannel)
}

// DayChannel returns the configured day-changed channel name.
func (s *Store) DayChannel() string { return s.cfg.DayChannel }

// SessionChannel returns the configured session-changed channel name.
func (s *Store) SessionChannel() string { return s.cfg.SessionChannel }
