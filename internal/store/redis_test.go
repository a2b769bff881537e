package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tapescan/tapescan/internal/config"
	"github.com/tapescan/tapescan/internal/domain"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := config.RedisConfig{
		Addr:      mr.Addr(),
		OpTimeout: 2 * time.Second,

		SnapshotKey:   "scanner:raw_snapshot",
		EnrichedKey:   "scanner:enriched",
		LastCloseKey:  "scanner:last_close",
		RVOLSlotKey:   "scanner:rvol:current_slot",
		ATRKey:        "scanner:ref:atr",
		SlotAvgKey:    "scanner:ref:volume_slots",
		TradeStatsKey: "scanner:ref:trade_stats",
		VWAPKey:       "scanner:ref:vwap",

		RulesChannel:       "scanner:rules_changed",
		DayChannel:         "scanner:day_changed",
		SessionChannel:     "scanner:session_changed",
		DeltaChannelPrefix: "scanner:deltas:",

		EnrichedTTL:  10 * time.Minute,
		LastCloseTTL: 7 * 24 * time.Hour,
		RVOLSlotTTL:  5 * time.Minute,
	}

	s := New(cfg, zerolog.Nop())
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Ping(context.Background()))
	return s, mr
}

func TestReadSnapshot(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	snap, err := s.ReadSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap, "missing key yields nil snapshot, not an error")

	price := 11.5
	body, err := json.Marshal(domain.RawSnapshot{
		Timestamp: 1704812400000,
		Tickers:   []domain.RawTicker{{Symbol: "AAA", LastTrade: &price}},
	})
	require.NoError(t, err)
	mr.Set("scanner:raw_snapshot", string(body))

	snap, err = s.ReadSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(1704812400000), snap.Timestamp)
	require.Len(t, snap.Tickers, 1)
	assert.Equal(t, "AAA", snap.Tickers[0].Symbol)

	mr.Set("scanner:raw_snapshot", "not json")
	_, err = s.ReadSnapshot(ctx)
	assert.Error(t, err)
}

func TestWriteEnrichedDelta(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	err := s.WriteEnrichedDelta(ctx,
		map[string][]byte{
			"AAA": []byte(`{"symbol":"AAA","price":11.5}`),
			"BBB": []byte(`{"symbol":"BBB","price":12}`),
		},
		nil,
		domain.SnapshotMeta{Timestamp: 1704812400000, Count: 2, Changed: 2, Version: domain.EnrichedFormatVersion},
	)
	require.NoError(t, err)

	assert.Equal(t, `{"symbol":"AAA","price":11.5}`, mr.HGet("scanner:enriched", "AAA"))

	var meta domain.SnapshotMeta
	require.NoError(t, json.Unmarshal([]byte(mr.HGet("scanner:enriched", MetaField)), &meta))
	assert.Equal(t, 2, meta.Count)
	assert.Equal(t, 2, meta.Changed)
	assert.Equal(t, domain.EnrichedFormatVersion, meta.Version)
	assert.Greater(t, mr.TTL("scanner:enriched"), time.Duration(0))

	// Second cycle: BBB vanished, nothing changed.
	err = s.WriteEnrichedDelta(ctx, nil, []string{"BBB"},
		domain.SnapshotMeta{Timestamp: 1704812401000, Count: 1, Changed: 0, Version: domain.EnrichedFormatVersion})
	require.NoError(t, err)

	assert.False(t, mr.Exists("scanner:enriched") && mr.HGet("scanner:enriched", "BBB") != "", "removed symbol must be deleted")
	require.NoError(t, json.Unmarshal([]byte(mr.HGet("scanner:enriched", MetaField)), &meta))
	assert.Equal(t, 0, meta.Changed)
}

func TestCopyEnrichedToLastClose(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	mr.HSet("scanner:enriched", "AAA", `{"symbol":"AAA"}`)

	require.NoError(t, s.CopyEnrichedToLastClose(ctx))
	assert.Equal(t, `{"symbol":"AAA"}`, mr.HGet("scanner:last_close", "AAA"))
	assert.Greater(t, mr.TTL("scanner:last_close"), time.Duration(0))

	frozen, err := s.ReadLastClose(ctx)
	require.NoError(t, err)
	assert.Len(t, frozen, 1)
}

func TestReferenceFetches(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	mr.HSet("scanner:ref:atr", "AAA", "0.42")
	mr.HSet("scanner:ref:atr", "BBB", `{"atr": 1.05}`)
	mr.HSet("scanner:ref:volume_slots", "AAA:12", "95000")
	mr.HSet("scanner:ref:trade_stats", "CCC", `{"mean_5d": 2000, "stddev_5d": 1000}`)
	mr.HSet("scanner:ref:vwap", "AAA", "11.31")

	atr, err := s.FetchATRBatch(ctx, []string{"AAA", "BBB", "MISSING"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"AAA": 0.42, "BBB": 1.05}, atr)

	slots, err := s.FetchSlotAverages(ctx, 12, []string{"AAA", "MISSING"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"AAA": 95000}, slots)

	stats, err := s.FetchTradeStats(ctx, []string{"CCC", "MISSING"})
	require.NoError(t, err)
	require.Contains(t, stats, "CCC")
	assert.Equal(t, 2000.0, stats["CCC"].Mean5D)
	assert.Equal(t, 1000.0, stats["CCC"].Stddev5D)
	assert.NotContains(t, stats, "MISSING")

	vwap, err := s.FetchVWAPBatch(ctx, []string{"AAA"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"AAA": 11.31}, vwap)
}

func TestWriteSlotRVOL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteSlotRVOL(ctx, map[string]string{"AAA": "2.10"}))
	assert.Equal(t, "2.10", mr.HGet("scanner:rvol:current_slot", "AAA"))
	assert.Greater(t, mr.TTL("scanner:rvol:current_slot"), time.Duration(0))

	require.NoError(t, s.WriteSlotRVOL(ctx, nil), "empty write is a no-op")
}

func TestPublishAndSubscribe(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	sub := s.SubscribeRulesChanged(ctx)
	defer sub.Close()

	// Force the subscription onto the wire before publishing.
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, s.PublishRulesChanged(ctx, "reload"))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "reload", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for rules-changed message")
	}
}

func TestPublishDelta(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	event := &domain.DeltaEvent{
		Channel:   "gappers_up",
		Type:      domain.DeltaTypeDelta,
		Added:     []string{"AAA"},
		Removed:   []string{},
		Updated:   []string{},
		Timestamp: 1704812400000,
	}

	// miniredis counts subscribers; zero is fine, publish must not error.
	require.NoError(t, s.PublishDelta(ctx, event))
	_ = mr
}
