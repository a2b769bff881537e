package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tapescan/tapescan/internal/events"
)

// Uploader is the object-store surface the service needs. *Client
// satisfies it.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
}

// LastCloseReader supplies the frozen last-close hash. *store.Store
// satisfies it.
type LastCloseReader interface {
	ReadLastClose(ctx context.Context) (map[string]string, error)
}

// Service archives the last-close snapshot as gzipped JSON lines, one
// enriched ticker per line, under last-close/<day>.json.gz.
type Service struct {
	store    LastCloseReader
	uploader Uploader
	log      zerolog.Logger
}

// NewService creates the archive service and, when bus is non-nil, hooks
// session-close events so every close triggers an upload.
func NewService(store LastCloseReader, uploader Uploader, bus *events.Bus, log zerolog.Logger) *Service {
	s := &Service{
		store:    store,
		uploader: uploader,
		log:      log.With().Str("component", "archive").Logger(),
	}
	if bus != nil {
		bus.Subscribe(events.SessionChanged, s.onSessionChanged)
	}
	return s
}

// ArchiveLastClose reads the last-close hash and uploads it for the given
// trading day. An empty hash is skipped, not an error; the next close
// produces a fresh one.
func (s *Service) ArchiveLastClose(ctx context.Context, dayKey string) error {
	startTime := time.Now()

	records, err := s.store.ReadLastClose(ctx)
	if err != nil {
		return fmt.Errorf("failed to read last close: %w", err)
	}

	symbols := make([]string, 0, len(records))
	for symbol := range records {
		// The hash carries bookkeeping fields alongside ticker records.
		if strings.HasPrefix(symbol, "__") {
			continue
		}
		symbols = append(symbols, symbol)
	}
	if len(symbols) == 0 {
		s.log.Warn().Str("day", dayKey).Msg("Last close hash empty, nothing to archive")
		return nil
	}
	sort.Strings(symbols)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	for _, symbol := range symbols {
		if _, err := gz.Write([]byte(records[symbol])); err != nil {
			return fmt.Errorf("failed to compress archive: %w", err)
		}
		if _, err := gz.Write([]byte{'\n'}); err != nil {
			return fmt.Errorf("failed to compress archive: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}

	key := fmt.Sprintf("last-close/%s.json.gz", dayKey)
	if err := s.uploader.Upload(ctx, key, &buf, "application/gzip"); err != nil {
		return err
	}

	s.log.Info().
		Str("key", key).
		Int("tickers", len(symbols)).
		Int("compressed_bytes", buf.Len()).
		Dur("duration_ms", time.Since(startTime)).
		Msg("Last close archived")
	return nil
}

// onSessionChanged archives after the pipeline's own session-close handler
// has frozen the hash. Bus handlers run in subscription order and the
// pipeline subscribes first in the wiring.
func (s *Service) onSessionChanged(e *events.Event) {
	data, ok := e.Data.(*events.SessionChangedData)
	if !ok || data.Status != events.SessionClosed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := s.ArchiveLastClose(ctx, data.Day); err != nil {
		s.log.Error().Err(err).Str("day", data.Day).Msg("Last close archive failed")
	}
}
