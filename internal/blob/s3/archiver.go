package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/helioslabs/helios/internal/domain"
)

// ArchiverConfig tunes the settled-trade archival job.
type ArchiverConfig struct {
	// RetainFor keeps trades in the primary store for this long before they
	// become eligible for archival.
	RetainFor time.Duration
	// Interval is how often the archival pass runs.
	Interval time.Duration
	// BatchLimit caps the records pulled per pass.
	BatchLimit int
}

// Archiver periodically copies settled trades older than the retention
// window out of the primary store into object storage as JSONL, partitioned
// by day. Deleting the archived rows from the store is a separate, explicit
// operator step after the archive is verified.
type Archiver struct {
	cfg    ArchiverConfig
	writer domain.BlobWriter
	trades domain.TradeStore
	clock  domain.Clock
	logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(cfg ArchiverConfig, writer domain.BlobWriter, trades domain.TradeStore, clk domain.Clock, logger *slog.Logger) *Archiver {
	if cfg.RetainFor <= 0 {
		cfg.RetainFor = 30 * 24 * time.Hour
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 1000
	}
	return &Archiver{
		cfg:    cfg,
		writer: writer,
		trades: trades,
		clock:  clk,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// Run executes archival passes on the configured interval until ctx is
// cancelled. A failing pass is logged and retried next interval.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if count, err := a.ArchiveOnce(ctx); err != nil {
				a.logger.Warn("archival pass failed", slog.String("error", err.Error()))
			} else if count > 0 {
				a.logger.Info("archived settled trades", slog.Int("count", count))
			}
		}
	}
}

// ArchiveOnce uploads one batch of archivable trades and returns how many
// records were written.
func (a *Archiver) ArchiveOnce(ctx context.Context) (int, error) {
	cutoff := a.clock.Now().Add(-a.cfg.RetainFor)
	trades, err := a.trades.ListSettledBefore(ctx, cutoff, a.cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list settled trades: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: marshal trades: %w", err)
	}

	key := archiveKey(cutoff)
	if err := a.writer.Put(ctx, key, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: upload %s: %w", key, err)
	}
	return len(trades), nil
}

// archiveKey partitions archives by the cutoff day:
//
//	archive/trades/2025-03-10.jsonl
func archiveKey(cutoff time.Time) string {
	return fmt.Sprintf("archive/trades/%s.jsonl", cutoff.UTC().Format("2006-01-02"))
}

// marshalJSONL serializes records as newline-delimited JSON.
func marshalJSONL(trades []domain.TradeRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range trades {
		if err := enc.Encode(rec); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
