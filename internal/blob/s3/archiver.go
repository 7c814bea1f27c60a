package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/arbd/internal/domain"
)

// multipartThreshold switches uploads to the multipart manager. Archive
// batches normally stay far below it.
const multipartThreshold = 8 * 1024 * 1024

// Archiver periodically exports closed positions and risk events as
// newline-delimited JSON objects. The primary store keeps its rows; the
// archive is the long-term copy for offline analysis.
type Archiver struct {
	client    *Client
	positions domain.PositionStore
	risks     domain.RiskEventStore
	interval  time.Duration
	logger    *slog.Logger

	lastRun time.Time
}

// NewArchiver creates an Archiver exporting every interval.
func NewArchiver(
	client *Client,
	positions domain.PositionStore,
	risks domain.RiskEventStore,
	interval time.Duration,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		client:    client,
		positions: positions,
		risks:     risks,
		interval:  interval,
		logger:    logger.With(slog.String("component", "archiver")),
		lastRun:   time.Now().UTC().Add(-interval),
	}
}

// Run exports on the configured interval until the context is cancelled.
// Export failures are logged and retried on the next interval; the window
// only advances after a successful export, so nothing is skipped.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := a.Export(ctx); err != nil {
			a.logger.Error("archive export failed", slog.String("error", err.Error()))
		}
	}
}

// Export uploads everything closed or raised since the last successful
// export.
func (a *Archiver) Export(ctx context.Context) error {
	now := time.Now().UTC()
	since := a.lastRun

	positions, err := a.positions.ListClosedSince(ctx, since)
	if err != nil {
		return fmt.Errorf("s3blob: list closed positions: %w", err)
	}
	events, err := a.risks.ListSince(ctx, since)
	if err != nil {
		return fmt.Errorf("s3blob: list risk events: %w", err)
	}

	if len(positions) > 0 {
		key := archiveKey("positions", now)
		if err := a.putNDJSON(ctx, key, toAny(positions)); err != nil {
			return err
		}
		a.logger.Info("positions archived", slog.Int("count", len(positions)), slog.String("key", key))
	}
	if len(events) > 0 {
		key := archiveKey("risk-events", now)
		if err := a.putNDJSON(ctx, key, toAny(events)); err != nil {
			return err
		}
		a.logger.Info("risk events archived", slog.Int("count", len(events)), slog.String("key", key))
	}

	a.lastRun = now
	return nil
}

// putNDJSON serializes records one JSON document per line and uploads the
// batch as a single object.
func (a *Archiver) putNDJSON(ctx context.Context, key string, records []any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("s3blob: encode record for %s: %w", key, err)
		}
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.client.Bucket()),
		Key:         aws.String(key),
		Body:        &buf,
		ContentType: aws.String("application/x-ndjson"),
	}

	if buf.Len() >= multipartThreshold {
		uploader := manager.NewUploader(a.client.S3())
		if _, err := uploader.Upload(ctx, input); err != nil {
			return fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
		}
		return nil
	}

	if _, err := a.client.S3().PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", key, err)
	}
	return nil
}

func archiveKey(kind string, at time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s-%s.ndjson",
		kind, at.Format("2006/01/02"), kind, at.Format("150405"))
}

func toAny[T any](in []T) []any {
	out := make([]any, len(in))
	for i := range in {
		out[i] = in[i]
	}
	return out
}
