package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/meshkeeper/meshkeeper/internal/domain"
	"github.com/meshkeeper/meshkeeper/internal/persistence"
)

const (
	telemetryRetention = 30 * 24 * time.Hour
	packetLogRetention = 7 * 24 * time.Hour
	retentionInterval  = 24 * time.Hour
)

// RetentionJob purges aged telemetry and packet-log rows once a day.
// Purges run through the writer queue so they serialize with the
// inbound pipeline's writes.
type RetentionJob struct {
	logger    *slog.Logger
	clk       clock.Clock
	queue     *persistence.WriterQueue
	telemetry domain.TelemetryRepository
	packetLog domain.PacketLogRepository
}

func NewRetentionJob(logger *slog.Logger, clk clock.Clock, queue *persistence.WriterQueue,
	telemetry domain.TelemetryRepository, packetLog domain.PacketLogRepository,
) *RetentionJob {
	if logger == nil {
		logger = slog.Default().With("component", "retention")
	}
	if clk == nil {
		clk = clock.New()
	}

	return &RetentionJob{
		logger:    logger,
		clk:       clk,
		queue:     queue,
		telemetry: telemetry,
		packetLog: packetLog,
	}
}

func (j *RetentionJob) Start(ctx context.Context) {
	go func() {
		j.enqueuePurge(ctx)
		ticker := j.clk.Ticker(retentionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.enqueuePurge(ctx)
			}
		}
	}()
}

func (j *RetentionJob) enqueuePurge(_ context.Context) {
	now := j.clk.Now()
	if j.telemetry != nil {
		cutoff := now.Add(-telemetryRetention)
		j.queue.Enqueue("purge telemetry", func(ctx context.Context) error {
			purged, err := j.telemetry.PurgeOlderThan(ctx, cutoff)
			if err != nil {
				return err
			}
			if purged > 0 {
				j.logger.Info("telemetry purged", "rows", purged, "cutoff", cutoff)
			}

			return nil
		})
	}
	if j.packetLog != nil {
		cutoff := now.Add(-packetLogRetention)
		j.queue.Enqueue("purge packet log", func(ctx context.Context) error {
			purged, err := j.packetLog.PurgeOlderThan(ctx, cutoff)
			if err != nil {
				return err
			}
			if purged > 0 {
				j.logger.Info("packet log purged", "rows", purged, "cutoff", cutoff)
			}

			return nil
		})
	}
}
