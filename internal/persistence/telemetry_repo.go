package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

type TelemetryRepo struct {
	db *sql.DB
}

func NewTelemetryRepo(db *sql.DB) *TelemetryRepo {
	return &TelemetryRepo{db: db}
}

func (r *TelemetryRepo) Insert(ctx context.Context, s domain.TelemetrySample) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO telemetry(node_num, type, value, at) VALUES (?, ?, ?, ?)`,
		int64(s.NodeNum), string(s.Type), s.Value, toUnixMillis(s.At))
	if err != nil {
		return fmt.Errorf("insert telemetry: %w", err)
	}
	return nil
}

func (r *TelemetryRepo) LatestForType(ctx context.Context, nodeNum uint32, t domain.TelemetryType) (domain.TelemetrySample, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, node_num, type, value, at FROM telemetry
		WHERE node_num = ? AND type = ?
		ORDER BY at DESC
		LIMIT 1
	`, int64(nodeNum), string(t))

	var (
		s       domain.TelemetrySample
		nodeRaw int64
		typeRaw string
		atMs    int64
	)
	err := row.Scan(&s.ID, &nodeRaw, &typeRaw, &s.Value, &atMs)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TelemetrySample{}, false, nil
	}
	if err != nil {
		return domain.TelemetrySample{}, false, fmt.Errorf("latest telemetry: %w", err)
	}
	s.NodeNum = uint32(nodeRaw)
	s.Type = domain.TelemetryType(typeRaw)
	s.At = fromUnixMillis(atMs)

	return s, true, nil
}

func (r *TelemetryRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM telemetry WHERE at < ?`, toUnixMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge telemetry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}
