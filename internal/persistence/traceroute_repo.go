package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

type TracerouteRepo struct {
	db *sql.DB
}

func NewTracerouteRepo(db *sql.DB) *TracerouteRepo {
	return &TracerouteRepo{db: db}
}

func (r *TracerouteRepo) Insert(ctx context.Context, t domain.Traceroute) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO traceroutes(from_num, to_num, packet_id, request_id, route, snr_towards, route_back, snr_back, is_complete, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, int64(t.FromNum), int64(t.ToNum), int64(t.PacketID), int64(t.RequestID),
		encodeUint32s(t.Route), encodeFloats(t.SNRTowards),
		encodeUint32s(t.RouteBack), encodeFloats(t.SNRBack),
		boolToInt(t.IsComplete), toUnixMillis(t.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert traceroute: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("traceroute insert id: %w", err)
	}
	return id, nil
}

func (r *TracerouteRepo) InsertSegment(ctx context.Context, s domain.RouteSegment) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO route_segments(traceroute_id, from_num, to_num, distance_km, snr, is_record_holder, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.TracerouteID, int64(s.FromNum), int64(s.ToNum), nullableFloat(s.DistanceKm),
		nullableFloat(s.SNR), boolToInt(s.IsRecordHolder), toUnixMillis(s.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert route segment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("route segment insert id: %w", err)
	}
	return id, nil
}

func (r *TracerouteRepo) RecordDistanceKm(ctx context.Context) (float64, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(distance_km), 0) FROM route_segments WHERE distance_km IS NOT NULL`)
	var record float64
	if err := row.Scan(&record); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("record segment distance: %w", err)
	}
	return record, nil
}

func (r *TracerouteRepo) SetRecordHolder(ctx context.Context, segmentID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record holder tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `UPDATE route_segments SET is_record_holder = 0 WHERE is_record_holder = 1`); err != nil {
		return fmt.Errorf("clear record holder: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE route_segments SET is_record_holder = 1 WHERE id = ?`, segmentID); err != nil {
		return fmt.Errorf("set record holder: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record holder tx: %w", err)
	}
	return nil
}

func (r *TracerouteRepo) ListRecent(ctx context.Context, limit int) ([]domain.Traceroute, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, from_num, to_num, packet_id, request_id, route, snr_towards, route_back, snr_back, is_complete, created_at
		FROM traceroutes
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list traceroutes: %w", err)
	}
	defer rows.Close()

	var out []domain.Traceroute
	for rows.Next() {
		var (
			t         domain.Traceroute
			fromNum   int64
			toNum     int64
			packetID  int64
			requestID int64
			route     string
			snrFwd    string
			routeBack string
			snrBack   string
			complete  int64
			createdMs int64
		)
		if err := rows.Scan(&t.ID, &fromNum, &toNum, &packetID, &requestID,
			&route, &snrFwd, &routeBack, &snrBack, &complete, &createdMs); err != nil {
			return nil, fmt.Errorf("scan traceroute: %w", err)
		}
		t.FromNum = uint32(fromNum)
		t.ToNum = uint32(toNum)
		t.PacketID = uint32(packetID)
		t.RequestID = uint32(requestID)
		t.Route = decodeUint32s(route)
		t.SNRTowards = decodeFloats(snrFwd)
		t.RouteBack = decodeUint32s(routeBack)
		t.SNRBack = decodeFloats(snrBack)
		t.IsComplete = complete != 0
		t.CreatedAt = fromUnixMillis(createdMs)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traceroutes: %w", err)
	}
	return out, nil
}
