package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

type PacketLogRepo struct {
	db *sql.DB
}

func NewPacketLogRepo(db *sql.DB) *PacketLogRepo {
	return &PacketLogRepo{db: db}
}

func (r *PacketLogRepo) Insert(ctx context.Context, e domain.PacketLogEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO packet_log(from_num, to_num, channel, port_num, packet_id, request_id, snr, rssi, hop_start, hop_limit, payload_preview, via_mqtt, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, int64(e.FromNum), int64(e.ToNum), int64(e.Channel), e.PortNum, int64(e.PacketID),
		int64(e.RequestID), nullableFloat(e.SNR), nullableInt(e.RSSI),
		int64(e.HopStart), int64(e.HopLimit), e.PayloadPreview, boolToInt(e.ViaMQTT), toUnixMillis(e.At))
	if err != nil {
		return fmt.Errorf("insert packet log entry: %w", err)
	}
	return nil
}

func (r *PacketLogRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM packet_log WHERE at < ?`, toUnixMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge packet log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}
