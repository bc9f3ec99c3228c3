package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

type ChannelRepo struct {
	db *sql.DB
}

func NewChannelRepo(db *sql.DB) *ChannelRepo {
	return &ChannelRepo{db: db}
}

func (r *ChannelRepo) Upsert(ctx context.Context, c domain.Channel) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO channels(idx, name, role, psk, uplink_enabled, downlink_enabled, position_precision, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(idx) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			psk = excluded.psk,
			uplink_enabled = excluded.uplink_enabled,
			downlink_enabled = excluded.downlink_enabled,
			position_precision = excluded.position_precision,
			updated_at = excluded.updated_at
	`, c.Index, c.Name, int(c.Role), c.PSK, boolToInt(c.UplinkEnabled), boolToInt(c.DownlinkEnabled),
		nullableUint32(c.PositionPrecision), toUnixMillis(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}
	return nil
}

func (r *ChannelRepo) GetByIndex(ctx context.Context, index int) (domain.Channel, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT idx, name, role, psk, uplink_enabled, downlink_enabled, position_precision, updated_at
		FROM channels WHERE idx = ?
	`, index)
	c, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Channel{}, false, nil
	}
	if err != nil {
		return domain.Channel{}, false, fmt.Errorf("get channel: %w", err)
	}
	return c, true, nil
}

func (r *ChannelRepo) List(ctx context.Context) ([]domain.Channel, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT idx, name, role, psk, uplink_enabled, downlink_enabled, position_precision, updated_at
		FROM channels ORDER BY idx ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []domain.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return out, nil
}

func scanChannel(row rowScanner) (domain.Channel, error) {
	var (
		c         domain.Channel
		role      int
		uplink    int64
		downlink  int64
		precision sql.NullInt64
		updatedMs int64
	)
	if err := row.Scan(&c.Index, &c.Name, &role, &c.PSK, &uplink, &downlink, &precision, &updatedMs); err != nil {
		return domain.Channel{}, err
	}
	c.Role = domain.ChannelRole(role)
	c.UplinkEnabled = uplink != 0
	c.DownlinkEnabled = downlink != 0
	c.PositionPrecision = scanUint32Ptr(precision)
	c.UpdatedAt = fromUnixMillis(updatedMs)

	return c, nil
}
