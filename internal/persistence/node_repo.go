package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

type NodeRepo struct {
	db *sql.DB
}

func NewNodeRepo(db *sql.DB) *NodeRepo {
	return &NodeRepo{db: db}
}

const nodeColumns = `num, node_id, long_name, short_name, hw_model, role, channel, snr, rssi,
	battery_level, voltage, channel_util, air_util_tx, uptime_seconds,
	latitude, longitude, altitude, position_precision, position_time, hops_away,
	via_mqtt, is_favorite, is_licensed, is_mobile, public_key, has_low_entropy_key,
	pki_encrypted, welcomed_at, last_traceroute_at, first_heard_at, last_heard_at, updated_at`

func (r *NodeRepo) Upsert(ctx context.Context, n domain.Node) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO nodes(`+nodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(num) DO UPDATE SET
			node_id = excluded.node_id,
			long_name = excluded.long_name,
			short_name = excluded.short_name,
			hw_model = excluded.hw_model,
			role = excluded.role,
			channel = excluded.channel,
			snr = excluded.snr,
			rssi = excluded.rssi,
			battery_level = excluded.battery_level,
			voltage = excluded.voltage,
			channel_util = excluded.channel_util,
			air_util_tx = excluded.air_util_tx,
			uptime_seconds = excluded.uptime_seconds,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			altitude = excluded.altitude,
			position_precision = excluded.position_precision,
			position_time = excluded.position_time,
			hops_away = excluded.hops_away,
			via_mqtt = excluded.via_mqtt,
			is_favorite = excluded.is_favorite,
			is_licensed = excluded.is_licensed,
			is_mobile = excluded.is_mobile,
			public_key = excluded.public_key,
			has_low_entropy_key = excluded.has_low_entropy_key,
			pki_encrypted = excluded.pki_encrypted,
			welcomed_at = excluded.welcomed_at,
			last_traceroute_at = excluded.last_traceroute_at,
			first_heard_at = CASE
				WHEN nodes.first_heard_at > 0 THEN nodes.first_heard_at
				ELSE excluded.first_heard_at
			END,
			last_heard_at = excluded.last_heard_at,
			updated_at = excluded.updated_at
	`,
		int64(n.Num), n.NodeID, n.LongName, n.ShortName, n.HwModel, n.Role,
		nullableUint32(n.Channel), nullableFloat(n.SNR), nullableInt(n.RSSI),
		nullableUint32(n.BatteryLevel), nullableFloat(n.Voltage), nullableFloat(n.ChannelUtil),
		nullableFloat(n.AirUtilTx), nullableUint32(n.UptimeSeconds),
		nullableFloat(n.Latitude), nullableFloat(n.Longitude), nullableInt32(n.Altitude),
		nullableUint32(n.PositionPrecision), nullableTime(n.PositionTime), nullableUint32(n.HopsAway),
		boolToInt(n.ViaMQTT), boolToInt(n.IsFavorite), boolToInt(n.IsLicensed), boolToInt(n.IsMobile),
		n.PublicKey, boolToInt(n.HasLowEntropyKey), boolToInt(n.PKIEncrypted),
		nullableTime(n.WelcomedAt), nullableTime(n.LastTracerouteAt),
		toUnixMillis(n.FirstHeardAt), toUnixMillis(n.LastHeardAt), toUnixMillis(n.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert node: %w", err)
	}
	return nil
}

func (r *NodeRepo) Get(ctx context.Context, num uint32) (domain.Node, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE num = ?`, int64(num))
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Node{}, false, nil
	}
	if err != nil {
		return domain.Node{}, false, fmt.Errorf("get node: %w", err)
	}
	return n, true, nil
}

func (r *NodeRepo) ListActive(ctx context.Context, maxAge time.Duration) ([]domain.Node, error) {
	cutoff := toUnixMillis(time.Now().Add(-maxAge))
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+nodeColumns+` FROM nodes
		WHERE last_heard_at >= ?
		ORDER BY last_heard_at DESC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list active nodes: %w", err)
	}
	defer rows.Close()

	var out []domain.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return out, nil
}

func (r *NodeRepo) UpdateMobility(ctx context.Context, num uint32, mobile bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE nodes SET is_mobile = ?, updated_at = ? WHERE num = ?`,
		boolToInt(mobile), toUnixMillis(time.Now()), int64(num))
	if err != nil {
		return fmt.Errorf("update node mobility: %w", err)
	}
	return nil
}

func (r *NodeRepo) MarkWelcomed(ctx context.Context, num uint32, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE nodes SET welcomed_at = ? WHERE num = ? AND welcomed_at IS NULL`,
		toUnixMillis(at), int64(num))
	if err != nil {
		return fmt.Errorf("mark node welcomed: %w", err)
	}
	return nil
}

func (r *NodeRepo) RecordTracerouteRequest(ctx context.Context, num uint32, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE nodes SET last_traceroute_at = ? WHERE num = ?`,
		toUnixMillis(at), int64(num))
	if err != nil {
		return fmt.Errorf("record traceroute request: %w", err)
	}
	return nil
}

func (r *NodeRepo) NeedingTraceroute(ctx context.Context, maxAge time.Duration) (domain.Node, bool, error) {
	cutoff := toUnixMillis(time.Now().Add(-maxAge))
	row := r.db.QueryRowContext(ctx, `
		SELECT `+nodeColumns+` FROM nodes
		WHERE last_heard_at >= ? AND num != ?
		ORDER BY (last_traceroute_at IS NULL) DESC, last_traceroute_at ASC
		LIMIT 1
	`, cutoff, int64(domain.BroadcastNodeNum))
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Node{}, false, nil
	}
	if err != nil {
		return domain.Node{}, false, fmt.Errorf("select traceroute candidate: %w", err)
	}
	return n, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (domain.Node, error) {
	var (
		n              domain.Node
		num            int64
		channel        sql.NullInt64
		snr            sql.NullFloat64
		rssi           sql.NullInt64
		battery        sql.NullInt64
		voltage        sql.NullFloat64
		channelUtil    sql.NullFloat64
		airUtilTx      sql.NullFloat64
		uptime         sql.NullInt64
		lat            sql.NullFloat64
		lon            sql.NullFloat64
		alt            sql.NullInt64
		precision      sql.NullInt64
		posTime        sql.NullInt64
		hops           sql.NullInt64
		viaMQTT        int64
		favorite       int64
		licensed       int64
		mobile         int64
		lowEntropy     int64
		pkiEncrypted   int64
		welcomedAt     sql.NullInt64
		lastTraceroute sql.NullInt64
		firstHeardMs   int64
		lastHeardMs    int64
		updatedMs      int64
	)
	err := row.Scan(&num, &n.NodeID, &n.LongName, &n.ShortName, &n.HwModel, &n.Role,
		&channel, &snr, &rssi, &battery, &voltage, &channelUtil, &airUtilTx, &uptime,
		&lat, &lon, &alt, &precision, &posTime, &hops,
		&viaMQTT, &favorite, &licensed, &mobile, &n.PublicKey, &lowEntropy,
		&pkiEncrypted, &welcomedAt, &lastTraceroute, &firstHeardMs, &lastHeardMs, &updatedMs)
	if err != nil {
		return domain.Node{}, err
	}

	n.Num = uint32(num)
	n.Channel = scanUint32Ptr(channel)
	n.SNR = scanFloatPtr(snr)
	n.RSSI = scanIntPtr(rssi)
	n.BatteryLevel = scanUint32Ptr(battery)
	n.Voltage = scanFloatPtr(voltage)
	n.ChannelUtil = scanFloatPtr(channelUtil)
	n.AirUtilTx = scanFloatPtr(airUtilTx)
	n.UptimeSeconds = scanUint32Ptr(uptime)
	n.Latitude = scanFloatPtr(lat)
	n.Longitude = scanFloatPtr(lon)
	n.Altitude = scanInt32Ptr(alt)
	n.PositionPrecision = scanUint32Ptr(precision)
	n.PositionTime = scanTimePtr(posTime)
	n.HopsAway = scanUint32Ptr(hops)
	n.ViaMQTT = viaMQTT != 0
	n.IsFavorite = favorite != 0
	n.IsLicensed = licensed != 0
	n.IsMobile = mobile != 0
	n.HasLowEntropyKey = lowEntropy != 0
	n.PKIEncrypted = pkiEncrypted != 0
	n.WelcomedAt = scanTimePtr(welcomedAt)
	n.LastTracerouteAt = scanTimePtr(lastTraceroute)
	n.FirstHeardAt = fromUnixMillis(firstHeardMs)
	n.LastHeardAt = fromUnixMillis(lastHeardMs)
	n.UpdatedAt = fromUnixMillis(updatedMs)

	return n, nil
}
