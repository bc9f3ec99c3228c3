package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrations are append-only; user_version tracks the last applied index.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS nodes (
		num INTEGER PRIMARY KEY,
		node_id TEXT NOT NULL,
		long_name TEXT NOT NULL DEFAULT '',
		short_name TEXT NOT NULL DEFAULT '',
		hw_model TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT '',
		channel INTEGER,
		snr REAL,
		rssi INTEGER,
		battery_level INTEGER,
		voltage REAL,
		channel_util REAL,
		air_util_tx REAL,
		uptime_seconds INTEGER,
		latitude REAL,
		longitude REAL,
		altitude INTEGER,
		position_precision INTEGER,
		position_time INTEGER,
		hops_away INTEGER,
		via_mqtt INTEGER NOT NULL DEFAULT 0,
		is_favorite INTEGER NOT NULL DEFAULT 0,
		is_licensed INTEGER NOT NULL DEFAULT 0,
		is_mobile INTEGER NOT NULL DEFAULT 0,
		public_key TEXT NOT NULL DEFAULT '',
		has_low_entropy_key INTEGER NOT NULL DEFAULT 0,
		pki_encrypted INTEGER NOT NULL DEFAULT 0,
		welcomed_at INTEGER,
		last_traceroute_at INTEGER,
		first_heard_at INTEGER NOT NULL DEFAULT 0,
		last_heard_at INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_nodes_last_heard ON nodes(last_heard_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		kind INTEGER NOT NULL,
		direction INTEGER NOT NULL,
		from_num INTEGER NOT NULL,
		to_num INTEGER NOT NULL,
		channel INTEGER NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		request_id INTEGER NOT NULL DEFAULT 0,
		reply_id INTEGER NOT NULL DEFAULT 0,
		emoji INTEGER NOT NULL DEFAULT 0,
		hop_start INTEGER NOT NULL DEFAULT 0,
		hop_limit INTEGER NOT NULL DEFAULT 0,
		snr REAL,
		rssi INTEGER,
		want_ack INTEGER NOT NULL DEFAULT 0,
		delivery_state INTEGER NOT NULL DEFAULT 0,
		failure_reason TEXT NOT NULL DEFAULT '',
		read INTEGER NOT NULL DEFAULT 0,
		via_mqtt INTEGER NOT NULL DEFAULT 0,
		rx_time INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_messages_request_id ON messages(request_id);
	CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);

	CREATE TABLE IF NOT EXISTS channels (
		idx INTEGER PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		role INTEGER NOT NULL DEFAULT 0,
		psk TEXT NOT NULL DEFAULT '',
		uplink_enabled INTEGER NOT NULL DEFAULT 0,
		downlink_enabled INTEGER NOT NULL DEFAULT 0,
		position_precision INTEGER,
		updated_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS telemetry (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		node_num INTEGER NOT NULL,
		type TEXT NOT NULL,
		value REAL NOT NULL,
		at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_telemetry_node_type_at ON telemetry(node_num, type, at DESC);

	CREATE TABLE IF NOT EXISTS traceroutes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_num INTEGER NOT NULL,
		to_num INTEGER NOT NULL,
		packet_id INTEGER NOT NULL DEFAULT 0,
		request_id INTEGER NOT NULL DEFAULT 0,
		route TEXT NOT NULL DEFAULT '[]',
		snr_towards TEXT NOT NULL DEFAULT '[]',
		route_back TEXT NOT NULL DEFAULT '[]',
		snr_back TEXT NOT NULL DEFAULT '[]',
		is_complete INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS route_segments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		traceroute_id INTEGER NOT NULL,
		from_num INTEGER NOT NULL,
		to_num INTEGER NOT NULL,
		distance_km REAL,
		snr REAL,
		is_record_holder INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_route_segments_pair ON route_segments(from_num, to_num);

	CREATE TABLE IF NOT EXISTS neighbors (
		node_num INTEGER NOT NULL,
		neighbor_num INTEGER NOT NULL,
		snr REAL NOT NULL DEFAULT 0,
		at INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (node_num, neighbor_num)
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS packet_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_num INTEGER NOT NULL,
		to_num INTEGER NOT NULL,
		channel INTEGER NOT NULL DEFAULT 0,
		port_num TEXT NOT NULL DEFAULT '',
		packet_id INTEGER NOT NULL DEFAULT 0,
		request_id INTEGER NOT NULL DEFAULT 0,
		snr REAL,
		rssi INTEGER,
		hop_start INTEGER NOT NULL DEFAULT 0,
		hop_limit INTEGER NOT NULL DEFAULT 0,
		payload_preview TEXT NOT NULL DEFAULT '',
		via_mqtt INTEGER NOT NULL DEFAULT 0,
		at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_packet_log_at ON packet_log(at);
	`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, i+1)); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("bump schema version to %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
