package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, kind, direction, from_num, to_num, channel, text, request_id,
	reply_id, emoji, hop_start, hop_limit, snr, rssi, want_ack, delivery_state,
	failure_reason, read, via_mqtt, rx_time, created_at`

func (r *MessageRepo) Insert(ctx context.Context, m domain.Message) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages(`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		m.ID, int(m.Kind), int(m.Direction), int64(m.FromNum), int64(m.ToNum), m.Channel,
		m.Text, int64(m.RequestID), int64(m.ReplyID), boolToInt(m.Emoji),
		int64(m.HopStart), int64(m.HopLimit), nullableFloat(m.SNR), nullableInt(m.RSSI),
		boolToInt(m.WantAck), int(m.DeliveryState), m.FailureReason, boolToInt(m.Read),
		boolToInt(m.ViaMQTT), toUnixMillis(m.RxTime), toUnixMillis(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepo) GetByRequestID(ctx context.Context, requestID uint32) (domain.Message, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE request_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, int64(requestID))
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, false, nil
	}
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("get message by request id: %w", err)
	}
	return m, true, nil
}

func (r *MessageRepo) UpdateDeliveryState(ctx context.Context, id string, state domain.DeliveryState, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE messages SET delivery_state = ?, failure_reason = ? WHERE id = ?`,
		int(state), reason, id)
	if err != nil {
		return fmt.Errorf("update message delivery state: %w", err)
	}
	return nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE messages SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	return nil
}

func (r *MessageRepo) ListRecent(ctx context.Context, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func scanMessage(row rowScanner) (domain.Message, error) {
	var (
		m         domain.Message
		kind      int
		direction int
		fromNum   int64
		toNum     int64
		requestID int64
		replyID   int64
		emoji     int64
		hopStart  int64
		hopLimit  int64
		snr       sql.NullFloat64
		rssi      sql.NullInt64
		wantAck   int64
		state     int
		read      int64
		viaMQTT   int64
		rxMs      int64
		createdMs int64
	)
	err := row.Scan(&m.ID, &kind, &direction, &fromNum, &toNum, &m.Channel, &m.Text,
		&requestID, &replyID, &emoji, &hopStart, &hopLimit, &snr, &rssi, &wantAck,
		&state, &m.FailureReason, &read, &viaMQTT, &rxMs, &createdMs)
	if err != nil {
		return domain.Message{}, err
	}

	m.Kind = domain.MessageKind(kind)
	m.Direction = domain.MessageDirection(direction)
	m.FromNum = uint32(fromNum)
	m.ToNum = uint32(toNum)
	m.RequestID = uint32(requestID)
	m.ReplyID = uint32(replyID)
	m.Emoji = emoji != 0
	m.HopStart = uint32(hopStart)
	m.HopLimit = uint32(hopLimit)
	m.SNR = scanFloatPtr(snr)
	m.RSSI = scanIntPtr(rssi)
	m.WantAck = wantAck != 0
	m.DeliveryState = domain.DeliveryState(state)
	m.Read = read != 0
	m.ViaMQTT = viaMQTT != 0
	m.RxTime = fromUnixMillis(rxMs)
	m.CreatedAt = fromUnixMillis(createdMs)

	return m, nil
}
