package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/meshkeeper/meshkeeper/internal/domain"
)

type NeighborRepo struct {
	db *sql.DB
}

func NewNeighborRepo(db *sql.DB) *NeighborRepo {
	return &NeighborRepo{db: db}
}

// ReplaceForNode swaps the full neighbor set reported by one node.
func (r *NeighborRepo) ReplaceForNode(ctx context.Context, nodeNum uint32, neighbors []domain.Neighbor) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin neighbors tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM neighbors WHERE node_num = ?`, int64(nodeNum)); err != nil {
		return fmt.Errorf("clear neighbors: %w", err)
	}
	for _, n := range neighbors {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO neighbors(node_num, neighbor_num, snr, at) VALUES (?, ?, ?, ?)`,
			int64(nodeNum), int64(n.NeighborNum), n.SNR, toUnixMillis(n.At)); err != nil {
			return fmt.Errorf("insert neighbor: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit neighbors tx: %w", err)
	}
	return nil
}

func (r *NeighborRepo) ListForNode(ctx context.Context, nodeNum uint32) ([]domain.Neighbor, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT node_num, neighbor_num, snr, at FROM neighbors WHERE node_num = ? ORDER BY neighbor_num ASC`,
		int64(nodeNum))
	if err != nil {
		return nil, fmt.Errorf("list neighbors: %w", err)
	}
	defer rows.Close()

	var out []domain.Neighbor
	for rows.Next() {
		var (
			n        domain.Neighbor
			nodeRaw  int64
			neighRaw int64
			atMs     int64
		)
		if err := rows.Scan(&nodeRaw, &neighRaw, &n.SNR, &atMs); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		n.NodeNum = uint32(nodeRaw)
		n.NeighborNum = uint32(neighRaw)
		n.At = fromUnixMillis(atMs)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate neighbors: %w", err)
	}
	return out, nil
}
