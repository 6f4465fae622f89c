package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/victorivanov/backchannel/internal/models"
)

type receiptRepo struct {
	pool *pgxpool.Pool
}

func NewReceiptRepository(pool *pgxpool.Pool) ReceiptRepository {
	return &receiptRepo{pool: pool}
}

func (r *receiptRepo) MarkRead(ctx context.Context, userID int64, messageIDs []int64, readAt time.Time) ([]models.ReadReceipt, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	return queryReceipts(ctx, r.pool,
		`INSERT INTO read_receipts (message_id, user_id, read_at)
		 SELECT m.id, $2, $3 FROM messages m WHERE m.id = ANY($1)
		 ON CONFLICT (message_id, user_id) DO NOTHING
		 RETURNING message_id, user_id, read_at`,
		messageIDs, userID, readAt,
	)
}

func (r *receiptRepo) GetByMessages(ctx context.Context, messageIDs []int64) ([]models.ReadReceipt, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	return queryReceipts(ctx, r.pool,
		`SELECT message_id, user_id, read_at
		 FROM read_receipts
		 WHERE message_id = ANY($1)
		 ORDER BY read_at`,
		messageIDs,
	)
}

func queryReceipts(ctx context.Context, pool *pgxpool.Pool, sql string, args ...any) ([]models.ReadReceipt, error) {
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []models.ReadReceipt
	for rows.Next() {
		var rc models.ReadReceipt
		if err := rows.Scan(&rc.MessageID, &rc.UserID, &rc.ReadAt); err != nil {
			return nil, err
		}
		receipts = append(receipts, rc)
	}
	return receipts, rows.Err()
}
